package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadpipe/internal/worker"
)

var discoverQueries []string

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Run one discovery batch",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		queries := discoverQueries
		if len(queries) == 0 {
			queries = cfg.Prospect.Queries
		}
		if len(queries) == 0 {
			return eris.New("no discovery queries configured (set prospect.queries or pass --query)")
		}

		d := worker.NewDiscoverer(initEngine(st), initProspect(initFetch()), workerConfig())
		summary, err := d.Run(ctx, queries)
		if err != nil {
			return eris.Wrap(err, "discover")
		}
		return printJSON(summary)
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify one batch of discovered leads",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		w := worker.NewVerifier(st, initProspect(initFetch()), workerConfig())
		summary, err := w.Run(ctx)
		if err != nil {
			return eris.Wrap(err, "verify")
		}
		return printJSON(summary)
	},
}

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Enrich one batch of verified leads",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		w := worker.NewEnricher(st, initEngine(st), initProspect(initFetch()), workerConfig())
		summary, err := w.Run(ctx)
		if err != nil {
			return eris.Wrap(err, "enrich")
		}
		return printJSON(summary)
	},
}

var engageCmd = &cobra.Command{
	Use:   "engage",
	Short: "Send outreach for one batch of enriched leads",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		composer, transport, err := initOutreach(initFetch())
		if err != nil {
			return err
		}

		w := worker.NewEngager(st, composer, transport, workerConfig())
		summary, err := w.Run(ctx)
		if err != nil {
			return eris.Wrap(err, "engage")
		}
		return printJSON(summary)
	},
}

func init() {
	discoverCmd.Flags().StringSliceVar(&discoverQueries, "query", nil, "discovery query (repeatable, default from config)")
	rootCmd.AddCommand(discoverCmd, verifyCmd, enrichCmd, engageCmd)
}
