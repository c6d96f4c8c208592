package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadpipe/internal/worker"
)

var (
	runOnce    bool
	runQueries []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline (discover, verify, enrich, engage)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("run"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		engine := initEngine(st)
		fc := initFetch()
		prospectClient := initProspect(fc)
		composer, transport, err := initOutreach(fc)
		if err != nil {
			return err
		}

		wcfg := workerConfig()
		queries := runQueries
		if len(queries) == 0 {
			queries = cfg.Prospect.Queries
		}

		p := worker.NewPipeline(
			worker.NewDiscoverer(engine, prospectClient, wcfg),
			worker.NewVerifier(st, prospectClient, wcfg),
			worker.NewEnricher(st, engine, prospectClient, wcfg),
			worker.NewEngager(st, composer, transport, wcfg),
			queries,
		)

		if runOnce {
			summaries, err := p.RunOnce(ctx)
			if err != nil {
				return eris.Wrap(err, "pipeline run")
			}
			return printJSON(summaries)
		}

		every := time.Duration(cfg.Worker.IntervalSecs) * time.Second
		zap.L().Info("starting pipeline loop", zap.Duration("interval", every))
		return p.RunInterval(ctx, every)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "run a single pass and exit")
	runCmd.Flags().StringSliceVar(&runQueries, "query", nil, "discovery query (repeatable, default from config)")
	rootCmd.AddCommand(runCmd)
}
