package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadpipe/internal/monitoring"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline counts and sync health",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		snap, err := monitoring.NewCollector(st, nil).Collect(ctx)
		if err != nil {
			return eris.Wrap(err, "collect status")
		}
		return printJSON(snap)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
