package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadpipe/internal/crmsync"
)

var (
	syncOnce     bool
	syncPushOnly bool
	syncPullOnly bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync leads with the CRM (push local changes, pull external edits)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("sync"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		external, err := initSalesforce()
		if err != nil {
			return err
		}

		coord := crmsync.NewCoordinator(st, initEngine(st), external, crmsync.Config{
			BatchSize:  cfg.Sync.BatchSize,
			MaxRetries: cfg.Sync.MaxRetries,
		})

		if !syncOnce {
			every := time.Duration(cfg.Sync.IntervalSecs) * time.Second
			zap.L().Info("starting sync loop", zap.Duration("interval", every))
			return coord.Run(ctx, every)
		}

		summaries := map[string]crmsync.Summary{}
		if !syncPullOnly {
			pushed, err := coord.Push(ctx)
			if err != nil {
				return eris.Wrap(err, "sync push")
			}
			summaries["push"] = pushed
		}
		if !syncPushOnly {
			pulled, err := coord.Pull(ctx)
			if err != nil {
				return eris.Wrap(err, "sync pull")
			}
			summaries["pull"] = pulled
		}
		return printJSON(summaries)
	},
}

var syncRequeueCmd = &cobra.Command{
	Use:   "requeue",
	Short: "Clear sync quarantine flags so failed leads are pushed again",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := st.ClearSyncErrors(ctx)
		if err != nil {
			return eris.Wrap(err, "clear sync errors")
		}
		zap.L().Info("sync quarantine cleared", zap.Int("leads", n))
		return printJSON(map[string]int{"requeued": n})
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncOnce, "once", false, "run a single push/pull round and exit")
	syncCmd.Flags().BoolVar(&syncPushOnly, "push-only", false, "only push local changes")
	syncCmd.Flags().BoolVar(&syncPullOnly, "pull-only", false, "only pull external edits")
	syncCmd.AddCommand(syncRequeueCmd)
	rootCmd.AddCommand(syncCmd)
}
