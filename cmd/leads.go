package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadpipe/internal/model"
	"github.com/sells-group/leadpipe/internal/store"
)

var (
	leadsState       string
	leadsLimit       int
	leadsQuarantined bool
)

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "List leads",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		filter := store.LeadFilter{Limit: leadsLimit}
		if leadsState != "" {
			state := model.LifecycleState(leadsState)
			if !state.Valid() {
				return eris.Errorf("unknown lifecycle state: %s", leadsState)
			}
			filter.State = state
		}
		if leadsQuarantined {
			quarantined := true
			filter.SyncError = &quarantined
		}

		leads, err := st.ListLeads(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "list leads")
		}
		return printJSON(leads)
	},
}

var leadsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single lead with its provenance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		lead, err := st.GetLead(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "get lead %s", args[0])
		}
		return printJSON(lead)
	},
}

func init() {
	leadsCmd.Flags().StringVar(&leadsState, "state", "", "filter by lifecycle state")
	leadsCmd.Flags().IntVar(&leadsLimit, "limit", 50, "maximum leads to list")
	leadsCmd.Flags().BoolVar(&leadsQuarantined, "quarantined", false, "only leads with sync errors")
	leadsCmd.AddCommand(leadsShowCmd)
	rootCmd.AddCommand(leadsCmd)
}
