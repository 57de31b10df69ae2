package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cyderes/content-planner/internal/dispatch"
)

var dispatchOpts struct {
	batchID     int64
	retryFailed bool
}

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Send the posts of a batch to Late",
	Long: `Sends every generated or edited post of a batch to Late, one at a time.
Posts that failed in an earlier run are only resent with --retry-failed.`,
	Args: cobra.NoArgs,
	RunE: runDispatch,
}

func init() {
	dispatchCmd.Flags().Int64Var(&dispatchOpts.batchID, "batch", 0, "id of the batch to dispatch")
	dispatchCmd.Flags().BoolVar(&dispatchOpts.retryFailed, "retry-failed", false, "also resend posts whose last dispatch failed")
	_ = dispatchCmd.MarkFlagRequired("batch")
}

func runDispatch(cmd *cobra.Command, args []string) error {
	if dispatchOpts.batchID <= 0 {
		return fmt.Errorf("--batch must be a positive batch id")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	results, err := a.dispatcher.DispatchBatch(cmd.Context(), dispatchOpts.batchID, dispatch.Options{RetryFailed: dispatchOpts.retryFailed})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "POST\tPLATFORM\tSTATUS\tLATE ID\tERROR")
	for _, r := range results {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", r.PostID, r.Platform, r.Status, r.ProviderPostID, r.Error)
	}
	return w.Flush()
}
