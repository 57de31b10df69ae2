package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var syncAccountsCmd = &cobra.Command{
	Use:   "sync-accounts",
	Short: "Mirror the accounts connected in Late into storage",
	Args:  cobra.NoArgs,
	RunE:  runSyncAccounts,
}

func runSyncAccounts(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	accounts, err := a.planner.SyncAccounts(cmd.Context())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPLATFORM\tUSERNAME\tLATE ID")
	for _, acc := range accounts {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", acc.ID, acc.Platform, acc.Username, acc.ProviderAccountID)
	}
	return w.Flush()
}
