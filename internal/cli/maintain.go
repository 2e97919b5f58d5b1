package cli

import (
	"context"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Run one maintenance cycle",
		Long:  "Run one maintenance cycle now: evict stale low-value memories, rebalance tiers, retry pending cold writes, compact indexes, and flush to disk.",
		Run:   runMaintain,
	}
	RootCmd.AddCommand(cmd)
}

func runMaintain(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close(context.Background())

	printJSON(s.RunMaintenance(cmd.Context()))
}
