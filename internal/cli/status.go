package cli

import (
	"context"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show tier occupancy and store health",
		Run:   runStatus,
	}
	RootCmd.AddCommand(cmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close(context.Background())

	printJSON(s.Status())
}
