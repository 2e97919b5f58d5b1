package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kyratales/charmem/internal/bridge"
)

func init() {
	cmd := &cobra.Command{
		Use:   "migrate <legacy-file>",
		Short: "Migrate a legacy JSON memory file into the store",
		Long:  "Migrate records from the old flat-JSON memory format. The legacy file is backed up first and migrated records are marked, so re-running skips completed work.",
		Args:  cobra.ExactArgs(1),
		Run:   runMigrate,
	}
	cmd.Flags().Bool("force", false, "Re-migrate records already marked as migrated")
	RootCmd.AddCommand(cmd)
}

func runMigrate(cmd *cobra.Command, args []string) {
	force, _ := cmd.Flags().GetBool("force")

	legacy, err := bridge.OpenLegacy(args[0])
	if err != nil {
		exitErr("open legacy file", err)
	}
	if legacy.Len() == 0 {
		exitErr("migrate", fmt.Errorf("legacy file %s has no records", args[0]))
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close(context.Background())

	b := bridge.New(s, legacy, bridge.ModeUnified, newLogger())
	rep, err := b.Migrate(cmd.Context(), force)
	if err != nil {
		exitErr("migrate", err)
	}
	printJSON(rep)
}
