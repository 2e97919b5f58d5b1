package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	exportCmd := &cobra.Command{
		Use:   "export <path>",
		Short: "Export all memories to a snapshot file",
		Args:  cobra.ExactArgs(1),
		Run:   runExport,
	}
	importCmd := &cobra.Command{
		Use:   "import <path>",
		Short: "Import memories from a snapshot file",
		Long:  "Import a snapshot written by export. Entries keep their ids and access history; already-present entries are skipped, so re-importing is safe.",
		Args:  cobra.ExactArgs(1),
		Run:   runImport,
	}
	RootCmd.AddCommand(exportCmd)
	RootCmd.AddCommand(importCmd)
}

func runExport(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close(context.Background())

	if err := s.Export(cmd.Context(), args[0]); err != nil {
		exitErr("export", err)
	}
	fmt.Printf("exported to %s\n", args[0])
}

func runImport(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close(context.Background())

	rep, err := s.Import(cmd.Context(), args[0])
	if err != nil {
		exitErr("import", err)
	}
	printJSON(rep)
}
