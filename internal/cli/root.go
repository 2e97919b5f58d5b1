// Package cli implements the charmem CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kyratales/charmem/internal/store"
)

var (
	dbPath  string
	verbose bool
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "charmem",
	Short: "Tiered character memory store",
	Long:  "Tiered memory store for character simulations. Hot and warm tiers in memory, cold tier in SQLite, relevance-ranked retrieval.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $CHARMEM_DB or ~/.charmem/memory.db)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log store activity to stderr")
}

func getDBPath() string {
	if dbPath != "" {
		return dbPath
	}
	if env := os.Getenv("CHARMEM_DB"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".charmem", "memory.db")
}

func newLogger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func openStore() (*store.Store, error) {
	cfg := store.DefaultConfig(getDBPath())
	cfg.Logger = newLogger()
	return store.Open(cfg)
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
