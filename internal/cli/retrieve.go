package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kyratales/charmem/internal/model"
	"github.com/kyratales/charmem/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "retrieve [query]",
		Short: "Retrieve relevant memories",
		Long:  "Retrieve memories ranked by relevance to the query. All flags are optional filters; an empty query returns the most relevant recent entries.",
		Run:   runRetrieve,
	}

	cmd.Flags().StringP("types", "t", "", "Comma-separated memory types to include")
	cmd.Flags().StringP("categories", "c", "", "Comma-separated categories to include")
	cmd.Flags().String("tags", "", "Comma-separated tags to include")
	cmd.Flags().Float64("min-importance", 0, "Minimum importance 0..1")
	cmd.Flags().IntP("max", "n", 10, "Maximum results")

	RootCmd.AddCommand(cmd)
}

func runRetrieve(cmd *cobra.Command, args []string) {
	typesStr, _ := cmd.Flags().GetString("types")
	categories, _ := cmd.Flags().GetString("categories")
	tags, _ := cmd.Flags().GetString("tags")
	minImportance, _ := cmd.Flags().GetFloat64("min-importance")
	max, _ := cmd.Flags().GetInt("max")

	var types []model.MemoryType
	for _, t := range splitTags(typesStr) {
		types = append(types, model.MemoryType(t))
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close(context.Background())

	entries, err := s.Retrieve(cmd.Context(), store.RetrieveParams{
		Query:         strings.Join(args, " "),
		Types:         types,
		Categories:    splitTags(categories),
		Tags:          splitTags(tags),
		MinImportance: minImportance,
		MaxResults:    max,
	})
	if err != nil {
		exitErr("retrieve", err)
	}
	printJSON(entries)
}
