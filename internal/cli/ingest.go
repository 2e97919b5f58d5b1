package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kyratales/charmem/internal/model"
	"github.com/kyratales/charmem/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "ingest [content]",
		Short: "Store a memory",
		Long:  "Store a memory. Content can be a positional arg or piped via stdin. Use --structured to pass a JSON object instead of plain text.",
		Run:   runIngest,
	}

	cmd.Flags().StringP("type", "t", "conversation", "Memory type: conversation, event, learning, knowledge, personality, relationship, preference, physical, emotional, goal, plot, system_state")
	cmd.Flags().StringP("category", "c", "general", "Category within the memory type")
	cmd.Flags().Float64P("importance", "i", 0, "Importance 0..1 (0 uses the type default)")
	cmd.Flags().String("context", "", "Situational context text")
	cmd.Flags().String("tags", "", "Comma-separated tags")
	cmd.Flags().Bool("structured", false, "Parse content as a JSON object")
	cmd.Flags().Float64("emotional", 0, "Emotional weight 0..1")
	cmd.Flags().Float64("plot", 0, "Plot relevance 0..1")
	cmd.Flags().Float64("relationship", 0, "Relationship relevance 0..1")

	RootCmd.AddCommand(cmd)
}

func runIngest(cmd *cobra.Command, args []string) {
	typ, _ := cmd.Flags().GetString("type")
	category, _ := cmd.Flags().GetString("category")
	importance, _ := cmd.Flags().GetFloat64("importance")
	contextText, _ := cmd.Flags().GetString("context")
	tagsStr, _ := cmd.Flags().GetString("tags")
	structured, _ := cmd.Flags().GetBool("structured")
	emotional, _ := cmd.Flags().GetFloat64("emotional")
	plot, _ := cmd.Flags().GetFloat64("plot")
	relationship, _ := cmd.Flags().GetFloat64("relationship")

	raw := readContent(args)
	if strings.TrimSpace(raw) == "" {
		exitErr("ingest", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	content := model.TextContent(strings.TrimSpace(raw))
	if structured {
		var fields map[string]any
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			exitErr("parse structured content", err)
		}
		content = model.StructuredContent(fields)
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close(context.Background())

	id, err := s.Ingest(cmd.Context(), store.IngestParams{
		Content:               content,
		Type:                  model.MemoryType(typ),
		Category:              category,
		Importance:            importance,
		Context:               contextText,
		Tags:                  splitTags(tagsStr),
		EmotionalWeight:       emotional,
		PlotRelevance:         plot,
		RelationshipRelevance: relationship,
	})
	if dup, ok := store.AsDuplicate(err); ok {
		printJSON(map[string]any{
			"id":         dup.ExistingID,
			"duplicate":  true,
			"similarity": dup.Similarity,
		})
		return
	}
	if err != nil {
		exitErr("ingest", err)
	}
	printJSON(map[string]any{"id": id})
}

func readContent(args []string) string {
	if len(args) > 0 {
		return strings.Join(args, " ")
	}
	stat, _ := os.Stdin.Stat()
	if (stat.Mode() & os.ModeCharDevice) == 0 {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			exitErr("read stdin", err)
		}
		return string(b)
	}
	return ""
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(s, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
