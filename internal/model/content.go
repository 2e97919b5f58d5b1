package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ContentKind discriminates the payload variants of a memory entry.
type ContentKind string

const (
	ContentText       ContentKind = "text"
	ContentStructured ContentKind = "structured"
	ContentList       ContentKind = "list"
)

// Content is a tagged payload: free text, a structured mapping, or an
// ordered list of primitives. Exactly one variant field is populated,
// selected by Kind.
type Content struct {
	Kind       ContentKind
	Text       string
	Structured map[string]any
	List       []any
}

// TextContent wraps a plain string payload.
func TextContent(s string) Content {
	return Content{Kind: ContentText, Text: s}
}

// StructuredContent wraps a mapping payload.
func StructuredContent(m map[string]any) Content {
	return Content{Kind: ContentStructured, Structured: m}
}

// ListContent wraps an ordered list payload.
func ListContent(l []any) Content {
	return Content{Kind: ContentList, List: l}
}

// IsEmpty reports whether the content carries no payload.
func (c Content) IsEmpty() bool {
	switch c.Kind {
	case ContentText:
		return strings.TrimSpace(c.Text) == ""
	case ContentStructured:
		return len(c.Structured) == 0
	case ContentList:
		return len(c.List) == 0
	}
	return true
}

// Projection returns the deterministic textual form of the payload,
// used for tokenizing, indexing, and similarity. Structured mappings
// are rendered in sorted key order so equal payloads project equally.
func (c Content) Projection() string {
	switch c.Kind {
	case ContentText:
		return c.Text
	case ContentStructured:
		keys := make([]string, 0, len(c.Structured))
		for k := range c.Structured {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s: %v", k, c.Structured[k]))
		}
		return strings.Join(parts, "; ")
	case ContentList:
		parts := make([]string, 0, len(c.List))
		for _, v := range c.List {
			parts = append(parts, fmt.Sprintf("%v", v))
		}
		return strings.Join(parts, ", ")
	}
	return ""
}

type contentEnvelope struct {
	Kind       ContentKind    `json:"kind"`
	Text       string         `json:"text,omitempty"`
	Structured map[string]any `json:"structured,omitempty"`
	List       []any          `json:"list,omitempty"`
}

// MarshalJSON encodes the content as a self-describing envelope.
func (c Content) MarshalJSON() ([]byte, error) {
	return json.Marshal(contentEnvelope{
		Kind:       c.Kind,
		Text:       c.Text,
		Structured: c.Structured,
		List:       c.List,
	})
}

// UnmarshalJSON decodes a content envelope.
func (c *Content) UnmarshalJSON(data []byte) error {
	var env contentEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	switch env.Kind {
	case ContentText, ContentStructured, ContentList:
	default:
		return fmt.Errorf("unknown content kind %q", env.Kind)
	}
	c.Kind = env.Kind
	c.Text = env.Text
	c.Structured = env.Structured
	c.List = env.List
	return nil
}
