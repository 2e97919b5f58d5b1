package store

import (
	"context"

	"github.com/kyratales/charmem/internal/model"
)

// Backend is the memory capability handed to collaborators. The unified
// store implements it directly; the compatibility bridge provides
// legacy and dual-write variants. Selecting a variant happens at
// construction time, never by runtime type inspection.
type Backend interface {
	Ingest(ctx context.Context, p IngestParams) (string, error)
	Retrieve(ctx context.Context, p RetrieveParams) ([]model.Entry, error)
	Status() Status
	Close(ctx context.Context) error
}

var _ Backend = (*Store)(nil)
