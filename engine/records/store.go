// Package records is the keyed store of vulnerability records that the
// retrieval loop resolves index hits against.
package records

import (
	"context"

	"github.com/WessleyAI/secrag/engine/domain"
)

// Store persists items by id. Get reports a missing record with ok=false and
// a nil error.
type Store interface {
	Clear(ctx context.Context) error
	Put(ctx context.Context, items ...domain.Item) error
	Get(ctx context.Context, id int64) (domain.Item, bool, error)
	EnsureSchema(ctx context.Context) error
	// Verify checks stored records carry the expected fields and returns how
	// many there are.
	Verify(ctx context.Context) (int64, error)
	Count(ctx context.Context) (int64, error)
	Close(ctx context.Context) error
}

// Label is the node label (or table name) that holds the records.
const Label = "Vulnerability"
