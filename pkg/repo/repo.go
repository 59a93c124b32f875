// Package repo defines the generic keyed record repository and its Neo4j
// implementation.
package repo

import "context"

// Repository is a generic keyed store. Get reports absence with ok=false and
// a nil error; a missing record is never an error.
type Repository[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (T, bool, error)
	List(ctx context.Context, opts ListOpts) ([]T, error)
	Upsert(ctx context.Context, entities ...T) error
	Delete(ctx context.Context, id ID) error
	DeleteAll(ctx context.Context) error
	Count(ctx context.Context) (int64, error)
}

// ListOpts controls pagination for List operations.
type ListOpts struct {
	Offset int
	Limit  int
}
