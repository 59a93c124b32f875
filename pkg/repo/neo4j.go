package repo

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Result is the minimal interface needed from a neo4j result. Err reports
// the failure that made Next return false, if any.
type Result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
}

// Runner runs a single cypher statement, either auto-commit on a session or
// inside a managed transaction.
type Runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (Result, error)
}

// Session is the minimal interface needed from a neo4j session.
type Session interface {
	Runner
	ExecuteWrite(ctx context.Context, work func(tx Runner) (any, error)) (any, error)
	Close(ctx context.Context) error
}

// SessionOpener opens sessions. The driver is adapted to it; tests swap in fakes.
type SessionOpener interface {
	OpenSession(ctx context.Context) Session
}

// Neo4jRepo is a generic Neo4j-backed repository over nodes of one label.
type Neo4jRepo[T any, ID comparable] struct {
	sessions   SessionOpener
	label      string
	idKey      string
	toMap      func(T) map[string]any
	fromRecord func(*neo4j.Record) (T, error)
}

// Neo4jOption configures a Neo4jRepo.
type Neo4jOption[T any, ID comparable] func(*Neo4jRepo[T, ID])

// WithIDKey sets the property name used as the ID (default "id").
func WithIDKey[T any, ID comparable](key string) Neo4jOption[T, ID] {
	return func(r *Neo4jRepo[T, ID]) { r.idKey = key }
}

// NewNeo4jRepo creates a new Neo4j-backed repository. fromRecord receives
// records whose first value is the node bound to n.
func NewNeo4jRepo[T any, ID comparable](
	sessions SessionOpener,
	label string,
	toMap func(T) map[string]any,
	fromRecord func(*neo4j.Record) (T, error),
	opts ...Neo4jOption[T, ID],
) *Neo4jRepo[T, ID] {
	r := &Neo4jRepo[T, ID]{
		sessions:   sessions,
		label:      label,
		idKey:      "id",
		toMap:      toMap,
		fromRecord: fromRecord,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Compile-time interface check.
var _ Repository[any, string] = (*Neo4jRepo[any, string])(nil)

// Label returns the node label the repository manages.
func (r *Neo4jRepo[T, ID]) Label() string { return r.label }

func (r *Neo4jRepo[T, ID]) Get(ctx context.Context, id ID) (T, bool, error) {
	var zero T
	sess := r.sessions.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("MATCH (n:%s {%s: $id}) RETURN n LIMIT 1", r.label, r.idKey)
	result, err := sess.Run(ctx, cypher, map[string]any{"id": id})
	if err != nil {
		return zero, false, err
	}
	if !result.Next(ctx) {
		return zero, false, result.Err()
	}
	v, err := r.fromRecord(result.Record())
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

func (r *Neo4jRepo[T, ID]) List(ctx context.Context, opts ListOpts) ([]T, error) {
	sess := r.sessions.OpenSession(ctx)
	defer sess.Close(ctx)

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	cypher := fmt.Sprintf("MATCH (n:%s) RETURN n ORDER BY n.%s SKIP $offset LIMIT $limit", r.label, r.idKey)
	params := map[string]any{"offset": opts.Offset, "limit": limit}

	result, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}

	var items []T
	for result.Next(ctx) {
		item, err := r.fromRecord(result.Record())
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// Upsert merges every entity on its id inside one write transaction.
func (r *Neo4jRepo[T, ID]) Upsert(ctx context.Context, entities ...T) error {
	if len(entities) == 0 {
		return nil
	}
	rows := make([]any, len(entities))
	for i, e := range entities {
		rows[i] = r.toMap(e)
	}

	sess := r.sessions.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("UNWIND $rows AS row MERGE (n:%s {%s: row.%s}) SET n += row", r.label, r.idKey, r.idKey)
	_, err := sess.ExecuteWrite(ctx, func(tx Runner) (any, error) {
		_, err := tx.Run(ctx, cypher, map[string]any{"rows": rows})
		return nil, err
	})
	return err
}

func (r *Neo4jRepo[T, ID]) Delete(ctx context.Context, id ID) error {
	sess := r.sessions.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("MATCH (n:%s {%s: $id}) DETACH DELETE n", r.label, r.idKey)
	_, err := sess.ExecuteWrite(ctx, func(tx Runner) (any, error) {
		_, err := tx.Run(ctx, cypher, map[string]any{"id": id})
		return nil, err
	})
	return err
}

// DeleteAll removes every node carrying the label and nothing else.
func (r *Neo4jRepo[T, ID]) DeleteAll(ctx context.Context) error {
	sess := r.sessions.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("MATCH (n:%s) DETACH DELETE n", r.label)
	_, err := sess.ExecuteWrite(ctx, func(tx Runner) (any, error) {
		_, err := tx.Run(ctx, cypher, nil)
		return nil, err
	})
	return err
}

func (r *Neo4jRepo[T, ID]) Count(ctx context.Context) (int64, error) {
	return r.count(ctx, fmt.Sprintf("MATCH (n:%s) RETURN count(n)", r.label))
}

// CountMissingID counts nodes of the label that lack the id property.
func (r *Neo4jRepo[T, ID]) CountMissingID(ctx context.Context) (int64, error) {
	return r.count(ctx, fmt.Sprintf("MATCH (n:%s) WHERE n.%s IS NULL RETURN count(n)", r.label, r.idKey))
}

// EnsureUnique creates the uniqueness constraint on the id property.
func (r *Neo4jRepo[T, ID]) EnsureUnique(ctx context.Context, name string) error {
	sess := r.sessions.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("CREATE CONSTRAINT %s IF NOT EXISTS FOR (n:%s) REQUIRE n.%s IS UNIQUE", name, r.label, r.idKey)
	_, err := sess.Run(ctx, cypher, nil)
	return err
}

func (r *Neo4jRepo[T, ID]) count(ctx context.Context, cypher string) (int64, error) {
	sess := r.sessions.OpenSession(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx, cypher, nil)
	if err != nil {
		return 0, err
	}
	if !result.Next(ctx) {
		return 0, result.Err()
	}
	rec := result.Record()
	if len(rec.Values) == 0 {
		return 0, nil
	}
	n, ok := rec.Values[0].(int64)
	if !ok {
		return 0, fmt.Errorf("repo: count returned %T", rec.Values[0])
	}
	return n, nil
}
