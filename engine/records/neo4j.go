package records

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/WessleyAI/secrag/engine/domain"
	"github.com/WessleyAI/secrag/pkg/repo"
)

const constraintName = "vulnerability_id"

// Neo4j stores records as Vulnerability nodes.
type Neo4j struct {
	repo   *repo.Neo4jRepo[domain.Item, int64]
	closer func(context.Context) error
}

var _ Store = (*Neo4j)(nil)

// NewNeo4j builds a store over sessions. closer, when non-nil, is called by
// Close (typically the driver's Close).
func NewNeo4j(sessions repo.SessionOpener, closer func(context.Context) error) *Neo4j {
	return &Neo4j{
		repo:   repo.NewNeo4jRepo[domain.Item, int64](sessions, Label, itemToMap, itemFromRecord),
		closer: closer,
	}
}

// OpenNeo4j connects to uri and checks connectivity.
func OpenNeo4j(ctx context.Context, uri, user, password, database string) (*Neo4j, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("records: neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("records: neo4j connectivity: %w", err)
	}
	return NewNeo4j(repo.DriverSessions{Driver: driver, Database: database}, driver.Close), nil
}

func (s *Neo4j) Clear(ctx context.Context) error {
	if err := s.repo.DeleteAll(ctx); err != nil {
		return fmt.Errorf("records: clear: %w", err)
	}
	return nil
}

func (s *Neo4j) Put(ctx context.Context, items ...domain.Item) error {
	if err := s.repo.Upsert(ctx, items...); err != nil {
		return fmt.Errorf("records: put: %w", err)
	}
	return nil
}

func (s *Neo4j) Get(ctx context.Context, id int64) (domain.Item, bool, error) {
	it, ok, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Item{}, false, fmt.Errorf("records: get %d: %w", id, err)
	}
	return it, ok, nil
}

func (s *Neo4j) EnsureSchema(ctx context.Context) error {
	if err := s.repo.EnsureUnique(ctx, constraintName); err != nil {
		return fmt.Errorf("records: ensure schema: %w", err)
	}
	return nil
}

func (s *Neo4j) Verify(ctx context.Context) (int64, error) {
	missing, err := s.repo.CountMissingID(ctx)
	if err != nil {
		return 0, fmt.Errorf("records: verify: %w", err)
	}
	if missing > 0 {
		return 0, fmt.Errorf("%w: %d %s nodes have no id", domain.ErrSchemaMismatch, missing, Label)
	}
	return s.Count(ctx)
}

func (s *Neo4j) Count(ctx context.Context) (int64, error) {
	n, err := s.repo.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("records: count: %w", err)
	}
	return n, nil
}

func (s *Neo4j) Close(ctx context.Context) error {
	if s.closer == nil {
		return nil
	}
	return s.closer(ctx)
}

func itemToMap(it domain.Item) map[string]any {
	return map[string]any{
		"id":              it.ID,
		"prompt":          it.Prompt,
		"vulnerable_code": it.VulnerableCode,
		"secure_code":     it.SecureCode,
	}
}

func itemFromRecord(rec *neo4j.Record) (domain.Item, error) {
	if rec == nil || len(rec.Values) == 0 {
		return domain.Item{}, fmt.Errorf("records: empty record")
	}
	node, ok := rec.Values[0].(neo4j.Node)
	if !ok {
		return domain.Item{}, fmt.Errorf("records: expected node, got %T", rec.Values[0])
	}
	id, ok := node.Props["id"].(int64)
	if !ok {
		return domain.Item{}, fmt.Errorf("%w: node without integer id", domain.ErrSchemaMismatch)
	}
	str := func(k string) string {
		s, _ := node.Props[k].(string)
		return s
	}
	return domain.Item{
		ID:             id,
		Prompt:         str("prompt"),
		VulnerableCode: str("vulnerable_code"),
		SecureCode:     str("secure_code"),
	}, nil
}
