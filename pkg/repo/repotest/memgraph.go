// Package repotest provides an in-memory stand-in for a Neo4j database that
// understands the statements issued by repo.Neo4jRepo.
package repotest

import (
	"cmp"
	"context"
	"fmt"
	"regexp"
	"slices"
	"sync"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/WessleyAI/secrag/pkg/repo"
)

var (
	reGet        = regexp.MustCompile(`^MATCH \(n:(\w+) \{(\w+): \$id\}\) RETURN n LIMIT 1$`)
	reList       = regexp.MustCompile(`^MATCH \(n:(\w+)\) RETURN n ORDER BY n\.(\w+) SKIP \$offset LIMIT \$limit$`)
	reUpsert     = regexp.MustCompile(`^UNWIND \$rows AS row MERGE \(n:(\w+) \{(\w+): row\.\w+\}\) SET n \+= row$`)
	reDelete     = regexp.MustCompile(`^MATCH \(n:(\w+) \{(\w+): \$id\}\) DETACH DELETE n$`)
	reDeleteAll  = regexp.MustCompile(`^MATCH \(n:(\w+)\) DETACH DELETE n$`)
	reCount      = regexp.MustCompile(`^MATCH \(n:(\w+)\) RETURN count\(n\)$`)
	reCountNoID  = regexp.MustCompile(`^MATCH \(n:(\w+)\) WHERE n\.(\w+) IS NULL RETURN count\(n\)$`)
	reConstraint = regexp.MustCompile(`^CREATE CONSTRAINT (\w+) IF NOT EXISTS FOR \(n:(\w+)\) REQUIRE n\.(\w+) IS UNIQUE$`)
)

// MemGraph is a goroutine-safe in-memory graph of labelled nodes.
type MemGraph struct {
	mu          sync.Mutex
	nodes       map[string][]map[string]any
	Constraints map[string]string
	Statements  []string
	// Err, when set, is returned by the next statement and then cleared.
	Err error
	// StreamErr, when set, fails the result stream of the next statement:
	// Next returns false and Err returns it. It is then cleared.
	StreamErr error
}

// New returns an empty graph.
func New() *MemGraph {
	return &MemGraph{nodes: map[string][]map[string]any{}, Constraints: map[string]string{}}
}

// AddRaw inserts a node without going through MERGE, so tests can plant
// malformed data.
func (g *MemGraph) AddRaw(label string, props map[string]any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes[label] = append(g.nodes[label], props)
}

// Len returns the number of nodes carrying label.
func (g *MemGraph) Len(label string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.nodes[label])
}

func (g *MemGraph) OpenSession(context.Context) repo.Session { return &session{g: g} }

type session struct{ g *MemGraph }

func (s *session) Run(_ context.Context, cypher string, params map[string]any) (repo.Result, error) {
	return s.g.exec(cypher, params)
}

func (s *session) ExecuteWrite(ctx context.Context, work func(tx repo.Runner) (any, error)) (any, error) {
	return work(s)
}

func (s *session) Close(context.Context) error { return nil }

func (g *MemGraph) exec(cypher string, params map[string]any) (repo.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Statements = append(g.Statements, cypher)
	if err := g.Err; err != nil {
		g.Err = nil
		return nil, err
	}
	if err := g.StreamErr; err != nil {
		g.StreamErr = nil
		return &result{err: err}, nil
	}

	switch {
	case reGet.MatchString(cypher):
		m := reGet.FindStringSubmatch(cypher)
		if i := g.find(m[1], m[2], params["id"]); i >= 0 {
			return nodeResult(g.nodes[m[1]][i]), nil
		}
		return &result{}, nil

	case reList.MatchString(cypher):
		m := reList.FindStringSubmatch(cypher)
		ns := slices.Clone(g.nodes[m[1]])
		slices.SortFunc(ns, func(a, b map[string]any) int {
			ai, _ := a[m[2]].(int64)
			bi, _ := b[m[2]].(int64)
			return cmp.Compare(ai, bi)
		})
		off, _ := params["offset"].(int)
		lim, _ := params["limit"].(int)
		off = min(off, len(ns))
		end := min(off+lim, len(ns))
		return nodeResult(ns[off:end]...), nil

	case reUpsert.MatchString(cypher):
		m := reUpsert.FindStringSubmatch(cypher)
		rows, _ := params["rows"].([]any)
		for _, r := range rows {
			props, ok := r.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("repotest: row is %T", r)
			}
			if i := g.find(m[1], m[2], props[m[2]]); i >= 0 {
				for k, v := range props {
					g.nodes[m[1]][i][k] = v
				}
				continue
			}
			g.nodes[m[1]] = append(g.nodes[m[1]], cloneProps(props))
		}
		return &result{}, nil

	case reDelete.MatchString(cypher):
		m := reDelete.FindStringSubmatch(cypher)
		if i := g.find(m[1], m[2], params["id"]); i >= 0 {
			g.nodes[m[1]] = slices.Delete(g.nodes[m[1]], i, i+1)
		}
		return &result{}, nil

	case reDeleteAll.MatchString(cypher):
		m := reDeleteAll.FindStringSubmatch(cypher)
		delete(g.nodes, m[1])
		return &result{}, nil

	case reCount.MatchString(cypher):
		m := reCount.FindStringSubmatch(cypher)
		return valueResult(int64(len(g.nodes[m[1]]))), nil

	case reCountNoID.MatchString(cypher):
		m := reCountNoID.FindStringSubmatch(cypher)
		var n int64
		for _, p := range g.nodes[m[1]] {
			if p[m[2]] == nil {
				n++
			}
		}
		return valueResult(n), nil

	case reConstraint.MatchString(cypher):
		m := reConstraint.FindStringSubmatch(cypher)
		g.Constraints[m[1]] = m[2] + "." + m[3]
		return &result{}, nil
	}
	return nil, fmt.Errorf("repotest: unsupported statement %q", cypher)
}

func (g *MemGraph) find(label, key string, id any) int {
	for i, p := range g.nodes[label] {
		if p[key] != nil && p[key] == id {
			return i
		}
	}
	return -1
}

func cloneProps(p map[string]any) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

type result struct {
	records []*neo4j.Record
	pos     int
	err     error
}

func (r *result) Err() error { return r.err }

func (r *result) Next(context.Context) bool {
	if r.err != nil || r.pos >= len(r.records) {
		return false
	}
	r.pos++
	return true
}

func (r *result) Record() *neo4j.Record {
	if r.pos == 0 || r.pos > len(r.records) {
		return nil
	}
	return r.records[r.pos-1]
}

func nodeResult(nodes ...map[string]any) *result {
	recs := make([]*neo4j.Record, len(nodes))
	for i, p := range nodes {
		recs[i] = &neo4j.Record{Keys: []string{"n"}, Values: []any{neo4j.Node{Props: cloneProps(p)}}}
	}
	return &result{records: recs}
}

func valueResult(v any) *result {
	return &result{records: []*neo4j.Record{{Keys: []string{"count(n)"}, Values: []any{v}}}}
}
