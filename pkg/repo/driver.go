package repo

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// DriverSessions opens sessions on a live driver against one database.
type DriverSessions struct {
	Driver   neo4j.DriverWithContext
	Database string
}

func (d DriverSessions) OpenSession(ctx context.Context) Session {
	return &sessionAdapter{sess: d.Driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: d.Database})}
}

// sessionAdapter adapts neo4j.SessionWithContext to Session.
type sessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *sessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (Result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *sessionAdapter) ExecuteWrite(ctx context.Context, work func(tx Runner) (any, error)) (any, error) {
	return a.sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return work(txAdapter{tx: tx})
	})
}

func (a *sessionAdapter) Close(ctx context.Context) error {
	return a.sess.Close(ctx)
}

type txAdapter struct {
	tx neo4j.ManagedTransaction
}

func (t txAdapter) Run(ctx context.Context, cypher string, params map[string]any) (Result, error) {
	return t.tx.Run(ctx, cypher, params)
}
