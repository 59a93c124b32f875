package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/WessleyAI/secrag/engine/domain"
)

// SQLite stores records in a single table of a local database file.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("records: create directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("records: open sqlite: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS vulnerability (
		id INTEGER PRIMARY KEY,
		prompt TEXT NOT NULL,
		vulnerable_code TEXT NOT NULL DEFAULT '',
		secure_code TEXT NOT NULL DEFAULT ''
	);`)
	if err != nil {
		return fmt.Errorf("records: ensure schema: %w", err)
	}
	return nil
}

func (s *SQLite) Clear(ctx context.Context) error {
	if err := s.EnsureSchema(ctx); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM vulnerability`); err != nil {
		return fmt.Errorf("records: clear: %w", err)
	}
	return nil
}

func (s *SQLite) Put(ctx context.Context, items ...domain.Item) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("records: put: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO vulnerability (id, prompt, vulnerable_code, secure_code) VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		prompt = excluded.prompt,
		vulnerable_code = excluded.vulnerable_code,
		secure_code = excluded.secure_code`)
	if err != nil {
		return fmt.Errorf("records: put: %w", err)
	}
	defer stmt.Close()

	for _, it := range items {
		if _, err := stmt.ExecContext(ctx, it.ID, it.Prompt, it.VulnerableCode, it.SecureCode); err != nil {
			return fmt.Errorf("records: put %d: %w", it.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("records: put commit: %w", err)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, id int64) (domain.Item, bool, error) {
	it := domain.Item{ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT prompt, vulnerable_code, secure_code FROM vulnerability WHERE id = ?`, id,
	).Scan(&it.Prompt, &it.VulnerableCode, &it.SecureCode)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Item{}, false, nil
	}
	if err != nil {
		return domain.Item{}, false, fmt.Errorf("records: get %d: %w", id, err)
	}
	return it, true, nil
}

func (s *SQLite) Verify(ctx context.Context) (int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM pragma_table_info('vulnerability')`)
	if err != nil {
		return 0, fmt.Errorf("records: verify: %w", err)
	}
	defer rows.Close()
	cols := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return 0, fmt.Errorf("records: verify: %w", err)
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("records: verify: %w", err)
	}
	for _, c := range []string{"id", "prompt", "vulnerable_code"} {
		if !cols[c] {
			return 0, fmt.Errorf("%w: vulnerability table has no %s column", domain.ErrSchemaMismatch, c)
		}
	}
	return s.Count(ctx)
}

func (s *SQLite) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM vulnerability`).Scan(&n); err != nil {
		return 0, fmt.Errorf("records: count: %w", err)
	}
	return n, nil
}

func (s *SQLite) Close(context.Context) error {
	return s.db.Close()
}
