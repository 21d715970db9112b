package token

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"imi-storefront/internal/domain"
)

// SQLite stores tokens in a local database file. It has no change feed.
type SQLite struct {
	db *sql.DB
}

// NewSQLite wraps an open SQLite handle. Call Init once before use.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

// Init creates the token table if missing.
func (r *SQLite) Init(ctx context.Context) error {
	const stmt = `CREATE TABLE IF NOT EXISTS session_tokens (
		device_id TEXT PRIMARY KEY,
		token TEXT NOT NULL,
		provider TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`
	if _, err := r.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("apply token schema: %w", err)
	}
	return nil
}

func (r *SQLite) Get(ctx context.Context, deviceID string) (*Record, error) {
	var out Record
	row := r.db.QueryRowContext(ctx,
		`SELECT device_id, token, provider, updated_at FROM session_tokens WHERE device_id = ?`, deviceID)
	if err := row.Scan(&out.DeviceID, &out.Token, &out.Provider, &out.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get token: %w", err)
	}
	return &out, nil
}

func (r *SQLite) Put(ctx context.Context, rec Record) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO session_tokens(device_id, token, provider, updated_at)
		 VALUES(?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(device_id) DO UPDATE SET token = excluded.token,
			provider = excluded.provider, updated_at = CURRENT_TIMESTAMP`,
		rec.DeviceID, rec.Token, rec.Provider,
	)
	if err != nil {
		return fmt.Errorf("put token: %w", err)
	}
	return nil
}

func (r *SQLite) Delete(ctx context.Context, deviceID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM session_tokens WHERE device_id = ?`, deviceID)
	if err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *SQLite) Watch(context.Context) (<-chan string, error) {
	return nil, ErrWatchUnsupported
}
