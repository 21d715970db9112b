package token

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"imi-storefront/internal/db"
	"imi-storefront/internal/migrate"
	"imi-storefront/internal/sqliteutil"
)

// Open picks a backend from dsn: memory://, sqlite://<path> or a postgres URL.
// Postgres schemas are migrated on open. The returned func releases the backend.
func Open(ctx context.Context, dsn string, logger *log.Logger) (Repository, func(), error) {
	logger = ensureLogger(logger)
	switch {
	case dsn == "" || strings.HasPrefix(dsn, "memory://"):
		return NewMemory(), func() {}, nil

	case strings.HasPrefix(dsn, "sqlite://"):
		path := strings.TrimPrefix(dsn, "sqlite://")
		if path == "" {
			return nil, nil, errors.New("sqlite dsn needs a path")
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		sqlDB, err := sqliteutil.Open(ctx, path)
		if err != nil {
			return nil, nil, err
		}
		repo := NewSQLite(sqlDB)
		if err := repo.Init(ctx); err != nil {
			sqlDB.Close()
			return nil, nil, err
		}
		return repo, func() { sqlDB.Close() }, nil

	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		pool, err := db.Connect(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := migrate.Apply(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return NewPostgres(pool, logger), pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unsupported session store dsn %q", redact(dsn))
}

func redact(dsn string) string {
	if i := strings.Index(dsn, "://"); i >= 0 {
		return dsn[:i+3] + "..."
	}
	return "..."
}

func ensureLogger(logger *log.Logger) *log.Logger {
	if logger != nil {
		return logger
	}
	return log.New(io.Discard, "", 0)
}
