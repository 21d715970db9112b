package token

import (
	"context"
	"errors"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"imi-storefront/internal/domain"
)

const notifyChannel = "session_tokens"

type postgresRepo struct {
	pool   *pgxpool.Pool
	logger *log.Logger
}

func NewPostgres(pool *pgxpool.Pool, logger *log.Logger) Repository {
	return &postgresRepo{pool: pool, logger: ensureLogger(logger)}
}

func (r *postgresRepo) Get(ctx context.Context, deviceID string) (*Record, error) {
	const q = `
SELECT device_id, token, provider, updated_at
FROM session_tokens
WHERE device_id = $1
LIMIT 1
`
	var out Record
	if err := r.pool.QueryRow(ctx, q, deviceID).Scan(&out.DeviceID, &out.Token, &out.Provider, &out.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &out, nil
}

func (r *postgresRepo) Put(ctx context.Context, rec Record) error {
	const q = `
INSERT INTO session_tokens (device_id, token, provider, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (device_id) DO UPDATE
SET token = EXCLUDED.token, provider = EXCLUDED.provider, updated_at = now()
WHERE session_tokens.token IS DISTINCT FROM EXCLUDED.token
`
	_, err := r.pool.Exec(ctx, q, rec.DeviceID, rec.Token, rec.Provider)
	return err
}

func (r *postgresRepo) Delete(ctx context.Context, deviceID string) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM session_tokens WHERE device_id = $1`, deviceID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Watch holds one pooled connection in LISTEN mode. The trigger installed by
// the migrations publishes the device id on every write.
func (r *postgresRepo) Watch(ctx context.Context) (<-chan string, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, err
	}

	out := make(chan string, 16)
	go func() {
		defer close(out)
		defer conn.Release()
		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					r.logger.Printf("token repo: watch error=%v", err)
				}
				return
			}
			select {
			case out <- n.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
