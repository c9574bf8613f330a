package localstate

import (
	"context"
	"errors"

	"bodyshop-storefront/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

type postgresRepo struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func NewPostgres(pool *pgxpool.Pool, logger zerolog.Logger) Repository {
	return &postgresRepo{pool: pool, logger: logger.With().Str("component", "localstate.postgres").Logger()}
}

func (r *postgresRepo) Get(ctx context.Context, sessionID, key string) ([]byte, error) {
	const q = `
SELECT value
FROM local_state
WHERE session_id = $1 AND key = $2
`
	var value []byte
	if err := r.pool.QueryRow(ctx, q, sessionID, key).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.Error().Err(err).Str("session", sessionID).Str("key", key).Msg("get")
		return nil, err
	}
	return value, nil
}

func (r *postgresRepo) Set(ctx context.Context, sessionID, key string, value []byte) error {
	const q = `
INSERT INTO local_state (session_id, key, value, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (session_id, key) DO UPDATE
SET value = EXCLUDED.value,
    updated_at = now()
`
	if _, err := r.pool.Exec(ctx, q, sessionID, key, value); err != nil {
		r.logger.Error().Err(err).Str("session", sessionID).Str("key", key).Msg("set")
		return err
	}
	return nil
}

func (r *postgresRepo) Delete(ctx context.Context, sessionID string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `DELETE FROM local_state WHERE session_id = $1 AND key = ANY($2)`, sessionID, keys)
	return err
}

func (r *postgresRepo) Keys(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT key FROM local_state WHERE session_id = $1 ORDER BY key`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// PurgeIdle drops sessions whose newest key is older than the cutoff
// interval and returns the number of rows removed.
func PurgeIdle(ctx context.Context, pool *pgxpool.Pool, olderThanDays int) (int64, error) {
	cmd, err := pool.Exec(ctx, `
DELETE FROM local_state
WHERE session_id IN (
	SELECT session_id
	FROM local_state
	GROUP BY session_id
	HAVING max(updated_at) < now() - make_interval(days => $1)
)
`, olderThanDays)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}
