package localstate

import (
	"context"
	"os"
	"testing"

	"bodyshop-storefront/internal/migrate"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

func TestPostgresRepository(t *testing.T) {
	ctx := context.Background()
	pool := testPool(ctx, t)
	defer pool.Close()

	if err := migrate.Apply(ctx, pool); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE local_state`); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	exerciseRepository(t, NewPostgres(pool, zerolog.Nop()))

	removed, err := PurgeIdle(ctx, pool, 30)
	if err != nil {
		t.Fatalf("purge idle: %v", err)
	}
	if removed != 0 {
		t.Fatalf("fresh sessions must survive purge, removed %d", removed)
	}
}

func testPool(ctx context.Context, t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	return pool
}
