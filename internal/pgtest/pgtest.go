// Package pgtest opens a shared scratch Postgres database for store tests.
// Tests skip unless CONNECT_TEST_POSTGRES_DSN is set.
package pgtest

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"connect-platform/db"
	"connect-platform/pkg/utils"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const EnvDSN = "CONNECT_TEST_POSTGRES_DSN"

// schemaLockKey serializes schema setup across test binaries sharing one database.
const schemaLockKey = 7461001

// Open connects to the database named by EnvDSN and applies db.Schema.
// Packages share the database, so tests must use fresh ids from ID.
func Open(t testing.TB) *sql.DB {
	t.Helper()
	dsn := os.Getenv(EnvDSN)
	if dsn == "" {
		t.Skip(EnvDSN + " environment variable not set")
	}

	ctx := context.Background()
	conn, err := utils.OpenPostgres(ctx, "pgx", dsn, utils.PostgresPoolConfig{})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	if err := applySchema(ctx, conn); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return conn
}

func applySchema(ctx context.Context, pool *sql.DB) error {
	c, err := pool.Conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if _, err := c.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, schemaLockKey); err != nil {
		return err
	}
	defer func() {
		_, _ = c.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, schemaLockKey)
	}()

	_, err = c.ExecContext(ctx, db.Schema)
	return err
}

// ID returns prefix with a random suffix.
func ID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
