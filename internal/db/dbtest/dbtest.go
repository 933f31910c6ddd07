// Package dbtest gives integration tests a migrated, throwaway Postgres schema.
package dbtest

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tpsparking/api/internal/auth"
	"github.com/tpsparking/api/internal/db"
	"github.com/tpsparking/api/internal/repo"
)

// New returns a pool bound to a fresh schema with every migration applied.
// The test is skipped when neither TEST_DB_DSN nor DB_DSN is set.
func New(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	ctx := context.Background()
	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := execOnce(ctx, dsn, "CREATE SCHEMA "+schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse dsn: %v", err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	t.Cleanup(func() {
		pool.Close()
		_ = execOnce(context.Background(), dsn, "DROP SCHEMA "+schema+" CASCADE")
	})

	if _, err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

// CreateUser inserts an account with a throwaway password.
func CreateUser(t *testing.T, pool *pgxpool.Pool, role auth.Role, cities ...string) repo.User {
	t.Helper()
	u, err := repo.New(pool).CreateUser(context.Background(), repo.CreateUserParams{
		Email:         uuid.NewString() + "@tps.test",
		PasswordHash:  "x",
		Role:          role,
		AllowedCities: cities,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func execOnce(ctx context.Context, dsn, sql string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, sql)
	return err
}
