// Package testutil provides shared test infrastructure: a disposable
// PostgreSQL container with the full schema applied, row seeding helpers,
// and a parser for the data-only event stream the chat endpoint emits.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/folio-chat/folio/internal/database"
	"github.com/folio-chat/folio/internal/log"
)

// SetupTestDB starts a PostgreSQL container with the pgvector extension,
// applies the embedded migrations and returns a pool ready for queries.
// The pool and container are torn down via t.Cleanup.
//
// Example:
//
//	func TestMyStore(t *testing.T) {
//	    pool := testutil.SetupTestDB(t)
//	    projectID := testutil.SeedProject(t, pool, "my-test")
//	    // ...
//	}
func SetupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg17",
		postgres.WithDatabase("folio_test"),
		postgres.WithUsername("folio_test"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := pgContainer.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	if err := database.Migrate(connStr, log.NewNop()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	pool, err := database.New(ctx, connStr, log.NewNop())
	if err != nil {
		t.Fatalf("failed to create connection pool: %v", err)
	}
	t.Cleanup(pool.Close)

	return pool
}

// SeedUser inserts a user row and returns its id. The password hash is a
// placeholder; seeded users are for ownership checks, not for logging in.
func SeedUser(t *testing.T, pool *pgxpool.Pool, email string) int64 {
	t.Helper()

	var id int64
	err := pool.QueryRow(context.Background(),
		`INSERT INTO users (email, password_hash) VALUES ($1, $2) RETURNING id`,
		email, "not-a-real-hash").Scan(&id)
	if err != nil {
		t.Fatalf("failed to seed user %q: %v", email, err)
	}
	return id
}

// SeedProject inserts a project row owned by a fresh user and returns the
// project id. Each call creates its own owner so projects seeded in the
// same test stay independent.
func SeedProject(t *testing.T, pool *pgxpool.Pool, name string) int64 {
	t.Helper()

	email := fmt.Sprintf("%s-%s@seed.local", name, uuid.NewString()[:8])
	ownerID := SeedUser(t, pool, email)

	var id int64
	err := pool.QueryRow(context.Background(),
		`INSERT INTO projects (owner_id, name) VALUES ($1, $2) RETURNING id`,
		ownerID, name).Scan(&id)
	if err != nil {
		t.Fatalf("failed to seed project %q: %v", name, err)
	}
	return id
}
