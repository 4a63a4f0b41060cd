package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// testDB is a migrated database in a throwaway container.
type testDB struct {
	*Client
	container testcontainers.Container
}

// setupTestDB starts PostgreSQL and applies the embedded migrations. It skips
// under -short and when no container runtime is reachable.
func setupTestDB(t *testing.T) *testDB {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres integration test skipped in -short mode")
	}
	ctx := context.Background()

	pg, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("positionbot"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pg.Terminate(ctx)
		t.Fatalf("connection string: %v", err)
	}

	client, err := New(ctx, ClientConfig{DSN: connStr})
	if err != nil {
		_ = pg.Terminate(ctx)
		t.Fatalf("connect: %v", err)
	}

	db := &testDB{Client: client, container: pg}
	t.Cleanup(func() {
		db.Close()
		if err := pg.Terminate(context.Background()); err != nil {
			t.Errorf("terminate container: %v", err)
		}
	})

	if err := client.RunMigrations(ctx); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return db
}

func (db *testDB) truncate(t *testing.T, tables ...string) {
	t.Helper()
	for _, table := range tables {
		if _, err := db.Pool().Exec(context.Background(), fmt.Sprintf("TRUNCATE TABLE %s", table)); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
}
