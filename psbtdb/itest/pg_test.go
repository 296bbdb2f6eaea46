//go:build itest && test_db_postgres

package itest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/cosigner/psbtdb"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	// Shared container instance, reused across tests. Each test gets its
	// own database inside it.
	pgContainer *postgres.PostgresContainer

	// Ensure the container is created only once.
	pgContainerOnce sync.Once

	// Error returned by the container creation, kept so later callers see
	// it too.
	pgContainerErr error

	// Timeout for waiting for the postgres container to start, including
	// the image download.
	pgInitTimeout = 2 * time.Minute

	// Timeout for terminating the postgres container after the suite.
	pgTerminateTimeout = 1 * time.Minute

	// nonIdentChars matches everything not allowed in a database name.
	nonIdentChars = regexp.MustCompile(`[^a-z0-9_]`)
)

// TestMain terminates the shared postgres container once the suite is done.
func TestMain(m *testing.M) {
	code := m.Run()

	if pgContainer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), pgTerminateTimeout,
		)
		defer cancel()

		err := pgContainer.Terminate(ctx)
		if err != nil {
			fmt.Printf("failed to terminate postgres container: %v\n",
				err)
		}
	}

	os.Exit(code)
}

// getPostgresContainer returns the shared PostgreSQL container.
func getPostgresContainer(
	ctx context.Context) (*postgres.PostgresContainer, error) {

	pgContainerOnce.Do(func() {
		pgContainer, pgContainerErr = postgres.RunContainer(ctx,
			testcontainers.WithImage("postgres:18-alpine"),
			postgres.WithDatabase("postgres"),
			postgres.WithUsername("postgres"),
			postgres.WithPassword("postgres"),
			testcontainers.WithWaitStrategyAndDeadline(
				pgInitTimeout, wait.ForListeningPort("5432/tcp"),
			),
		)
	})

	return pgContainer, pgContainerErr
}

// sanitizedPgDBName converts a test name to a valid PostgreSQL database
// name.
func sanitizedPgDBName(t *testing.T) string {
	dbName := nonIdentChars.ReplaceAllString(
		strings.ToLower(t.Name()), "_",
	)

	// PostgreSQL database names are limited to 63 characters.
	if len(dbName) > 63 {
		dbName = dbName[:63]
	}

	return dbName
}

// newPostgresDB creates a fresh database for the test with the migrations
// applied.
func newPostgresDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := t.Context()

	container, err := getPostgresContainer(ctx)
	require.NoError(t, err, "failed to get postgres container")

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	adminDB, err := sql.Open("pgx", connStr)
	require.NoError(t, err, "failed to open admin connection")
	t.Cleanup(func() {
		_ = adminDB.Close()
	})

	dbName := sanitizedPgDBName(t)
	_, err = adminDB.ExecContext(
		ctx, fmt.Sprintf("CREATE DATABASE %s", dbName),
	)
	require.NoError(t, err, "failed to create test database")

	testConnStr := strings.Replace(
		connStr, "/postgres?", "/"+dbName+"?", 1,
	)

	dbConn, err := psbtdb.OpenPostgres(testConnStr)
	require.NoError(t, err, "failed to open test database")
	t.Cleanup(func() {
		_ = dbConn.Close()
	})

	return dbConn
}

// NewTestStore creates a PostgreSQL PSBT store.
func NewTestStore(t *testing.T) psbtdb.Store {
	t.Helper()

	store, err := psbtdb.NewPostgresPsbtDB(newPostgresDB(t))
	require.NoError(t, err, "failed to create psbt store")

	return store
}
