//go:build itest && !test_db_postgres

package itest

import (
	"path/filepath"
	"testing"

	"github.com/btcsuite/cosigner/psbtdb"
	"github.com/stretchr/testify/require"
)

// NewTestStore creates a SQLite PSBT store in a temporary file.
func NewTestStore(t *testing.T) psbtdb.Store {
	t.Helper()

	dbConn, err := psbtdb.OpenSQLite(
		filepath.Join(t.TempDir(), "test.db"),
	)
	require.NoError(t, err, "failed to open sqlite database")
	t.Cleanup(func() {
		_ = dbConn.Close()
	})

	store, err := psbtdb.NewSQLitePsbtDB(dbConn)
	require.NoError(t, err, "failed to create psbt store")

	return store
}
