package services

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/substrate-run/substrate/pkg/database"
)

// openTestDB opens a fresh migrated database in a temp directory.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	client, err := database.NewClient(context.Background(),
		database.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client.DB()
}
