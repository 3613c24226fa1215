package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDriverFor(t *testing.T) {
	assert.Equal(t, DriverPostgres, DriverFor("postgres://medigo:pw@localhost:5432/medigo?sslmode=disable"))
	assert.Equal(t, DriverPostgres, DriverFor("PostgreSQL://db/medigo"))
	assert.Equal(t, DriverSQLite, DriverFor("medigo.db"))
	assert.Equal(t, DriverSQLite, DriverFor("file:medigo.db?cache=shared"))
}

func TestConnectSQLiteEnforcesForeignKeys(t *testing.T) {
	ctx := context.Background()
	db, err := Connect(ctx, filepath.Join(t.TempDir(), "fk.db"), 8)
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, DriverSQLite, db.DriverName())
	assert.Equal(t, 1, db.Stats().MaxOpenConnections)

	var enabled int
	require.NoError(t, db.GetContext(ctx, &enabled, `PRAGMA foreign_keys`))
	assert.Equal(t, 1, enabled)
}
