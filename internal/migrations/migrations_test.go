package migrations

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medigo/m/internal/database"
)

func TestRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db, err := database.Connect(ctx, filepath.Join(t.TempDir(), "schema.db"), 1)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Run(ctx, db))
	require.NoError(t, Run(ctx, db))

	var tables []string
	require.NoError(t, db.SelectContext(ctx, &tables, `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`))
	assert.Equal(t, []string{
		"alarms", "hospital_map", "medications", "patients", "prescription_medications",
		"prescriptions", "robot_commands", "transports", "users",
	}, tables)
}

func TestStockCannotGoNegative(t *testing.T) {
	ctx := context.Background()
	db, err := database.Connect(ctx, filepath.Join(t.TempDir(), "check.db"), 1)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, Run(ctx, db))

	_, err = db.ExecContext(ctx, `INSERT INTO medications (name, stock) VALUES ('Paracetamol', -1)`)
	assert.Error(t, err)

	_, err = db.ExecContext(ctx, `INSERT INTO prescriptions (patient_id, prescriber_id) VALUES (1, 1)`)
	assert.Error(t, err, "foreign keys must be enforced")
}

func TestDialectsCoverSameTables(t *testing.T) {
	assert.Len(t, postgresSchema, len(sqliteSchema))
}
