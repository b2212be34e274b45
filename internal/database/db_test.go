package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_CreatesDirectoryAndPasses_HealthCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "test.db")

	db, err := New(Config{Path: path, Name: "test"})
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, path, db.Path())
	assert.NoError(t, db.HealthCheck(context.Background()))
}

func TestDB_SurvivesWALCheckpoint(t *testing.T) {
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "test.db"), Name: "test"})
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Conn().Exec(`CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)`)
	require.NoError(t, err)
	_, err = db.Conn().Exec(`INSERT INTO kv (k, v) VALUES ('a', 'b')`)
	require.NoError(t, err)

	require.NoError(t, db.WALCheckpoint())

	var v string
	require.NoError(t, db.Conn().QueryRow(`SELECT v FROM kv WHERE k = 'a'`).Scan(&v))
	assert.Equal(t, "b", v)
}
