package migrations

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const repoMigrations = "../../../migrations"

func TestVersions_RepositoryMigrationsArePaired(t *testing.T) {
	versions, err := Versions(repoMigrations)
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 2, 3}, versions)
}

func TestVersions_MissingDownFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "000001_a.up.sql"), []byte("SELECT 1;"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "000001_a.down.sql"), []byte("SELECT 1;"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "000002_b.up.sql"), []byte("SELECT 1;"), 0o600))

	_, err := Versions(dir)
	assert.Error(t, err)
}

func TestMigrations_CoverEveryTable(t *testing.T) {
	var schema strings.Builder
	files, err := filepath.Glob(filepath.Join(repoMigrations, "*.up.sql"))
	require.NoError(t, err)
	for _, f := range files {
		b, err := os.ReadFile(f)
		require.NoError(t, err)
		schema.Write(b)
	}
	for _, table := range []string{"agencies", "trips", "cars", "rooms", "reservations", "withdrawals"} {
		assert.Contains(t, schema.String(), "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
}

func TestRunner_MissingDirectory(t *testing.T) {
	r := NewRunner(nil, Options{Dir: filepath.Join(t.TempDir(), "absent")}, nil)
	assert.ErrorContains(t, r.Up(), "does not exist")
	assert.NoError(t, r.Close())
}
