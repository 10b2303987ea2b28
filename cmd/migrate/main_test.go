package main

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	infraBQ "github.com/dvloznov/donation-tracker/internal/infra/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename string
		valid    bool
		version  int
		name     string
	}{
		{"0001_create_donations.sql", true, 1, "create_donations"},
		{"0012_add_view.sql", true, 12, "add_view"},
		{"001_invalid.sql", false, 0, ""},       // wrong number format
		{"0001_test", false, 0, ""},             // missing .sql
		{"0001.sql", false, 0, ""},              // missing name
		{"invalid_0001_test.sql", false, 0, ""}, // wrong order
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, ok := parseMigrationFilename(tt.filename)
			assert.Equal(t, tt.valid, ok)
			assert.Equal(t, tt.version, version)
			assert.Equal(t, tt.name, name)
		})
	}
}

func TestLoadMigrations(t *testing.T) {
	dir := t.TempDir()
	second := []byte("SELECT * FROM `{{PROJECT_ID}}.{{DATASET_ID}}.{{TABLE}}`;")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0002_view.sql"), second, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0001_table.sql"), []byte("SELECT 1;"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("notes"), 0o600))

	vars := placeholders(infraBQ.TableRef{Project: "p", Dataset: "d", Table: "donations"})
	migrations, err := loadMigrations(dir, vars)
	require.NoError(t, err)
	require.Len(t, migrations, 2)

	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "view", migrations[1].Name)
	assert.Equal(t, "SELECT * FROM `p.d.donations`;", migrations[1].SQL)
	assert.Equal(t, fmt.Sprintf("%x", sha256.Sum256(second)), migrations[1].Checksum)
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0001_a.sql"), []byte("SELECT 1;"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0001_b.sql"), []byte("SELECT 2;"), 0o600))

	_, err := loadMigrations(dir, nil)
	assert.Error(t, err)
}

func TestPendingMigrations(t *testing.T) {
	all := []Migration{
		{Version: 1, Filename: "0001_a.sql", Checksum: "aaa"},
		{Version: 2, Filename: "0002_b.sql", Checksum: "bbb"},
	}

	pending, err := pendingMigrations(all, []AppliedMigration{{Version: 1, Checksum: "aaa"}})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].Version)

	pending, err = pendingMigrations(all, nil)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	_, err = pendingMigrations(all, []AppliedMigration{{Version: 1, Checksum: "changed"}})
	assert.Error(t, err)
}

func TestRepositoryMigrationsLoad(t *testing.T) {
	dir, err := resolveDir("migrations/bigquery")
	require.NoError(t, err)

	migrations, err := loadMigrations(dir, placeholders(infraBQ.TableRef{Project: "p", Dataset: "d", Table: "donations"}))
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version, m.Filename)
		assert.NotContains(t, m.SQL, "{{")
	}
}
