package database

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ncecere/open_chat_usage/internal/config"
)

func TestPoolConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.DatabaseConfig
		wantMax int32
		wantMin int32
		wantApp string
		wantErr bool
	}{
		{
			name:    "overrides",
			cfg:     config.DatabaseConfig{URL: "postgres://u:p@localhost:5432/usage", MaxConns: 8, MinConns: 2, MaxConnIdleTime: time.Minute},
			wantMax: 8,
			wantMin: 2,
			wantApp: applicationName,
		},
		{
			name:    "min capped by max",
			cfg:     config.DatabaseConfig{URL: "postgres://localhost/usage", MaxConns: 3, MinConns: 10},
			wantMax: 3,
			wantMin: 3,
			wantApp: applicationName,
		},
		{
			name:    "url application name wins",
			cfg:     config.DatabaseConfig{URL: "postgres://localhost/usage?application_name=reporting", MaxConns: 4},
			wantMax: 4,
			wantApp: "reporting",
		},
		{name: "missing url", cfg: config.DatabaseConfig{}, wantErr: true},
		{name: "bad url", cfg: config.DatabaseConfig{URL: "postgres://localhost:notaport/usage"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			poolCfg, err := poolConfig(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantMax, poolCfg.MaxConns)
			require.Equal(t, tt.wantMin, poolCfg.MinConns)
			require.Equal(t, "UTC", poolCfg.ConnConfig.RuntimeParams["timezone"])
			require.Equal(t, tt.wantApp, poolCfg.ConnConfig.RuntimeParams["application_name"])
		})
	}
}

func TestMigrationSourceEmbedded(t *testing.T) {
	source, err := migrationSource("")
	require.NoError(t, err)

	files, err := fs.Glob(source, "*.sql")
	require.NoError(t, err)
	require.Contains(t, files, "00001_usage_tables.sql")

	body, err := fs.ReadFile(source, "00001_usage_tables.sql")
	require.NoError(t, err)
	require.Contains(t, string(body), "-- +goose Up")
	require.Contains(t, string(body), "CREATE TABLE IF NOT EXISTS user_daily_usage")
}

func TestMigrationSourceOverride(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "00002_extra.sql"), []byte("-- +goose Up\nSELECT 1;\n"), 0o600))

	source, err := migrationSource(dir)
	require.NoError(t, err)
	files, err := fs.Glob(source, "*.sql")
	require.NoError(t, err)
	require.Equal(t, []string{"00002_extra.sql"}, files)

	_, err = migrationSource(filepath.Join(dir, "missing"))
	require.Error(t, err)
	_, err = migrationSource(filepath.Join(dir, "00002_extra.sql"))
	require.Error(t, err)
}

func TestRunMigrationsDisabled(t *testing.T) {
	require.NoError(t, RunMigrations(context.Background(), config.DatabaseConfig{RunMigrations: false, URL: "postgres://nowhere/usage"}, nil))
}
