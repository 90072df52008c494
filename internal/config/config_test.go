package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("FLEET_LEDGER_CONFIG_PATH", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "fleet_ledger.db", cfg.DBPath)
	assert.Equal(t, 5*time.Second, cfg.BusyTimeout)
	assert.Equal(t, 2*time.Second, cfg.LockTimeout)
	assert.Equal(t, 5*time.Minute, cfg.EvaluationInterval)
	assert.Equal(t, "programs", cfg.ProgramsDir)
	assert.Empty(t, cfg.FleetCSV)
	assert.Equal(t, time.Minute, cfg.Airworthiness.CacheTTL)
	assert.Equal(t, 256, cfg.Airworthiness.CacheSize)
	assert.True(t, cfg.RII.RequireInspectorRole)
	assert.Equal(t, "inspector", cfg.RII.InspectorRole)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
db_path: /var/lib/fleet/ledger.db
lock_timeout_ms: 500
evaluation_interval: 60
fleet_csv:
  - fleet-a.csv
  - fleet-b.csv
airworthiness:
  cache_ttl: 15
rii:
  require_inspector_role: false
log:
  level: debug
  format: json
`)
	t.Setenv("FLEET_LEDGER_LOG_LEVEL", "warn")
	t.Setenv("FLEET_LEDGER_AIRWORTHINESS_CACHE_SIZE", "32")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/fleet/ledger.db", cfg.DBPath)
	assert.Equal(t, 500*time.Millisecond, cfg.LockTimeout)
	assert.Equal(t, time.Minute, cfg.EvaluationInterval)
	assert.Equal(t, []string{"fleet-a.csv", "fleet-b.csv"}, cfg.FleetCSV)
	assert.Equal(t, 15*time.Second, cfg.Airworthiness.CacheTTL)
	assert.Equal(t, 32, cfg.Airworthiness.CacheSize)
	assert.False(t, cfg.RII.RequireInspectorRole)
	assert.Equal(t, "warn", cfg.Log.Level, "environment overrides the file")
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_ConfigPathFromEnv(t *testing.T) {
	path := writeConfig(t, "db_path: from-env.db\n")
	t.Setenv("FLEET_LEDGER_CONFIG_PATH", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-env.db", cfg.DBPath)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty db path", "db_path: ''\n"},
		{"zero lock timeout", "lock_timeout_ms: 0\n"},
		{"negative interval", "evaluation_interval: -5\n"},
		{"zero cache size", "airworthiness:\n  cache_size: 0\n"},
		{"inspector role missing", "rii:\n  inspector_role: ' '\n"},
		{"bad log level", "log:\n  level: verbose\n"},
		{"bad log format", "log:\n  format: xml\n"},
		{"malformed yaml", "db_path: [unclosed\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}
