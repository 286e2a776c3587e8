package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.True(t, cfg.Stats.RecomputeOnRead)
	assert.Equal(t, time.UTC, cfg.Location())
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout())
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Storage, cfg.Storage)
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "moodflow.toml", `
[server]
addr = ":9000"

[storage]
driver = "postgres"
dsn = "postgres://localhost/moodflow?sslmode=disable"

[stats]
time_zone = "Europe/Berlin"
recompute_on_read = false
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.False(t, cfg.Stats.RecomputeOnRead)
	assert.Equal(t, "Europe/Berlin", cfg.Location().String())
	assert.Equal(t, "info", cfg.Logging.Level, "unset keys keep defaults")
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "moodflow.yaml", `
storage:
  driver: memory
logging:
  level: debug
  format: json
auth:
  dev_user: alice
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "alice", cfg.Auth.DevUser)
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "moodflow.json", `{"stats": {"recent_limit": 5}}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Stats.RecentLimit)
}

func TestLoadRejectsBadFile(t *testing.T) {
	path := writeFile(t, "moodflow.toml", "[server\naddr=")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MOODFLOW_STORAGE_DRIVER", "memory")
	t.Setenv("MOODFLOW_LOG_LEVEL", "warn")
	t.Setenv("MOODFLOW_TIME_ZONE", "Asia/Tokyo")
	t.Setenv("MOODFLOW_RECOMPUTE_ON_READ", "false")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "Asia/Tokyo", cfg.Stats.TimeZone)
	assert.False(t, cfg.Stats.RecomputeOnRead)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mongodb" }, "storage.driver"},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres"; c.Storage.DSN = "" }, "storage.dsn"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"bad time zone", func(c *Config) { c.Stats.TimeZone = "Mars/Olympus" }, "stats.time_zone"},
		{"empty addr", func(c *Config) { c.Server.Addr = "" }, "server.addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), "error %q should mention %q", err, tt.want)
		})
	}
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)

	lvl, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, lvl)

	_, err = ParseLevel("trace")
	assert.Error(t, err)
}

func TestLoaderWatchReloads(t *testing.T) {
	path := writeFile(t, "moodflow.toml", "[logging]\nlevel = \"info\"\n")

	l := NewLoader(path)
	defer l.Close()

	_, err := l.Load()
	require.NoError(t, err)

	changed := make(chan *Config, 1)
	l.OnChange(func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	})
	require.NoError(t, l.Watch())

	require.NoError(t, os.WriteFile(path, []byte("[logging]\nlevel = \"debug\"\n"), 0o600))

	select {
	case c := <-changed:
		assert.Equal(t, "debug", c.Logging.Level)
		assert.Equal(t, "debug", l.Config().Logging.Level)
	case err := <-l.Errors():
		t.Fatalf("reload error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not picked up")
	}
}

func TestLoaderWatchWithoutPath(t *testing.T) {
	l := NewLoader("")
	defer l.Close()
	assert.Error(t, l.Watch())
}
