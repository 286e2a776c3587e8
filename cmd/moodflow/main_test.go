package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hperssn/moodflow/internal/domain"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "moodflow.toml")
	body := "[storage]\ndriver = \"sqlite\"\ndsn = \"" + filepath.ToSlash(filepath.Join(dir, "moodflow.db")) + "\"\n\n[logging]\nlevel = \"error\"\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootHasSubcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "stats", "reconcile"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestStatsRequiresUser(t *testing.T) {
	_, err := run(t, "--config", writeConfig(t), "stats")
	assert.Error(t, err)
}

func TestStatsForNewUser(t *testing.T) {
	out, err := run(t, "--config", writeConfig(t), "stats", "--user", "alice", "--today", "2024-03-01")
	require.NoError(t, err)

	var report domain.StatsReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, domain.StatsReport{}, report)
}

func TestReconcileForNewUser(t *testing.T) {
	out, err := run(t, "--config", writeConfig(t), "reconcile", "--user", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, `"currentStreak": 0`)
}

func TestLogReloadErrorsStopsWithContext(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	errs := make(chan error)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		logReloadErrors(ctx, errs, log)
		close(done)
	}()

	errs <- errors.New("bad toml")
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("error logger kept running after cancel")
	}
	assert.Contains(t, buf.String(), "bad toml")
}
