package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/uebax/internal/config"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "uebax.yaml")
	body := "version: v1\ntimezone: UTC\nstore:\n  driver: sqlite\n  dsn: " + filepath.Join(dir, "uebax.db") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRecordThenList(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := run(t, "-c", cfg, "--no-color", "record", "alice", "file_access", "--detail", "/srv/q3.xlsx")
	require.NoError(t, err)
	assert.Contains(t, out, "recorded FILE_ACCESS")

	out, err = run(t, "-c", cfg, "--json", "events", "--actor", "alice")
	require.NoError(t, err)
	var evs []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &evs))
	require.Len(t, evs, 1)
	assert.Equal(t, "/srv/q3.xlsx", evs[0]["detail"])

	out, err = run(t, "-c", cfg, "--json", "alerts")
	require.NoError(t, err)
	var as []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &as))
	assert.Empty(t, as)
}

func TestRecord_InvalidKind(t *testing.T) {
	_, err := run(t, "record", "alice", "PASSWORD_RESET")
	assert.ErrorContains(t, err, "invalid event kind")
}

func TestBadLogLevel(t *testing.T) {
	_, err := run(t, "--log-level", "loud", "events")
	assert.Error(t, err)
}

func TestApplyConfig_UpdatesDashboardTimezone(t *testing.T) {
	a, err := openApp(writeTestConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	require.Equal(t, "UTC", a.reporter.Location().String())

	cfg := config.Default()
	cfg.Timezone = "America/Sao_Paulo"
	a.applyConfig(cfg)
	assert.Equal(t, "America/Sao_Paulo", a.reporter.Location().String())

	// A config whose rules fail to build changes nothing.
	bad := config.Default()
	bad.Timezone = "Europe/Lisbon"
	bad.Rules = append(bad.Rules, config.RuleDef{ID: "x", Type: "no_such_rule"})
	a.applyConfig(bad)
	assert.Equal(t, "America/Sao_Paulo", a.reporter.Location().String())
}
