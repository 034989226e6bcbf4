package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLevel(in), "level %q", in)
	}
}

func TestInitWritesJSONToFileAndAudit(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "app.log")
	audit := filepath.Join(dir, "audit", "audit.log")

	require.NoError(t, Init(Config{
		Level:       "debug",
		OutputPaths: []string{out},
		Audit:       AuditConfig{Enabled: true, Path: audit},
	}))
	t.Cleanup(func() { _ = Sync() })

	Named("manager").Debug("booted", slog.Int("plugins", 2))
	Audit().Info("plugin.install", slog.String("plugin_id", "core"))
	require.NoError(t, Sync())

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	var record map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(raw), &record))
	assert.Equal(t, "booted", record["msg"])
	assert.Equal(t, "manager", record["component"])

	auditRaw, err := os.ReadFile(audit)
	require.NoError(t, err)
	assert.Contains(t, string(auditRaw), `"plugin_id":"core"`)
}

func TestInitRejectsAuditWithoutPath(t *testing.T) {
	err := Init(Config{Audit: AuditConfig{Enabled: true}})
	assert.Error(t, err)
}

func TestNopDiscards(t *testing.T) {
	l := Nop()
	assert.False(t, l.Enabled(context.Background(), slog.LevelError))
}

func TestAuditWriterDefaultsAndRotation(t *testing.T) {
	_, err := newAuditWriter(AuditConfig{Enabled: true})
	assert.Error(t, err)

	dir := filepath.Join(t.TempDir(), "nested")
	w, err := newAuditWriter(AuditConfig{Enabled: true, Path: filepath.Join(dir, "audit.log"), MaxBackups: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	assert.Equal(t, defaultAuditMaxSizeMB, w.MaxSize)
	assert.Equal(t, 2, w.MaxBackups)
	assert.Equal(t, defaultAuditMaxAgeDays, w.MaxAge)

	_, err = w.Write([]byte(`{"msg":"first"}` + "\n"))
	require.NoError(t, err)
	require.NoError(t, w.Rotate())
	_, err = w.Write([]byte(`{"msg":"second"}` + "\n"))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	current, err := os.ReadFile(filepath.Join(dir, "audit.log"))
	require.NoError(t, err)
	assert.Contains(t, string(current), "second")
	assert.NotContains(t, string(current), "first")
}
