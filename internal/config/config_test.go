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
	path := filepath.Join(t.TempDir(), "pluginsys.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{}`)
	base := filepath.Dir(path)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, []string{"stdout"}, cfg.Logging.OutputPaths)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, EventsNone, cfg.Events.Driver)
	assert.Equal(t, filepath.Join(base, "data"), cfg.Runtime.DataDir)
	assert.Equal(t, 30*time.Second, cfg.Health.Interval.Std())
	assert.Equal(t, 3, cfg.Health.MaxRetries)
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	path := writeConfig(t, `{
		"storage": {"driver": "file", "path": "state/registry.json"},
		"plugins": {"config_path": "plugins.yaml"},
		"runtime": {"data_dir": "var"},
		"logging": {"audit": {"enabled": true}},
		"health": {"interval": "5s", "timeout": 2000000000}
	}`)
	base := filepath.Dir(path)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "state/registry.json"), cfg.Storage.Path)
	assert.Equal(t, filepath.Join(base, "plugins.yaml"), cfg.Plugins.ConfigPath)
	assert.Equal(t, filepath.Join(base, "var", "audit.log"), cfg.Logging.Audit.Path)
	assert.Equal(t, 5*time.Second, cfg.Health.Interval.Std())
	assert.Equal(t, 2*time.Second, cfg.Health.Timeout.Std())
}

func TestFileDriverDefaultsIntoDataDir(t *testing.T) {
	cfg := Default("/srv/pluginsys")
	cfg.Storage.Driver = DriverFile
	cfg.applyDefaults("/srv/pluginsys")
	assert.Equal(t, "/srv/pluginsys/data/registry.json", cfg.Storage.Path)
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"unknown storage": `{"storage": {"driver": "etcd"}}`,
		"redis address":   `{"storage": {"driver": "redis"}}`,
		"mysql dsn":       `{"storage": {"driver": "mysql"}}`,
		"unknown events":  `{"events": {"driver": "kafka"}}`,
		"rabbitmq url":    `{"events": {"driver": "rabbitmq"}}`,
		"bad duration":    `{"health": {"interval": "soon"}}`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}

	_, err := Load(writeConfig(t, `{"storage": {"driver": "redis", "redis": {"address": "localhost:6379", "ttl": "1h"}}}`))
	assert.NoError(t, err)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)
	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
	_, err = Load(writeConfig(t, `{`))
	assert.Error(t, err)
}

func TestDurationMarshal(t *testing.T) {
	raw, err := Duration(90 * time.Second).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(raw))
}
