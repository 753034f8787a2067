package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsWhenDefaultFileMissing(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 14*24*time.Hour, cfg.LoanPeriod.Std())
	assert.Equal(t, 5, cfg.MaxActiveLoans)
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	path := writeConfig(t, `
port: "9090"
store: memory
holdTTL: 30m
maxActiveLoans: 3
eventSink: redis
`)
	t.Setenv("HOLD_TTL", "2h")
	t.Setenv("PORT", "7070")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, 2*time.Hour, cfg.HoldTTL.Std())
	assert.Equal(t, 3, cfg.MaxActiveLoans)
	assert.Equal(t, "redis", cfg.EventSink)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown store":    "store: mongo\n",
		"amqp without url": "eventSink: amqp\n",
		"zero loans":       "maxActiveLoans: 0\n",
		"bad duration":     "holdTTL: soon\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}
