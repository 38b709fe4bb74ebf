package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadLayers(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "notebooks", "demo")
	require.NoError(t, os.MkdirAll(nested, 0777))
	contents := `
host: 0.0.0.0
port: 8050
frontendURL: ws://127.0.0.1:8765/comm
proxy: true
readyInterval: 250ms
`
	require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte(contents), 0666))

	t.Setenv("APPVIEWER_PORT", "9000")
	t.Setenv("APPVIEWER_LOG_LEVEL", "debug")

	cfg, err := Load(nested)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	// file
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, "ws://127.0.0.1:8765/comm", cfg.FrontendURL)
	assert.True(t, cfg.Proxy)
	assert.Equal(t, 250*time.Millisecond, cfg.ReadyInterval)
	// env over file
	assert.Equal(t, 9000, cfg.Port)
	// defaults
	assert.Equal(t, "Running on", cfg.ReadySubstring)
	assert.Equal(t, 100, cfg.ReadyAttempts)

	l, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, l)
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Host)
}

func TestLoadBadFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("port: [nope"), 0666))
	_, err := Load(dir)
	require.ErrorContains(t, err, "parsing config file")
}

func TestLoadBadEnv(t *testing.T) {
	t.Setenv("APPVIEWER_READY_ATTEMPTS", "many")
	_, err := Load(t.TempDir())
	require.ErrorContains(t, err, "reading environment")
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *Config)
		expErr string
	}{
		{name: "no host", mutate: func(c *Config) { c.Host = "" }, expErr: "host is required"},
		{name: "port too big", mutate: func(c *Config) { c.Port = 70000 }, expErr: "out of range"},
		{name: "relative URL", mutate: func(c *Config) { c.URL = "not a url" }, expErr: "invalid URL"},
		{name: "proxy without front-end", mutate: func(c *Config) { c.Proxy = true }, expErr: "proxy requires"},
		{name: "bad front-end scheme", mutate: func(c *Config) { c.FrontendURL = "ftp://x/comm" }, expErr: "must be a ws"},
		{name: "zero base URL timeout", mutate: func(c *Config) { c.BaseURLTimeout = 0 }, expErr: "base URL timeout"},
		{name: "no ready substring", mutate: func(c *Config) { c.ReadySubstring = "" }, expErr: "ready substring"},
		{name: "zero attempts", mutate: func(c *Config) { c.ReadyAttempts = 0 }, expErr: "ready attempts"},
		{name: "zero interval", mutate: func(c *Config) { c.ReadyInterval = 0 }, expErr: "ready interval"},
		{name: "negative delay", mutate: func(c *Config) { c.PortReleaseDelay = -time.Second }, expErr: "port release delay"},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "loud" }, expErr: "invalid log level"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := Default()
			c.mutate(cfg)
			require.ErrorContains(t, cfg.Validate(), c.expErr)
		})
	}
}
