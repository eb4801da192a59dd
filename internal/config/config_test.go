package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, "127.0.0.1:8787", cfg.Server.Addr)
	require.Equal(t, "/v0", cfg.Server.BasePath)
	require.Equal(t, 8*time.Hour, cfg.Sessions.TTL.Std())
	require.Equal(t, "claude", cfg.Kick.CLIPath)
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
sessions:
  ttl: 90m
webhooks:
  - url: http://localhost:9000/hook
    events: [status_changed]
    secret: s3cret
`))
	require.NoError(t, err)
	require.Equal(t, 90*time.Minute, cfg.Sessions.TTL.Std())
	require.Equal(t, "127.0.0.1:8787", cfg.Server.Addr)
	require.Len(t, cfg.Webhooks, 1)
	require.True(t, cfg.Webhooks[0].Active())
}

func TestValidateCollectsAllProblems(t *testing.T) {
	_, err := FromYAML([]byte(`
server:
  addr: ""
  base_path: v0
log:
  level: loud
webhooks:
  - url: ftp://nope
    events: [exploded]
`))
	require.Error(t, err)
	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	require.Len(t, merr.Errors, 5)
}

func TestInvalidDuration(t *testing.T) {
	_, err := FromYAML([]byte("sessions:\n  ttl: forever\n"))
	require.ErrorContains(t, err, "invalid duration")
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)

	_, err = Load(dir)
	require.ErrorContains(t, err, "not found")

	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("log:\n  level: debug\n"), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Log.Level)
}

func TestDisabledWebhookIsInactive(t *testing.T) {
	off := false
	require.False(t, WebhookConfig{URL: "http://x", Enabled: &off}.Active())
	require.False(t, WebhookConfig{}.Active())
}
