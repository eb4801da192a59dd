package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"agentline/internal/config"
	"agentline/internal/engine"
	"agentline/internal/engine/auth"
)

func TestInitWorkspaceKeepsExistingConfig(t *testing.T) {
	dir := t.TempDir()
	path, err := InitWorkspace(dir, false)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, config.FileName), path)

	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: 127.0.0.1:9999\n"), 0o644))
	_, err = InitWorkspace(dir, false)
	require.True(t, errors.Is(err, ErrConfigExists))

	cfg, err := config.Load(dir)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9999", cfg.Server.Addr)

	_, err = InitWorkspace(dir, true)
	require.NoError(t, err)
	cfg, err = config.Load(dir)
	require.NoError(t, err)
	require.Equal(t, config.Default().Server.Addr, cfg.Server.Addr)
}

func TestOpenMigratesAndServesEngine(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	rt, err := Open(ctx, dir)
	require.NoError(t, err)

	p, err := rt.Engine.CreateProject(ctx, auth.Coordinator{}, engine.ProjectCreateOptions{Name: "alpha"})
	require.NoError(t, err)
	require.NoError(t, rt.Close())

	rt, err = Open(ctx, dir)
	require.NoError(t, err)
	defer rt.Close()
	got, err := rt.Engine.GetProject(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "alpha", got.Name)
}
