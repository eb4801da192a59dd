// Package app wires a workspace into a ready engine for the CLI and server.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"agentline/internal/config"
	"agentline/internal/db"
	"agentline/internal/engine"
	"agentline/internal/metrics"
	"agentline/internal/migrate"
	"agentline/internal/observability"
)

// Runtime is an open, migrated workspace.
type Runtime struct {
	Workspace string
	DB        *sql.DB
	Config    *config.Config
	Metrics   *metrics.Metrics
	Engine    engine.Engine
}

// Open loads the workspace config (defaults when absent), opens and migrates
// the database, and builds the engine. The global logger follows log.level.
func Open(ctx context.Context, workspace string) (*Runtime, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	observability.SetLogger(observability.NewLogger(os.Stderr, cfg.Log.Level))
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	applied, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if applied > 0 {
		observability.Logger().Info("migrations applied", "count", applied, "db", db.Path(workspace))
	}
	m := metrics.New()
	return &Runtime{
		Workspace: workspace,
		DB:        conn,
		Config:    cfg,
		Metrics:   m,
		Engine:    engine.New(conn, cfg, m),
	}, nil
}

func (r *Runtime) Close() error {
	if r == nil || r.DB == nil {
		return nil
	}
	return r.DB.Close()
}

// ErrConfigExists is returned by InitWorkspace when a config is already present.
var ErrConfigExists = errors.New("config already exists")

// InitWorkspace creates the workspace directory and writes the default config.
// An existing config is kept unless force is set.
func InitWorkspace(workspace string, force bool) (string, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return "", err
	}
	path := config.Path(workspace)
	if _, err := os.Stat(path); err == nil && !force {
		return path, fmt.Errorf("%w: %s", ErrConfigExists, path)
	}
	if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
