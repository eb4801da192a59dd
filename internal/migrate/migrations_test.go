package migrate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"agentline/internal/db"
	"agentline/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	ctx := context.Background()

	v1, err := migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	require.GreaterOrEqual(t, v1, 1)

	v2, err := migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	require.Equal(t, v1, v2)
}

func TestEventsTableRejectsUpdatesAndDeletes(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	ctx := context.Background()
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)

	_, err = conn.ExecContext(ctx, `INSERT INTO events(id,project_id,entity_type,entity_id,event_type,created_at) VALUES ('evt_1','prj_1','project','prj_1','created','2024-01-01T00:00:00Z')`)
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, `UPDATE events SET event_type='deleted' WHERE id='evt_1'`)
	require.Error(t, err)
	_, err = conn.ExecContext(ctx, `DELETE FROM events WHERE id='evt_1'`)
	require.Error(t, err)
}
