package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linchub/internal/db"
)

func TestMigrateAndVersion(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	v, err := Version(conn)
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	require.NoError(t, Migrate(conn))
	v, err = Version(conn)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	// re-running on an up-to-date database is a no-op
	require.NoError(t, Migrate(conn))
	v, err = Version(conn)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	for _, table := range []string{"actors", "actor_logs", "runs", "run_steps", "audit_results", "events"} {
		var name string
		err := conn.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, "table %s", table)
	}
}
