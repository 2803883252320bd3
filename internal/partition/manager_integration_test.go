//go:build integration

package partition

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/db/testutil"
)

func TestEnsureFuturePartitions_Postgres(t *testing.T) {
	ctx := context.Background()
	tdb := testutil.SetupTestDatabase(t)
	defer tdb.Cleanup(t)

	m := NewManager(tdb.Pool, "video_stats_snapshots", nil)

	res, err := m.EnsureFuturePartitions(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Count(StatusCreated))

	res, err = m.EnsureFuturePartitions(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Count(StatusExists))

	var n int
	err = tdb.Pool.QueryRow(ctx, `
		SELECT count(*) FROM pg_inherits
		JOIN pg_class parent ON parent.oid = pg_inherits.inhparent
		WHERE parent.relname = 'video_stats_snapshots'`).Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = tdb.Pool.Exec(ctx, `
		INSERT INTO video_stats_snapshots (platform, platform_video_id, region, captured_at)
		VALUES ('YOUTUBE', 'v1', 'US', $1)`, time.Now().UTC())
	assert.NoError(t, err, "rows for the current month have a partition")
}

func TestEnsureFuturePartitions_UnpartitionedTable(t *testing.T) {
	ctx := context.Background()
	tdb := testutil.SetupTestDatabase(t)
	defer tdb.Cleanup(t)

	_, err := tdb.Pool.Exec(ctx, `CREATE TABLE plain_stats (id int)`)
	require.NoError(t, err)

	res, err := NewManager(tdb.Pool, "plain_stats", nil).EnsureFuturePartitions(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count(StatusConflict))
}
