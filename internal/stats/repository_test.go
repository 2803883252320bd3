package stats

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/model"
)

type fakeConn struct {
	table   pgx.Identifier
	columns []string
	rows    [][]any
	execSQL string
	args    []any
	err     error
}

func (f *fakeConn) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execSQL, f.args = sql, args
	return pgconn.NewCommandTag("INSERT 0 4"), f.err
}

func (f *fakeConn) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeConn) CopyFrom(_ context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.table, f.columns = table, columns
	for src.Next() {
		values, err := src.Values()
		if err != nil {
			return 0, err
		}
		f.rows = append(f.rows, values)
	}
	return int64(len(f.rows)), src.Err()
}

func ptr[T any](v T) *T { return &v }

func testSnapshot(now time.Time) model.TrendingSnapshot {
	return model.TrendingSnapshot{
		Platform: model.PlatformYouTube,
		Region:   "US",
		Videos: []model.TrendingVideoRecord{
			{PlatformVideoID: "new", TrendingRank: ptr(1), ViewCount: ptr(int64(100)), PublishedAt: ptr(now.Add(-time.Hour))},
			{PlatformVideoID: "old", TrendingRank: ptr(2), ViewCount: ptr(int64(900)), PublishedAt: ptr(now.Add(-72 * time.Hour))},
			{PlatformVideoID: "undated", TrendingRank: ptr(3)},
		},
	}
}

func TestFromSnapshot(t *testing.T) {
	now := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	snap := testSnapshot(now)

	all := FromSnapshot(snap, now, nil)
	require.Len(t, all, 3)
	assert.Equal(t, model.PlatformYouTube, all[0].Platform)
	assert.Equal(t, "US", all[0].Region)
	assert.Equal(t, now, all[0].CapturedAt)
	assert.Equal(t, 2, *all[1].TrendingRank)
	assert.Equal(t, int64(900), *all[1].ViewCount)

	recent := FromSnapshot(snap, now, PublishedWithin(now, 48*time.Hour))
	require.Len(t, recent, 1)
	assert.Equal(t, "new", recent[0].PlatformVideoID)
}

func TestRepository_InsertSnapshots(t *testing.T) {
	now := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	conn := &fakeConn{}
	repo := NewRepository(conn, "public.video_stats_snapshots")

	n, err := repo.InsertSnapshots(context.Background(), FromSnapshot(testSnapshot(now), now, nil))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	assert.Equal(t, pgx.Identifier{"public", "video_stats_snapshots"}, conn.table)
	assert.Equal(t, snapshotColumns, conn.columns)
	require.Len(t, conn.rows, 3)
	assert.Equal(t, "YOUTUBE", conn.rows[0][0])
	assert.Equal(t, "new", conn.rows[0][1])
	assert.Equal(t, now, conn.rows[0][3])
}

func TestRepository_InsertSnapshotsEmpty(t *testing.T) {
	conn := &fakeConn{err: errors.New("must not be called")}
	n, err := NewRepository(conn, "").InsertSnapshots(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRepository_InsertSnapshotsMapsErrors(t *testing.T) {
	conn := &fakeConn{err: &pgconn.PgError{Code: "23505", ConstraintName: "video_stats_snapshots_pkey"}}
	_, err := NewRepository(conn, "").InsertSnapshots(context.Background(), []Snapshot{{PlatformVideoID: "v"}})
	assert.ErrorContains(t, err, "duplicate key")
}

func TestRepository_AggregateDaily(t *testing.T) {
	conn := &fakeConn{}
	since := time.Date(2026, 4, 1, 15, 0, 0, 0, time.FixedZone("X", 3600))

	n, err := NewRepository(conn, "video_stats_snapshots").AggregateDaily(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.True(t, strings.Contains(conn.execSQL, `FROM "video_stats_snapshots"`))
	assert.Contains(t, conn.execSQL, "ON CONFLICT (platform, platform_video_id, region, day) DO UPDATE")
	require.Len(t, conn.args, 1)
	assert.Equal(t, since.UTC(), conn.args[0])
}
