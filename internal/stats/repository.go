// Package stats stores point-in-time statistics of trending videos and rolls
// them up per day.
package stats

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/db"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/model"
)

// Snapshot is one row of video_stats_snapshots.
type Snapshot struct {
	Platform        model.Platform
	PlatformVideoID string
	Region          string
	CapturedAt      time.Time
	TrendingRank    *int
	ViewCount       *int64
	LikeCount       *int64
	CommentCount    *int64
	ShareCount      *int64
	PublishedAt     *time.Time
}

// Daily is one row of video_stats_daily.
type Daily struct {
	Platform        model.Platform
	PlatformVideoID string
	Region          string
	Day             time.Time
	Snapshots       int
	BestRank        *int
	MaxViews        *int64
	MaxLikes        *int64
	MaxComments     *int64
	MaxShares       *int64
	ViewDelta       *int64
	UpdatedAt       time.Time
}

// Conn is the subset of *pgxpool.Pool the repository uses.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

// Repository defines operations on the statistics tables.
type Repository interface {
	// InsertSnapshots bulk-loads snapshot rows and returns how many were written.
	InsertSnapshots(ctx context.Context, rows []Snapshot) (int64, error)

	// AggregateDaily recomputes daily rows for every day touched since the given time.
	AggregateDaily(ctx context.Context, since time.Time) (int64, error)

	// GetDaily returns a video's daily rows, oldest first.
	GetDaily(ctx context.Context, p model.Platform, videoID, region string) ([]*Daily, error)
}

type statsRepository struct {
	conn  Conn
	table string
}

// NewRepository creates a Repository writing snapshots to table.
func NewRepository(conn Conn, table string) Repository {
	if table == "" {
		table = "video_stats_snapshots"
	}
	return &statsRepository{conn: conn, table: table}
}

var snapshotColumns = []string{
	"platform", "platform_video_id", "region", "captured_at", "trending_rank",
	"view_count", "like_count", "comment_count", "share_count", "published_at",
}

func (r *statsRepository) InsertSnapshots(ctx context.Context, rows []Snapshot) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := r.conn.CopyFrom(ctx,
		pgx.Identifier(strings.Split(r.table, ".")),
		snapshotColumns,
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			s := rows[i]
			return []any{
				string(s.Platform), s.PlatformVideoID, s.Region, s.CapturedAt, s.TrendingRank,
				s.ViewCount, s.LikeCount, s.CommentCount, s.ShareCount, s.PublishedAt,
			}, nil
		}))
	if err != nil {
		return n, db.WrapError(err, "insert stats snapshots")
	}
	return n, nil
}

func (r *statsRepository) AggregateDaily(ctx context.Context, since time.Time) (int64, error) {
	query := `
		INSERT INTO video_stats_daily (
			platform, platform_video_id, region, day, snapshots, best_rank,
			max_views, max_likes, max_comments, max_shares, view_delta, updated_at
		)
		SELECT platform, platform_video_id, region,
		       (captured_at AT TIME ZONE 'UTC')::date AS day,
		       count(*), min(trending_rank),
		       max(view_count), max(like_count), max(comment_count), max(share_count),
		       max(view_count) - min(view_count),
		       NOW()
		FROM ` + pgx.Identifier(strings.Split(r.table, ".")).Sanitize() + `
		WHERE captured_at >= date_trunc('day', $1::timestamptz AT TIME ZONE 'UTC') AT TIME ZONE 'UTC'
		GROUP BY platform, platform_video_id, region, day
		ON CONFLICT (platform, platform_video_id, region, day) DO UPDATE SET
			snapshots    = EXCLUDED.snapshots,
			best_rank    = EXCLUDED.best_rank,
			max_views    = EXCLUDED.max_views,
			max_likes    = EXCLUDED.max_likes,
			max_comments = EXCLUDED.max_comments,
			max_shares   = EXCLUDED.max_shares,
			view_delta   = EXCLUDED.view_delta,
			updated_at   = EXCLUDED.updated_at
	`
	tag, err := r.conn.Exec(ctx, query, since.UTC())
	if err != nil {
		return 0, db.WrapError(err, "aggregate daily stats")
	}
	return tag.RowsAffected(), nil
}

func (r *statsRepository) GetDaily(ctx context.Context, p model.Platform, videoID, region string) ([]*Daily, error) {
	query := `
		SELECT platform, platform_video_id, region, day, snapshots, best_rank,
		       max_views, max_likes, max_comments, max_shares, view_delta, updated_at
		FROM video_stats_daily
		WHERE platform = $1 AND platform_video_id = $2 AND region = $3
		ORDER BY day
	`
	rows, err := r.conn.Query(ctx, query, string(p), videoID, region)
	if err != nil {
		return nil, db.WrapError(err, "get daily stats")
	}
	defer rows.Close()

	var out []*Daily
	for rows.Next() {
		d := &Daily{}
		var platform string
		if err := rows.Scan(
			&platform, &d.PlatformVideoID, &d.Region, &d.Day, &d.Snapshots, &d.BestRank,
			&d.MaxViews, &d.MaxLikes, &d.MaxComments, &d.MaxShares, &d.ViewDelta, &d.UpdatedAt,
		); err != nil {
			return nil, db.WrapError(err, "scan daily stats")
		}
		d.Platform = model.Platform(platform)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, db.WrapError(err, "iterate daily stats")
	}
	return out, nil
}

// FromSnapshot converts a cached trending snapshot into rows captured at
// capturedAt. When keep is non-nil only records it accepts are converted.
func FromSnapshot(snap model.TrendingSnapshot, capturedAt time.Time, keep func(model.TrendingVideoRecord) bool) []Snapshot {
	out := make([]Snapshot, 0, len(snap.Videos))
	for _, v := range snap.Videos {
		if keep != nil && !keep(v) {
			continue
		}
		out = append(out, Snapshot{
			Platform:        snap.Platform,
			PlatformVideoID: v.PlatformVideoID,
			Region:          snap.Region,
			CapturedAt:      capturedAt.UTC(),
			TrendingRank:    v.TrendingRank,
			ViewCount:       v.ViewCount,
			LikeCount:       v.LikeCount,
			CommentCount:    v.CommentCount,
			ShareCount:      v.ShareCount,
			PublishedAt:     v.PublishedAt,
		})
	}
	return out
}

// PublishedWithin keeps records published no earlier than window before now.
func PublishedWithin(now time.Time, window time.Duration) func(model.TrendingVideoRecord) bool {
	cutoff := now.Add(-window)
	return func(v model.TrendingVideoRecord) bool {
		return v.PublishedAt != nil && !v.PublishedAt.Before(cutoff)
	}
}
