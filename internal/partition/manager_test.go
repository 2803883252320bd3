package partition

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// fakeExecutor fails statements that mention a partition name in errs and
// remembers created partitions so a second run sees duplicates.
type fakeExecutor struct {
	mu      sync.Mutex
	created map[string]bool
	errs    map[string]error
	stmts   []string
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{created: map[string]bool{}, errs: map[string]error{}}
}

func (f *fakeExecutor) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stmts = append(f.stmts, sql)

	name := strings.Fields(sql)[2]
	for part, err := range f.errs {
		if strings.Contains(name, part) {
			return pgconn.CommandTag{}, err
		}
	}
	if f.created[name] {
		return pgconn.CommandTag{}, &pgconn.PgError{Code: "42P07", Message: "relation " + name + " already exists"}
	}
	f.created[name] = true
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

type fakeRecorder struct {
	statuses []string
}

func (r *fakeRecorder) ObservePartition(_, status string) {
	r.statuses = append(r.statuses, status)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestMonths(t *testing.T) {
	from := time.Date(2026, 11, 17, 22, 30, 0, 0, time.FixedZone("PST", -8*3600))
	got := Months("video_stats_snapshots", from, 2)

	require.Len(t, got, 3)
	assert.Equal(t, "video_stats_snapshots_p202611", got[0].Name)
	assert.Equal(t, "video_stats_snapshots_p202612", got[1].Name)
	assert.Equal(t, "video_stats_snapshots_p202701", got[2].Name)
	assert.Equal(t, time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC), got[0].RangeStart)

	for i := 1; i < len(got); i++ {
		assert.Equal(t, got[i-1].RangeEnd, got[i].RangeStart, "ranges are contiguous")
	}
	for _, d := range got {
		assert.Equal(t, 1, d.RangeStart.Day())
		assert.Equal(t, d.RangeStart.AddDate(0, 1, 0), d.RangeEnd)
	}
}

func TestDescriptor_CreateStatement(t *testing.T) {
	d := Months("stats.video_stats_snapshots", time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC), 0)[0]
	assert.Equal(t,
		`CREATE TABLE "stats"."video_stats_snapshots_p202602" PARTITION OF "stats"."video_stats_snapshots" `+
			`FOR VALUES FROM ('2026-02-01T00:00:00Z') TO ('2026-03-01T00:00:00Z')`,
		d.CreateStatement())
}

func TestEnsureFuturePartitions_CreatesThenReportsExisting(t *testing.T) {
	ctx := context.Background()
	exec := newFakeExecutor()
	rec := &fakeRecorder{}
	m := NewManager(exec, "video_stats_snapshots", nil,
		WithClock(fixedClock(time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC))),
		WithRecorder(rec))

	res, err := m.EnsureFuturePartitions(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Count(StatusCreated))

	res, err = m.EnsureFuturePartitions(ctx, 2)
	require.NoError(t, err, "existing partitions are not an error")
	assert.Equal(t, 3, res.Count(StatusExists))
	assert.Equal(t, []string{"created", "created", "created", "exists", "exists", "exists"}, rec.statuses)

	for _, stmt := range exec.stmts {
		assert.True(t, strings.HasPrefix(stmt, "CREATE TABLE "), "only create statements are issued")
	}
}

func TestEnsureFuturePartitions_PerMonthFailures(t *testing.T) {
	tests := []struct {
		name       string
		errs       map[string]error
		wantStatus []Status
		wantErr    bool
	}{
		{
			name:       "overlap is a conflict and the loop continues",
			errs:       map[string]error{"p202602": &pgconn.PgError{Code: "42P17", Message: "would overlap"}},
			wantStatus: []Status{StatusCreated, StatusConflict, StatusCreated},
		},
		{
			name:       "base table not partitioned",
			errs:       map[string]error{"_p": &pgconn.PgError{Code: "42809", Message: "is not partitioned"}},
			wantStatus: []Status{StatusConflict, StatusConflict, StatusConflict},
		},
		{
			name:       "one transient failure",
			errs:       map[string]error{"p202601": errors.New("connection reset")},
			wantStatus: []Status{StatusFailed, StatusCreated, StatusCreated},
		},
		{
			name:       "every month failed",
			errs:       map[string]error{"_p": errors.New("connection refused")},
			wantStatus: []Status{StatusFailed, StatusFailed, StatusFailed},
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := newFakeExecutor()
			exec.errs = tt.errs
			m := NewManager(exec, "video_stats_snapshots", nil,
				WithClock(fixedClock(time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC))))

			res, err := m.EnsureFuturePartitions(context.Background(), 2)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}

			var got []Status
			for _, mr := range res.Months {
				got = append(got, mr.Status)
				if mr.Status == StatusConflict {
					assert.ErrorIs(t, mr.Err, ErrConflict)
				}
			}
			assert.Equal(t, tt.wantStatus, got)
			assert.Len(t, exec.stmts, 3, "every month is attempted")
		})
	}
}

func TestEnsureFuturePartitions_ConflictLogsWarning(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	exec := newFakeExecutor()
	exec.errs = map[string]error{"_p": &pgconn.PgError{Code: "42P01", Message: "relation does not exist"}}
	m := NewManager(exec, "video_stats_snapshots", zap.New(core))

	_, err := m.EnsureFuturePartitions(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("partition not created").Len())
}

func TestEnsureFuturePartitions_NegativeLookahead(t *testing.T) {
	m := NewManager(newFakeExecutor(), "t", nil)
	_, err := m.EnsureFuturePartitions(context.Background(), -1)
	assert.Error(t, err)
}
