package scheduler

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/jobs"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/model"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/platform"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/queue"
)

type stubAdapter struct {
	platform  model.Platform
	available bool
}

func (a stubAdapter) Platform() model.Platform { return a.platform }
func (a stubAdapter) IsAvailable(context.Context) bool { return a.available }
func (a stubAdapter) FetchTrending(context.Context, platform.FetchOptions) (*model.FetchResult, error) {
	return &model.FetchResult{}, nil
}

func testConfig(regions ...string) Config {
	return Config{
		Regions:         regions,
		RefreshInterval: 30 * time.Minute,
		Cadences: Cadences{
			ChannelMetadata: "0 */6 * * *",
			VideoLists:      "0 */2 * * *",
			StatsRecent:     "0 * * * *",
			StatsFull:       "0 3 * * *",
			StatsAggregate:  "30 3 * * *",
			Partitions:      "0 1 * * *",
		},
		Defaults: queue.Options{
			Attempts:  3,
			Backoff:   queue.BackoffPolicy{Kind: queue.BackoffExponential, Base: 30 * time.Second, Max: 10 * time.Minute},
			Retention: queue.RetentionPolicy{KeepCompleted: 100, KeepFailed: 500},
		},
	}
}

func newRegistry(t *testing.T) *platform.Registry {
	t.Helper()
	r, err := platform.NewRegistry(
		stubAdapter{platform: model.PlatformYouTube, available: true},
		stubAdapter{platform: model.PlatformTikTok, available: false},
	)
	require.NoError(t, err)
	return r
}

// schedule returns key -> fingerprint of every repeatable across scheduled queues.
func schedule(t *testing.T, q queue.Queue) map[string]string {
	t.Helper()
	out := make(map[string]string)
	for _, name := range jobs.ScheduledQueues {
		descs, err := q.ListRepeatable(context.Background(), name)
		require.NoError(t, err)
		for _, d := range descs {
			out[d.Key()] = d.Fingerprint()
		}
	}
	return out
}

func TestScheduler_Canonical(t *testing.T) {
	s := New(queue.NewMemoryBroker(nil, nil), newRegistry(t), testConfig("US", "gb", "us"), nil)

	got, err := s.Canonical(context.Background())
	require.NoError(t, err)

	var names []string
	var refreshes []jobs.RefreshPayload
	for _, d := range got {
		names = append(names, d.Name)
		require.NotNil(t, d.Options.Repeat)
		assert.Equal(t, jobs.QueueFor(d.Name), d.Queue)
		if d.Name == jobs.TypeTrendingRefresh {
			job := queue.Job{Name: d.Name, Payload: d.Payload}
			var p jobs.RefreshPayload
			require.NoError(t, job.Decode(&p))
			refreshes = append(refreshes, p)
			assert.Equal(t, 30*time.Minute, d.Options.Repeat.Every)
		}
	}
	sort.Strings(names)

	assert.Equal(t, []string{
		jobs.TypePartitionMaintenance,
		jobs.TypeStatsAggregate,
		jobs.TypeStatsSnapshotFull,
		jobs.TypeStatsSnapshotRecent,
		jobs.TypeSyncChannelMetadata,
		jobs.TypeSyncVideoLists,
		jobs.TypeTrendingRefresh,
		jobs.TypeTrendingRefresh,
	}, names)
	assert.ElementsMatch(t, []jobs.RefreshPayload{
		{Platform: model.PlatformYouTube, Region: "US"},
		{Platform: model.PlatformYouTube, Region: "GB"},
	}, refreshes, "unavailable platforms and duplicate regions are skipped")
}

func TestScheduler_ReconcileIsIdempotent(t *testing.T) {
	ctx := context.Background()
	broker := queue.NewMemoryBroker(nil, nil)
	s := New(broker, newRegistry(t), testConfig("US", "GB"), nil)

	first, err := s.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Added: 8}, first)
	after := schedule(t, broker)

	second, err := s.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Unchanged: 8}, second)
	assert.Equal(t, after, schedule(t, broker))
}

func TestScheduler_ReconcileHealsChanges(t *testing.T) {
	ctx := context.Background()
	broker := queue.NewMemoryBroker(nil, nil)
	registry := newRegistry(t)

	_, err := New(broker, registry, testConfig("US", "GB"), nil).Reconcile(ctx)
	require.NoError(t, err)

	// A leftover from an older deployment.
	_, err = broker.Enqueue(ctx, queue.JobDescriptor{
		Queue:   jobs.QueueStats,
		Name:    "stats:legacy-rollup",
		Options: queue.Options{Attempts: 1, Repeat: &queue.RepeatSpec{Cron: "0 0 * * *"}},
	})
	require.NoError(t, err)

	cfg := testConfig("US", "VN")
	cfg.Cadences.Partitions = "0 2 * * *"
	report, err := New(broker, registry, cfg, nil).Reconcile(ctx)
	require.NoError(t, err)

	// GB refresh, the old partitions cadence and the legacy job go; VN and the new cadence come.
	assert.Equal(t, Report{Added: 2, Removed: 3, Unchanged: 6}, report)

	maintenance, err := broker.ListRepeatable(ctx, jobs.QueueMaintenance)
	require.NoError(t, err)
	require.Len(t, maintenance, 1)
	assert.Equal(t, "0 2 * * *", maintenance[0].Options.Repeat.Cron)

	trending, err := broker.ListRepeatable(ctx, jobs.QueueTrending)
	require.NoError(t, err)
	var regions []string
	for _, d := range trending {
		job := queue.Job{Name: d.Name, Payload: d.Payload}
		var p jobs.RefreshPayload
		require.NoError(t, job.Decode(&p))
		regions = append(regions, p.Region)
	}
	assert.ElementsMatch(t, []string{"US", "VN"}, regions)

	again, err := New(broker, registry, cfg, nil).Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Unchanged: 8}, again)
}

func TestScheduler_EmptyCadenceIsSkipped(t *testing.T) {
	cfg := testConfig("US")
	cfg.Cadences.VideoLists = ""
	s := New(queue.NewMemoryBroker(nil, nil), newRegistry(t), cfg, nil)

	got, err := s.Canonical(context.Background())
	require.NoError(t, err)
	for _, d := range got {
		assert.NotEqual(t, jobs.TypeSyncVideoLists, d.Name)
	}
	assert.Len(t, got, 6)
}

func TestScheduler_InvalidCadence(t *testing.T) {
	cfg := testConfig("US")
	cfg.Cadences.StatsFull = "daily at three"
	s := New(queue.NewMemoryBroker(nil, nil), newRegistry(t), cfg, nil)

	_, err := s.Reconcile(context.Background())
	assert.Error(t, err)
}
