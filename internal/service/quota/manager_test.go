package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memStore struct {
	mu   sync.Mutex
	used map[string]int64
	err  error
}

func newMemStore() *memStore { return &memStore{used: map[string]int64{}} }

func (s *memStore) Used(_ context.Context, day string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used[day], s.err
}

func (s *memStore) Add(_ context.Context, day string, cost int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.used[day] += cost
	return s.used[day], nil
}

func TestManager_CheckQuotaAvailable(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		used     int64
		required int64
		want     bool
	}{
		{name: "plenty left", used: 0, required: 1, want: true},
		{name: "exactly reaches threshold", used: 89, required: 1, want: true},
		{name: "would cross threshold", used: 89, required: 2, want: false},
		{name: "threshold reached", used: 90, required: 1, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			store.used["2024-05-01"] = tt.used
			m := NewManager(store, 100, 90, zap.NewNop()).WithClock(func() time.Time { return day })

			ok, info, err := m.CheckQuotaAvailable(ctx, tt.required)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			assert.Equal(t, int64(90), info.Threshold)
		})
	}
}

func TestManager_RecordAndRemaining(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 23, 0, 0, 0, time.UTC)
	store := newMemStore()
	m := NewManager(store, 100, 90, nil).WithClock(func() time.Time { return now })

	require.NoError(t, m.RecordQuotaUsage(ctx, 40, "videos_list"))
	remaining, err := m.GetRemainingQuota(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(50), remaining)

	require.NoError(t, m.RecordQuotaUsage(ctx, 60, "videos_list"))
	exhausted, err := m.IsQuotaExhausted(ctx)
	require.NoError(t, err)
	assert.True(t, exhausted)

	remaining, err = m.GetRemainingQuota(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), remaining)

	now = now.Add(2 * time.Hour)
	exhausted, err = m.IsQuotaExhausted(ctx)
	require.NoError(t, err)
	assert.False(t, exhausted, "a new day starts with a fresh budget")
}

func TestManager_Defaults(t *testing.T) {
	m := NewManager(newMemStore(), 0, 0, nil)
	assert.Equal(t, int64(10000), m.dailyLimit)
	assert.Equal(t, int64(9000), m.threshold())
}

func TestManager_StoreErrors(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.err = errors.New("redis down")
	m := NewManager(store, 100, 90, nil)

	_, _, err := m.CheckQuotaAvailable(ctx, 1)
	assert.Error(t, err)
	assert.Error(t, m.RecordQuotaUsage(ctx, 1, "videos_list"))
}
