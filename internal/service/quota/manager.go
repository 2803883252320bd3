// Package quota guards a daily API budget shared by every worker process.
package quota

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Info describes today's usage against the configured limit.
type Info struct {
	Used      int64
	Limit     int64
	Threshold int64
	Remaining int64
}

// Store persists per-day usage counters.
type Store interface {
	// Used returns units spent on day.
	Used(ctx context.Context, day string) (int64, error)
	// Add adds cost to day's counter and returns the new total.
	Add(ctx context.Context, day string, cost int64) (int64, error)
}

// Manager handles API quota management
type Manager struct {
	store            Store
	dailyLimit       int64
	thresholdPercent int64 // Stop processing when this % of quota is used
	now              func() time.Time
	log              *zap.Logger
}

// NewManager creates a new quota manager
func NewManager(store Store, dailyLimit int64, thresholdPercent int, log *zap.Logger) *Manager {
	if dailyLimit <= 0 {
		dailyLimit = 10000 // YouTube API v3 default
	}
	if thresholdPercent <= 0 || thresholdPercent > 100 {
		thresholdPercent = 90 // Stop at 90% by default
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Manager{
		store:            store,
		dailyLimit:       dailyLimit,
		thresholdPercent: int64(thresholdPercent),
		now:              time.Now,
		log:              log.Named("quota"),
	}
}

// WithClock replaces the clock used to pick the quota day.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// today is the quota day. YouTube resets quotas at midnight Pacific time, UTC is close enough
// for a guard that stops at a threshold below the limit.
func (m *Manager) today() string {
	return m.now().UTC().Format("2006-01-02")
}

func (m *Manager) threshold() int64 {
	return m.dailyLimit * m.thresholdPercent / 100
}

// GetQuotaInfo returns current quota information
func (m *Manager) GetQuotaInfo(ctx context.Context) (*Info, error) {
	used, err := m.store.Used(ctx, m.today())
	if err != nil {
		return nil, fmt.Errorf("failed to get quota info: %w", err)
	}
	remaining := m.threshold() - used
	if remaining < 0 {
		remaining = 0
	}
	return &Info{Used: used, Limit: m.dailyLimit, Threshold: m.threshold(), Remaining: remaining}, nil
}

// CheckQuotaAvailable checks if there's enough quota to proceed
func (m *Manager) CheckQuotaAvailable(ctx context.Context, requiredQuota int64) (bool, *Info, error) {
	info, err := m.GetQuotaInfo(ctx)
	if err != nil {
		return false, nil, err
	}

	if info.Used >= info.Threshold {
		m.log.Warn("quota threshold reached",
			zap.Int64("used", info.Used), zap.Int64("limit", info.Limit))
		return false, info, nil
	}

	if info.Used+requiredQuota > info.Threshold {
		m.log.Warn("not enough quota for operation",
			zap.Int64("required", requiredQuota), zap.Int64("remaining", info.Remaining))
		return false, info, nil
	}

	return true, info, nil
}

// RecordQuotaUsage records API quota usage
func (m *Manager) RecordQuotaUsage(ctx context.Context, quotaCost int64, operationType string) error {
	used, err := m.store.Add(ctx, m.today(), quotaCost)
	if err != nil {
		return fmt.Errorf("failed to record quota usage: %w", err)
	}

	m.log.Debug("quota used",
		zap.String("operation", operationType),
		zap.Int64("cost", quotaCost),
		zap.Int64("used", used),
		zap.Int64("limit", m.dailyLimit))
	return nil
}

// IsQuotaExhausted checks if quota threshold has been reached
func (m *Manager) IsQuotaExhausted(ctx context.Context) (bool, error) {
	info, err := m.GetQuotaInfo(ctx)
	if err != nil {
		return false, err
	}
	return info.Used >= info.Threshold, nil
}

// GetRemainingQuota returns how much quota is remaining before threshold
func (m *Manager) GetRemainingQuota(ctx context.Context) (int64, error) {
	info, err := m.GetQuotaInfo(ctx)
	if err != nil {
		return 0, err
	}
	return info.Remaining, nil
}
