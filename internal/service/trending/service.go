// Package trending refreshes and serves cached trending feeds.
//
// A refresh for one (platform, region) pair runs under a cache lock so that at
// most one refresh per pair is in flight across all worker processes. Callers
// that lose the lock return immediately.
package trending

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/cache"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/model"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/platform"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// ErrUnknownPlatform is returned by readers for a platform tag that is not registered.
var ErrUnknownPlatform = errors.New("unknown platform")

// Outcome describes what a RefreshTrending call did.
type Outcome string

const (
	OutcomeRefreshed   Outcome = "refreshed"
	OutcomeUnavailable Outcome = "unavailable"
	// OutcomeLocked means another refresh for the same key is in flight.
	OutcomeLocked Outcome = "locked"
	OutcomeFailed Outcome = "failed"
)

// Recorder receives refresh outcomes, e.g. for Prometheus.
type Recorder interface {
	ObserveRefresh(platform, region, outcome string, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveRefresh(string, string, string, time.Duration) {}

// Config holds the service's timing and sizing knobs.
type Config struct {
	// LockTTL bounds how long a crashed refresher can block others.
	LockTTL time.Duration
	// DataTTL is how long a snapshot is served.
	DataTTL time.Duration
	// MetaTTL is how long the last-refresh timestamp is kept; longer than DataTTL
	// so readers can tell a stale key from one that was never refreshed.
	MetaTTL      time.Duration
	FetchTimeout time.Duration
	MaxResults   int
}

// Service is a stateless orchestrator over the adapter registry and the cache.
type Service struct {
	registry *platform.Registry
	cache    *cache.Cache
	cfg      Config
	recorder Recorder
	now      func() time.Time
	log      *zap.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithRecorder sets the outcome recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithClock replaces the clock used for refresh timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service.
func NewService(registry *platform.Registry, c *cache.Cache, cfg Config, log *zap.Logger, opts ...Option) *Service {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 50
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		registry: registry,
		cache:    c,
		cfg:      cfg,
		recorder: nopRecorder{},
		now:      time.Now,
		log:      log.Named("trending"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CacheKey is the snapshot key for a pair: {namespace}:{platform}:{region}.
func (s *Service) CacheKey(p model.Platform, region string) string {
	return s.cache.Key(string(p), model.NormalizeRegion(region))
}

func (s *Service) refreshedKey(p model.Platform, region string) string {
	return s.cache.Key("refreshed", string(p), model.NormalizeRegion(region))
}

func lockKey(p model.Platform, region string) string {
	return string(p) + ":" + region
}

// RefreshTrending fetches the trending feed for one pair and overwrites its snapshot.
// Unavailable adapters and lock contention are reported as outcomes, not errors.
// The returned error is always a *platform.Error.
func (s *Service) RefreshTrending(ctx context.Context, p model.Platform, region string) (Outcome, error) {
	region = model.NormalizeRegion(region)
	log := s.log.With(zap.String("platform", string(p)), zap.String("region", region))
	start := s.now()

	adapter, ok := s.registry.Get(p)
	if !ok || !adapter.IsAvailable(ctx) {
		log.Info("adapter unavailable, skipping refresh")
		s.recorder.ObserveRefresh(string(p), region, string(OutcomeUnavailable), 0)
		return OutcomeUnavailable, nil
	}

	lock, ok := s.cache.AcquireLock(ctx, lockKey(p, region), s.cfg.LockTTL)
	if !ok {
		log.Debug("refresh already in flight")
		s.recorder.ObserveRefresh(string(p), region, string(OutcomeLocked), 0)
		return OutcomeLocked, nil
	}
	defer s.cache.ReleaseLock(ctx, lock)

	res, err := s.fetch(ctx, adapter, region)
	if err != nil {
		log.Warn("trending fetch failed", zap.Error(err))
		s.recorder.ObserveRefresh(string(p), region, string(OutcomeFailed), s.now().Sub(start))
		return OutcomeFailed, err
	}

	snapshot := model.TrendingSnapshot{
		Platform:     p,
		Region:       region,
		Videos:       Normalize(p, region, res.Videos),
		TotalResults: res.TotalResults,
		RefreshedAt:  s.now().UTC(),
	}

	if st := s.cache.SetJSON(ctx, s.CacheKey(p, region), snapshot, s.cfg.DataTTL); st != cache.WriteWritten {
		log.Warn("trending snapshot not cached")
	}
	s.cache.SetJSON(ctx, s.refreshedKey(p, region), snapshot.RefreshedAt, s.cfg.MetaTTL)

	duration := s.now().Sub(start)
	s.recorder.ObserveRefresh(string(p), region, string(OutcomeRefreshed), duration)
	log.Info("trending refreshed",
		zap.Int("videos", len(snapshot.Videos)),
		zap.Duration("duration", duration))
	return OutcomeRefreshed, nil
}

// fetch pages through the adapter until MaxResults videos are collected or the
// feed ends. The whole loop shares one FetchTimeout.
func (s *Service) fetch(ctx context.Context, adapter platform.Adapter, region string) (*model.FetchResult, error) {
	fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	out := &model.FetchResult{}
	token := ""
	for len(out.Videos) < s.cfg.MaxResults {
		res, err := adapter.FetchTrending(fctx, platform.FetchOptions{
			Region:     region,
			MaxResults: s.cfg.MaxResults - len(out.Videos),
			PageToken:  token,
		})
		if err != nil {
			return nil, asAdapterError(adapter.Platform(), err)
		}
		if res == nil {
			break
		}
		out.Videos = append(out.Videos, res.Videos...)
		if out.TotalResults == nil {
			out.TotalResults = res.TotalResults
		}
		if res.NextPageToken == "" || res.NextPageToken == token || len(res.Videos) == 0 {
			break
		}
		token = res.NextPageToken
	}

	if len(out.Videos) > s.cfg.MaxResults {
		out.Videos = out.Videos[:s.cfg.MaxResults]
	}
	return out, nil
}

func asAdapterError(p model.Platform, err error) error {
	var pe *platform.Error
	if errors.As(err, &pe) {
		return err
	}
	return platform.NewError(p, "fetch trending", err)
}

// Normalize stamps platform and region on every record, drops records without an
// id and later duplicates of the same id, and assigns 1-based ranks in order.
func Normalize(p model.Platform, region string, in []model.TrendingVideoRecord) []model.TrendingVideoRecord {
	out := make([]model.TrendingVideoRecord, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, rec := range in {
		if rec.PlatformVideoID == "" {
			continue
		}
		if _, dup := seen[rec.PlatformVideoID]; dup {
			continue
		}
		seen[rec.PlatformVideoID] = struct{}{}

		rec.Platform = p
		rec.Region = region
		if rec.Tags == nil {
			rec.Tags = []string{}
		}
		rank := len(out) + 1
		rec.TrendingRank = &rank
		out = append(out, rec)
	}
	return out
}

// Snapshot returns the cached snapshot for a pair, if any.
func (s *Service) Snapshot(ctx context.Context, p model.Platform, region string) (*model.TrendingSnapshot, bool) {
	var snap model.TrendingSnapshot
	if s.cache.GetJSON(ctx, s.CacheKey(p, region), &snap) != cache.StatusHit {
		return nil, false
	}
	return &snap, true
}

// LastRefreshed returns when a pair was last refreshed successfully, or nil if unknown.
func (s *Service) LastRefreshed(ctx context.Context, p model.Platform, region string) *time.Time {
	var t time.Time
	if s.cache.GetJSON(ctx, s.refreshedKey(p, region), &t) != cache.StatusHit {
		return nil
	}
	return &t
}

// GetTrending serves one page of the cached snapshot. It never calls an adapter;
// on a miss the page is empty and Cached is false.
func (s *Service) GetTrending(ctx context.Context, p model.Platform, region string, page, limit int) (*model.TrendingPage, error) {
	if _, ok := s.registry.Get(p); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlatform, p)
	}
	region = model.NormalizeRegion(region)
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	out := &model.TrendingPage{
		Platform: p,
		Region:   region,
		Videos:   []model.TrendingVideoRecord{},
		Page:     page,
		Limit:    limit,
	}

	snap, ok := s.Snapshot(ctx, p, region)
	if !ok {
		out.RefreshedAt = s.LastRefreshed(ctx, p, region)
		return out, nil
	}

	out.Cached = true
	refreshed := snap.RefreshedAt
	out.RefreshedAt = &refreshed
	out.Total = len(snap.Videos)

	// Compare page counts before multiplying so huge pages cannot overflow.
	if page-1 < (len(snap.Videos)+limit-1)/limit {
		start := (page - 1) * limit
		end := start + limit
		if end > len(snap.Videos) {
			end = len(snap.Videos)
		}
		out.Videos = snap.Videos[start:end]
	}
	return out, nil
}
