// Package scheduler declares the repeatable jobs the system should run and
// reconciles the queue's stored schedule against them.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/jobs"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/model"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/platform"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/queue"
)

// Cadences are cron expressions for the operational jobs.
type Cadences struct {
	ChannelMetadata string
	VideoLists      string
	StatsRecent     string
	StatsFull       string
	StatsAggregate  string
	Partitions      string
}

// Config describes the canonical schedule.
type Config struct {
	Regions         []string
	RefreshInterval time.Duration
	Cadences        Cadences
	// Defaults are the delivery options every scheduled job gets.
	Defaults queue.Options
}

// Report summarizes a reconciliation.
type Report struct {
	Added     int
	Removed   int
	Unchanged int
}

type Scheduler struct {
	queue    queue.Queue
	registry *platform.Registry
	cfg      Config
	log      *zap.Logger
}

func New(q queue.Queue, registry *platform.Registry, cfg Config, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{queue: q, registry: registry, cfg: cfg, log: log.Named("scheduler")}
}

// Canonical returns the repeatables that should exist: one refresh per
// available platform and configured region, plus the operational jobs.
func (s *Scheduler) Canonical(ctx context.Context) ([]queue.JobDescriptor, error) {
	var out []queue.JobDescriptor

	seen := make(map[string]struct{})
	for _, p := range s.registry.Available(ctx) {
		for _, region := range s.cfg.Regions {
			region = model.NormalizeRegion(region)
			if _, dup := seen[string(p)+":"+region]; dup || region == "" {
				continue
			}
			seen[string(p)+":"+region] = struct{}{}

			opts := s.cfg.Defaults
			opts.Repeat = &queue.RepeatSpec{Every: s.cfg.RefreshInterval}
			d, err := jobs.RefreshDescriptor(p, region, opts)
			if err != nil {
				return nil, err
			}
			out = append(out, d)
		}
	}

	for _, op := range []struct {
		name string
		cron string
	}{
		{jobs.TypeSyncChannelMetadata, s.cfg.Cadences.ChannelMetadata},
		{jobs.TypeSyncVideoLists, s.cfg.Cadences.VideoLists},
		{jobs.TypeStatsSnapshotRecent, s.cfg.Cadences.StatsRecent},
		{jobs.TypeStatsSnapshotFull, s.cfg.Cadences.StatsFull},
		{jobs.TypeStatsAggregate, s.cfg.Cadences.StatsAggregate},
		{jobs.TypePartitionMaintenance, s.cfg.Cadences.Partitions},
	} {
		if op.cron == "" {
			continue
		}
		opts := s.cfg.Defaults
		opts.Repeat = &queue.RepeatSpec{Cron: op.cron}
		d, err := jobs.Descriptor(op.name, nil, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}

	for i := range out {
		out[i] = out[i].WithDefaults()
		if err := out[i].Validate(); err != nil {
			return nil, fmt.Errorf("canonical schedule: %w", err)
		}
	}
	return out, nil
}

// Reconcile makes the queue's repeatables match Canonical. Entries that are
// no longer canonical, or whose cadence or options changed, are removed;
// missing ones are added. Running it again without changes is a no-op.
func (s *Scheduler) Reconcile(ctx context.Context) (Report, error) {
	canonical, err := s.Canonical(ctx)
	if err != nil {
		return Report{}, err
	}

	want := make(map[string]queue.JobDescriptor, len(canonical))
	queues := make(map[string]struct{})
	for _, q := range jobs.ScheduledQueues {
		queues[q] = struct{}{}
	}
	for _, d := range canonical {
		want[d.Key()] = d
		queues[d.Queue] = struct{}{}
	}

	var report Report
	current := make(map[string]struct{})
	for q := range queues {
		existing, err := s.queue.ListRepeatable(ctx, q)
		if err != nil {
			return report, fmt.Errorf("list repeatables on %s: %w", q, err)
		}
		for _, e := range existing {
			key := e.Key()
			if w, ok := want[key]; ok && w.Fingerprint() == e.Fingerprint() {
				current[key] = struct{}{}
				report.Unchanged++
				continue
			}
			if err := s.queue.RemoveRepeatable(ctx, key); err != nil {
				return report, fmt.Errorf("remove repeatable %s: %w", key, err)
			}
			report.Removed++
			s.log.Info("repeatable removed", zap.String("key", key), zap.String("job", e.Name))
		}
	}

	for _, d := range canonical {
		if _, ok := current[d.Key()]; ok {
			continue
		}
		if _, err := s.queue.Enqueue(ctx, d); err != nil {
			return report, fmt.Errorf("register repeatable %s: %w", d.Key(), err)
		}
		report.Added++
		s.log.Info("repeatable registered",
			zap.String("key", d.Key()),
			zap.String("job", d.Name),
			zap.String("spec", d.Options.Repeat.Spec()))
	}

	s.log.Info("schedule reconciled",
		zap.Int("added", report.Added),
		zap.Int("removed", report.Removed),
		zap.Int("unchanged", report.Unchanged))
	return report, nil
}
