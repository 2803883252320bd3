package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/events"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/model"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/partition"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/platform"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/queue"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/service/trending"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/stats"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/storage"
)

const defaultAggregateDays = 2

// ErrNotConfigured fails a job whose collaborator is disabled in this process.
var ErrNotConfigured = errors.New("job dependency not configured")

// Trending is the part of the trending service the jobs use.
type Trending interface {
	RefreshTrending(ctx context.Context, p model.Platform, region string) (trending.Outcome, error)
	Snapshot(ctx context.Context, p model.Platform, region string) (*model.TrendingSnapshot, bool)
}

// PartitionEnsurer creates upcoming statistics partitions.
type PartitionEnsurer interface {
	EnsureFuturePartitions(ctx context.Context, lookahead int) (partition.Result, error)
}

// ChannelSyncer refreshes connected-account data. It returns how many items were synced.
type ChannelSyncer interface {
	SyncChannelMetadata(ctx context.Context) (int, error)
	SyncVideoLists(ctx context.Context) (int, error)
}

// UploadPublisher hands upload requests to the external uploader.
type UploadPublisher interface {
	PublishUpload(ctx context.Context, req events.UploadRequest) error
}

// NopSyncer is the ChannelSyncer used when no account integration is wired.
type NopSyncer struct{}

func (NopSyncer) SyncChannelMetadata(context.Context) (int, error) { return 0, nil }
func (NopSyncer) SyncVideoLists(context.Context) (int, error) { return 0, nil }

// Deps are the collaborators of the job handlers. Nil collaborators make the
// jobs that need them fail without retry.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type Deps struct {
	Trending   Trending
	Platforms  *platform.Registry
	Regions    []string
	Stats      stats.Repository
	Partitions PartitionEnsurer
	Lookahead  int
	// RecentWindow bounds how old a video may be for stats:snapshot-recent.
	RecentWindow time.Duration
	Syncer       ChannelSyncer
	Store        storage.ObjectStore
	Downloader   *Downloader
	Uploads      UploadPublisher
	// Queue receives follow-up jobs, e.g. pipeline:upload after a download.
	Queue    queue.Queue
	Defaults queue.Options
	Now      func() time.Time
	Log      *zap.Logger
}

type handlers struct {
	Deps
	log *zap.Logger
}

// Register installs a handler for every job name on mux.
func Register(mux *queue.Mux, deps Deps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Syncer == nil {
		deps.Syncer = NopSyncer{}
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	h := &handlers{Deps: deps, log: log.Named("jobs")}

	mux.Handle(TypeTrendingRefresh, h.refresh)
	mux.Handle(TypeStatsSnapshotRecent, h.snapshot(true))
	mux.Handle(TypeStatsSnapshotFull, h.snapshot(false))
	mux.Handle(TypeStatsAggregate, h.aggregate)
	mux.Handle(TypePartitionMaintenance, h.partitions)
	mux.Handle(TypeSyncChannelMetadata, h.syncChannels)
	mux.Handle(TypeSyncVideoLists, h.syncVideoLists)
	mux.Handle(TypePipelineDownload, h.download)
	mux.Handle(TypePipelineUpload, h.upload)
}

func notConfigured(what string) error {
	return queue.SkipRetry(fmt.Errorf("%w: %s", ErrNotConfigured, what))
}

// decodeOptional decodes a payload that scheduled runs leave empty.
func decodeOptional(job *queue.Job, v any) error {
	if len(job.Payload) == 0 || string(job.Payload) == "null" {
		return nil
	}
	return job.Decode(v)
}

// refresh treats lock contention and unavailable adapters as success and
// permanent adapter errors as non-retryable.
func (h *handlers) refresh(ctx context.Context, job *queue.Job) error {
	if h.Trending == nil {
		return notConfigured("trending service")
	}
	var p RefreshPayload
	if err := job.Decode(&p); err != nil {
		return err
	}
	if !p.Platform.Valid() {
		return queue.SkipRetry(fmt.Errorf("%w: %q", trending.ErrUnknownPlatform, p.Platform))
	}

	outcome, err := h.Trending.RefreshTrending(ctx, p.Platform, p.Region)
	if err != nil {
		if !platform.IsRetryable(err) {
			return queue.SkipRetry(err)
		}
		return err
	}
	h.log.Debug("refresh finished",
		zap.String("platform", string(p.Platform)),
		zap.String("region", p.Region),
		zap.String("outcome", string(outcome)))
	return nil
}

func (h *handlers) snapshot(recent bool) queue.Handler {
	return func(ctx context.Context, job *queue.Job) error {
		if h.Trending == nil || h.Platforms == nil || h.Stats == nil {
			return notConfigured("trending service or stats repository")
		}
		now := h.Now()
		var keep func(model.TrendingVideoRecord) bool
		if recent {
			keep = stats.PublishedWithin(now, h.RecentWindow)
		}

		var rows []stats.Snapshot
		feeds := 0
		for _, p := range h.Platforms.Platforms() {
			for _, region := range h.Regions {
				snap, ok := h.Trending.Snapshot(ctx, p, region)
				if !ok {
					continue
				}
				feeds++
				rows = append(rows, stats.FromSnapshot(*snap, now, keep)...)
			}
		}
		if len(rows) == 0 {
			h.log.Info("no statistics to snapshot", zap.String("job", job.Name), zap.Int("feeds", feeds))
			return nil
		}

		n, err := h.Stats.InsertSnapshots(ctx, rows)
		if err != nil {
			return fmt.Errorf("insert snapshots: %w", err)
		}
		h.log.Info("statistics snapshot written",
			zap.String("job", job.Name),
			zap.Int("feeds", feeds),
			zap.Int64("rows", n))
		return nil
	}
}

func (h *handlers) aggregate(ctx context.Context, job *queue.Job) error {
	if h.Stats == nil {
		return notConfigured("stats repository")
	}
	var p AggregatePayload
	if err := decodeOptional(job, &p); err != nil {
		return err
	}
	days := p.Days
	if days <= 0 {
		days = defaultAggregateDays
	}
	today := h.Now().UTC().Truncate(24 * time.Hour)
	since := today.AddDate(0, 0, -(days - 1))

	n, err := h.Stats.AggregateDaily(ctx, since)
	if err != nil {
		return fmt.Errorf("aggregate daily stats: %w", err)
	}
	h.log.Info("daily statistics aggregated", zap.Time("since", since), zap.Int64("rows", n))
	return nil
}

func (h *handlers) partitions(ctx context.Context, job *queue.Job) error {
	if h.Partitions == nil {
		return notConfigured("partition manager")
	}
	var p PartitionPayload
	if err := decodeOptional(job, &p); err != nil {
		return err
	}
	lookahead := h.Lookahead
	if p.Lookahead != nil {
		lookahead = *p.Lookahead
	}
	if lookahead < 0 {
		return queue.SkipRetry(fmt.Errorf("lookahead must not be negative, got %d", lookahead))
	}
	_, err := h.Partitions.EnsureFuturePartitions(ctx, lookahead)
	return err
}

func (h *handlers) syncChannels(ctx context.Context, _ *queue.Job) error {
	n, err := h.Syncer.SyncChannelMetadata(ctx)
	if err != nil {
		return fmt.Errorf("sync channel metadata: %w", err)
	}
	h.log.Info("channel metadata synced", zap.Int("channels", n))
	return nil
}

func (h *handlers) syncVideoLists(ctx context.Context, _ *queue.Job) error {
	n, err := h.Syncer.SyncVideoLists(ctx)
	if err != nil {
		return fmt.Errorf("sync video lists: %w", err)
	}
	h.log.Info("video lists synced", zap.Int("videos", n))
	return nil
}

// download stores the source file under {platform}/{videoID}. A file that is
// already stored is not fetched again.
func (h *handlers) download(ctx context.Context, job *queue.Job) error {
	if h.Store == nil || h.Downloader == nil {
		return notConfigured("object storage")
	}
	var p DownloadPayload
	if err := job.Decode(&p); err != nil {
		return err
	}
	if !p.Platform.Valid() || p.VideoID == "" || p.SourceURL == "" {
		return queue.SkipRetry(fmt.Errorf("%s: platform, video_id and source_url are required", job.Name))
	}
	key := storage.VideoKey(p.Platform, p.VideoID)
	log := h.log.With(zap.String("key", key))

	exists, err := h.Store.Exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		log.Info("video already stored")
	} else {
		if err := h.fetchAndStore(ctx, p.SourceURL, key); err != nil {
			return err
		}
	}

	if p.Upload == nil {
		return nil
	}
	return h.enqueueUpload(ctx, p, key)
}

func (h *handlers) fetchAndStore(ctx context.Context, sourceURL, key string) error {
	file, err := h.Downloader.Fetch(ctx, sourceURL)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := h.Store.Put(ctx, key, file, file.Size, file.ContentType); err != nil {
		return err
	}
	h.log.Info("video stored", zap.String("key", key), zap.Int64("bytes", file.Size))
	return nil
}

func (h *handlers) enqueueUpload(ctx context.Context, p DownloadPayload, key string) error {
	if h.Queue == nil {
		return notConfigured("job queue")
	}
	opts := h.Defaults
	opts.IdempotencyKey = fmt.Sprintf("upload:%s:%s:%s", p.Platform, p.VideoID, p.Upload.Destination)
	d, err := Descriptor(TypePipelineUpload, UploadPayload{
		Platform:    p.Platform,
		VideoID:     p.VideoID,
		ObjectKey:   key,
		Destination: p.Upload.Destination,
		Title:       p.Upload.Title,
	}, opts)
	if err != nil {
		return queue.SkipRetry(err)
	}
	if _, err := h.Queue.Enqueue(ctx, d); err != nil && !errors.Is(err, queue.ErrDuplicateJob) {
		return fmt.Errorf("enqueue upload: %w", err)
	}
	return nil
}

func (h *handlers) upload(ctx context.Context, job *queue.Job) error {
	if h.Store == nil || h.Uploads == nil {
		return notConfigured("object storage or upload publisher")
	}
	var p UploadPayload
	if err := job.Decode(&p); err != nil {
		return err
	}
	if p.ObjectKey == "" || p.Destination == "" {
		return queue.SkipRetry(fmt.Errorf("%s: object_key and destination are required", job.Name))
	}

	exists, err := h.Store.Exists(ctx, p.ObjectKey)
	if err != nil {
		return err
	}
	if !exists {
		return queue.SkipRetry(fmt.Errorf("%w: %s", storage.ErrNotFound, p.ObjectKey))
	}

	return h.Uploads.PublishUpload(ctx, events.UploadRequest{
		Platform:    p.Platform,
		VideoID:     p.VideoID,
		ObjectKey:   p.ObjectKey,
		Destination: p.Destination,
		Title:       p.Title,
		RequestedAt: h.Now().UTC(),
	})
}
