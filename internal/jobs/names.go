// Package jobs binds every background job to the component that does the work.
package jobs

import (
	"fmt"

	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/model"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/queue"
)

// Queues.
const (
	QueueTrending    = "trending"
	QueueStats       = "stats"
	QueueMaintenance = "maintenance"
	QueueSync        = "sync"
	QueuePipeline    = "pipeline"
)

// Job names.
const (
	TypeTrendingRefresh      = "trending:refresh"
	TypeStatsSnapshotRecent  = "stats:snapshot-recent"
	TypeStatsSnapshotFull    = "stats:snapshot-full"
	TypeStatsAggregate       = "stats:aggregate"
	TypePartitionMaintenance = "maintenance:partitions"
	TypeSyncChannelMetadata  = "sync:channel-metadata"
	TypeSyncVideoLists       = "sync:video-lists"
	TypePipelineDownload     = "pipeline:download"
	TypePipelineUpload       = "pipeline:upload"
)

var queueOf = map[string]string{
	TypeTrendingRefresh:      QueueTrending,
	TypeStatsSnapshotRecent:  QueueStats,
	TypeStatsSnapshotFull:    QueueStats,
	TypeStatsAggregate:       QueueStats,
	TypePartitionMaintenance: QueueMaintenance,
	TypeSyncChannelMetadata:  QueueSync,
	TypeSyncVideoLists:       QueueSync,
	TypePipelineDownload:     QueuePipeline,
	TypePipelineUpload:       QueuePipeline,
}

// QueueFor returns the queue a job name runs on.
func QueueFor(name string) string {
	return queueOf[name]
}

// ScheduledQueues hold repeatables and are reconciled by the scheduler.
var ScheduledQueues = []string{QueueTrending, QueueStats, QueueMaintenance, QueueSync}

// RefreshPayload selects the feed a trending:refresh job refreshes.
type RefreshPayload struct {
	Platform model.Platform `json:"platform"`
	Region   string         `json:"region"`
}

// AggregatePayload bounds how many trailing days stats:aggregate recomputes.
type AggregatePayload struct {
	Days int `json:"days,omitempty"`
}

// PartitionPayload overrides the configured lookahead.
type PartitionPayload struct {
	Lookahead *int `json:"lookahead,omitempty"`
}

// DownloadPayload asks the pipeline to store a video file.
type DownloadPayload struct {
	Platform  model.Platform `json:"platform"`
	VideoID   string         `json:"video_id"`
	SourceURL string         `json:"source_url"`
	// Upload, when set, enqueues a pipeline:upload job once the file is stored.
	Upload *UploadTarget `json:"upload,omitempty"`
}

// UploadTarget names where the external uploader should publish a stored video.
type UploadTarget struct {
	Destination string `json:"destination"`
	Title       string `json:"title,omitempty"`
}

// UploadPayload hands a stored video to the external uploader.
type UploadPayload struct {
	Platform    model.Platform `json:"platform"`
	VideoID     string         `json:"video_id"`
	ObjectKey   string         `json:"object_key"`
	Destination string         `json:"destination"`
	Title       string         `json:"title,omitempty"`
}

// RefreshKey is the idempotency key for on-demand refreshes of one feed.
func RefreshKey(p model.Platform, region string) string {
	return fmt.Sprintf("refresh:%s:%s", p, model.NormalizeRegion(region))
}

// Descriptor builds a descriptor for name on its queue.
func Descriptor(name string, payload any, opts queue.Options) (queue.JobDescriptor, error) {
	q := QueueFor(name)
	if q == "" {
		return queue.JobDescriptor{}, fmt.Errorf("unknown job %q", name)
	}
	return queue.NewDescriptor(q, name, payload, opts)
}

// RefreshDescriptor builds a trending:refresh descriptor for one feed.
func RefreshDescriptor(p model.Platform, region string, opts queue.Options) (queue.JobDescriptor, error) {
	return Descriptor(TypeTrendingRefresh, RefreshPayload{Platform: p, Region: model.NormalizeRegion(region)}, opts)
}
