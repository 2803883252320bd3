// Package youtube implements the trending adapter over the YouTube Data API v3.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/model"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/platform"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/service/quota"
)

const (
	// videos.list costs one unit regardless of the parts requested.
	quotaCostVideosList = 1
	maxPageSize         = 50
	opFetchTrending     = "fetch trending"
)

var parts = []string{"snippet", "contentDetails", "statistics"}

// QuotaGuard is the subset of quota.Manager the adapter needs.
type QuotaGuard interface {
	CheckQuotaAvailable(ctx context.Context, required int64) (bool, *quota.Info, error)
	RecordQuotaUsage(ctx context.Context, cost int64, operation string) error
}

// Config configures the adapter.
type Config struct {
	Enabled bool
	APIKey  string
	// Endpoint overrides the API base URL, e.g. for tests.
	Endpoint string
}

// Adapter fetches the mostPopular chart.
type Adapter struct {
	service *youtube.Service
	enabled bool
	quota   QuotaGuard
	log     *zap.Logger
}

var _ platform.Adapter = (*Adapter)(nil)

// New creates the adapter. Without an API key the adapter is created but reports itself unavailable.
// guard may be nil to disable quota accounting.
func New(ctx context.Context, cfg Config, guard QuotaGuard, log *zap.Logger) (*Adapter, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &Adapter{
		enabled: cfg.Enabled,
		quota:   guard,
		log:     log.Named("youtube"),
	}
	if cfg.APIKey == "" {
		return a, nil
	}

	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	service, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create YouTube service: %w", err)
	}
	a.service = service
	return a, nil
}

func (a *Adapter) Platform() model.Platform { return model.PlatformYouTube }

func (a *Adapter) IsAvailable(context.Context) bool {
	return a.enabled && a.service != nil
}

func (a *Adapter) FetchTrending(ctx context.Context, opts platform.FetchOptions) (*model.FetchResult, error) {
	if !a.IsAvailable(ctx) {
		return nil, platform.NewError(model.PlatformYouTube, opFetchTrending, platform.ErrNotConfigured)
	}

	if err := a.reserveQuota(ctx); err != nil {
		return nil, err
	}

	limit := opts.MaxResults
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}

	call := a.service.Videos.List(parts).
		Chart("mostPopular").
		RegionCode(opts.Region).
		MaxResults(int64(limit)).
		Context(ctx)
	if opts.PageToken != "" {
		call = call.PageToken(opts.PageToken)
	}
	if opts.Category != "" {
		call = call.VideoCategoryId(opts.Category)
	}

	resp, err := call.Do()
	a.recordQuota(ctx)
	if err != nil {
		return nil, wrapAPIError(err)
	}
	if resp == nil {
		return nil, platform.NewError(model.PlatformYouTube, opFetchTrending, platform.ErrMalformedResponse)
	}

	result := &model.FetchResult{
		Videos:        make([]model.TrendingVideoRecord, 0, len(resp.Items)),
		NextPageToken: resp.NextPageToken,
	}
	if resp.PageInfo != nil {
		total := resp.PageInfo.TotalResults
		result.TotalResults = &total
	}
	for _, item := range resp.Items {
		if len(result.Videos) >= limit {
			break
		}
		if item == nil {
			continue
		}
		result.Videos = append(result.Videos, toRecord(item, opts.Region))
	}
	return result, nil
}

func (a *Adapter) reserveQuota(ctx context.Context) error {
	if a.quota == nil {
		return nil
	}
	ok, info, err := a.quota.CheckQuotaAvailable(ctx, quotaCostVideosList)
	if err != nil {
		// The counter store being down should not stop refreshes; the API enforces the hard limit.
		a.log.Warn("quota check failed, proceeding", zap.Error(err))
		return nil
	}
	if !ok {
		return &platform.Error{
			Platform: model.PlatformYouTube,
			Op:       opFetchTrending,
			Err:      fmt.Errorf("%w: %d/%d units used", platform.ErrQuotaExhausted, info.Used, info.Limit),
		}
	}
	return nil
}

func (a *Adapter) recordQuota(ctx context.Context) {
	if a.quota == nil {
		return
	}
	if err := a.quota.RecordQuotaUsage(context.WithoutCancel(ctx), quotaCostVideosList, "videos_list"); err != nil {
		a.log.Warn("failed to record quota usage", zap.Error(err))
	}
}

func wrapAPIError(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return platform.NewError(model.PlatformYouTube, opFetchTrending, err)
	}
	for _, item := range gerr.Errors {
		switch item.Reason {
		case "quotaExceeded", "dailyLimitExceeded":
			return &platform.Error{
				Platform: model.PlatformYouTube,
				Op:       opFetchTrending,
				Err:      fmt.Errorf("%w: %s", platform.ErrQuotaExhausted, gerr.Message),
			}
		case "rateLimitExceeded", "userRateLimitExceeded":
			return &platform.Error{Platform: model.PlatformYouTube, Op: opFetchTrending, Retryable: true, Err: gerr}
		}
	}
	return platform.StatusError(model.PlatformYouTube, opFetchTrending, gerr.Code, gerr)
}

func toRecord(v *youtube.Video, region string) model.TrendingVideoRecord {
	rec := model.TrendingVideoRecord{
		Platform:        model.PlatformYouTube,
		PlatformVideoID: v.Id,
		Region:          region,
		Tags:            []string{},
		RawMetadata: map[string]interface{}{
			"etag": v.Etag,
			"kind": v.Kind,
		},
	}

	if s := v.Snippet; s != nil {
		rec.Title = s.Title
		rec.Description = strPtr(s.Description)
		rec.ChannelName = strPtr(s.ChannelTitle)
		rec.ChannelID = strPtr(s.ChannelId)
		rec.Category = strPtr(s.CategoryId)
		if s.Tags != nil {
			rec.Tags = s.Tags
		}
		if t, err := parseYouTubeTime(s.PublishedAt); err == nil {
			rec.PublishedAt = &t
		}
		rec.ThumbnailURL = bestThumbnail(s.Thumbnails)
		if s.LiveBroadcastContent != "" {
			rec.RawMetadata["liveBroadcastContent"] = s.LiveBroadcastContent
		}
		if s.DefaultAudioLanguage != "" {
			rec.RawMetadata["defaultAudioLanguage"] = s.DefaultAudioLanguage
		}
	}

	if cd := v.ContentDetails; cd != nil {
		if secs, err := ParseVideoDuration(cd.Duration); err == nil {
			rec.DurationSeconds = &secs
		}
		if cd.Definition != "" {
			rec.RawMetadata["definition"] = cd.Definition
		}
	}

	if st := v.Statistics; st != nil {
		rec.ViewCount = int64Ptr(int64(st.ViewCount))
		// Hidden counters are omitted by the API and decode as zero; keep them unknown.
		rec.LikeCount = countPtr(st.LikeCount)
		rec.CommentCount = countPtr(st.CommentCount)
	}

	return rec
}

func bestThumbnail(t *youtube.ThumbnailDetails) *string {
	if t == nil {
		return nil
	}
	for _, th := range []*youtube.Thumbnail{t.Maxres, t.High, t.Medium, t.Default} {
		if th != nil && th.Url != "" {
			return strPtr(th.Url)
		}
	}
	return nil
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func int64Ptr(i int64) *int64 {
	return &i
}

func countPtr(n uint64) *int64 {
	if n == 0 {
		return nil
	}
	return int64Ptr(int64(n))
}

// parseYouTubeTime parses RFC3339 timestamps from YouTube API
func parseYouTubeTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	return time.Parse(time.RFC3339, s)
}

// ParseVideoDuration converts ISO 8601 duration to seconds
// Example: "PT4M13S" -> 253 seconds, "P1DT2H" -> 93600 seconds
func ParseVideoDuration(duration string) (int, error) {
	if !strings.HasPrefix(duration, "P") {
		return 0, fmt.Errorf("invalid duration format: %s", duration)
	}
	rest := strings.TrimPrefix(duration, "P")

	total := 0
	inTime := false
	for rest != "" {
		if rest[0] == 'T' {
			inTime = true
			rest = rest[1:]
			continue
		}
		i := strings.IndexAny(rest, "DHMS")
		if i <= 0 {
			return 0, fmt.Errorf("invalid duration format: %s", duration)
		}
		n, err := strconv.Atoi(rest[:i])
		if err != nil {
			return 0, fmt.Errorf("invalid duration format: %s", duration)
		}
		switch unit := rest[i]; {
		case unit == 'D' && !inTime:
			total += n * 86400
		case unit == 'H' && inTime:
			total += n * 3600
		case unit == 'M' && inTime:
			total += n * 60
		case unit == 'S' && inTime:
			total += n
		default:
			return 0, fmt.Errorf("invalid duration format: %s", duration)
		}
		rest = rest[i+1:]
	}
	return total, nil
}
