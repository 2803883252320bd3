// Package tiktok implements the trending adapter over a TikTok trending-feed HTTP API.
package tiktok

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/model"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/platform"
)

const (
	maxPageSize     = 30
	opFetchTrending = "fetch trending"
)

// Config configures the adapter.
type Config struct {
	Enabled bool
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Adapter fetches the trending feed.
type Adapter struct {
	client  *resty.Client
	enabled bool
	log     *zap.Logger
}

var _ platform.Adapter = (*Adapter)(nil)

// New creates the adapter. It reports itself unavailable without a base URL and token.
func New(cfg Config, log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	a := &Adapter{
		enabled: cfg.Enabled && cfg.BaseURL != "" && cfg.Token != "",
		log:     log.Named("tiktok"),
	}

	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetAuthToken(cfg.Token)
	client.SetHeader("Accept", "application/json")
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	a.client = client
	return a
}

type trendingResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    *struct {
		Videos  []video `json:"videos"`
		Cursor  string  `json:"cursor"`
		HasMore bool    `json:"has_more"`
		Total   *int64  `json:"total"`
	} `json:"data"`
}

type video struct {
	ID          string   `json:"id"`
	Description string   `json:"desc"`
	CoverURL    string   `json:"cover"`
	Duration    int      `json:"duration"`
	CreateTime  int64    `json:"create_time"`
	Category    string   `json:"category"`
	Hashtags    []string `json:"hashtags"`
	Author      struct {
		ID       string `json:"id"`
		Nickname string `json:"nickname"`
	} `json:"author"`
	Stats *struct {
		PlayCount    *int64 `json:"play_count"`
		DiggCount    *int64 `json:"digg_count"`
		CommentCount *int64 `json:"comment_count"`
		ShareCount   *int64 `json:"share_count"`
	} `json:"stats"`
	Music *struct {
		Title string `json:"title"`
	} `json:"music"`
}

func (a *Adapter) Platform() model.Platform { return model.PlatformTikTok }

func (a *Adapter) IsAvailable(context.Context) bool { return a.enabled }

func (a *Adapter) FetchTrending(ctx context.Context, opts platform.FetchOptions) (*model.FetchResult, error) {
	if !a.enabled {
		return nil, platform.NewError(model.PlatformTikTok, opFetchTrending, platform.ErrNotConfigured)
	}

	limit := opts.MaxResults
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}

	params := map[string]string{
		"region": opts.Region,
		"count":  strconv.Itoa(limit),
	}
	if opts.PageToken != "" {
		params["cursor"] = opts.PageToken
	}
	if opts.Category != "" {
		params["category"] = opts.Category
	}

	var body trendingResponse
	httpResp, err := a.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&body).
		Get("/trending")
	if err != nil {
		return nil, platform.NewError(model.PlatformTikTok, opFetchTrending, err)
	}

	if httpResp.IsError() {
		return nil, platform.StatusError(model.PlatformTikTok, opFetchTrending, httpResp.StatusCode(),
			fmt.Errorf("TikTok API error: status %d", httpResp.StatusCode()))
	}

	if body.Code != 0 || body.Data == nil {
		return nil, platform.NewError(model.PlatformTikTok, opFetchTrending,
			fmt.Errorf("%w: code=%d message=%q", platform.ErrMalformedResponse, body.Code, body.Message))
	}

	result := &model.FetchResult{
		Videos:       make([]model.TrendingVideoRecord, 0, len(body.Data.Videos)),
		TotalResults: body.Data.Total,
	}
	if body.Data.HasMore {
		result.NextPageToken = body.Data.Cursor
	}
	for _, v := range body.Data.Videos {
		if len(result.Videos) >= limit {
			break
		}
		result.Videos = append(result.Videos, toRecord(v, opts.Region))
	}

	a.log.Debug("fetched trending page",
		zap.String("region", opts.Region),
		zap.Int("videos", len(result.Videos)),
		zap.Bool("has_more", body.Data.HasMore))
	return result, nil
}

func toRecord(v video, region string) model.TrendingVideoRecord {
	rec := model.TrendingVideoRecord{
		Platform:        model.PlatformTikTok,
		PlatformVideoID: v.ID,
		Region:          region,
		Title:           v.Description,
		Description:     strPtr(v.Description),
		ThumbnailURL:    strPtr(v.CoverURL),
		ChannelName:     strPtr(v.Author.Nickname),
		ChannelID:       strPtr(v.Author.ID),
		Category:        strPtr(v.Category),
		Tags:            v.Hashtags,
		RawMetadata:     map[string]interface{}{},
	}
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	if v.Duration > 0 {
		d := v.Duration
		rec.DurationSeconds = &d
	}
	if v.CreateTime > 0 {
		t := time.Unix(v.CreateTime, 0).UTC()
		rec.PublishedAt = &t
	}
	if v.Stats != nil {
		rec.ViewCount = v.Stats.PlayCount
		rec.LikeCount = v.Stats.DiggCount
		rec.CommentCount = v.Stats.CommentCount
		rec.ShareCount = v.Stats.ShareCount
	}
	if v.Music != nil && v.Music.Title != "" {
		rec.RawMetadata["music"] = v.Music.Title
	}
	return rec
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
