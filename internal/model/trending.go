// Package model holds the normalized trending types shared by adapters, the cache and the jobs.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Platform identifies an external video platform.
type Platform string

const (
	PlatformYouTube Platform = "YOUTUBE"
	PlatformTikTok  Platform = "TIKTOK"
)

// AllPlatforms lists every platform the system knows how to talk to.
var AllPlatforms = []Platform{PlatformYouTube, PlatformTikTok}

// ParsePlatform resolves a platform tag case-insensitively.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToUpper(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown platform %q", s)
	}
	return p, nil
}

// Valid reports whether p is one of AllPlatforms.
func (p Platform) Valid() bool {
	for _, known := range AllPlatforms {
		if p == known {
			return true
		}
	}
	return false
}

func (p Platform) String() string { return string(p) }

// NormalizeRegion upper-cases and trims a region code.
func NormalizeRegion(region string) string {
	return strings.ToUpper(strings.TrimSpace(region))
}

// TrendingVideoRecord is one trending video in platform-neutral form.
type TrendingVideoRecord struct {
	Platform        Platform `json:"platform"`
	PlatformVideoID string   `json:"platform_video_id"`
	Region          string   `json:"region"`
	Title           string   `json:"title"`

	Description     *string `json:"description,omitempty"`
	ThumbnailURL    *string `json:"thumbnail_url,omitempty"`
	ChannelName     *string `json:"channel_name,omitempty"`
	ChannelID       *string `json:"channel_id,omitempty"`
	DurationSeconds *int    `json:"duration_seconds,omitempty"`

	ViewCount    *int64 `json:"view_count"`
	LikeCount    *int64 `json:"like_count"`
	CommentCount *int64 `json:"comment_count"`
	ShareCount   *int64 `json:"share_count"`

	PublishedAt  *time.Time `json:"published_at"`
	TrendingRank *int       `json:"trending_rank"` // 1-based, only meaningful within one fetch batch
	Category     *string    `json:"category"`
	Tags         []string   `json:"tags"`

	RawMetadata map[string]interface{} `json:"raw_metadata,omitempty"`
}

// Key is the natural dedup key (platform, platformVideoId, region).
func (r *TrendingVideoRecord) Key() string {
	return fmt.Sprintf("%s:%s:%s", r.Platform, r.PlatformVideoID, r.Region)
}

// FetchResult is one adapter page.
type FetchResult struct {
	Videos        []TrendingVideoRecord `json:"videos"`
	NextPageToken string                `json:"next_page_token,omitempty"`
	TotalResults  *int64                `json:"total_results,omitempty"`
}

// TrendingSnapshot is the cached result of a single refresh.
type TrendingSnapshot struct {
	Platform     Platform              `json:"platform"`
	Region       string                `json:"region"`
	Videos       []TrendingVideoRecord `json:"videos"`
	TotalResults *int64                `json:"total_results,omitempty"`
	RefreshedAt  time.Time             `json:"refreshed_at"`
}

// TrendingPage is a page of a cached snapshot served to readers.
type TrendingPage struct {
	Platform    Platform              `json:"platform"`
	Region      string                `json:"region"`
	Videos      []TrendingVideoRecord `json:"videos"`
	Page        int                   `json:"page"`
	Limit       int                   `json:"limit"`
	Total       int                   `json:"total"`
	RefreshedAt *time.Time            `json:"refreshed_at"`
	// Cached is false when no unexpired snapshot exists. RefreshedAt may still be set
	// in that case, which tells a stale key apart from one never refreshed.
	Cached bool `json:"cached"`
}
