package tiktok

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/model"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/platform"
)

const feedBody = `{
  "code": 0,
  "data": {
    "cursor": "30",
    "has_more": true,
    "total": 90,
    "videos": [
      {
        "id": "7301",
        "desc": "dance #fyp",
        "cover": "http://img/c1",
        "duration": 15,
        "create_time": 1714557600,
        "hashtags": ["fyp"],
        "author": {"id": "u1", "nickname": "dancer"},
        "stats": {"play_count": 900, "digg_count": 90, "comment_count": 9, "share_count": 3},
        "music": {"title": "song"}
      },
      {"id": "7302", "desc": "second"}
    ]
  }
}`

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{Enabled: true, BaseURL: srv.URL, Token: "tok"}, nil)
}

func TestAdapter_FetchTrending(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/trending", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "VN", r.URL.Query().Get("region"))
		assert.Equal(t, "20", r.URL.Query().Get("count"))
		assert.Equal(t, "abc", r.URL.Query().Get("cursor"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(feedBody))
	})

	res, err := a.FetchTrending(context.Background(), platform.FetchOptions{Region: "VN", MaxResults: 20, PageToken: "abc"})
	require.NoError(t, err)

	require.Len(t, res.Videos, 2)
	assert.Equal(t, "30", res.NextPageToken)
	require.NotNil(t, res.TotalResults)
	assert.Equal(t, int64(90), *res.TotalResults)

	v := res.Videos[0]
	assert.Equal(t, model.PlatformTikTok, v.Platform)
	assert.Equal(t, "7301", v.PlatformVideoID)
	assert.Equal(t, "VN", v.Region)
	assert.Equal(t, "dance #fyp", v.Title)
	assert.Equal(t, "dancer", *v.ChannelName)
	assert.Equal(t, 15, *v.DurationSeconds)
	assert.Equal(t, int64(900), *v.ViewCount)
	assert.Equal(t, int64(3), *v.ShareCount)
	assert.Equal(t, []string{"fyp"}, v.Tags)
	assert.Equal(t, "song", v.RawMetadata["music"])
	require.NotNil(t, v.PublishedAt)

	assert.Equal(t, []string{}, res.Videos[1].Tags)
	assert.Nil(t, res.Videos[1].ViewCount)
}

func TestAdapter_LastPageHasNoToken(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":0,"data":{"cursor":"60","has_more":false,"videos":[{"id":"1"}]}}`))
	})

	res, err := a.FetchTrending(context.Background(), platform.FetchOptions{Region: "US", MaxResults: 1})
	require.NoError(t, err)
	assert.Empty(t, res.NextPageToken)
	assert.Len(t, res.Videos, 1)
}

func TestAdapter_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
		malformed bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{}`, retryable: true},
		{name: "server error", status: http.StatusBadGateway, body: `{}`, retryable: true},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{}`},
		{name: "api error code", status: http.StatusOK, body: `{"code":10201,"message":"region not supported"}`, malformed: true},
		{name: "missing data", status: http.StatusOK, body: `{"code":0}`, malformed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := a.FetchTrending(context.Background(), platform.FetchOptions{Region: "US"})
			require.Error(t, err)

			var pe *platform.Error
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, model.PlatformTikTok, pe.Platform)
			assert.Equal(t, tt.retryable, pe.Retryable)
			assert.Equal(t, tt.malformed, errors.Is(err, platform.ErrMalformedResponse))
		})
	}
}

func TestAdapter_Availability(t *testing.T) {
	ctx := context.Background()

	assert.False(t, New(Config{Enabled: true, BaseURL: "http://x"}, nil).IsAvailable(ctx))
	assert.False(t, New(Config{Enabled: false, BaseURL: "http://x", Token: "t"}, nil).IsAvailable(ctx))

	a := New(Config{}, nil)
	_, err := a.FetchTrending(ctx, platform.FetchOptions{Region: "US"})
	assert.ErrorIs(t, err, platform.ErrNotConfigured)
}
