package platform

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/model"
)

type stubAdapter struct {
	platform  model.Platform
	available bool
}

func (s stubAdapter) Platform() model.Platform { return s.platform }
func (s stubAdapter) IsAvailable(context.Context) bool { return s.available }
func (s stubAdapter) FetchTrending(context.Context, FetchOptions) (*model.FetchResult, error) {
	return &model.FetchResult{}, nil
}

func TestRegistry(t *testing.T) {
	yt := stubAdapter{platform: model.PlatformYouTube, available: true}
	tt := stubAdapter{platform: model.PlatformTikTok}

	r, err := NewRegistry(yt, tt)
	require.NoError(t, err)

	got, ok := r.Get(model.PlatformYouTube)
	require.True(t, ok)
	assert.Equal(t, model.PlatformYouTube, got.Platform())

	_, ok = r.Get(model.Platform("VIMEO"))
	assert.False(t, ok)

	assert.Equal(t, []model.Platform{model.PlatformYouTube, model.PlatformTikTok}, r.Platforms())
	assert.Equal(t, []model.Platform{model.PlatformYouTube}, r.Available(context.Background()))
}

func TestRegistry_Rejects(t *testing.T) {
	yt := stubAdapter{platform: model.PlatformYouTube}

	_, err := NewRegistry(yt, yt)
	assert.Error(t, err)

	_, err = NewRegistry(nil)
	assert.Error(t, err)
}

func TestError(t *testing.T) {
	tests := []struct {
		name      string
		err       *Error
		retryable bool
	}{
		{"timeout", NewError(model.PlatformYouTube, "fetch", context.DeadlineExceeded), true},
		{"network", NewError(model.PlatformYouTube, "fetch", errors.New("connection reset")), true},
		{"malformed", NewError(model.PlatformYouTube, "fetch", ErrMalformedResponse), false},
		{"quota", NewError(model.PlatformYouTube, "fetch", fmt.Errorf("daily: %w", ErrQuotaExhausted)), false},
		{"cancelled", NewError(model.PlatformYouTube, "fetch", context.Canceled), false},
		{"429", StatusError(model.PlatformTikTok, "fetch", 429, errors.New("slow down")), true},
		{"503", StatusError(model.PlatformTikTok, "fetch", 503, errors.New("unavailable")), true},
		{"401", StatusError(model.PlatformTikTok, "fetch", 401, errors.New("unauthorized")), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, tt.err.Retryable)
			assert.Equal(t, tt.retryable, IsRetryable(fmt.Errorf("job: %w", tt.err)))
			assert.Contains(t, tt.err.Error(), string(tt.err.Platform))
		})
	}

	assert.True(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}
