package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlatform(t *testing.T) {
	tests := []struct {
		in      string
		want    Platform
		wantErr bool
	}{
		{in: "YOUTUBE", want: PlatformYouTube},
		{in: "youtube", want: PlatformYouTube},
		{in: " TikTok ", want: PlatformTikTok},
		{in: "vimeo", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePlatform(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTrendingVideoRecord_Key(t *testing.T) {
	r := TrendingVideoRecord{Platform: PlatformYouTube, PlatformVideoID: "abc", Region: "US"}
	assert.Equal(t, "YOUTUBE:abc:US", r.Key())
}

func TestNormalizeRegion(t *testing.T) {
	assert.Equal(t, "US", NormalizeRegion(" us "))
	assert.Equal(t, "GB", NormalizeRegion("GB"))
}
