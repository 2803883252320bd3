// Package platform defines the contract every trending-feed adapter implements.
package platform

import (
	"context"

	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/model"
)

// FetchOptions selects one page of a platform's trending feed.
type FetchOptions struct {
	Region   string
	Category string
	// MaxResults is an upper bound on the number of videos returned.
	MaxResults int
	PageToken  string
}

// Adapter fetches trending videos from one external platform.
type Adapter interface {
	Platform() model.Platform
	// FetchTrending returns at most opts.MaxResults videos. Errors are *Error values.
	FetchTrending(ctx context.Context, opts FetchOptions) (*model.FetchResult, error)
	// IsAvailable is a cheap local check that the adapter is configured and enabled.
	IsAvailable(ctx context.Context) bool
}
