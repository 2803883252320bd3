package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/platform"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/queue"
)

// ErrTooLarge is returned for downloads over the configured size cap.
var ErrTooLarge = errors.New("download exceeds size limit")

// Downloader fetches source files into temporary files.
type Downloader struct {
	client   *resty.Client
	maxBytes int64
	tempDir  string
	log      *zap.Logger
}

// NewDownloader creates a Downloader. maxBytes <= 0 disables the size cap.
func NewDownloader(maxBytes int64, timeout time.Duration, log *zap.Logger) *Downloader {
	if log == nil {
		log = zap.NewNop()
	}
	client := resty.New()
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return &Downloader{client: client, maxBytes: maxBytes, log: log.Named("downloader")}
}

// TempFile is a downloaded file. Close removes it.
type TempFile struct {
	*os.File
	Size        int64
	ContentType string
}

func (f *TempFile) Close() error {
	err := f.File.Close()
	if rmErr := os.Remove(f.Name()); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		return errors.Join(err, rmErr)
	}
	return err
}

// Fetch downloads url into a temporary file positioned at its start.
// Client errors and oversized files are not retryable.
func (d *Downloader) Fetch(ctx context.Context, url string) (*TempFile, error) {
	resp, err := d.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	body := resp.RawBody()
	defer body.Close()

	if status := resp.StatusCode(); status < 200 || status > 299 {
		err := fmt.Errorf("download %s: status %d", url, status)
		if !platform.RetryableStatus(status) {
			return nil, queue.SkipRetry(err)
		}
		return nil, err
	}
	if d.maxBytes > 0 && resp.RawResponse.ContentLength > d.maxBytes {
		return nil, queue.SkipRetry(fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, resp.RawResponse.ContentLength, d.maxBytes))
	}

	f, err := os.CreateTemp(d.tempDir, "trendvault-download-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmp := &TempFile{File: f, ContentType: resp.Header().Get("Content-Type")}

	src := io.Reader(body)
	if d.maxBytes > 0 {
		src = io.LimitReader(body, d.maxBytes+1)
	}
	n, err := io.Copy(f, src)
	if err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	if d.maxBytes > 0 && n > d.maxBytes {
		_ = tmp.Close()
		return nil, queue.SkipRetry(fmt.Errorf("%w: more than %d bytes", ErrTooLarge, d.maxBytes))
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("rewind temp file: %w", err)
	}
	tmp.Size = n

	d.log.Debug("downloaded", zap.String("url", url), zap.Int64("bytes", n))
	return tmp, nil
}
