package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/vincent-petithory/dataurl"
)

const (
	defaultDownloadTimeout = 15 * time.Second
	defaultMaxDownload     = 50 << 20
	maxDownloadRetries     = 2
)

// SharedHTTPClient returns a pooled client for media transfers.
func SharedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultDownloadTimeout
	}
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// Blob is downloaded content with its sniffed MIME type.
type Blob struct {
	Data     []byte
	MimeType string
}

// DownloaderConfig configures a Downloader.
type DownloaderConfig struct {
	// Timeout bounds one Fetch, retries included.
	Timeout  time.Duration
	MaxBytes int64
	Client   *http.Client
	Logger   *slog.Logger
}

// Downloader fetches attachment content for re-upload to another platform.
type Downloader struct {
	client   *http.Client
	timeout  time.Duration
	maxBytes int64
	logger   *slog.Logger
}

func NewDownloader(cfg DownloaderConfig) *Downloader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultDownloadTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxDownload
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(cfg.Timeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Downloader{
		client:   cfg.Client,
		timeout:  cfg.Timeout,
		maxBytes: cfg.MaxBytes,
		logger:   cfg.Logger,
	}
}

// ErrTooLarge is returned for content above the configured size limit.
var ErrTooLarge = errors.New("download exceeds size limit")

// Fetch returns the content at rawURL. data: URLs are decoded in place.
func (d *Downloader) Fetch(ctx context.Context, rawURL string) (*Blob, error) {
	if strings.HasPrefix(rawURL, "data:") {
		du, err := dataurl.DecodeString(rawURL)
		if err != nil {
			return nil, fmt.Errorf("decode data url: %w", err)
		}
		return &Blob{Data: du.Data, MimeType: du.MediaType.ContentType()}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	resp, err := d.doWithRetry(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download: HTTP %d", resp.StatusCode)
	}
	if resp.ContentLength > d.maxBytes {
		return nil, ErrTooLarge
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	if int64(len(data)) > d.maxBytes {
		return nil, ErrTooLarge
	}
	return &Blob{Data: data, MimeType: mimetype.Detect(data).String()}, nil
}

type retryableError struct {
	statusCode int
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("HTTP %d", e.statusCode)
}

// doWithRetry retries network failures, 5xx and 429 with jittered backoff.
func (d *Downloader) doWithRetry(ctx context.Context, buildReq func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= maxDownloadRetries; attempt++ {
		if attempt > 0 {
			base := time.Duration(attempt*attempt) * 500 * time.Millisecond
			backoff := base + time.Duration(rand.Int64N(int64(base/2+1)))
			d.logger.Debug("retrying download", "attempt", attempt+1, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := d.client.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, fmt.Errorf("download: %w", err)
			}
			continue
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			lastErr = &retryableError{statusCode: resp.StatusCode}
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("download failed after %d attempts: %w", maxDownloadRetries+1, lastErr)
}
