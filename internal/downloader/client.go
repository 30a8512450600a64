package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"discgrab/pkg/config"
	errs "discgrab/pkg/errors"
	"discgrab/pkg/logger"
	"discgrab/pkg/ratelimit"
	"discgrab/pkg/retry"
)

const userAgent = "discgrab/1.0"

// Client fetches media bytes over HTTP. Transient failures (network,
// 429, 5xx) are retried with backoff; permanent ones (404, bad URL)
// return immediately. A 429 additionally puts the shared limiter into
// cooldown so all workers back off together.
type Client struct {
	httpClient *http.Client
	limiter    ratelimit.Limiter
	retryCfg   config.RetryConfig
	logger     logger.Logger
}

// NewClient creates a fetch client sharing the given rate limiter.
func NewClient(cfg *config.Config, limiter ratelimit.Limiter, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Client{
		httpClient: &http.Client{Timeout: time.Duration(cfg.Download.Timeout)},
		limiter:    limiter,
		retryCfg:   cfg.Retry,
		logger:     log,
	}
}

// Fetch downloads the URL and returns its bytes. The error chain carries
// the failure kind, so callers can tell permanent failures from
// transient ones that exhausted their retries.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errs.New(errs.ErrorTypeInvalidURL, fmt.Sprintf("not a fetchable url: %s", rawURL))
	}

	jitter := 0.0
	if c.retryCfg.Jitter {
		jitter = 0.1
	}

	cfg := &retry.Config{
		MaxAttempts: c.retryCfg.MaxAttempts,
		Backoff: &retry.ExponentialBackoff{
			BaseDelay:    time.Duration(c.retryCfg.BaseDelay),
			MaxDelay:     time.Duration(c.retryCfg.MaxDelay),
			Multiplier:   c.retryCfg.Multiplier,
			JitterFactor: jitter,
		},
		RetryIf: retry.DefaultRetryIf,
		Context: ctx,
		Logger:  c.logger,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			c.logger.WarnWithFields("retrying download", map[string]interface{}{
				"url":     rawURL,
				"attempt": attempt,
				"delay":   delay.String(),
				"error":   err.Error(),
			})
		},
	}

	return retry.DoWithResult(func() ([]byte, error) {
		return c.fetchOnce(ctx, rawURL)
	}, cfg)
}

func (c *Client) fetchOnce(ctx context.Context, rawURL string) ([]byte, error) {
	// Context errors pass through untyped so the retry layer stops.
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeRequest, "failed to build request", err)
	}
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errs.Wrap(errs.ErrorTypeNetwork, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		ferr := errs.FromStatus(resp.StatusCode, fmt.Sprintf("fetch %s", rawURL))
		if resp.StatusCode == http.StatusTooManyRequests {
			if d := retryAfter(resp.Header.Get("Retry-After")); d > 0 {
				ferr.RetryAfter = d
				c.limiter.Cooldown(d)
			}
			logger.LogRateLimit(rawURL, int(ferr.RetryAfter.Seconds()))
		}
		return nil, ferr
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeNetwork, "failed to read response body", err)
	}

	c.logger.DebugWithFields("download complete", map[string]interface{}{
		"url":      rawURL,
		"size":     len(data),
		"duration": time.Since(start),
	})

	return data, nil
}

// retryAfter parses a Retry-After header, either delta seconds or an
// HTTP date.
func retryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
