package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/PuerkitoBio/goquery"
	"github.com/charmbracelet/log"

	"papers-crawler/pkg/config"
	"papers-crawler/pkg/httpclient"
	"papers-crawler/pkg/logger"
)

// HTTP opens plain HTTP sessions. It cannot run scripts, so it suits sites
// that render listings server side.
type HTTP struct {
	client *httpclient.HTTPClient
	retry  config.RetryPolicy
	logger *log.Logger
}

func NewHTTP(client *httpclient.HTTPClient, retry config.RetryPolicy, l *log.Logger) *HTTP {
	return &HTTP{
		client: client,
		retry:  retry,
		logger: logger.Component(l, "http"),
	}
}

func (h *HTTP) Open(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &httpSession{HTTP: h}, nil
}

type httpSession struct {
	*HTTP
	closed atomic.Bool
}

func (s *httpSession) Fetch(ctx context.Context, url string) (*goquery.Document, error) {
	if s.closed.Load() {
		return nil, &FetchError{URL: url, Err: ErrSessionClosed}
	}

	maxAttempts := max(s.retry.MaxAttempts, 1)
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		doc, retryable, err := s.fetchOnce(ctx, url)
		if err == nil {
			return doc, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, &FetchError{URL: url, Attempts: attempt, Err: fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)}
		}
		if !retryable || attempt == maxAttempts {
			return nil, &FetchError{URL: url, Attempts: attempt, Err: lastErr}
		}

		delay := s.retry.RetryDelay(attempt)
		s.logger.Debug("retrying fetch", "url", url, "attempt", attempt, "delay", delay, "err", err)
		if err := sleep(ctx, delay); err != nil {
			return nil, &FetchError{URL: url, Attempts: attempt, Err: err}
		}
	}

	return nil, &FetchError{URL: url, Attempts: maxAttempts, Err: lastErr}
}

func (s *httpSession) fetchOnce(ctx context.Context, url string) (*goquery.Document, bool, error) {
	reqCtx := ctx
	if timeout := s.retry.GetTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := s.client.Get(reqCtx, url)
	if err != nil {
		return nil, !errors.Is(err, context.Canceled), fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, isRetryableStatus(resp.StatusCode), fmt.Errorf("%w: %d", ErrUnexpectedStatusCode, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, false, nil
}

func (s *httpSession) DismissOverlays(context.Context) bool { return false }

func (s *httpSession) Close() error {
	s.closed.Store(true)
	return nil
}

// isRetryableStatus determines if we should retry based on HTTP status code.
func isRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
