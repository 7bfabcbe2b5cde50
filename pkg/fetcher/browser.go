package fetcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/charmbracelet/log"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"papers-crawler/pkg/config"
	"papers-crawler/pkg/logger"
)

// BrowserOptions configures headless Chrome sessions.
type BrowserOptions struct {
	Headless  bool
	UserAgent string
	// Timeout bounds a single navigation attempt.
	Timeout time.Duration
	// Wait is applied after the body is ready so scripts can render listings.
	Wait  time.Duration
	Retry config.RetryPolicy
}

// BrowserOptionsFromConfig maps the run configuration onto BrowserOptions.
func BrowserOptionsFromConfig(cfg *config.Config) BrowserOptions {
	return BrowserOptions{
		Headless:  cfg.Browser.Headless,
		UserAgent: cfg.Browser.UserAgent,
		Timeout:   time.Duration(cfg.Browser.TimeoutSec) * time.Second,
		Wait:      time.Duration(cfg.Browser.WaitMs) * time.Millisecond,
		Retry:     cfg.Retry,
	}
}

// Browser opens one Chrome instance per session.
type Browser struct {
	opts   BrowserOptions
	logger *log.Logger
}

func NewBrowser(opts BrowserOptions, l *log.Logger) *Browser {
	if opts.UserAgent == "" {
		opts.UserAgent = config.DefaultUserAgent
	}
	return &Browser{opts: opts, logger: logger.Component(l, "browser")}
}

func (b *Browser) Open(ctx context.Context) (Session, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.DisableGPU,
		chromedp.NoSandbox,
		chromedp.UserAgent(b.opts.UserAgent),
		chromedp.WindowSize(1920, 1080),
	)
	if !b.opts.Headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// The first Run starts the browser process.
	err := chromedp.Run(browserCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": "en-US,en;q=0.9"}),
	)
	if err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	b.logger.Debug("browser session opened", "headless", b.opts.Headless)
	return &browserSession{
		opts:       b.opts,
		logger:     b.logger,
		browserCtx: browserCtx,
		cancel: func() {
			browserCancel()
			allocCancel()
		},
	}, nil
}

type browserSession struct {
	opts       BrowserOptions
	logger     *log.Logger
	browserCtx context.Context
	cancel     context.CancelFunc

	mu     sync.Mutex
	closed bool
}

func (s *browserSession) Fetch(ctx context.Context, url string) (*goquery.Document, error) {
	maxAttempts := max(s.opts.Retry.MaxAttempts, 1)
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if s.isClosed() {
			return nil, &FetchError{URL: url, Attempts: attempt, Err: ErrSessionClosed}
		}

		html, err := s.navigate(ctx, url)
		if err == nil {
			doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
			if err != nil {
				return nil, &FetchError{URL: url, Attempts: attempt, Err: fmt.Errorf("failed to parse HTML: %w", err)}
			}
			return doc, nil
		}
		lastErr = err

		if attempt == maxAttempts || ctx.Err() != nil {
			break
		}
		delay := s.opts.Retry.RetryDelay(attempt)
		s.logger.Debug("retrying navigation", "url", url, "attempt", attempt, "delay", delay, "err", err)
		if err := sleep(ctx, delay); err != nil {
			return nil, &FetchError{URL: url, Attempts: attempt, Err: err}
		}
	}

	return nil, &FetchError{URL: url, Attempts: maxAttempts, Err: lastErr}
}

func (s *browserSession) navigate(ctx context.Context, url string) (string, error) {
	runCtx := s.browserCtx
	var cancel context.CancelFunc
	if s.opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, s.opts.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(runCtx)
	}
	defer cancel()
	// Cancelling the caller's context aborts the navigation.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	tasks := []chromedp.Action{
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
	}
	if s.opts.Wait > 0 {
		tasks = append(tasks, chromedp.Sleep(s.opts.Wait))
	}

	var html string
	tasks = append(tasks, chromedp.OuterHTML("html", &html))

	if err := chromedp.Run(runCtx, tasks...); err != nil {
		return "", fmt.Errorf("navigate: %w", err)
	}
	return html, nil
}

// dismissScript clicks the first visible accept-style button.
const dismissScript = `(() => {
	const labels = ["accept all cookies", "accept all", "accept", "i accept", "agree", "i agree"];
	for (const b of document.querySelectorAll("button")) {
		if (b.offsetParent === null) continue;
		const text = (b.innerText || "").trim().toLowerCase();
		const hint = ((b.id || "") + " " + (b.className || "")).toLowerCase();
		if (labels.includes(text) || hint.includes("accept")) {
			b.click();
			return true;
		}
	}
	return false;
})()`

func (s *browserSession) DismissOverlays(ctx context.Context) bool {
	if s.isClosed() {
		return false
	}

	runCtx, cancel := context.WithTimeout(s.browserCtx, 10*time.Second)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var clicked bool
	if err := chromedp.Run(runCtx, chromedp.Evaluate(dismissScript, &clicked)); err != nil {
		s.logger.Debug("overlay dismissal failed", "err", err)
		return false
	}
	if clicked {
		s.logger.Debug("dismissed cookie overlay")
		_ = chromedp.Run(runCtx, chromedp.Sleep(time.Second))
	}
	return clicked
}

func (s *browserSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close shuts the browser down. It is safe to call more than once.
func (s *browserSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	err := chromedp.Cancel(s.browserCtx)
	s.cancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}
