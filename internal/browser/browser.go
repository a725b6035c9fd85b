// Package browser implements the Browser Fetcher (C2): a single
// shared headless-browser instance reused across an entire extraction
// (and, in a batch, across all concurrent extractions), rendering
// JS-heavy pages that C1 alone cannot handle.
//
// Creating one browser instance per page is forbidden by design: it is
// several times slower and exhausts host resources under any real
// concurrency. A Renderer must be constructed once and shared.
package browser

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	htmlmd "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"bizintel/internal/errs"
)

// Options configures the Renderer.
type Options struct {
	Headless             bool
	PageTimeout           time.Duration
	WaitForSelector       string
	RestartAfterTimeouts  int
	Concurrency           int
}

// DefaultOptions mirrors spec.md §4.2/§6 defaults.
func DefaultOptions() Options {
	return Options{
		Headless:             true,
		PageTimeout:          30 * time.Second,
		RestartAfterTimeouts: 3,
		Concurrency:          10,
	}
}

// PageResult is one rendered page's outcome.
type PageResult struct {
	CleanedText string
	RawHTML     string
	Success     bool
	Error       error
}

// Renderer owns a single rod.Browser and hands out pages from it under
// an internal semaphore, per §4.2/§5's shared-browser policy.
type Renderer struct {
	opts   Options
	logger *slog.Logger

	mu               sync.Mutex
	browser          *rod.Browser
	launcher         *launcher.Launcher
	consecutiveFails int

	sem chan struct{}
}

// New launches the shared browser instance. Call Close when the owning
// pipeline/batch is done with it.
func New(ctx context.Context, opts Options, logger *slog.Logger) (*Renderer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	r := &Renderer{
		opts:   opts,
		logger: logger,
		sem:    make(chan struct{}, opts.Concurrency),
	}
	if err := r.launch(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Renderer) launch(ctx context.Context) error {
	var l *launcher.Launcher
	if path, has := launcher.LookPath(); has {
		l = launcher.New().Bin(path)
	} else {
		l = launcher.New()
	}
	l = l.Headless(r.opts.Headless).NoSandbox(true)

	controlURL, err := l.Launch()
	if err != nil {
		return &errs.BrowserError{Err: err}
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		l.Kill()
		return &errs.BrowserError{Err: err}
	}

	r.launcher = l
	r.browser = b
	r.consecutiveFails = 0
	return nil
}

// Close tears down the browser. Safe to call once per Renderer.
func (r *Renderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser != nil {
		_ = r.browser.Close()
		r.browser = nil
	}
	if r.launcher != nil {
		r.launcher.Kill()
		r.launcher = nil
	}
}

// Render renders each URL in urls, up to opts.Concurrency in parallel,
// returning a result per URL. Individual page failures never abort the
// batch of renders; they are recorded per-URL (§4.6 failure semantics).
func (r *Renderer) Render(ctx context.Context, urls []string) map[string]PageResult {
	results := make(map[string]PageResult, len(urls))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, u := range urls {
		u := u
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case r.sem <- struct{}{}:
			case <-ctx.Done():
				mu.Lock()
				results[u] = PageResult{Error: ctx.Err()}
				mu.Unlock()
				return
			}
			defer func() { <-r.sem }()

			res := r.renderOne(ctx, u)
			mu.Lock()
			results[u] = res
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

func (r *Renderer) renderOne(ctx context.Context, rawURL string) PageResult {
	r.mu.Lock()
	b := r.browser
	r.mu.Unlock()
	if b == nil {
		return PageResult{Error: &errs.BrowserError{URL: rawURL, Err: context.Canceled}}
	}

	pageCtx, cancel := context.WithTimeout(ctx, r.opts.PageTimeout)
	defer cancel()

	page, err := b.Context(pageCtx).Page(proto.TargetCreateTarget{URL: rawURL})
	if err != nil {
		r.noteTimeout(ctx, err)
		return PageResult{Error: &errs.BrowserError{URL: rawURL, Err: err}}
	}
	defer func() { _ = page.Close() }()

	if r.opts.WaitForSelector != "" {
		if _, err := page.Timeout(r.opts.PageTimeout).Element(r.opts.WaitForSelector); err != nil {
			r.logger.Debug("wait_for selector not found, continuing anyway", "selector", r.opts.WaitForSelector, "url", rawURL)
		}
	}

	if err := page.Timeout(r.opts.PageTimeout).WaitLoad(); err != nil {
		r.noteTimeout(ctx, err)
		return PageResult{Error: &errs.BrowserError{URL: rawURL, Err: err}}
	}

	htmlStr, err := page.HTML()
	if err != nil {
		return PageResult{Error: &errs.BrowserError{URL: rawURL, Err: err}}
	}

	r.noteSuccess()

	cleaned := cleanText(htmlStr)
	return PageResult{CleanedText: cleaned, RawHTML: htmlStr, Success: true}
}

// noteTimeout tracks consecutive page failures and restarts the shared
// browser after opts.RestartAfterTimeouts, per §4.2.
func (r *Renderer) noteTimeout(ctx context.Context, err error) {
	r.mu.Lock()
	r.consecutiveFails++
	shouldRestart := r.opts.RestartAfterTimeouts > 0 && r.consecutiveFails >= r.opts.RestartAfterTimeouts
	r.mu.Unlock()

	if !shouldRestart {
		return
	}
	r.logger.Warn("restarting browser after consecutive page failures", "count", r.consecutiveFails)
	r.mu.Lock()
	if r.browser != nil {
		_ = r.browser.Close()
	}
	if r.launcher != nil {
		r.launcher.Kill()
	}
	r.mu.Unlock()
	_ = r.launch(ctx)
}

func (r *Renderer) noteSuccess() {
	r.mu.Lock()
	r.consecutiveFails = 0
	r.mu.Unlock()
}

// cleanText converts raw HTML into a readable text approximation,
// stripping script/style/nav/footer content. C6 applies its own
// character caps on top of this.
func cleanText(htmlStr string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlStr))
	if err != nil {
		return ""
	}
	doc.Find("script, style, noscript, nav, footer").Remove()

	converter := htmlmd.NewConverter("", true, nil)
	body, err := doc.Find("body").Html()
	if err != nil || body == "" {
		return strings.TrimSpace(doc.Text())
	}
	md, err := converter.ConvertString(body)
	if err != nil {
		return strings.TrimSpace(doc.Text())
	}
	return strings.TrimSpace(md)
}
