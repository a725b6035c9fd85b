// Package httpfetch implements the HTTP Fetcher (C1): retrying,
// redirect-tracking GET/HEAD requests shared by link discovery and
// lightweight Phase-3 extraction.
package httpfetch

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"bizintel/internal/errs"
	"bizintel/internal/retry"
)

// Options configures the fetcher.
type Options struct {
	UserAgent      string
	AcceptLanguage string
	Timeout        time.Duration
	MaxBytes       int64
	MaxRedirects   int
	StrictTLS      bool
	MaxRetries     int
}

// DefaultOptions mirrors spec.md §6's defaults.
func DefaultOptions() Options {
	return Options{
		UserAgent:      "Mozilla/5.0 (compatible; bizintel-extract/1.0; +https://example.invalid/bot)",
		AcceptLanguage: "en-US,en;q=0.9",
		Timeout:        15 * time.Second,
		MaxBytes:       2 << 20,
		MaxRedirects:   5,
		StrictTLS:      false,
		MaxRetries:     2,
	}
}

// Result is the successful outcome of a fetch.
type Result struct {
	Status     int
	Header     http.Header
	Body       []byte
	FinalURL   string
	Elapsed    time.Duration
	Redirected bool
}

// Fetcher is a single connection-pooling HTTP client, safe for
// concurrent use across all callers in a process (§5's shared-resource
// policy for C1).
type Fetcher struct {
	opts   Options
	client *http.Client
	logger *slog.Logger

	tlsWarnOnce sync.Once
}

// New constructs a Fetcher. A single instance should be shared across
// an entire batch run.
func New(opts Options, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: !opts.StrictTLS},
		Proxy:           http.ProxyFromEnvironment,
	}
	f := &Fetcher{opts: opts, logger: logger}
	f.client = &http.Client{
		Timeout:   opts.Timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= opts.MaxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
	if !opts.StrictTLS {
		f.warnInsecureTLS()
	}
	return f
}

func (f *Fetcher) warnInsecureTLS() {
	f.tlsWarnOnce.Do(func() {
		f.logger.Warn("tls verification disabled by default; set httpFetch.strictTLS=true to require valid certificates")
	})
}

// Fetch issues method against rawURL, following redirects and
// retrying retryable failures per the shared retry policy.
func (f *Fetcher) Fetch(ctx context.Context, method, rawURL string, headers map[string]string) (*Result, error) {
	policy := retry.NewPolicy(f.opts.MaxRetries + 1)

	var result *Result
	var retryAfter time.Duration

	classify := func(err error) bool {
		var fe *errs.FetchError
		if as, ok := err.(*errs.FetchError); ok {
			fe = as
		}
		return fe != nil && fe.Retryable
	}

	err := retry.Do(ctx, policy, classify, func(ctx context.Context) error {
		if retryAfter > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryAfter):
			}
			retryAfter = 0
		}
		r, ra, err := f.attempt(ctx, method, rawURL, headers)
		if err != nil {
			return err
		}
		retryAfter = ra
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (f *Fetcher) attempt(ctx context.Context, method, rawURL string, headers map[string]string) (*Result, time.Duration, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, 0, &errs.FetchError{Kind: errs.FetchMalformed, URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept-Language", f.opts.AcceptLanguage)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, classifyTransportError(rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, retryAfter, &errs.FetchError{
			Kind: errs.FetchHTTPStatus, URL: rawURL, Status: resp.StatusCode,
			Retryable: true,
		}
	}
	if resp.StatusCode >= 400 {
		return nil, 0, &errs.FetchError{Kind: errs.FetchHTTPStatus, URL: rawURL, Status: resp.StatusCode}
	}

	limited := io.LimitReader(resp.Body, f.opts.MaxBytes+1)
	var buf bytes.Buffer
	n, err := io.Copy(&buf, limited)
	if err != nil {
		return nil, 0, &errs.FetchError{Kind: errs.FetchMalformed, URL: rawURL, Err: err}
	}
	if n > f.opts.MaxBytes {
		return nil, 0, &errs.FetchError{Kind: errs.FetchTooLarge, URL: rawURL}
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Result{
		Status:     resp.StatusCode,
		Header:     resp.Header,
		Body:       buf.Bytes(),
		FinalURL:   finalURL,
		Elapsed:    time.Since(start),
		Redirected: finalURL != rawURL,
	}, 0, nil
}

func classifyTransportError(rawURL string, err error) *errs.FetchError {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &errs.FetchError{Kind: errs.FetchDNS, URL: rawURL, Retryable: true, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &errs.FetchError{Kind: errs.FetchTimeout, URL: rawURL, Retryable: true, Err: err}
	}
	var tlsErr tls.RecordHeaderError
	if errors.As(err, &tlsErr) {
		return &errs.FetchError{Kind: errs.FetchTLS, URL: rawURL, Err: err}
	}
	return &errs.FetchError{Kind: errs.FetchMalformed, URL: rawURL, Retryable: true, Err: err}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		d := time.Duration(secs) * time.Second
		if d > 30*time.Second {
			d = 30 * time.Second
		}
		return d
	}
	if t, err := http.ParseTime(header); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		if d > 30*time.Second {
			d = 30 * time.Second
		}
		return d
	}
	return 0
}

// ResolveOrigin issues a GET against rawURL and returns the post-redirect origin (scheme+host), used by discovery to
// detect a cross-origin redirect (§4.4 step 1).
func ResolveOrigin(ctx context.Context, f *Fetcher, rawURL string) (string, bool, error) {
	res, err := f.Fetch(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", false, err
	}
	u, err := url.Parse(res.FinalURL)
	if err != nil {
		return "", false, &errs.FetchError{Kind: errs.FetchMalformed, URL: rawURL, Err: err}
	}
	origin := fmt.Sprintf("%s://%s", u.Scheme, u.Host)

	base, err := url.Parse(rawURL)
	if err != nil {
		return origin, res.Redirected, nil
	}
	baseOrigin := fmt.Sprintf("%s://%s", base.Scheme, base.Host)
	return origin, !sameHostOrSubdomain(base.Host, u.Host) || baseOrigin != origin, nil
}

func sameHostOrSubdomain(a, b string) bool {
	a = trimWWW(a)
	b = trimWWW(b)
	return a == b
}

func trimWWW(host string) string {
	if len(host) > 4 && host[:4] == "www." {
		return host[4:]
	}
	return host
}
