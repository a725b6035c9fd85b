// Package extraction implements the Content Extractor (C6, Phase 3):
// bounded-concurrency fetch of the selected pages, preferring the
// shared browser when configured, falling back to the plain HTTP
// fetcher, with HTML cleaning and per-page character caps.
package extraction

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/PuerkitoBio/goquery"

	"bizintel/internal/browser"
	"bizintel/internal/config"
	"bizintel/internal/httpfetch"
	"bizintel/internal/model"
)

// PageResult is the per-URL extraction outcome.
type PageResult struct {
	URL         string
	CleanedText string
	RawHTML     string
	CharCount   int
	Success     bool
	Error       error
}

// Extractor fetches pages concurrently under a counting semaphore.
type Extractor struct {
	fetcher  *httpfetch.Fetcher
	renderer *browser.Renderer
	cfg      config.ExtractionConfig
}

// New constructs an Extractor. renderer may be nil to force plain-HTTP
// extraction for every page.
func New(fetcher *httpfetch.Fetcher, renderer *browser.Renderer, cfg config.ExtractionConfig) *Extractor {
	return &Extractor{fetcher: fetcher, renderer: renderer, cfg: cfg}
}

// Extract fetches every URL in urls concurrently (bounded by
// cfg.Concurrency, the "S" semaphore of §4.6) and returns results in
// the original input order, not completion order, so downstream
// prompts stay deterministic.
func (e *Extractor) Extract(ctx context.Context, urls []string) []PageResult {
	concurrency := int64(e.cfg.Concurrency)
	if concurrency <= 0 {
		concurrency = 10
	}
	sem := semaphore.NewWeighted(concurrency)

	results := make([]PageResult, len(urls))
	doneCh := make(chan int, len(urls))

	for i, u := range urls {
		i, u := i, u
		go func() {
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = PageResult{URL: u, Error: err}
				doneCh <- i
				return
			}
			defer sem.Release(1)

			results[i] = e.extractOne(ctx, u)
			doneCh <- i
		}()
	}
	for range urls {
		<-doneCh
	}
	return results
}

func (e *Extractor) extractOne(ctx context.Context, rawURL string) PageResult {
	if e.cfg.PreferBrowser && e.renderer != nil {
		rendered := e.renderer.Render(ctx, []string{rawURL})
		if pr, ok := rendered[rawURL]; ok && pr.Success {
			return PageResult{
				URL:         rawURL,
				CleanedText: truncate(pr.CleanedText, e.cfg.MaxCharsPage),
				RawHTML:     pr.RawHTML,
				CharCount:   len(pr.CleanedText),
				Success:     true,
			}
		}
	}

	res, err := e.fetcher.Fetch(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return PageResult{URL: rawURL, Error: err}
	}

	htmlStr := string(res.Body)
	cleaned := cleanHTML(htmlStr)
	return PageResult{
		URL:         rawURL,
		CleanedText: truncate(cleaned, e.cfg.MaxCharsPage),
		RawHTML:     htmlStr,
		CharCount:   len(cleaned),
		Success:     cleaned != "",
	}
}

// cleanHTML strips script/style/noscript/nav/footer elements, keeping
// main/article/section/headings/list items, per §4.6's cleaning rules.
func cleanHTML(htmlStr string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlStr))
	if err != nil {
		return ""
	}
	doc.Find("script, style, noscript, nav, footer, header[role=banner]").Remove()

	var b strings.Builder
	doc.Find("main, article, section, h1, h2, h3, h4, h5, h6, li, p").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if text == "" {
			return
		}
		b.WriteString(text)
		b.WriteString("\n")
	})
	if b.Len() == 0 {
		return strings.TrimSpace(doc.Text())
	}
	return strings.TrimSpace(b.String())
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}

// Succeeded reports whether at least one page yielded non-empty
// cleaned text, the condition that keeps the pipeline out of
// NoContent (§4.10: phase3→phase4 requires ≥1 non-empty page).
func Succeeded(results []PageResult) bool {
	for _, r := range results {
		if r.Success && r.CleanedText != "" {
			return true
		}
	}
	return false
}

// ToDetails converts extraction results into Record provenance
// entries (§3 scraped_content_details).
func ToDetails(results []PageResult) []model.ScrapedContentDetail {
	details := make([]model.ScrapedContentDetail, 0, len(results))
	for _, r := range results {
		d := model.ScrapedContentDetail{URL: r.URL, CharCount: r.CharCount}
		if r.Error != nil {
			d.FetchError = r.Error.Error()
		}
		details = append(details, d)
	}
	return details
}
