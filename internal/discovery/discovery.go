// Package discovery implements the Link Discoverer (C4, Phase 1):
// robots.txt, sitemap (with nested sitemap-index recursion), and a
// depth-limited BFS crawl bounded by page and URL caps.
package discovery

import (
	"context"
	"encoding/xml"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	robotstxt "github.com/temoto/robotstxt"

	"bizintel/internal/config"
	"bizintel/internal/httpfetch"
)

// SourceTag marks where a URL was first discovered.
type SourceTag string

const (
	SourceRobots SourceTag = "robots"
	SourceSitemap SourceTag = "sitemap"
	SourceCrawl   SourceTag = "crawl"
)

// Candidate is one discovered URL.
type Candidate struct {
	URL    string
	Source SourceTag
}

// Result is the output of Discover.
type Result struct {
	NormalizedOrigin string
	Candidates       []Candidate
	Redirected       bool
}

// Discoverer runs the discovery algorithm against a single C1 fetcher.
type Discoverer struct {
	fetcher *httpfetch.Fetcher
	cfg     config.DiscoveryConfig
	exclude []*regexp.Regexp
}

// New constructs a Discoverer. Exclusion patterns that fail to compile
// are skipped (best-effort, discovery never fails fatally).
func New(fetcher *httpfetch.Fetcher, cfg config.DiscoveryConfig) *Discoverer {
	d := &Discoverer{fetcher: fetcher, cfg: cfg}
	for _, pat := range cfg.ExcludePatterns {
		if re, err := regexp.Compile(pat); err == nil {
			d.exclude = append(d.exclude, re)
		}
	}
	return d
}

// Discover runs the full §4.4 algorithm against baseURL. It never
// returns a fatal error: worst case it returns a Result containing
// only the normalized origin.
func (d *Discoverer) Discover(ctx context.Context, baseURL string) (*Result, error) {
	origin, redirected, err := httpfetch.ResolveOrigin(ctx, d.fetcher, baseURL)
	if err != nil {
		origin = originOf(baseURL)
	}

	seen := make(map[string]Candidate)
	order := []string{}

	add := func(raw string, source SourceTag) {
		canon, ok := d.canonicalize(origin, raw)
		if !ok {
			return
		}
		if _, exists := seen[canon]; exists {
			return
		}
		if len(seen) >= d.cfg.MaxURLs {
			return
		}
		seen[canon] = Candidate{URL: canon, Source: source}
		order = append(order, canon)
	}

	robotsData := d.fetchRobots(ctx, origin)
	if robotsData != nil {
		for _, sm := range robotsData.Sitemaps {
			d.collectSitemap(ctx, sm, add, 0)
		}
	}
	d.collectSitemap(ctx, origin+"/sitemap.xml", add, 0)

	maxPages := d.cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 50
	}
	maxDepth := d.cfg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 3
	}
	d.bfsCrawl(ctx, origin, add, maxDepth, maxPages, robotsData)

	if len(order) == 0 {
		order = append(order, origin)
		seen[origin] = Candidate{URL: origin, Source: SourceCrawl}
	}

	candidates := make([]Candidate, 0, len(order))
	for _, u := range order {
		candidates = append(candidates, seen[u])
	}

	return &Result{NormalizedOrigin: origin, Candidates: candidates, Redirected: redirected}, nil
}

func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	return u.Scheme + "://" + u.Host
}

// canonicalize resolves raw against origin, enforces same-host-or-
// subdomain, strips fragments/queries per config, and rejects
// exclusion-pattern matches.
func (d *Discoverer) canonicalize(origin, raw string) (string, bool) {
	base, err := url.Parse(origin)
	if err != nil {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") || strings.HasPrefix(raw, "mailto:") || strings.HasPrefix(raw, "tel:") {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if !u.IsAbs() {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	if !sameHostOrSubdomain(base.Host, u.Host) {
		return "", false
	}
	u.Fragment = ""
	if d.cfg.StripQueryStrings {
		u.RawQuery = ""
	}
	final := u.String()
	for _, re := range d.exclude {
		if re.MatchString(final) {
			return "", false
		}
	}
	return final, true
}

func sameHostOrSubdomain(a, b string) bool {
	a = trimWWW(strings.ToLower(a))
	b = trimWWW(strings.ToLower(b))
	if a == b {
		return true
	}
	return strings.HasSuffix(b, "."+a) || strings.HasSuffix(a, "."+b)
}

func trimWWW(host string) string {
	return strings.TrimPrefix(host, "www.")
}

func (d *Discoverer) fetchRobots(ctx context.Context, origin string) *robotstxt.RobotsData {
	if !d.cfg.RespectRobots {
		return nil
	}
	res, err := d.fetcher.Fetch(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil || res.Status != http.StatusOK {
		return nil
	}
	data, err := robotstxt.FromStatusAndBytes(res.Status, res.Body)
	if err != nil {
		return nil
	}
	return data
}

type sitemapURLEntry struct {
	Loc string `xml:"loc"`
}
type sitemapURLSet struct {
	URLs []sitemapURLEntry `xml:"url"`
}
type sitemapIndexEntry struct {
	Loc string `xml:"loc"`
}
type sitemapIndex struct {
	Sitemaps []sitemapIndexEntry `xml:"sitemap"`
}

// collectSitemap fetches a sitemap URL and adds every <loc>. It
// recurses into nested sitemap indexes up to depth 2 (§4.4 step 3).
func (d *Discoverer) collectSitemap(ctx context.Context, sitemapURL string, add func(string, SourceTag), depth int) {
	maxDepth := d.cfg.MaxSitemapDepth
	if maxDepth <= 0 {
		maxDepth = 2
	}
	if depth > maxDepth {
		return
	}
	res, err := d.fetcher.Fetch(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil || res.Status != http.StatusOK {
		return
	}

	var idx sitemapIndex
	if err := xml.Unmarshal(res.Body, &idx); err == nil && len(idx.Sitemaps) > 0 {
		for _, sm := range idx.Sitemaps {
			d.collectSitemap(ctx, sm.Loc, add, depth+1)
		}
		return
	}

	var us sitemapURLSet
	if err := xml.Unmarshal(res.Body, &us); err != nil {
		return
	}
	for _, entry := range us.URLs {
		add(entry.Loc, SourceSitemap)
	}
}

// bfsCrawl performs a depth-limited breadth-first crawl from origin,
// fetching up to maxPages pages and emitting every in-scope link found.
func (d *Discoverer) bfsCrawl(ctx context.Context, origin string, add func(string, SourceTag), maxDepth, maxPages int, robotsData *robotstxt.RobotsData) {
	type frontierEntry struct {
		url   string
		depth int
	}
	visited := map[string]bool{origin: true}
	queue := []frontierEntry{{url: origin, depth: 0}}
	fetched := 0

	for len(queue) > 0 && fetched < maxPages {
		entry := queue[0]
		queue = queue[1:]

		if robotsData != nil {
			grp := robotsData.FindGroup("*")
			robotsPath := "/"
			if u, err := url.Parse(entry.url); err == nil && u.EscapedPath() != "" {
				robotsPath = u.EscapedPath()
			}
			if grp != nil && !grp.Test(robotsPath) {
				continue
			}
		}

		res, err := d.fetcher.Fetch(ctx, http.MethodGet, entry.url, nil)
		fetched++
		if err != nil || res.Status != http.StatusOK {
			continue
		}

		add(entry.url, SourceCrawl)

		if entry.depth >= maxDepth {
			continue
		}

		doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(res.Body)))
		if err != nil {
			continue
		}
		doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
			href, ok := sel.Attr("href")
			if !ok {
				return
			}
			canon, ok := d.canonicalize(origin, href)
			if !ok || visited[canon] {
				return
			}
			visited[canon] = true
			queue = append(queue, frontierEntry{url: canon, depth: entry.depth + 1})
		})
	}
}
