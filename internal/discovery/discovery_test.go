package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bizintel/internal/config"
	"bizintel/internal/httpfetch"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFetcher() *httpfetch.Fetcher {
	opts := httpfetch.DefaultOptions()
	opts.Timeout = 2 * time.Second
	opts.MaxRetries = 0
	return httpfetch.New(opts, nil)
}

func TestDiscover_SitemapAndCrawl(t *testing.T) {
	var baseURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nAllow: /\n"))
	})
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<?xml version="1.0"?><urlset><url><loc>` + baseURL + `/about</loc></url><url><loc>` + baseURL + `/contact</loc></url></urlset>`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><a href="/careers">Careers</a></body></html>`))
	})
	mux.HandleFunc("/about", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("<html></html>")) })
	mux.HandleFunc("/contact", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("<html></html>")) })
	mux.HandleFunc("/careers", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("<html></html>")) })

	srv := httptest.NewServer(mux)
	defer srv.Close()
	baseURL = srv.URL

	fetcher := newFetcher()
	cfg := config.DiscoveryConfig{RespectRobots: true, MaxDepth: 2, MaxPages: 10, MaxURLs: 100, MaxSitemapDepth: 2, StripQueryStrings: true}
	d := New(fetcher, cfg)

	result, err := d.Discover(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, srv.URL, result.NormalizedOrigin)
	assert.NotEmpty(t, result.Candidates)

	urls := map[string]bool{}
	for _, c := range result.Candidates {
		urls[c.URL] = true
	}
	assert.True(t, urls[srv.URL+"/careers"] || urls[srv.URL])
}

func TestDiscover_NoLinksReturnsOriginOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			w.Write([]byte("<html><body>no links here</body></html>"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	fetcher := newFetcher()
	cfg := config.DiscoveryConfig{MaxDepth: 1, MaxPages: 5, MaxURLs: 10}
	d := New(fetcher, cfg)

	result, err := d.Discover(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, result.Candidates, 1)
	assert.Equal(t, srv.URL, result.Candidates[0].URL)
}

func TestCanonicalize_RejectsOffHostAndExcluded(t *testing.T) {
	cfg := config.DiscoveryConfig{StripQueryStrings: true, ExcludePatterns: []string{`\.png$`}}
	d := New(newFetcher(), cfg)

	_, ok := d.canonicalize("https://acme.example", "https://evil.example/page")
	assert.False(t, ok)

	_, ok = d.canonicalize("https://acme.example", "/logo.png")
	assert.False(t, ok)

	canon, ok := d.canonicalize("https://acme.example", "/about?utm=1")
	assert.True(t, ok)
	assert.Equal(t, "https://acme.example/about", canon)
}

func TestSameHostOrSubdomain(t *testing.T) {
	assert.True(t, sameHostOrSubdomain("acme.example", "www.acme.example"))
	assert.True(t, sameHostOrSubdomain("www.acme.example", "acme.example"))
	assert.False(t, sameHostOrSubdomain("acme.example", "evil.example"))
}
