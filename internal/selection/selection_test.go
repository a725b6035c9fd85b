package selection

import (
	"context"
	"testing"

	"bizintel/internal/config"
	"bizintel/internal/discovery"

	"github.com/stretchr/testify/assert"
)

func candidates() []discovery.Candidate {
	return []discovery.Candidate{
		{URL: "https://acme.example/", Source: discovery.SourceCrawl},
		{URL: "https://acme.example/about", Source: discovery.SourceSitemap},
		{URL: "https://acme.example/contact", Source: discovery.SourceSitemap},
		{URL: "https://acme.example/careers", Source: discovery.SourceCrawl},
		{URL: "https://acme.example/blog/post-1", Source: discovery.SourceCrawl},
	}
}

func TestSelect_HeuristicFallbackWhenLLMDisabled(t *testing.T) {
	cfg := config.SelectionConfig{MaxPages: 3, UseLLM: false, AlwaysIncludeRoot: true}
	result := Select(context.Background(), nil, "Acme", "https://acme.example/", candidates(), cfg)

	assert.Equal(t, MethodHeuristic, result.Method)
	assert.Contains(t, result.URLs, "https://acme.example/")
	// §8 scenario 3: the k=3 heuristic picks are contact/about/careers;
	// root isn't among them, so it is force-added as a 4th URL rather
	// than evicting one of the three heuristic picks.
	assert.ElementsMatch(t, []string{
		"https://acme.example/",
		"https://acme.example/contact",
		"https://acme.example/about",
		"https://acme.example/careers",
	}, result.URLs)
}

func TestFinalize_RootAlreadyPresentDoesNotGrowPastK(t *testing.T) {
	cfg := config.SelectionConfig{MaxPages: 3, AlwaysIncludeRoot: true}
	result := finalize([]string{"https://acme.example/", "https://acme.example/about", "https://acme.example/contact"}, "https://acme.example/", cfg, MethodHeuristic)
	assert.Len(t, result.URLs, 3)
	assert.Contains(t, result.URLs, "https://acme.example/")
}

func TestFinalize_RootMissingGrowsToKPlusOne(t *testing.T) {
	cfg := config.SelectionConfig{MaxPages: 3, AlwaysIncludeRoot: true}
	result := finalize([]string{"https://acme.example/contact", "https://acme.example/about", "https://acme.example/careers"}, "https://acme.example/", cfg, MethodHeuristic)
	assert.Len(t, result.URLs, 4)
	assert.Equal(t, "https://acme.example/", result.URLs[0])
}

func TestSelect_SingleCandidateAlwaysReturned(t *testing.T) {
	single := []discovery.Candidate{{URL: "https://acme.example/", Source: discovery.SourceCrawl}}
	cfg := config.SelectionConfig{MaxPages: 5, UseLLM: false, AlwaysIncludeRoot: true}
	result := Select(context.Background(), nil, "Acme", "https://acme.example/", single, cfg)
	assert.Equal(t, []string{"https://acme.example/"}, result.URLs)
}

func TestHeuristicSelect_PrioritizesContactAboutCareers(t *testing.T) {
	cs := []discovery.Candidate{
		{URL: "https://acme.example/blog/post-1", Source: discovery.SourceCrawl},
		{URL: "https://acme.example/contact", Source: discovery.SourceCrawl},
		{URL: "https://acme.example/about", Source: discovery.SourceCrawl},
		{URL: "https://acme.example/careers", Source: discovery.SourceCrawl},
	}
	urls := heuristicSelect(cs, defaultPriorities, 3)
	assert.ElementsMatch(t, []string{
		"https://acme.example/contact",
		"https://acme.example/about",
		"https://acme.example/careers",
	}, urls)
}

func TestEnsureIncludes_AddsRootIfMissing(t *testing.T) {
	urls := ensureIncludes([]string{"https://acme.example/about"}, "https://acme.example/")
	assert.Equal(t, []string{"https://acme.example/", "https://acme.example/about"}, urls)
}

func TestEnsureIncludes_NoDuplicateIfPresent(t *testing.T) {
	urls := ensureIncludes([]string{"https://acme.example/", "https://acme.example/about"}, "https://acme.example/")
	assert.Len(t, urls, 2)
}
