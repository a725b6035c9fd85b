// Package selection implements the Page Selector (C5, Phase 2): an
// LLM-ranked choice of the k most valuable candidate pages, with a
// deterministic heuristic fallback whenever the LLM path fails.
package selection

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"bizintel/internal/config"
	"bizintel/internal/discovery"
	"bizintel/internal/llmclient"
)

// Method records how the final selection was produced.
type Method string

const (
	MethodLLM       Method = "llm"
	MethodHeuristic Method = "heuristic"
)

// Result is the selection output.
type Result struct {
	URLs   []string
	Method Method
}

// defaultPriorities mirrors §4.5 step 4's fixed priority list.
var defaultPriorities = []string{
	"/contact", "/about", "/team", "/careers", "/leadership",
	"/products", "/services", "/pricing", "/company",
}

// Select runs the LLM ranking path, falling back to the heuristic on
// any failure (never fatal, per §7).
func Select(ctx context.Context, pool *llmclient.Pool, companyName, rootURL string, candidates []discovery.Candidate, cfg config.SelectionConfig) Result {
	k := cfg.MaxPages
	if k <= 0 {
		k = 10
	}

	if cfg.UseLLM && pool != nil {
		if urls, ok := selectWithLLM(ctx, pool, companyName, candidates, k); ok {
			return finalize(urls, rootURL, cfg, MethodLLM)
		}
	}

	priorities := cfg.PriorityPaths
	if len(priorities) == 0 {
		priorities = defaultPriorities
	}
	urls := heuristicSelect(candidates, priorities, k)
	return finalize(urls, rootURL, cfg, MethodHeuristic)
}

// finalize caps urls at k, then force-adds the root URL if configured
// to. Root is added *after* capping and is allowed to grow the result
// to k+1 rather than evicting the lowest-ranked already-selected pick
// (§8 scenario 3 expects exactly k heuristic picks "plus root").
func finalize(urls []string, rootURL string, cfg config.SelectionConfig, method Method) Result {
	k := cfg.MaxPages
	if k <= 0 {
		k = 10
	}
	if len(urls) > k {
		urls = urls[:k]
	}
	if cfg.AlwaysIncludeRoot {
		urls = ensureIncludes(urls, rootURL)
	}
	return Result{URLs: urls, Method: method}
}

func ensureIncludes(urls []string, target string) []string {
	for _, u := range urls {
		if u == target {
			return urls
		}
	}
	return append([]string{target}, urls...)
}

func selectWithLLM(ctx context.Context, pool *llmclient.Pool, companyName string, candidates []discovery.Candidate, k int) ([]string, bool) {
	if len(candidates) == 0 {
		return nil, false
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s\n\nCandidate pages (source tag in parentheses):\n", companyName)
	for _, c := range candidates {
		fmt.Fprintf(&b, "- %s (%s)\n", c.URL, c.Source)
	}
	b.WriteString("\nSelect the pages most valuable for business-intelligence extraction, prioritizing contact, about, team, careers, products/services, leadership, and pricing pages. ")
	fmt.Fprintf(&b, "Return strictly a JSON object {\"urls\": [string, ...]} containing at most %d URLs chosen only from the candidate list above, ranked by value.", k)

	fields, _, err := pool.CompleteJSON(ctx, llmclient.CompleteRequest{
		SystemPrompt:    "You are a precise JSON-only assistant for selecting web pages.",
		UserPrompt:      b.String(),
		Temperature:     0.1,
		MaxOutputTokens: 1024,
	})
	if err != nil {
		return nil, false
	}

	raw, ok := fields["urls"].([]any)
	if !ok {
		return nil, false
	}

	allowed := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		allowed[c.URL] = true
	}

	seen := make(map[string]bool)
	var urls []string
	for _, v := range raw {
		s, ok := v.(string)
		if !ok || !allowed[s] || seen[s] {
			continue
		}
		seen[s] = true
		urls = append(urls, s)
		if len(urls) >= k {
			break
		}
	}
	if len(urls) == 0 {
		return nil, false
	}
	return urls, true
}

// sourceRank orders source tags per §4.5 tie-break: sitemap > robots > crawl.
func sourceRank(s discovery.SourceTag) int {
	switch s {
	case discovery.SourceSitemap:
		return 0
	case discovery.SourceRobots:
		return 1
	default:
		return 2
	}
}

// heuristicSelect scores candidates by substring match against
// priorities, then shallower path depth, then source-tag order, per
// §4.5 step 4, with the §4.5 tie-break rules (shorter path wins,
// higher in original discovery order wins).
func heuristicSelect(candidates []discovery.Candidate, priorities []string, k int) []string {
	type scored struct {
		url        string
		priority   int
		depth      int
		sourceRank int
		origIndex  int
	}

	scoredList := make([]scored, 0, len(candidates))
	for i, c := range candidates {
		u, err := url.Parse(c.URL)
		path := c.URL
		if err == nil {
			path = u.Path
		}
		priorityScore := len(priorities)
		for pi, p := range priorities {
			if strings.Contains(path, p) {
				priorityScore = pi
				break
			}
		}
		scoredList = append(scoredList, scored{
			url:        c.URL,
			priority:   priorityScore,
			depth:      strings.Count(strings.Trim(path, "/"), "/"),
			sourceRank: sourceRank(c.Source),
			origIndex:  i,
		})
	}

	sort.SliceStable(scoredList, func(i, j int) bool {
		a, b := scoredList[i], scoredList[j]
		if a.priority != b.priority {
			return a.priority < b.priority
		}
		if a.depth != b.depth {
			return a.depth < b.depth
		}
		if a.sourceRank != b.sourceRank {
			return a.sourceRank < b.sourceRank
		}
		if len(a.url) != len(b.url) {
			return len(a.url) < len(b.url)
		}
		return a.origIndex < b.origIndex
	})

	if k > len(scoredList) {
		k = len(scoredList)
	}
	urls := make([]string, 0, k)
	for i := 0; i < k; i++ {
		urls = append(urls, scoredList[i].url)
	}
	return urls
}
