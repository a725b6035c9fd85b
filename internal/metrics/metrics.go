// Package metrics is a minimal in-memory Prometheus-text exporter
// served by the ambient ops HTTP surface (internal/httpapi) at
// /metrics. It holds counters for completed jobs, LLM calls, batches
// and breaker trips; only the job counter is incremented outside this
// package (by httpapi's /v1/extract route), so the other series stay
// at zero unless a caller invokes their Record* function.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	mu sync.RWMutex

	jobsTotal    = make(map[string]int64) // keyed by scrape_status
	llmCallsTotal = make(map[llmKey]int64)
	batchesTotal int64
	breakerTrips int64
)

type llmKey struct {
	Provider string
}

// RecordJob increments the completed-job counter for status.
func RecordJob(status string) {
	mu.Lock()
	defer mu.Unlock()
	jobsTotal[status]++
}

// RecordLLMCall increments the call counter for a provider id (e.g.
// "openai:gpt-4").
func RecordLLMCall(providerID string) {
	mu.Lock()
	defer mu.Unlock()
	llmCallsTotal[llmKey{Provider: providerID}]++
}

// RecordBatch increments the completed-batch counter.
func RecordBatch() {
	mu.Lock()
	defer mu.Unlock()
	batchesTotal++
}

// RecordBreakerTrip increments the circuit-breaker trip counter.
func RecordBreakerTrip() {
	mu.Lock()
	defer mu.Unlock()
	breakerTrips++
}

// Export renders all counters as Prometheus exposition text.
func Export() string {
	mu.RLock()
	defer mu.RUnlock()

	var b strings.Builder

	b.WriteString("# HELP bizintel_jobs_total Completed extraction jobs by terminal status\n")
	b.WriteString("# TYPE bizintel_jobs_total counter\n")
	var statuses []string
	for s := range jobsTotal {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		fmt.Fprintf(&b, "bizintel_jobs_total{status=\"%s\"} %d\n", s, jobsTotal[s])
	}

	b.WriteString("# HELP bizintel_llm_calls_total LLM completion calls by provider\n")
	b.WriteString("# TYPE bizintel_llm_calls_total counter\n")
	var keys []llmKey
	for k := range llmCallsTotal {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Provider < keys[j].Provider })
	for _, k := range keys {
		fmt.Fprintf(&b, "bizintel_llm_calls_total{provider=\"%s\"} %d\n", k.Provider, llmCallsTotal[k])
	}

	b.WriteString("# HELP bizintel_batches_total Completed batch runs\n")
	b.WriteString("# TYPE bizintel_batches_total counter\n")
	fmt.Fprintf(&b, "bizintel_batches_total %d\n", batchesTotal)

	b.WriteString("# HELP bizintel_breaker_trips_total Batch circuit-breaker trips\n")
	b.WriteString("# TYPE bizintel_breaker_trips_total counter\n")
	fmt.Fprintf(&b, "bizintel_breaker_trips_total %d\n", breakerTrips)

	return b.String()
}
