package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExport_IncludesRecordedCounters(t *testing.T) {
	RecordJob("success")
	RecordJob("success")
	RecordLLMCall("openai:gpt-4")
	RecordBatch()
	RecordBreakerTrip()

	out := Export()
	assert.Contains(t, out, `bizintel_jobs_total{status="success"} 2`)
	assert.Contains(t, out, `bizintel_llm_calls_total{provider="openai:gpt-4"} 1`)
	assert.Contains(t, out, "bizintel_batches_total 1")
	assert.Contains(t, out, "bizintel_breaker_trips_total 1")
}
