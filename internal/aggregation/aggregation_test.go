package aggregation

import (
	"testing"

	"bizintel/internal/config"
	"bizintel/internal/llmclient"
	"bizintel/internal/model"

	"github.com/stretchr/testify/assert"
)

func TestApplyFields_PopulatesDescriptiveAndListFields(t *testing.T) {
	rec := model.New("id-1", "Acme", "https://acme.example")
	fields := map[string]any{
		"description":   "Acme makes widgets.",
		"industry":      "manufacturing",
		"tech_stack":    []any{"Go", "Postgres"},
		"contact_info":  map[string]any{"email": "hi@acme.example"},
		"company_stage": map[string]any{"value": "growth", "confidence": 0.8},
	}
	applyFields(rec, fields)

	assert.Equal(t, "Acme makes widgets.", rec.Description)
	assert.Equal(t, "manufacturing", rec.Industry)
	assert.Equal(t, []string{"Go", "Postgres"}, rec.TechStack)
	assert.Equal(t, "hi@acme.example", rec.ContactInfo["email"])
	assert.Equal(t, "growth", rec.CompanyStage.Value)
	assert.Equal(t, 0.8, rec.CompanyStage.Confidence)
}

func TestClassification_CoercesOutOfEnumToUnknown(t *testing.T) {
	fields := map[string]any{
		"company_stage": map[string]any{"value": "legendary", "confidence": 0.9},
	}
	c := classification(fields, "company_stage")
	assert.Equal(t, "unknown", c.Value)
	assert.Equal(t, float64(0), c.Confidence)
}

func TestClassification_AcceptsUnknownSentinel(t *testing.T) {
	fields := map[string]any{
		"company_stage": map[string]any{"value": "unknown", "confidence": 0},
	}
	c := classification(fields, "company_stage")
	assert.Equal(t, "unknown", c.Value)
}

func TestClassification_MissingKeyReturnsNil(t *testing.T) {
	assert.Nil(t, classification(map[string]any{}, "company_stage"))
}

func TestBuildPrompt_TruncatesPerPageAndCapsTotal(t *testing.T) {
	pages := []Page{
		{URL: "https://acme.example/", Text: stringsRepeat("a", 100)},
	}
	prompt := buildPrompt("Acme", pages, 10, 10000)
	assert.LessOrEqual(t, len(prompt), 10000)
	assert.Contains(t, prompt, "PAGE: https://acme.example/")
}

func TestCostOf_ComputesFromPriceTable(t *testing.T) {
	cfg := config.AggregationConfig{
		Prices: map[string]config.Price{
			"openai:gpt-4": {InputPerMillion: 5, OutputPerMillion: 15},
		},
	}
	usage := llmclient.CompleteResult{ProviderID: "openai:gpt-4", InputTokens: 1_000_000, OutputTokens: 1_000_000}

	cost := costOf(usage, cfg)
	assert.Equal(t, 20.0, cost)
}

func TestCostOf_UnknownProviderIsZero(t *testing.T) {
	cfg := config.AggregationConfig{Prices: map[string]config.Price{}}
	cost := costOf(llmclient.CompleteResult{ProviderID: "unknown:model", InputTokens: 100, OutputTokens: 100}, cfg)
	assert.Equal(t, 0.0, cost)
}

func stringsRepeat(s string, n int) string {
	out := make([]byte, 0, len(s)*n)
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}
