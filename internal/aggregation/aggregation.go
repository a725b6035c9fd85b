// Package aggregation implements the Intelligence Aggregator (C7,
// Phase 4): combines extracted page texts into a single large-context
// prompt and parses the LLM's JSON response into the record's
// free-text, enumerated, list, and map fields.
package aggregation

import (
	"context"
	"fmt"
	"strings"

	"bizintel/internal/config"
	"bizintel/internal/llmclient"
	"bizintel/internal/model"
)

// Page is one input page's cleaned text, keyed by URL.
type Page struct {
	URL  string
	Text string
}

// Result is the aggregation outcome: whether the LLM returned usable
// JSON at all, plus the usage of the accounted call. The parsed fields
// are written into the Record, not into Result.
type Result struct {
	OK    bool
	Usage llmclient.CompleteResult
}

var enumDomains = map[string][]string{
	"company_stage":       {"startup", "growth", "established", "enterprise"},
	"tech_sophistication": {"low", "medium", "high"},
	"geographic_scope":    {"local", "regional", "national", "international", "global"},
	"business_model_type": {"b2b", "b2c", "b2b2c", "marketplace", "hybrid"},
	"decision_maker_type":  {"individual", "committee", "procurement"},
	"sales_complexity":    {"self_serve", "transactional", "enterprise_sales"},
	"saas_classification": {"saas", "on_premise", "hybrid", "not_software"},
	"is_saas":             {"true", "false"},
}

// Aggregate runs the aggregation prompt over pages and mutates rec in
// place with every field the LLM returns (§4.7). On any fatal failure
// (malformed JSON twice) it returns Result{OK:false} and leaves rec's
// descriptive fields untouched, per §7's partial-status contract.
func Aggregate(ctx context.Context, pool *llmclient.Pool, rec *model.Record, pages []Page, cfg config.AggregationConfig) Result {
	perPage := cfg.PerPageChars
	if perPage <= 0 {
		perPage = 5000
	}
	maxPrompt := cfg.MaxPromptChars
	if maxPrompt <= 0 {
		maxPrompt = 400000
	}

	prompt := buildPrompt(rec.Name, pages, perPage, maxPrompt)

	fields, usage, err := pool.CompleteJSON(ctx, llmclient.CompleteRequest{
		SystemPrompt:    systemPrompt,
		UserPrompt:      prompt,
		Temperature:     0.2,
		MaxOutputTokens: 4096,
	})
	if usage.ProviderID != "" {
		rec.AddLLMCall(model.LLMCall{
			ProviderID:   usage.ProviderID,
			InputTokens:  usage.InputTokens,
			OutputTokens: usage.OutputTokens,
			CostUSD:      costOf(usage, cfg),
		})
	}
	if err != nil {
		return Result{OK: false, Usage: usage}
	}

	applyFields(rec, fields)
	return Result{OK: true, Usage: usage}
}

const systemPrompt = "You are a meticulous business-intelligence analyst. You only state facts visible in the supplied page text; you never invent information. Respond with a single JSON object and no other text."

func buildPrompt(companyName string, pages []Page, perPage, maxPrompt int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s\n\n", companyName)
	b.WriteString(schemaInstruction)
	b.WriteString("\n\nSource pages:\n")

	for _, p := range pages {
		text := p.Text
		if len(text) > perPage {
			text = text[:perPage]
		}
		fmt.Fprintf(&b, "\n--- PAGE: %s ---\n%s\n", p.URL, text)
		if b.Len() >= maxPrompt {
			break
		}
	}

	out := b.String()
	if len(out) > maxPrompt {
		out = out[:maxPrompt]
	}
	return out
}

const schemaInstruction = `Return strictly a JSON object with these keys (omit nothing; use "" for unknown free text, [] for empty lists, {} for empty maps, and null for an unknown classification):
description, value_proposition, industry, business_model, target_market, company_size, founding_year, location, employee_count_range, company_culture, funding_status (strings);
company_stage, tech_sophistication, geographic_scope, business_model_type, decision_maker_type, sales_complexity, saas_classification, is_saas (each an object {"value": string, "confidence": number in [0,1]}, or null);
tech_stack, pain_points, key_services, competitive_advantages, products_services_offered, partnerships, certifications, awards, recent_news, leadership_team (string arrays);
contact_info (map of string to string, e.g. {"email": "...", "phone": "..."}).`

// applyFields copies recognized fields from the parsed JSON object into
// rec, coercing enum values outside their declared domain to the
// "unknown" sentinel per §3 invariant 5.
func applyFields(rec *model.Record, fields map[string]any) {
	rec.Description = str(fields, "description")
	rec.ValueProposition = str(fields, "value_proposition")
	rec.Industry = str(fields, "industry")
	rec.BusinessModel = str(fields, "business_model")
	rec.TargetMarket = str(fields, "target_market")
	rec.CompanySize = str(fields, "company_size")
	rec.FoundingYear = str(fields, "founding_year")
	rec.Location = str(fields, "location")
	rec.EmployeeCountRange = str(fields, "employee_count_range")
	rec.CompanyCulture = str(fields, "company_culture")
	rec.FundingStatus = str(fields, "funding_status")

	rec.CompanyStage = classification(fields, "company_stage")
	rec.TechSophistication = classification(fields, "tech_sophistication")
	rec.GeographicScope = classification(fields, "geographic_scope")
	rec.BusinessModelType = classification(fields, "business_model_type")
	rec.DecisionMakerType = classification(fields, "decision_maker_type")
	rec.SalesComplexity = classification(fields, "sales_complexity")
	rec.SaaSClassification = classification(fields, "saas_classification")
	rec.IsSaaS = classification(fields, "is_saas")

	rec.TechStack = strList(fields, "tech_stack")
	rec.PainPoints = strList(fields, "pain_points")
	rec.KeyServices = strList(fields, "key_services")
	rec.CompetitiveAdvantages = strList(fields, "competitive_advantages")
	rec.ProductsServicesOffered = strList(fields, "products_services_offered")
	rec.Partnerships = strList(fields, "partnerships")
	rec.Certifications = strList(fields, "certifications")
	rec.Awards = strList(fields, "awards")
	rec.RecentNews = strList(fields, "recent_news")
	rec.LeadershipTeam = strList(fields, "leadership_team")

	rec.ContactInfo = strMap(fields, "contact_info")
	rec.Touch()
}

func str(fields map[string]any, key string) string {
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}

func strList(fields map[string]any, key string) []string {
	raw, ok := fields[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func strMap(fields map[string]any, key string) map[string]string {
	raw, ok := fields[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out[k] = s
		}
	}
	return out
}

func classification(fields map[string]any, key string) *model.Classification {
	raw, ok := fields[key].(map[string]any)
	if !ok {
		return nil
	}
	value, _ := raw["value"].(string)
	confidence, _ := raw["confidence"].(float64)
	if confidence < 0 || confidence > 1 {
		confidence = 0
	}

	domain := enumDomains[key]
	valid := value == "unknown"
	for _, allowed := range domain {
		if allowed == value {
			valid = true
			break
		}
	}
	if !valid {
		c := model.UnknownClassification()
		return &c
	}
	return &model.Classification{Value: value, Confidence: confidence}
}

func costOf(usage llmclient.CompleteResult, cfg config.AggregationConfig) float64 {
	price, ok := cfg.Prices[usage.ProviderID]
	if !ok {
		return 0
	}
	in := float64(usage.InputTokens) / 1_000_000 * price.InputPerMillion
	out := float64(usage.OutputTokens) / 1_000_000 * price.OutputPerMillion
	return in + out
}
