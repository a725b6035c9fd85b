// Package model defines the structured business-intelligence record
// produced by a single company extraction, along with its provenance
// and classification sub-types.
package model

import "time"

// ScrapeStatus is the terminal or in-flight lifecycle state of a Record.
type ScrapeStatus string

const (
	StatusPending ScrapeStatus = "pending"
	StatusRunning ScrapeStatus = "running"
	StatusSuccess ScrapeStatus = "success"
	StatusPartial ScrapeStatus = "partial"
	StatusFailed  ScrapeStatus = "failed"
)

// Platform enumerates the closed set of social-media platforms that
// social_media keys may take.
type Platform string

const (
	PlatformFacebook  Platform = "facebook"
	PlatformTwitter   Platform = "twitter"
	PlatformLinkedIn  Platform = "linkedin"
	PlatformInstagram Platform = "instagram"
	PlatformYouTube   Platform = "youtube"
	PlatformTikTok    Platform = "tiktok"
	PlatformGitHub    Platform = "github"
	PlatformPinterest Platform = "pinterest"
	PlatformMedium    Platform = "medium"
	PlatformReddit    Platform = "reddit"
	PlatformDiscord   Platform = "discord"
	PlatformTwitch    Platform = "twitch"
	PlatformVimeo     Platform = "vimeo"
	PlatformThreads   Platform = "threads"
	PlatformMastodon  Platform = "mastodon"
)

// AllPlatforms is the closed enumeration used to validate social_media
// keys (invariant 6 in spec §3).
var AllPlatforms = []Platform{
	PlatformFacebook, PlatformTwitter, PlatformLinkedIn, PlatformInstagram,
	PlatformYouTube, PlatformTikTok, PlatformGitHub, PlatformPinterest,
	PlatformMedium, PlatformReddit, PlatformDiscord, PlatformTwitch,
	PlatformVimeo, PlatformThreads, PlatformMastodon,
}

// Classification is an enumerated field paired with the model's
// confidence in its value.
type Classification struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// UnknownClassification is the sentinel used whenever a classification
// cannot be determined or falls outside its declared enum.
func UnknownClassification() Classification {
	return Classification{Value: "unknown", Confidence: 0}
}

// LLMCall records one accounted LLM invocation for cost/usage rollup.
type LLMCall struct {
	ProviderID   string  `json:"provider_id"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// ScrapedContentDetail captures the character count extracted from one
// crawled page, keyed by URL in ScrapedContentDetails.
type ScrapedContentDetail struct {
	URL        string `json:"url"`
	CharCount  int    `json:"char_count"`
	SourceTag  string `json:"source_tag,omitempty"`
	FetchError string `json:"fetch_error,omitempty"`
}

// ScrapeError is the nullable, user-visible failure reason for a job
// that did not reach success.
type ScrapeError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Record is the structured output produced per company. See spec §3
// for the full field-by-field contract and invariants.
type Record struct {
	// Identity
	ID      string `json:"id"`
	Name    string `json:"name"`
	Website string `json:"website"`

	// Descriptive (free text)
	Description        string `json:"description,omitempty"`
	ValueProposition    string `json:"value_proposition,omitempty"`
	Industry            string `json:"industry,omitempty"`
	BusinessModel       string `json:"business_model,omitempty"`
	TargetMarket        string `json:"target_market,omitempty"`
	CompanySize         string `json:"company_size,omitempty"`
	FoundingYear        string `json:"founding_year,omitempty"`
	Location            string `json:"location,omitempty"`
	EmployeeCountRange  string `json:"employee_count_range,omitempty"`
	CompanyCulture      string `json:"company_culture,omitempty"`
	FundingStatus       string `json:"funding_status,omitempty"`

	// Enumerated classifications
	CompanyStage       *Classification `json:"company_stage,omitempty"`
	TechSophistication *Classification `json:"tech_sophistication,omitempty"`
	GeographicScope    *Classification `json:"geographic_scope,omitempty"`
	BusinessModelType  *Classification `json:"business_model_type,omitempty"`
	DecisionMakerType  *Classification `json:"decision_maker_type,omitempty"`
	SalesComplexity    *Classification `json:"sales_complexity,omitempty"`
	SaaSClassification *Classification `json:"saas_classification,omitempty"`
	IsSaaS             *Classification `json:"is_saas,omitempty"`

	// Lists
	TechStack                []string `json:"tech_stack,omitempty"`
	PainPoints                []string `json:"pain_points,omitempty"`
	KeyServices               []string `json:"key_services,omitempty"`
	CompetitiveAdvantages     []string `json:"competitive_advantages,omitempty"`
	ProductsServicesOffered   []string `json:"products_services_offered,omitempty"`
	Partnerships              []string `json:"partnerships,omitempty"`
	Certifications            []string `json:"certifications,omitempty"`
	Awards                    []string `json:"awards,omitempty"`
	RecentNews                []string `json:"recent_news,omitempty"`
	LeadershipTeam            []string `json:"leadership_team,omitempty"`

	// Maps
	SocialMedia map[Platform]string `json:"social_media,omitempty"`
	ContactInfo map[string]string   `json:"contact_info,omitempty"`

	// Provenance
	PagesCrawled           []string               `json:"pages_crawled"`
	NormalizedWebsite      string                 `json:"normalized_website,omitempty"`
	CrawlDepth             int                    `json:"crawl_depth"`
	CrawlDurationSeconds   float64                `json:"crawl_duration_seconds"`
	ScrapedContentDetails  []ScrapedContentDetail `json:"scraped_content_details,omitempty"`
	SelectionMethod        string                 `json:"selection_method,omitempty"`
	LLMCalls               []LLMCall              `json:"llm_calls,omitempty"`
	TotalInputTokens       int64                  `json:"total_input_tokens"`
	TotalOutputTokens      int64                  `json:"total_output_tokens"`
	TotalCostUSD           float64                `json:"total_cost_usd"`
	CreatedAt              time.Time              `json:"created_at"`
	LastUpdated            time.Time              `json:"last_updated"`
	ScrapeStatus           ScrapeStatus           `json:"scrape_status"`
	ScrapeError            *ScrapeError           `json:"scrape_error,omitempty"`

	// Vector
	Embedding []float32 `json:"embedding,omitempty"`
}

// New creates a pending Record with only identity fields populated, per
// the lifecycle described in spec §3.
func New(id, name, website string) *Record {
	now := time.Now().UTC()
	return &Record{
		ID:           id,
		Name:         name,
		Website:      website,
		PagesCrawled: []string{},
		CreatedAt:    now,
		LastUpdated:  now,
		ScrapeStatus: StatusPending,
	}
}

// Touch bumps LastUpdated and must be called by the owning pipeline on
// every mutation so that invariant 7 (created_at <= last_updated) holds.
func (r *Record) Touch() {
	r.LastUpdated = time.Now().UTC()
}

// AddLLMCall appends a call record and rolls its counts into the
// record's totals, preserving invariant 1 (sums match).
func (r *Record) AddLLMCall(call LLMCall) {
	r.LLMCalls = append(r.LLMCalls, call)
	r.TotalInputTokens += call.InputTokens
	r.TotalOutputTokens += call.OutputTokens
	r.TotalCostUSD += call.CostUSD
	r.Touch()
}

// IsValidPlatform reports whether p is a member of the closed platform
// enumeration.
func IsValidPlatform(p Platform) bool {
	for _, known := range AllPlatforms {
		if known == p {
			return true
		}
	}
	return false
}
