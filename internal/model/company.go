package model

import "time"

// ScrapeStatus is the terminal outcome of a research run.
type ScrapeStatus string

const (
	ScrapeSuccess ScrapeStatus = "success"
	ScrapePartial ScrapeStatus = "partial"
	ScrapeFailed  ScrapeStatus = "failed"
)

// ContactInfo holds free-text contact details extracted from a site.
type ContactInfo struct {
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

// CompanyRecord is the structured intelligence artifact produced by one
// research run.
type CompanyRecord struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Website string `json:"website"`

	Industry               string            `json:"industry,omitempty"`
	BusinessModel          string            `json:"business_model,omitempty"`
	TargetMarket           string            `json:"target_market,omitempty"`
	CompanySize            string            `json:"company_size,omitempty"`
	CompanyDescription     string            `json:"company_description,omitempty"`
	ValueProposition       string            `json:"value_proposition,omitempty"`
	KeyServices            []string          `json:"key_services,omitempty"`
	CompetitiveAdvantages  []string          `json:"competitive_advantages,omitempty"`
	TechStack              []string          `json:"tech_stack,omitempty"`
	PainPoints             []string          `json:"pain_points,omitempty"`
	Location               string            `json:"location,omitempty"`
	FoundingYear           int               `json:"founding_year,omitempty"`
	EmployeeCountRange     string            `json:"employee_count_range,omitempty"`
	CompanyCulture         string            `json:"company_culture,omitempty"`
	FundingStatus          string            `json:"funding_status,omitempty"`
	LeadershipTeam         []string          `json:"leadership_team,omitempty"`
	ContactInfo            ContactInfo       `json:"contact_info,omitempty"`
	SocialMedia            map[string]string `json:"social_media,omitempty"`
	RecentNews             []string          `json:"recent_news,omitempty"`
	Certifications         []string          `json:"certifications,omitempty"`
	Partnerships           []string          `json:"partnerships,omitempty"`
	Awards                 []string          `json:"awards,omitempty"`
	CompanyStage           string            `json:"company_stage,omitempty"`
	TechSophistication     string            `json:"tech_sophistication,omitempty"`
	BusinessModelType      string            `json:"business_model_type,omitempty"`
	GeographicScope        string            `json:"geographic_scope,omitempty"`
	DecisionMakerType      string            `json:"decision_maker_type,omitempty"`
	SalesComplexity        string            `json:"sales_complexity,omitempty"`
	HasJobListings         bool              `json:"has_job_listings,omitempty"`
	JobListingsCount       int               `json:"job_listings_count,omitempty"`
	AISummary              string            `json:"ai_summary,omitempty"`

	PagesCrawled   []string     `json:"pages_crawled,omitempty"`
	CrawlDurationMS int64       `json:"crawl_duration_ms,omitempty"`
	ScrapeStatus   ScrapeStatus `json:"scrape_status,omitempty"`
	ScrapeError    string       `json:"scrape_error,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	LastUpdated    time.Time    `json:"last_updated"`
	Embedding      []float32    `json:"embedding,omitempty"`
}

// HasDescription reports whether any descriptive field is populated, used
// for the has_description key of the vector index's small_metadata.
func (r *CompanyRecord) HasDescription() bool {
	return r.CompanyDescription != "" || r.AISummary != ""
}

// TokenUsage tracks LLM token consumption for cost attribution.
type TokenUsage struct {
	InputTokens              int64   `json:"input_tokens"`
	OutputTokens             int64   `json:"output_tokens"`
	CacheCreationInputTokens int64   `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64   `json:"cache_read_input_tokens"`
	Cost                     float64 `json:"cost"`
}

// Add merges usage from another instance in place.
func (t *TokenUsage) Add(other TokenUsage) {
	t.InputTokens += other.InputTokens
	t.OutputTokens += other.OutputTokens
	t.CacheCreationInputTokens += other.CacheCreationInputTokens
	t.CacheReadInputTokens += other.CacheReadInputTokens
	t.Cost += other.Cost
}
