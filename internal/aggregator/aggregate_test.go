package aggregator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntoineDubuc/theodore/internal/llmgateway"
	"github.com/AntoineDubuc/theodore/internal/model"
)

type fakeProvider struct {
	name string
	text string
	err  error
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Call(ctx context.Context, systemPrompt, userPrompt string, opts llmgateway.CallOptions) (string, model.TokenUsage, error) {
	if f.err != nil {
		return "", model.TokenUsage{}, f.err
	}
	return f.text, model.TokenUsage{InputTokens: 100, OutputTokens: 50}, nil
}

func samplePages() []model.PageContent {
	return []model.PageContent{
		{URL: "https://acme.com/", ContentKind: model.ContentMarkdown, Body: "Acme Corp builds widgets for the construction industry."},
		{URL: "https://acme.com/about", ContentKind: model.ContentMarkdown, Body: "Founded in 2015, Acme has grown into a trusted regional supplier with decades of combined team experience."},
		{URL: "https://acme.com/careers", ContentKind: model.ContentMarkdown, Body: "We're hiring! Check our open positions and apply now to join our team."},
	}
}

func TestAggregate_MergesLLMResponse(t *testing.T) {
	provider := &fakeProvider{name: "p", text: `{
		"industry": "Construction",
		"business_model": "B2B",
		"company_description": "Acme builds widgets.",
		"key_services": ["widgets", "installation"],
		"founding_year": 2015,
		"contact_info": {"email": "hello@acme.com", "phone": "", "address": ""},
		"social_media": {"linkedin": "https://linkedin.com/acme"},
		"ai_summary": "Acme is a construction widget maker."
	}`}
	gw := llmgateway.NewGateway(provider, nil, 60, time.Second)
	a := NewAggregator(gw)

	record, usage, err := a.Aggregate(context.Background(), samplePages(), "Acme", "https://acme.com")
	require.NoError(t, err)
	assert.Equal(t, "Construction", record.Industry)
	assert.Equal(t, "B2B", record.BusinessModel)
	assert.Equal(t, []string{"widgets", "installation"}, record.KeyServices)
	assert.Equal(t, 2015, record.FoundingYear)
	assert.Equal(t, "hello@acme.com", record.ContactInfo.Email)
	assert.Equal(t, "https://linkedin.com/acme", record.SocialMedia["linkedin"])
	assert.Equal(t, model.ScrapeSuccess, record.ScrapeStatus)
	assert.Equal(t, int64(100), usage.InputTokens)
}

func TestAggregate_AppliesJobListingHeuristic(t *testing.T) {
	provider := &fakeProvider{name: "p", text: `{"ai_summary": "Acme summary."}`}
	gw := llmgateway.NewGateway(provider, nil, 60, time.Second)
	a := NewAggregator(gw)

	record, _, err := a.Aggregate(context.Background(), samplePages(), "Acme", "https://acme.com")
	require.NoError(t, err)
	assert.True(t, record.HasJobListings)
	assert.Positive(t, record.JobListingsCount)
}

func TestAggregate_FallsBackToRawTextOnGatewayFailure(t *testing.T) {
	provider := &fakeProvider{name: "p", err: errors.New("rate limited")}
	gw := llmgateway.NewGateway(provider, nil, 60, time.Second)
	a := NewAggregator(gw)

	record, _, err := a.Aggregate(context.Background(), samplePages(), "Acme", "https://acme.com")
	require.NoError(t, err)
	assert.Equal(t, model.ScrapePartial, record.ScrapeStatus)
	assert.NotEmpty(t, record.AISummary)
}

func TestAggregate_UsesRawResponseTextOnJSONParseFailure(t *testing.T) {
	provider := &fakeProvider{name: "p", text: "Acme is a widget maker but I forgot to use JSON."}
	gw := llmgateway.NewGateway(provider, nil, 60, time.Second)
	a := NewAggregator(gw)

	record, _, err := a.Aggregate(context.Background(), samplePages(), "Acme", "https://acme.com")
	require.NoError(t, err)
	assert.Equal(t, model.ScrapePartial, record.ScrapeStatus)
	assert.Equal(t, "Acme is a widget maker but I forgot to use JSON.", record.AISummary)
}

func TestAggregate_EmptyPagesProducesPartialWithoutCallingGateway(t *testing.T) {
	provider := &fakeProvider{name: "p", err: errors.New("should not be called")}
	gw := llmgateway.NewGateway(provider, nil, 60, time.Second)
	a := NewAggregator(gw)

	record, _, err := a.Aggregate(context.Background(), nil, "Acme", "https://acme.com")
	require.NoError(t, err)
	assert.Equal(t, model.ScrapePartial, record.ScrapeStatus)
}

func TestGroupByPageType_SkipsEmptyPages(t *testing.T) {
	pages := []model.PageContent{
		{URL: "https://acme.com/about", ContentKind: model.ContentMarkdown, Body: "about text"},
		{URL: "https://acme.com/broken", ContentKind: model.ContentEmpty, Error: "timeout"},
	}
	groups := groupByPageType(pages)
	assert.Len(t, groups[model.PageTypeAbout], 1)
	assert.Len(t, groups[model.PageTypeMain], 0)
}

func TestBuildCorpus_RoundRobinsAcrossGroups(t *testing.T) {
	groups := map[model.PageType][]model.PageContent{
		model.PageTypeMain:  {{URL: "https://acme.com/", Body: "home body"}},
		model.PageTypeAbout: {{URL: "https://acme.com/about", Body: "about body"}},
	}
	corpus := buildCorpus(groups, 1000)
	assert.Contains(t, corpus, "home body")
	assert.Contains(t, corpus, "about body")
}

func TestClassifyPageType(t *testing.T) {
	assert.Equal(t, model.PageTypeAbout, classifyPageType("https://acme.com/about-us"))
	assert.Equal(t, model.PageTypeCareers, classifyPageType("https://acme.com/careers/engineering"))
	assert.Equal(t, model.PageTypeMain, classifyPageType("https://acme.com/"))
	assert.Equal(t, model.PageTypeMain, classifyPageType("https://acme.com/random-page"))
}

func TestClassifyBusinessModelType(t *testing.T) {
	assert.Equal(t, "saas", classifyBusinessModelType("Start your free trial today. Our SaaS dashboard gives you API access."))
	assert.Equal(t, "", classifyBusinessModelType("Nothing relevant here."))
}

func TestClassifyTechSophistication(t *testing.T) {
	assert.Equal(t, "high", classifyTechSophistication("Our platform uses machine learning, cloud infrastructure, API integration, and real-time automation."))
	assert.Equal(t, "low", classifyTechSophistication("We sell handmade furniture."))
}

func TestDetectJobListings(t *testing.T) {
	groups := map[model.PageType][]model.PageContent{
		model.PageTypeCareers: {{Body: "We're hiring! Apply now for open positions."}},
	}
	found, count := detectJobListings(groups)
	assert.True(t, found)
	assert.Positive(t, count)

	found, count = detectJobListings(nil)
	assert.False(t, found)
	assert.Zero(t, count)
}

func TestAggregate_SummaryAloneIsOnlyPartial(t *testing.T) {
	provider := &fakeProvider{name: "p", text: `{
		"ai_summary": "A summary with no supporting fields."
	}`}
	gw := llmgateway.NewGateway(provider, nil, 60, time.Second)
	a := NewAggregator(gw)

	// Pages with no classification signals, so the heuristics stay quiet.
	pages := []model.PageContent{
		{URL: "https://acme.com/", ContentKind: model.ContentMarkdown, Body: "Hello and welcome to our site."},
	}

	record, _, err := a.Aggregate(context.Background(), pages, "Acme", "https://acme.com")
	require.NoError(t, err)
	assert.Equal(t, model.ScrapePartial, record.ScrapeStatus)
	assert.NotEmpty(t, record.AISummary)
}
