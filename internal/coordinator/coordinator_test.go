package coordinator

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntoineDubuc/theodore/internal/model"
	"github.com/AntoineDubuc/theodore/internal/progress"
	"github.com/AntoineDubuc/theodore/internal/resilience"
	"github.com/AntoineDubuc/theodore/internal/selector"
)

type fakeDiscoverer struct {
	set *model.DiscoverySet
	err error
}

func (f *fakeDiscoverer) Discover(_ context.Context, _ string) (*model.DiscoverySet, error) {
	return f.set, f.err
}

type fakeSelector struct {
	result selector.Result
	err    error
}

func (f *fakeSelector) Select(_ context.Context, _ *model.DiscoverySet, _ string, _ int) (selector.Result, error) {
	return f.result, f.err
}

type fakeExtractor struct {
	pages []model.PageContent
	err   error
}

func (f *fakeExtractor) Extract(_ context.Context, urls []string, _ int) ([]model.PageContent, error) {
	if f.pages != nil {
		return f.pages, f.err
	}
	out := make([]model.PageContent, len(urls))
	for i, u := range urls {
		out[i] = model.PageContent{
			URL:         u,
			ContentKind: model.ContentCleanedHTML,
			Body:        "Acme Robotics builds industrial robot arms for manufacturers worldwide today",
			ByteSize:    70,
		}
	}
	return out, f.err
}

type fakeAggregator struct {
	record *model.CompanyRecord
	err    error
}

func (f *fakeAggregator) Aggregate(_ context.Context, _ []model.PageContent, _, _ string) (*model.CompanyRecord, model.TokenUsage, error) {
	usage := model.TokenUsage{InputTokens: 1000, OutputTokens: 200}
	return f.record, usage, f.err
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ *model.CompanyRecord) ([]float32, error) {
	return f.vec, f.err
}

type fakeStore struct {
	upserts  []*model.CompanyRecord
	known    *model.CompanyRecord
	upsertErr error
}

func (f *fakeStore) Upsert(_ context.Context, record *model.CompanyRecord) (string, error) {
	if f.upsertErr != nil {
		return "", f.upsertErr
	}
	clone := *record
	f.upserts = append(f.upserts, &clone)
	return record.ID, nil
}

func (f *fakeStore) FindByName(_ context.Context, _ string) (*model.CompanyRecord, error) {
	return f.known, nil
}

type fakeDLQ struct {
	entries []resilience.DLQEntry
}

func (f *fakeDLQ) Enqueue(_ context.Context, entry resilience.DLQEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func testBus(t *testing.T) *progress.Bus {
	t.Helper()
	dir := t.TempDir()
	bus, err := progress.NewBus(progress.Options{
		SnapshotPath: filepath.Join(dir, "progress.json"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { bus.Close() })
	return bus
}

func discoverySet(urls ...string) *model.DiscoverySet {
	set := model.NewDiscoverySet("acme.test")
	for i, u := range urls {
		set.Add(u, model.OriginSitemap, i)
	}
	return set
}

func happyDeps(t *testing.T) (Deps, *fakeStore) {
	store := &fakeStore{}
	deps := Deps{
		Discoverer: &fakeDiscoverer{set: discoverySet(
			"https://acme.test", "https://acme.test/about", "https://acme.test/contact")},
		Selector: &fakeSelector{result: selector.Result{
			URLs:  []string{"https://acme.test", "https://acme.test/about"},
			Usage: model.TokenUsage{InputTokens: 500, OutputTokens: 50},
		}},
		Extractor: &fakeExtractor{},
		Aggregator: &fakeAggregator{record: &model.CompanyRecord{
			Industry:     "Robotics",
			AISummary:    "Industrial robotics vendor.",
			ScrapeStatus: model.ScrapeSuccess,
		}},
		Embedder: &fakeEmbedder{vec: []float32{0.1, 0.2, 0.3}},
		Store:    store,
		Bus:      testBus(t),
	}
	return deps, store
}

func TestNewMissingDependencies(t *testing.T) {
	_, err := New(Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing dependencies")
	assert.Contains(t, err.Error(), "discoverer")
	assert.Contains(t, err.Error(), "store")
}

func TestResearchHappyPath(t *testing.T) {
	deps, store := happyDeps(t)
	c, err := New(deps)
	require.NoError(t, err)

	record, err := c.Research(context.Background(), "Acme Robotics", "acme.test", Options{})
	require.NoError(t, err)

	assert.Equal(t, model.ScrapeSuccess, record.ScrapeStatus)
	assert.Equal(t, "Acme Robotics", record.Name)
	assert.Equal(t, "https://acme.test", record.Website)
	assert.Equal(t, "Robotics", record.Industry)
	assert.NotEmpty(t, record.ID)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, record.Embedding)
	assert.Equal(t, []string{"https://acme.test", "https://acme.test/about"}, record.PagesCrawled)
	require.Len(t, store.upserts, 1)

	jobs := deps.Bus.GetAll()
	require.Len(t, jobs, 1)
	assert.Equal(t, model.JobCompleted, jobs[0].Status)
}

func TestResearchReusesKnownID(t *testing.T) {
	deps, store := happyDeps(t)
	deps.Store.(*fakeStore).known = &model.CompanyRecord{ID: "known-id"}
	c, err := New(deps)
	require.NoError(t, err)

	record, err := c.Research(context.Background(), "Acme Robotics", "acme.test", Options{})
	require.NoError(t, err)
	assert.Equal(t, "known-id", record.ID)
	require.Len(t, store.upserts, 1)
	assert.Equal(t, "known-id", store.upserts[0].ID)
}

func TestResearchDiscoveryTotalFailure(t *testing.T) {
	deps, store := happyDeps(t)
	deps.Discoverer = &fakeDiscoverer{set: model.NewDiscoverySet("acme.test"), err: errors.New("seed unreachable")}
	dlq := &fakeDLQ{}
	deps.DLQ = dlq
	c, err := New(deps)
	require.NoError(t, err)

	record, err := c.Research(context.Background(), "Acme Robotics", "acme.test", Options{})
	require.NoError(t, err, "coordinator returns the partial record rather than raising")

	assert.Equal(t, model.ScrapeFailed, record.ScrapeStatus)
	assert.NotEmpty(t, record.ScrapeError)
	assert.Empty(t, record.Embedding)

	jobs := deps.Bus.GetAll()
	require.Len(t, jobs, 1)
	assert.Equal(t, model.JobFailed, jobs[0].Status)

	// Failed record still persisted (document only) for id stability.
	require.Len(t, store.upserts, 1)
	assert.Empty(t, store.upserts[0].Embedding)

	require.Len(t, dlq.entries, 1)
	assert.Equal(t, "Acme Robotics", dlq.entries[0].CompanyName)
}

func TestResearchHeuristicFallbackRecorded(t *testing.T) {
	deps, _ := happyDeps(t)
	deps.Selector = &fakeSelector{result: selector.Result{
		URLs:      []string{"https://acme.test", "https://acme.test/about"},
		Heuristic: true,
	}}
	c, err := New(deps)
	require.NoError(t, err)

	record, err := c.Research(context.Background(), "Acme Robotics", "acme.test", Options{})
	require.NoError(t, err)
	assert.Contains(t, []model.ScrapeStatus{model.ScrapeSuccess, model.ScrapePartial}, record.ScrapeStatus)

	job := deps.Bus.GetAll()[0]

	var selectionFailed bool
	for _, ph := range job.Phases {
		if ph.Name == PhaseSelection && ph.Status == model.PhaseFailed {
			selectionFailed = true
		}
	}
	assert.True(t, selectionFailed, "selection phase recorded failed")

	var fallbackLogged bool
	for _, entry := range job.Log {
		if strings.Contains(entry.Message, "fallback") {
			fallbackLogged = true
		}
	}
	assert.True(t, fallbackLogged, "fallback mentioned in job log")
}

func TestResearchTotalExtractionFailure(t *testing.T) {
	deps, store := happyDeps(t)
	urls := []string{"https://acme.test", "https://acme.test/about"}
	empty := make([]model.PageContent, len(urls))
	for i, u := range urls {
		empty[i] = model.PageContent{URL: u, ContentKind: model.ContentEmpty, HTTPStatus: 500, Error: "status 500"}
	}
	deps.Extractor = &fakeExtractor{pages: empty, err: errors.New("zero URLs produced non-empty content")}
	c, err := New(deps)
	require.NoError(t, err)

	record, err := c.Research(context.Background(), "Acme Robotics", "acme.test", Options{})
	require.NoError(t, err)

	assert.Equal(t, model.ScrapeFailed, record.ScrapeStatus)
	assert.NotEmpty(t, record.ScrapeError)
	assert.Empty(t, record.Embedding, "no vector produced for a failed run")

	jobs := deps.Bus.GetAll()
	require.Len(t, jobs, 1)
	assert.Equal(t, model.JobFailed, jobs[0].Status)

	// The document write happens, but never a vector upsert.
	for _, up := range store.upserts {
		assert.Empty(t, up.Embedding)
	}
}

func TestResearchEmbeddingFailureStillPersists(t *testing.T) {
	deps, store := happyDeps(t)
	deps.Embedder = &fakeEmbedder{err: errors.New("provider down")}
	c, err := New(deps)
	require.NoError(t, err)

	record, err := c.Research(context.Background(), "Acme Robotics", "acme.test", Options{})
	require.NoError(t, err)

	assert.Equal(t, model.ScrapeSuccess, record.ScrapeStatus)
	assert.Empty(t, record.Embedding)
	require.Len(t, store.upserts, 1)
}

func TestResearchPersistenceFailure(t *testing.T) {
	deps, _ := happyDeps(t)
	deps.Store = &fakeStore{upsertErr: errors.New("database down")}
	dlq := &fakeDLQ{}
	deps.DLQ = dlq
	c, err := New(deps)
	require.NoError(t, err)

	record, err := c.Research(context.Background(), "Acme Robotics", "acme.test", Options{})
	require.NoError(t, err, "in-memory record still returned on storage failure")

	assert.Equal(t, model.ScrapeFailed, record.ScrapeStatus)
	assert.Contains(t, record.ScrapeError, "persistence failed")
	assert.Equal(t, "Robotics", record.Industry, "aggregated fields survive")

	require.Len(t, dlq.entries, 1)
	assert.Equal(t, string(StatePersisting), dlq.entries[0].FailedPhase)
}

func TestResearchAggregationFailureDegradesToPartial(t *testing.T) {
	deps, _ := happyDeps(t)
	deps.Aggregator = &fakeAggregator{err: errors.New("parse error")}
	c, err := New(deps)
	require.NoError(t, err)

	record, err := c.Research(context.Background(), "Acme Robotics", "acme.test", Options{})
	require.NoError(t, err)

	assert.Equal(t, model.ScrapePartial, record.ScrapeStatus)
	jobs := deps.Bus.GetAll()
	assert.Equal(t, model.JobCompleted, jobs[0].Status, "partial closes as success")
}

func TestResearchExternalJobID(t *testing.T) {
	deps, _ := happyDeps(t)
	c, err := New(deps)
	require.NoError(t, err)

	_, err = c.Research(context.Background(), "Acme Robotics", "acme.test", Options{JobID: "job-42"})
	require.NoError(t, err)
	assert.NotNil(t, deps.Bus.Get("job-42"))
}

func TestNormalizeSeed(t *testing.T) {
	assert.Equal(t, "https://acme.test", normalizeSeed("acme.test"))
	assert.Equal(t, "https://acme.test", normalizeSeed("https://acme.test/"))
	assert.Equal(t, "http://acme.test", normalizeSeed("http://acme.test"))
	assert.Equal(t, "", normalizeSeed("  "))
}

func TestResearchLLMCallsRecorded(t *testing.T) {
	deps, _ := happyDeps(t)
	c, err := New(deps)
	require.NoError(t, err)

	_, err = c.Research(context.Background(), "Acme Robotics", "acme.test", Options{})
	require.NoError(t, err)

	job := deps.Bus.GetAll()[0]
	calls := 0
	for _, entry := range job.Log {
		if strings.Contains(entry.Message, "llm call") {
			calls++
		}
	}
	assert.Equal(t, 2, calls, "selection and aggregation each recorded")
}
