// Package coordinator implements the Research Coordinator: drive the
// discovery, selection, extraction, aggregation, and persistence phases
// for one company, enforce per-phase deadlines, and record every outcome
// on the progress bus.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/AntoineDubuc/theodore/internal/model"
	"github.com/AntoineDubuc/theodore/internal/progress"
	"github.com/AntoineDubuc/theodore/internal/resilience"
	"github.com/AntoineDubuc/theodore/internal/selector"
)

// RunState is the coordinator's internal state machine position.
type RunState string

const (
	StateInit        RunState = "init"
	StateDiscovering RunState = "discovering"
	StateSelecting   RunState = "selecting"
	StateExtracting  RunState = "extracting"
	StateAggregating RunState = "aggregating"
	StatePersisting  RunState = "persisting"
	StateDone        RunState = "done"
	StateFailed      RunState = "failed"
)

// Phase names as recorded on the progress bus.
const (
	PhaseDiscovery   = "Link Discovery"
	PhaseSelection   = "Page Selection"
	PhaseExtraction  = "Content Extraction"
	PhaseAggregation = "Intelligence Generation"
	PhasePersistence = "Persistence"
)

// Discoverer is the link discovery phase dependency.
type Discoverer interface {
	Discover(ctx context.Context, seedURL string) (*model.DiscoverySet, error)
}

// PageSelector is the page selection phase dependency.
type PageSelector interface {
	Select(ctx context.Context, discovery *model.DiscoverySet, companyName string, kTarget int) (selector.Result, error)
}

// PageExtractor is the content extraction phase dependency.
type PageExtractor interface {
	Extract(ctx context.Context, urls []string, concurrency int) ([]model.PageContent, error)
}

// Aggregator is the intelligence generation phase dependency.
type Aggregator interface {
	Aggregate(ctx context.Context, pages []model.PageContent, companyName, seedURL string) (*model.CompanyRecord, model.TokenUsage, error)
}

// Embedder produces the record's dense vector.
type Embedder interface {
	Embed(ctx context.Context, record *model.CompanyRecord) ([]float32, error)
}

// Store is the persistence dependency, satisfied by store.Hybrid.
type Store interface {
	Upsert(ctx context.Context, record *model.CompanyRecord) (string, error)
	FindByName(ctx context.Context, name string) (*model.CompanyRecord, error)
}

// DLQ receives research runs whose persistence failed, for later retry.
// Optional; a nil DLQ disables the hand-off.
type DLQ interface {
	Enqueue(ctx context.Context, entry resilience.DLQEntry) error
}

// Options tunes one research invocation. Zero values fall back to the
// package defaults.
type Options struct {
	MaxPages    int
	Concurrency int
	JobID       string

	DiscoveryTimeout   time.Duration
	SelectionTimeout   time.Duration
	ExtractionTimeout  time.Duration
	AggregationTimeout time.Duration
	PersistenceTimeout time.Duration
}

// Default option values.
const (
	DefaultMaxPages    = 50
	DefaultConcurrency = 10
)

func (o *Options) applyDefaults() {
	if o.MaxPages <= 0 || o.MaxPages > DefaultMaxPages {
		o.MaxPages = DefaultMaxPages
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.DiscoveryTimeout <= 0 {
		o.DiscoveryTimeout = 30 * time.Second
	}
	if o.SelectionTimeout <= 0 {
		o.SelectionTimeout = 120 * time.Second
	}
	if o.ExtractionTimeout <= 0 {
		o.ExtractionTimeout = 120 * time.Second
	}
	if o.AggregationTimeout <= 0 {
		o.AggregationTimeout = 120 * time.Second
	}
	if o.PersistenceTimeout <= 0 {
		o.PersistenceTimeout = 30 * time.Second
	}
}

// Deps holds the coordinator's constructed collaborators.
type Deps struct {
	Discoverer Discoverer
	Selector   PageSelector
	Extractor  PageExtractor
	Aggregator Aggregator
	Embedder   Embedder
	Store      Store
	Bus        *progress.Bus
	DLQ        DLQ
}

// Coordinator drives the research phases for one company at a time. A
// single Coordinator may serve concurrent Research calls as long as its
// extractor's fetcher session policy allows it.
type Coordinator struct {
	deps Deps
}

// New validates deps and builds a Coordinator. A missing required
// dependency is a configuration error; the run never starts.
func New(deps Deps) (*Coordinator, error) {
	var missing []string
	if deps.Discoverer == nil {
		missing = append(missing, "discoverer")
	}
	if deps.Selector == nil {
		missing = append(missing, "selector")
	}
	if deps.Extractor == nil {
		missing = append(missing, "extractor")
	}
	if deps.Aggregator == nil {
		missing = append(missing, "aggregator")
	}
	if deps.Store == nil {
		missing = append(missing, "store")
	}
	if deps.Bus == nil {
		missing = append(missing, "progress bus")
	}
	if len(missing) > 0 {
		return nil, eris.Errorf("coordinator: missing dependencies: %s", strings.Join(missing, ", "))
	}
	return &Coordinator{deps: deps}, nil
}

// Research runs the full pipeline for one company and returns the final
// record. The record is always returned, carrying scrape_status and, on
// non-success, scrape_error. The returned error is always nil; missing
// dependencies are rejected earlier by New.
func (c *Coordinator) Research(ctx context.Context, companyName, seedURL string, opts Options) (*model.CompanyRecord, error) {
	opts.applyDefaults()

	seed := normalizeSeed(seedURL)
	run := &run{
		coordinator: c,
		companyName: companyName,
		seed:        seed,
		opts:        opts,
		state:       StateInit,
		startedAt:   time.Now().UTC(),
	}
	return run.execute(ctx)
}

// run carries one invocation's state through the phase machine.
type run struct {
	coordinator *Coordinator
	companyName string
	seed        string
	opts        Options
	state       RunState
	startedAt   time.Time
	jobID       string
	llmCalls    int
}

func (r *run) deps() Deps { return r.coordinator.deps }

func (r *run) execute(ctx context.Context) (*model.CompanyRecord, error) {
	bus := r.deps().Bus
	r.jobID = bus.StartJob(r.companyName, r.opts.JobID)

	record := r.newRecord(ctx)

	discovery, fatal := r.discover(ctx)
	if fatal != nil {
		return r.fail(ctx, record, fatal), nil
	}

	selected := r.selectPages(ctx, discovery)
	if len(selected) == 0 {
		return r.fail(ctx, record, eris.New("no pages selected for extraction")), nil
	}

	pages, anyContent := r.extract(ctx, selected)
	if !anyContent {
		return r.fail(ctx, record, eris.New("all page extractions failed")), nil
	}

	r.aggregate(ctx, record, pages)
	r.embed(ctx, record)

	r.persist(ctx, record)

	r.state = StateDone
	if record.ScrapeStatus == model.ScrapeFailed {
		r.state = StateFailed
	}
	success := record.ScrapeStatus == model.ScrapeSuccess || record.ScrapeStatus == model.ScrapePartial
	bus.CompleteJob(r.jobID, success, record.AISummary, record)
	return record, nil
}

// newRecord creates the in-flight record, reusing a previously-known id
// when the store already holds this company.
func (r *run) newRecord(ctx context.Context) *model.CompanyRecord {
	now := time.Now().UTC()
	record := &model.CompanyRecord{
		Name:        r.companyName,
		Website:     r.seed,
		CreatedAt:   now,
		LastUpdated: now,
	}

	existing, err := r.deps().Store.FindByName(ctx, r.companyName)
	if err != nil {
		zap.L().Debug("coordinator: id lookup failed, will mint fresh id",
			zap.String("company", r.companyName), zap.Error(err))
	}
	if existing != nil {
		record.ID = existing.ID
		record.CreatedAt = existing.CreatedAt
	} else {
		record.ID = uuid.New().String()
	}
	return record
}

// discover runs phase 1. The returned error is non-nil only for the fatal
// total-failure case.
func (r *run) discover(ctx context.Context) (*model.DiscoverySet, error) {
	bus := r.deps().Bus
	r.state = StateDiscovering
	bus.UpdatePhase(r.jobID, PhaseDiscovery, model.PhaseRunning, nil)

	phaseCtx, cancel := context.WithTimeout(ctx, r.opts.DiscoveryTimeout)
	defer cancel()

	discovery, err := r.deps().Discoverer.Discover(phaseCtx, r.seed)
	if err != nil && (discovery == nil || discovery.Len() == 0) {
		bus.UpdatePhase(r.jobID, PhaseDiscovery, model.PhaseFailed, map[string]any{"error": err.Error()})
		return nil, eris.Wrap(err, "link discovery failed")
	}
	if err != nil {
		bus.Log(r.jobID, fmt.Sprintf("discovery degraded: %v", err))
	}

	bus.UpdatePhase(r.jobID, PhaseDiscovery, model.PhaseCompleted, map[string]any{"urls": discovery.Len()})
	return discovery, nil
}

// selectPages runs phase 2. A heuristic fallback marks the phase failed
// but the run proceeds on the fallback's output.
func (r *run) selectPages(ctx context.Context, discovery *model.DiscoverySet) []string {
	bus := r.deps().Bus
	r.state = StateSelecting
	bus.UpdatePhase(r.jobID, PhaseSelection, model.PhaseRunning, nil)

	phaseCtx, cancel := context.WithTimeout(ctx, r.opts.SelectionTimeout)
	defer cancel()

	result, err := r.deps().Selector.Select(phaseCtx, discovery, r.companyName, r.opts.MaxPages)
	if err != nil {
		bus.UpdatePhase(r.jobID, PhaseSelection, model.PhaseFailed, map[string]any{"error": err.Error()})
		return nil
	}

	r.recordLLMUsage(result.Usage)

	if result.Heuristic {
		bus.UpdatePhase(r.jobID, PhaseSelection, model.PhaseFailed, map[string]any{"selected": len(result.URLs)})
		bus.Log(r.jobID, "LLM page selection unavailable, heuristic fallback selected pages")
		return result.URLs
	}

	bus.UpdatePhase(r.jobID, PhaseSelection, model.PhaseCompleted, map[string]any{"selected": len(result.URLs)})
	return result.URLs
}

// extract runs phase 3, reporting per-page scrape events. anyContent is
// false only when every page came back empty.
func (r *run) extract(ctx context.Context, urls []string) ([]model.PageContent, bool) {
	bus := r.deps().Bus
	r.state = StateExtracting
	bus.UpdatePhase(r.jobID, PhaseExtraction, model.PhaseRunning, map[string]any{"pages": len(urls)})

	phaseCtx, cancel := context.WithTimeout(ctx, r.opts.ExtractionTimeout)
	defer cancel()

	pages, err := r.deps().Extractor.Extract(phaseCtx, urls, r.opts.Concurrency)

	anyContent := false
	for i, page := range pages {
		bus.RecordPageScrape(r.jobID, page.URL, page.ByteSize, i+1, len(urls))
		if page.ContentKind != model.ContentEmpty {
			anyContent = true
		}
	}

	if err != nil && !anyContent {
		bus.UpdatePhase(r.jobID, PhaseExtraction, model.PhaseFailed, map[string]any{"error": err.Error()})
		return pages, false
	}
	if err != nil {
		bus.Log(r.jobID, fmt.Sprintf("extraction degraded: %v", err))
	}

	bus.UpdatePhase(r.jobID, PhaseExtraction, model.PhaseCompleted, map[string]any{"pages": len(pages)})
	return pages, true
}

// aggregate runs phase 4 and overlays the coordinator-owned fields the
// model may not set.
func (r *run) aggregate(ctx context.Context, record *model.CompanyRecord, pages []model.PageContent) {
	bus := r.deps().Bus
	r.state = StateAggregating
	bus.UpdatePhase(r.jobID, PhaseAggregation, model.PhaseRunning, nil)

	phaseCtx, cancel := context.WithTimeout(ctx, r.opts.AggregationTimeout)
	defer cancel()

	aggregated, usage, err := r.deps().Aggregator.Aggregate(phaseCtx, pages, r.companyName, r.seed)
	r.recordLLMUsage(usage)

	if err != nil || aggregated == nil {
		if err != nil {
			bus.UpdatePhase(r.jobID, PhaseAggregation, model.PhaseFailed, map[string]any{"error": err.Error()})
		} else {
			bus.UpdatePhase(r.jobID, PhaseAggregation, model.PhaseFailed, nil)
		}
		record.ScrapeStatus = model.ScrapePartial
	} else {
		mergeAggregated(record, aggregated)
		bus.UpdatePhase(r.jobID, PhaseAggregation, model.PhaseCompleted, map[string]any{
			"status": string(record.ScrapeStatus),
		})
	}

	// Coordinator-owned fields win regardless of model output.
	record.Name = r.companyName
	record.Website = r.seed
	record.PagesCrawled = crawledURLs(pages)
	record.CrawlDurationMS = time.Since(r.startedAt).Milliseconds()
	record.LastUpdated = time.Now().UTC()
}

// embed runs the vector half of phase 4. Failure leaves the record
// storable but unreachable via k-NN.
func (r *run) embed(ctx context.Context, record *model.CompanyRecord) {
	embedder := r.deps().Embedder
	if embedder == nil {
		return
	}
	vec, err := embedder.Embed(ctx, record)
	if err != nil {
		r.deps().Bus.Log(r.jobID, fmt.Sprintf("embedding failed, record stored without vector: %v", err))
		zap.L().Warn("coordinator: embedding failed",
			zap.String("company", r.companyName), zap.Error(err))
		return
	}
	record.Embedding = vec
}

// persist runs phase 5. A storage failure marks the run failed but the
// in-memory record is still returned to the caller.
func (r *run) persist(ctx context.Context, record *model.CompanyRecord) {
	bus := r.deps().Bus
	r.state = StatePersisting
	bus.UpdatePhase(r.jobID, PhasePersistence, model.PhaseRunning, nil)

	phaseCtx, cancel := context.WithTimeout(ctx, r.opts.PersistenceTimeout)
	defer cancel()

	id, err := r.deps().Store.Upsert(phaseCtx, record)
	if err != nil {
		bus.UpdatePhase(r.jobID, PhasePersistence, model.PhaseFailed, map[string]any{"error": err.Error()})
		record.ScrapeStatus = model.ScrapeFailed
		record.ScrapeError = "persistence failed: " + err.Error()
		r.enqueueDLQ(ctx, err)
		return
	}
	record.ID = id
	bus.UpdatePhase(r.jobID, PhasePersistence, model.PhaseCompleted, map[string]any{"id": id})
}

// fail terminates the run, closing the job and stamping the record.
func (r *run) fail(ctx context.Context, record *model.CompanyRecord, cause error) *model.CompanyRecord {
	r.state = StateFailed

	record.ScrapeStatus = model.ScrapeFailed
	if errors.Is(cause, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		record.ScrapeError = "cancelled"
	} else {
		record.ScrapeError = cause.Error()
	}
	record.CrawlDurationMS = time.Since(r.startedAt).Milliseconds()
	record.LastUpdated = time.Now().UTC()

	// Persist the failed record so a later run can reuse its id, then
	// close the job. Vector upsert is naturally skipped: no embedding.
	if _, err := r.deps().Store.Upsert(ctx, record); err != nil {
		zap.L().Warn("coordinator: persisting failed record failed",
			zap.String("company", r.companyName), zap.Error(err))
	}

	r.enqueueDLQ(ctx, cause)
	r.deps().Bus.CompleteJob(r.jobID, false, record.ScrapeError, record)
	return record
}

func (r *run) enqueueDLQ(ctx context.Context, cause error) {
	dlq := r.deps().DLQ
	if dlq == nil {
		return
	}
	now := time.Now().UTC()
	entry := resilience.DLQEntry{
		ID:           uuid.New().String(),
		CompanyName:  r.companyName,
		SeedURL:      r.seed,
		Error:        cause.Error(),
		ErrorType:    resilience.ClassifyError(cause),
		FailedPhase:  string(r.state),
		MaxRetries:   3,
		NextRetryAt:  now.Add(15 * time.Minute),
		CreatedAt:    now,
		LastFailedAt: now,
	}
	if err := dlq.Enqueue(ctx, entry); err != nil {
		zap.L().Warn("coordinator: DLQ enqueue failed",
			zap.String("company", r.companyName), zap.Error(err))
	}
}

func (r *run) recordLLMUsage(usage model.TokenUsage) {
	if usage == (model.TokenUsage{}) {
		return
	}
	r.llmCalls++
	r.deps().Bus.RecordLLMCall(r.jobID, r.llmCalls, "", int(usage.InputTokens), int(usage.OutputTokens))
}

// normalizeSeed adds an https scheme when missing and trims whitespace.
func normalizeSeed(seedURL string) string {
	seed := strings.TrimSpace(seedURL)
	if seed == "" {
		return seed
	}
	if !strings.HasPrefix(seed, "http://") && !strings.HasPrefix(seed, "https://") {
		seed = "https://" + seed
	}
	return strings.TrimRight(seed, "/")
}

// crawledURLs lists the URLs that produced non-empty content.
func crawledURLs(pages []model.PageContent) []string {
	var out []string
	for _, p := range pages {
		if p.ContentKind != model.ContentEmpty {
			out = append(out, p.URL)
		}
	}
	return out
}

// mergeAggregated copies the aggregator's structured output into the
// coordinator-owned record.
func mergeAggregated(dst, src *model.CompanyRecord) {
	id, name, website := dst.ID, dst.Name, dst.Website
	createdAt := dst.CreatedAt
	*dst = *src
	dst.ID = id
	dst.Name = name
	dst.Website = website
	dst.CreatedAt = createdAt
}
