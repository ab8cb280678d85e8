// Package progress implements the Progress Bus: a thread-safe per-job
// event log with phase states, page-scrape and LLM-call events, durable
// snapshots, and an explicit subscriber interface for observers.
package progress

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AntoineDubuc/theodore/internal/model"
)

// DefaultMaxJobs caps retained job history.
const DefaultMaxJobs = 50

// DefaultStaleAfter is how long a job may stay running before a read
// transitions it to failed.
const DefaultStaleAfter = 15 * time.Minute

// EventKind classifies bus events for subscribers.
type EventKind string

const (
	EventJobStarted   EventKind = "job_started"
	EventPhaseUpdate  EventKind = "phase_update"
	EventLog          EventKind = "log"
	EventPageScrape   EventKind = "page_scrape"
	EventLLMCall      EventKind = "llm_call"
	EventJobCompleted EventKind = "job_completed"
)

// Event is a single bus occurrence delivered to subscribers. Observers
// subscribe to events; nothing patches component internals for monitoring.
type Event struct {
	JobID   string
	Kind    EventKind
	Message string
	At      time.Time
}

// Subscriber receives events synchronously under the bus lock; keep
// handlers fast and non-blocking.
type Subscriber func(Event)

// Options configures a Bus. Empty paths disable that persistence surface.
type Options struct {
	SnapshotPath string
	DatabasePath string
	TailLogPath  string
	MaxJobs      int
	StaleAfter   time.Duration
}

// Bus owns all JobProgress state for the process. All mutating operations
// acquire one lock; every mutation is persisted before the lock is
// released so external processes observe a consistent file.
type Bus struct {
	mu          sync.Mutex
	jobs        map[string]*model.JobProgress
	order       []string
	currentID   string
	subscribers []Subscriber

	persist    *persister
	maxJobs    int
	staleAfter time.Duration
}

// NewBus builds a Bus and reloads any jobs previously persisted to the
// configured database path.
func NewBus(opts Options) (*Bus, error) {
	if opts.MaxJobs <= 0 {
		opts.MaxJobs = DefaultMaxJobs
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}

	p, err := newPersister(opts.SnapshotPath, opts.DatabasePath, opts.TailLogPath)
	if err != nil {
		return nil, err
	}

	b := &Bus{
		jobs:       make(map[string]*model.JobProgress),
		persist:    p,
		maxJobs:    opts.MaxJobs,
		staleAfter: opts.StaleAfter,
	}

	restored, err := p.loadJobs()
	if err != nil {
		return nil, err
	}
	for _, job := range restored {
		b.jobs[job.JobID] = job
		b.order = append(b.order, job.JobID)
	}
	sort.SliceStable(b.order, func(i, j int) bool {
		return b.jobs[b.order[i]].StartedAt.Before(b.jobs[b.order[j]].StartedAt)
	})

	return b, nil
}

// Close releases persistence resources.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.persist.close()
}

// Subscribe registers a handler for all future events.
func (b *Bus) Subscribe(fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, fn)
}

// StartJob opens a new JobProgress and returns its id. jobID may be
// supplied by the caller; an empty string mints a fresh UUID.
func (b *Bus) StartJob(companyName, jobID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if jobID == "" {
		jobID = uuid.New().String()
	}
	now := time.Now().UTC()
	job := &model.JobProgress{
		JobID:       jobID,
		CompanyName: companyName,
		Status:      model.JobRunning,
		StartedAt:   now,
	}
	b.jobs[jobID] = job
	b.order = append(b.order, jobID)
	b.currentID = jobID
	b.evictLocked()
	b.appendLogLocked(job, fmt.Sprintf("research started for %s", companyName))
	b.emitLocked(Event{JobID: jobID, Kind: EventJobStarted, Message: companyName, At: now})
	b.persistLocked(job)
	return jobID
}

// UpdatePhase transitions the named phase. A running phase with the same
// name is updated in place; otherwise a new phase entry is appended. Once
// a phase has ended its record is immutable and a repeat update starts a
// fresh entry.
func (b *Bus) UpdatePhase(jobID, name string, status model.PhaseStatus, details map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	job, ok := b.jobs[jobID]
	if !ok {
		zap.L().Warn("progress: phase update for unknown job", zap.String("job_id", jobID))
		return
	}

	now := time.Now().UTC()
	var phase *model.PhaseProgress
	for i := range job.Phases {
		if job.Phases[i].Name == name && job.Phases[i].Status == model.PhaseRunning {
			phase = &job.Phases[i]
			break
		}
	}

	if phase == nil {
		job.Phases = append(job.Phases, model.PhaseProgress{
			Name:      name,
			Status:    status,
			StartedAt: now,
			Details:   details,
		})
		phase = &job.Phases[len(job.Phases)-1]
	} else {
		phase.Status = status
		if details != nil {
			phase.Details = details
		}
	}
	if status != model.PhaseRunning && phase.EndedAt == nil {
		phase.EndedAt = &now
	}

	b.appendLogLocked(job, fmt.Sprintf("phase %s: %s", name, status))
	b.emitLocked(Event{JobID: jobID, Kind: EventPhaseUpdate, Message: fmt.Sprintf("%s=%s", name, status), At: now})
	b.persistLocked(job)
}

// Log appends a free-form message to the job's bounded log.
func (b *Bus) Log(jobID, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	job, ok := b.jobs[jobID]
	if !ok {
		return
	}
	b.appendLogLocked(job, message)
	b.emitLocked(Event{JobID: jobID, Kind: EventLog, Message: message, At: time.Now().UTC()})
	b.persistLocked(job)
}

// RecordPageScrape logs one page-extraction outcome.
func (b *Bus) RecordPageScrape(jobID, url string, size, index, total int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	job, ok := b.jobs[jobID]
	if !ok {
		return
	}
	msg := fmt.Sprintf("scraped %d/%d: %s (%d bytes)", index, total, url, size)
	b.appendLogLocked(job, msg)
	b.emitLocked(Event{JobID: jobID, Kind: EventPageScrape, Message: msg, At: time.Now().UTC()})
	b.persistLocked(job)
}

// RecordLLMCall logs one gateway call with its prompt/response token counts.
func (b *Bus) RecordLLMCall(jobID string, n int, modelID string, promptSize, responseSize int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	job, ok := b.jobs[jobID]
	if !ok {
		return
	}
	msg := fmt.Sprintf("llm call %d (%s): prompt %d tokens, response %d tokens", n, modelID, promptSize, responseSize)
	b.appendLogLocked(job, msg)
	b.emitLocked(Event{JobID: jobID, Kind: EventLLMCall, Message: msg, At: time.Now().UTC()})
	b.persistLocked(job)
}

// CompleteJob closes a job. summary and record are optional.
func (b *Bus) CompleteJob(jobID string, success bool, summary string, record *model.CompanyRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()

	job, ok := b.jobs[jobID]
	if !ok {
		return
	}
	now := time.Now().UTC()
	if success {
		job.Status = model.JobCompleted
	} else {
		job.Status = model.JobFailed
	}
	job.EndedAt = &now
	job.Summary = summary
	job.Record = record
	if b.currentID == jobID {
		b.currentID = ""
	}

	b.appendLogLocked(job, fmt.Sprintf("research finished: success=%t", success))
	b.emitLocked(Event{JobID: jobID, Kind: EventJobCompleted, Message: fmt.Sprintf("success=%t", success), At: now})
	b.persistLocked(job)
}

// Get returns a deep-enough copy of one job, or nil when unknown.
func (b *Bus) Get(jobID string) *model.JobProgress {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sweepStaleLocked()

	job, ok := b.jobs[jobID]
	if !ok {
		return nil
	}
	return cloneJob(job)
}

// GetCurrent returns the most recently started job still running, or nil.
func (b *Bus) GetCurrent() *model.JobProgress {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sweepStaleLocked()

	if b.currentID == "" {
		return nil
	}
	job, ok := b.jobs[b.currentID]
	if !ok || job.Status != model.JobRunning {
		return nil
	}
	return cloneJob(job)
}

// GetAll returns every retained job, oldest first.
func (b *Bus) GetAll() []*model.JobProgress {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sweepStaleLocked()

	out := make([]*model.JobProgress, 0, len(b.order))
	for _, id := range b.order {
		if job, ok := b.jobs[id]; ok {
			out = append(out, cloneJob(job))
		}
	}
	return out
}

// sweepStaleLocked fails running jobs whose start time exceeds the stale
// cutoff.
func (b *Bus) sweepStaleLocked() {
	cutoff := time.Now().UTC().Add(-b.staleAfter)
	for _, job := range b.jobs {
		if job.Status != model.JobRunning || !job.StartedAt.Before(cutoff) {
			continue
		}
		now := time.Now().UTC()
		job.Status = model.JobFailed
		job.EndedAt = &now
		job.Summary = "timed out"
		if b.currentID == job.JobID {
			b.currentID = ""
		}
		b.appendLogLocked(job, "job timed out")
		b.persistLocked(job)
		zap.L().Warn("progress: stale job swept to failed", zap.String("job_id", job.JobID))
	}
}

// evictLocked drops the oldest completed/failed jobs beyond the cap.
// Running jobs are only evicted when no finished job remains to drop.
func (b *Bus) evictLocked() {
	for len(b.order) > b.maxJobs {
		victim := -1
		for i, id := range b.order {
			if job, ok := b.jobs[id]; ok && job.Status != model.JobRunning {
				victim = i
				break
			}
		}
		if victim == -1 {
			victim = 0
		}
		id := b.order[victim]
		b.order = append(b.order[:victim], b.order[victim+1:]...)
		delete(b.jobs, id)
		b.persist.deleteJob(id)
	}
}

func (b *Bus) appendLogLocked(job *model.JobProgress, message string) {
	job.Log = append(job.Log, model.LogEntry{At: time.Now().UTC(), Message: message})
	if len(job.Log) > model.MaxLogEntries {
		job.Log = job.Log[len(job.Log)-model.MaxLogEntries:]
	}
	b.persist.appendTail(job.JobID, message)
}

func (b *Bus) emitLocked(ev Event) {
	for _, fn := range b.subscribers {
		fn(ev)
	}
}

func (b *Bus) persistLocked(job *model.JobProgress) {
	all := make([]*model.JobProgress, 0, len(b.order))
	for _, id := range b.order {
		if j, ok := b.jobs[id]; ok {
			all = append(all, j)
		}
	}
	if err := b.persist.saveJob(job, all); err != nil {
		zap.L().Error("progress: persist failed", zap.String("job_id", job.JobID), zap.Error(err))
	}
}

func cloneJob(job *model.JobProgress) *model.JobProgress {
	clone := *job
	clone.Phases = append([]model.PhaseProgress(nil), job.Phases...)
	clone.Log = append([]model.LogEntry(nil), job.Log...)
	return &clone
}
