package tasks

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/ErenYanic/SEC-SemanticSearch/internal/core"
	"github.com/ErenYanic/SEC-SemanticSearch/internal/fetch"
	"github.com/ErenYanic/SEC-SemanticSearch/internal/pipeline"
)

// StoreAPI is the slice of the storage layer the worker needs.
type StoreAPI interface {
	StoreFiling(ctx context.Context, p *core.ProcessedFiling) error
	DeleteFiling(ctx context.Context, accession string) (int, bool, error)
	IsDuplicate(ctx context.Context, filing core.FilingID) (bool, error)
	CheckFilingLimit(ctx context.Context) error
}

// Orchestrator is the slice of the pipeline the worker needs.
type Orchestrator interface {
	ProcessFiling(ctx context.Context, filing core.FilingID, html string, progress pipeline.ProgressFunc) (*core.ProcessedFiling, error)
}

// Per-filing step numbering: fetch, then the three pipeline stages,
// then storage.
const (
	stepFetching = 1
	stepStoring  = 5
	stepTotal    = 5
)

// Manager owns the in-memory task table and runs one worker goroutine
// per task. A single-slot semaphore serializes pipeline work so the
// embedding model never runs two filings at once; waiters are served in
// FIFO order.
type Manager struct {
	mu    sync.Mutex
	tasks map[string]*task

	gate    *semaphore.Weighted
	fetcher fetch.Client
	orch    Orchestrator
	store   StoreAPI

	retain        time.Duration
	pruneInterval time.Duration

	logger   *log.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

func NewManager(fetcher fetch.Client, orch Orchestrator, store StoreAPI, retain, pruneInterval time.Duration) *Manager {
	if retain <= 0 {
		retain = time.Hour
	}
	if pruneInterval <= 0 {
		pruneInterval = time.Minute
	}
	m := &Manager{
		tasks:         make(map[string]*task),
		gate:          semaphore.NewWeighted(1),
		fetcher:       fetcher,
		orch:          orch,
		store:         store,
		retain:        retain,
		pruneInterval: pruneInterval,
		logger:        log.New(log.Writer(), "[TASK] ", log.LstdFlags),
		stop:          make(chan struct{}),
	}
	go m.pruneLoop()
	return m
}

// Close stops the prune loop. Running tasks are not cancelled.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Manager) pruneLoop() {
	ticker := time.NewTicker(m.pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.prune(time.Now())
		}
	}
}

// prune drops terminal tasks whose completion is older than the
// retention window. Active tasks are never touched.
func (m *Manager) prune(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.tasks {
		snap := t.Snapshot()
		if snap.State.Terminal() && snap.CompletedAt != nil && now.Sub(*snap.CompletedAt) > m.retain {
			delete(m.tasks, id)
			m.logger.Printf("pruned task %s (%s)", id, snap.State)
		}
	}
}

func normalizeRequest(req *Request) error {
	var tickers []string
	for _, tk := range req.Tickers {
		tk = strings.ToUpper(strings.TrimSpace(tk))
		if tk != "" {
			tickers = append(tickers, tk)
		}
	}
	if len(tickers) == 0 {
		return core.E(core.KindConfig, "at least one ticker is required")
	}
	req.Tickers = tickers

	if len(req.FormTypes) == 0 {
		req.FormTypes = append([]string(nil), core.SupportedForms...)
	}
	var forms []string
	for _, f := range req.FormTypes {
		f = strings.ToUpper(strings.TrimSpace(f))
		if !core.IsSupportedForm(f) {
			return core.Ef(core.KindConfig, "unsupported form type", "%s (supported: %s)", f, strings.Join(core.SupportedForms, ", "))
		}
		forms = append(forms, f)
	}
	req.FormTypes = forms

	if req.Count < 0 {
		return core.E(core.KindConfig, "count must not be negative")
	}
	if req.Mode == "" {
		req.Mode = ModePerForm
	}
	if req.Mode != ModePerForm && req.Mode != ModeTotal {
		return core.Ef(core.KindConfig, "unknown count mode", "%s", req.Mode)
	}
	for _, d := range []string{req.StartDate, req.EndDate} {
		if d == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return core.Ef(core.KindConfig, "invalid date", "%s (want YYYY-MM-DD)", d)
		}
	}
	return nil
}

func (req Request) fetchOptions() fetch.Options {
	opts := fetch.Options{Year: req.Year}
	if req.StartDate != "" {
		opts.StartDate, _ = time.Parse("2006-01-02", req.StartDate)
	}
	if req.EndDate != "" {
		opts.EndDate, _ = time.Parse("2006-01-02", req.EndDate)
	}
	return opts
}

// effectiveCount resolves how many filings to select: an explicit count
// always wins; otherwise date filters mean "all matching" and their
// absence means the single latest filing.
func effectiveCount(req Request) int {
	if req.Count > 0 {
		return req.Count
	}
	if req.Year != 0 || req.StartDate != "" || req.EndDate != "" {
		return 0
	}
	return 1
}

// Create validates the request, registers a pending task and starts its
// worker. The returned id is immediately visible through Get.
func (m *Manager) Create(req Request) (string, error) {
	if err := normalizeRequest(&req); err != nil {
		return "", err
	}
	t := newTask(uuid.NewString(), req)

	m.mu.Lock()
	m.tasks[t.id] = t
	m.mu.Unlock()

	t.emit(EventSnapshot, nil, "task created")
	m.logger.Printf("created task %s for %s", t.id, strings.Join(req.Tickers, ","))
	go m.run(t)
	return t.id, nil
}

// Get returns a task snapshot by id.
func (m *Manager) Get(id string) (Snapshot, bool) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return t.Snapshot(), true
}

// List returns snapshots of every known task, newest first.
func (m *Manager) List() []Snapshot {
	m.mu.Lock()
	snaps := make([]Snapshot, 0, len(m.tasks))
	for _, t := range m.tasks {
		snaps = append(snaps, t.Snapshot())
	}
	m.mu.Unlock()
	sort.Slice(snaps, func(a, b int) bool { return snaps[a].CreatedAt.After(snaps[b].CreatedAt) })
	return snaps
}

// Cancel requests cooperative cancellation. It returns false for
// unknown or already-terminal tasks.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	t, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	t.mu.Lock()
	terminal := t.state.Terminal()
	t.mu.Unlock()
	if terminal {
		return false
	}
	t.cancel()
	m.logger.Printf("cancellation requested for task %s", id)
	return true
}

// HasActive reports whether any task is pending or running.
func (m *Manager) HasActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		t.mu.Lock()
		terminal := t.state.Terminal()
		t.mu.Unlock()
		if !terminal {
			return true
		}
	}
	return false
}

// NextEvent pops the oldest undelivered event for a task, waiting up to
// timeout. ok is false when the task is unknown or no event arrived.
func (m *Manager) NextEvent(id string, timeout time.Duration) (Event, bool) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return Event{}, false
	}
	return t.events.PopTimeout(timeout)
}

// workItem is one filing scheduled for ingestion.
type workItem struct {
	info fetch.FilingInfo
}

// buildWorklist resolves the request into concrete filings. Listing
// failures for one ticker/form pair are recorded as failed outcomes and
// do not abort the task.
func (m *Manager) buildWorklist(t *task) []workItem {
	req := t.request
	opts := req.fetchOptions()
	count := effectiveCount(req)
	var items []workItem

	record := func(ticker, form string, err error) {
		out := FilingOutcome{Ticker: ticker, FormType: form, Status: OutcomeFailed, Error: err.Error()}
		t.mu.Lock()
		t.outcomes = append(t.outcomes, out)
		t.filingsFailed++
		t.mu.Unlock()
		t.emit(EventFilingFailed, &out, err.Error())
		m.logger.Printf("task %s: listing %s %s failed: %v", t.id, ticker, form, err)
	}

	for _, ticker := range req.Tickers {
		if t.cancelled() {
			return items
		}
		switch req.Mode {
		case ModeTotal:
			// Merge all requested forms, newest first, then take the
			// top count across forms. A form that fails to list is
			// recorded and the remaining forms still contribute.
			var merged []fetch.FilingInfo
			for _, form := range req.FormTypes {
				infos, err := m.fetcher.ListAvailable(t.ctx, ticker, form, opts)
				if err != nil {
					record(ticker, form, err)
					continue
				}
				merged = append(merged, infos...)
			}
			sort.SliceStable(merged, func(a, b int) bool {
				return merged[a].ID.FilingDate.After(merged[b].ID.FilingDate)
			})
			if count > 0 && len(merged) > count {
				merged = merged[:count]
			}
			for _, info := range merged {
				items = append(items, workItem{info: info})
			}
		default: // ModePerForm
			for _, form := range req.FormTypes {
				listOpts := opts
				listOpts.Count = count
				infos, err := m.fetcher.ListAvailable(t.ctx, ticker, form, listOpts)
				if err != nil {
					record(ticker, form, err)
					continue
				}
				for _, info := range infos {
					items = append(items, workItem{info: info})
				}
			}
		}
	}
	return items
}

// run is the per-task worker. It waits for the single pipeline slot,
// processes filings one by one with cancellation checks at every
// boundary, and rolls back stored filings when cancelled.
func (m *Manager) run(t *task) {
	defer func() {
		if r := recover(); r != nil {
			m.finish(t, StateFailed, fmt.Sprintf("worker panic: %v", r))
		}
	}()

	// Wait for the pipeline slot; a cancel while queued ends the task
	// with nothing to roll back.
	if err := m.gate.Acquire(t.ctx, 1); err != nil {
		m.finish(t, StateCancelled, "cancelled while queued")
		return
	}
	defer m.gate.Release(1)

	now := time.Now()
	t.mu.Lock()
	t.state = StateRunning
	t.startedAt = &now
	t.mu.Unlock()
	t.emit(EventSnapshot, nil, "task started")
	tasksStarted.Inc()

	items := m.buildWorklist(t)
	t.mu.Lock()
	t.filingsTotal = len(items) + t.filingsFailed
	t.mu.Unlock()
	t.emit(EventSnapshot, nil, "worklist built")

	for _, item := range items {
		if t.cancelled() {
			m.rollback(t)
			m.finish(t, StateCancelled, "cancelled")
			return
		}
		filing := item.info.ID
		t.mu.Lock()
		t.currentTicker = filing.Ticker
		t.currentForm = filing.FormType
		t.mu.Unlock()

		dup, err := m.store.IsDuplicate(t.ctx, filing)
		if err != nil {
			m.recordFailure(t, filing, err)
			continue
		}
		if dup {
			out := outcomeFor(filing, OutcomeSkipped, 0, "already ingested")
			t.mu.Lock()
			t.outcomes = append(t.outcomes, out)
			t.filingsSkipped++
			t.mu.Unlock()
			t.emit(EventFilingSkipped, &out, "duplicate")
			continue
		}

		if err := m.store.CheckFilingLimit(t.ctx); err != nil {
			if core.IsFilingLimit(err) {
				// At capacity the whole task fails; completed filings
				// from this task stay stored.
				m.finish(t, StateFailed, err.Error())
				return
			}
			m.recordFailure(t, filing, err)
			continue
		}

		t.setStep("fetching", stepFetching)
		t.emit(EventStep, nil, "fetching")
		fetched, err := m.fetcher.FetchByAccession(t.ctx, filing.Ticker, filing.AccessionNumber)
		if err != nil {
			if t.cancelled() {
				m.rollback(t)
				m.finish(t, StateCancelled, "cancelled")
				return
			}
			m.recordFailure(t, filing, err)
			continue
		}

		processed, err := m.orch.ProcessFiling(t.ctx, fetched.ID, fetched.HTML, func(step string, n, total int) {
			if step == pipeline.StepComplete {
				return
			}
			t.setStep(step, n+1)
			t.emit(EventStep, nil, step)
		})
		if err != nil {
			if t.cancelled() {
				m.rollback(t)
				m.finish(t, StateCancelled, "cancelled")
				return
			}
			m.recordFailure(t, filing, err)
			continue
		}

		if t.cancelled() {
			m.rollback(t)
			m.finish(t, StateCancelled, "cancelled")
			return
		}

		t.setStep("storing", stepStoring)
		t.emit(EventStep, nil, "storing")
		if err := m.store.StoreFiling(t.ctx, processed); err != nil {
			m.recordFailure(t, filing, err)
			continue
		}

		out := outcomeFor(filing, OutcomeDone, len(processed.Chunks), "")
		t.mu.Lock()
		t.stored = append(t.stored, filing.AccessionNumber)
		t.outcomes = append(t.outcomes, out)
		t.filingsDone++
		t.mu.Unlock()
		t.emit(EventFilingDone, &out, "")
		filingsIngested.Inc()
		chunksStored.Add(float64(len(processed.Chunks)))
	}

	if t.cancelled() {
		m.rollback(t)
		m.finish(t, StateCancelled, "cancelled")
		return
	}
	m.finish(t, StateCompleted, "")
}

func (t *task) setStep(step string, number int) {
	t.mu.Lock()
	t.step = step
	t.stepNumber = number
	t.stepTotal = stepTotal
	t.mu.Unlock()
}

func (m *Manager) recordFailure(t *task, filing core.FilingID, err error) {
	out := outcomeFor(filing, OutcomeFailed, 0, err.Error())
	t.mu.Lock()
	t.outcomes = append(t.outcomes, out)
	t.filingsFailed++
	t.mu.Unlock()
	t.emit(EventFilingFailed, &out, err.Error())
	m.logger.Printf("task %s: %s failed: %v", t.id, filing, err)
}

// rollback removes every filing this task stored, vector store first
// then registry per filing. Failures are logged and do not stop the
// remaining deletions.
func (m *Manager) rollback(t *task) {
	t.mu.Lock()
	stored := append([]string(nil), t.stored...)
	t.mu.Unlock()
	if len(stored) == 0 {
		return
	}
	m.logger.Printf("task %s: rolling back %d stored filings", t.id, len(stored))
	ctx := context.Background()
	for _, accession := range stored {
		if _, _, err := m.store.DeleteFiling(ctx, accession); err != nil {
			m.logger.Printf("task %s: rollback of %s failed: %v", t.id, accession, err)
		}
	}
}

func (m *Manager) finish(t *task, state State, errMsg string) {
	now := time.Now()
	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return
	}
	t.state = state
	t.errMsg = errMsg
	t.completedAt = &now
	t.step = ""
	t.stepNumber = 0
	t.currentTicker = ""
	t.currentForm = ""
	t.mu.Unlock()

	switch state {
	case StateCompleted:
		t.emit(EventCompleted, nil, "")
		tasksCompleted.WithLabelValues(string(StateCompleted)).Inc()
	case StateFailed:
		t.emit(EventFailed, nil, errMsg)
		tasksCompleted.WithLabelValues(string(StateFailed)).Inc()
	case StateCancelled:
		t.emit(EventCancelled, nil, errMsg)
		tasksCompleted.WithLabelValues(string(StateCancelled)).Inc()
	}
	m.logger.Printf("task %s finished: %s %s", t.id, state, errMsg)
}
