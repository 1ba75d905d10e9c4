package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/ErenYanic/SEC-SemanticSearch/internal/core"
)

// State of an ingestion task. Terminal states are immutable.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// CountMode selects how the requested count is interpreted.
type CountMode string

const (
	// ModePerForm fetches count filings for each ticker and form pair.
	ModePerForm CountMode = "per_form"
	// ModeTotal fetches the count newest filings per ticker across all
	// requested forms combined.
	ModeTotal CountMode = "total"
)

// Request describes one ingestion task.
type Request struct {
	Tickers   []string  `json:"tickers"`
	FormTypes []string  `json:"form_types"`
	Count     int       `json:"count"`
	Mode      CountMode `json:"mode"`
	Year      int       `json:"year,omitempty"`
	StartDate string    `json:"start_date,omitempty"`
	EndDate   string    `json:"end_date,omitempty"`
}

// OutcomeStatus classifies how a single filing ended up.
type OutcomeStatus string

const (
	OutcomeDone    OutcomeStatus = "done"
	OutcomeSkipped OutcomeStatus = "skipped"
	OutcomeFailed  OutcomeStatus = "failed"
)

// FilingOutcome records the fate of one filing within a task.
type FilingOutcome struct {
	Ticker          string        `json:"ticker"`
	FormType        string        `json:"form_type"`
	FilingDate      string        `json:"filing_date,omitempty"`
	AccessionNumber string        `json:"accession_number,omitempty"`
	Status          OutcomeStatus `json:"status"`
	ChunkCount      int           `json:"chunk_count,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// Snapshot is a point-in-time copy of a task's progress, safe to hand
// to API callers without holding the task lock.
type Snapshot struct {
	ID             string          `json:"id"`
	Request        Request         `json:"request"`
	State          State           `json:"state"`
	CurrentTicker  string          `json:"current_ticker,omitempty"`
	CurrentForm    string          `json:"current_form,omitempty"`
	Step           string          `json:"step,omitempty"`
	StepNumber     int             `json:"step_number,omitempty"`
	StepTotal      int             `json:"step_total,omitempty"`
	FilingsTotal   int             `json:"filings_total"`
	FilingsDone    int             `json:"filings_done"`
	FilingsSkipped int             `json:"filings_skipped"`
	FilingsFailed  int             `json:"filings_failed"`
	Outcomes       []FilingOutcome `json:"outcomes,omitempty"`
	Error          string          `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// EventType enumerates what a task can report while running.
type EventType string

const (
	EventSnapshot      EventType = "snapshot"
	EventStep          EventType = "step"
	EventFilingDone    EventType = "filing_done"
	EventFilingSkipped EventType = "filing_skipped"
	EventFilingFailed  EventType = "filing_failed"
	EventCompleted     EventType = "completed"
	EventFailed        EventType = "failed"
	EventCancelled     EventType = "cancelled"
)

// Terminal reports whether this event ends the stream.
func (e EventType) Terminal() bool {
	return e == EventCompleted || e == EventFailed || e == EventCancelled
}

// Event is one progress notification. Every event carries the snapshot
// taken at emit time so consumers never need a second lookup.
type Event struct {
	Type     EventType      `json:"type"`
	TaskID   string         `json:"task_id"`
	Time     time.Time      `json:"time"`
	Filing   *FilingOutcome `json:"filing,omitempty"`
	Message  string         `json:"message,omitempty"`
	Snapshot Snapshot       `json:"snapshot"`
}

// task is the internal mutable record. All field access goes through
// the mutex; Snapshot() is the only way state leaves the struct.
type task struct {
	mu sync.Mutex

	id      string
	request Request
	state   State

	currentTicker  string
	currentForm    string
	step           string
	stepNumber     int
	stepTotal      int
	filingsTotal   int
	filingsDone    int
	filingsSkipped int
	filingsFailed  int
	outcomes       []FilingOutcome
	errMsg         string

	createdAt   time.Time
	startedAt   *time.Time
	completedAt *time.Time

	// stored lists accessions persisted by this task, in order, for
	// rollback on cancellation.
	stored []string

	ctx    context.Context
	cancel context.CancelFunc
	events *eventQueue
}

func newTask(id string, req Request) *task {
	ctx, cancel := context.WithCancel(context.Background())
	return &task{
		id:        id,
		request:   req,
		state:     StatePending,
		createdAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		events:    newEventQueue(),
	}
}

// snapshotLocked copies the task; callers must hold t.mu.
func (t *task) snapshotLocked() Snapshot {
	outcomes := make([]FilingOutcome, len(t.outcomes))
	copy(outcomes, t.outcomes)
	return Snapshot{
		ID:             t.id,
		Request:        t.request,
		State:          t.state,
		CurrentTicker:  t.currentTicker,
		CurrentForm:    t.currentForm,
		Step:           t.step,
		StepNumber:     t.stepNumber,
		StepTotal:      t.stepTotal,
		FilingsTotal:   t.filingsTotal,
		FilingsDone:    t.filingsDone,
		FilingsSkipped: t.filingsSkipped,
		FilingsFailed:  t.filingsFailed,
		Outcomes:       outcomes,
		Error:          t.errMsg,
		CreatedAt:      t.createdAt,
		StartedAt:      t.startedAt,
		CompletedAt:    t.completedAt,
	}
}

func (t *task) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// emit pushes an event carrying the current snapshot.
func (t *task) emit(typ EventType, filing *FilingOutcome, message string) {
	t.mu.Lock()
	ev := Event{
		Type:     typ,
		TaskID:   t.id,
		Time:     time.Now(),
		Filing:   filing,
		Message:  message,
		Snapshot: t.snapshotLocked(),
	}
	t.mu.Unlock()
	t.events.Push(ev)
}

// cancelled reports whether cancellation was requested.
func (t *task) cancelled() bool {
	select {
	case <-t.ctx.Done():
		return true
	default:
		return false
	}
}

func outcomeFor(f core.FilingID, status OutcomeStatus, chunks int, errMsg string) FilingOutcome {
	return FilingOutcome{
		Ticker:          f.Ticker,
		FormType:        f.FormType,
		FilingDate:      f.DateString(),
		AccessionNumber: f.AccessionNumber,
		Status:          status,
		ChunkCount:      chunks,
		Error:           errMsg,
	}
}
