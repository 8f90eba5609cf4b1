package job

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle position of a job.
//
// Valid transitions:
//
//	Discovered → Stable → Processing → Exporting → Completed | Failed | Skipped
//	Completed → Archived
//
// Any other transition is a programming error and is rejected.
type State int

const (
	StateDiscovered State = iota + 1
	StateStable
	StateProcessing
	StateExporting
	StateCompleted
	StateFailed
	StateSkipped
	StateArchived
)

var stateNames = map[State]string{
	StateDiscovered: "discovered",
	StateStable:     "stable",
	StateProcessing: "processing",
	StateExporting:  "exporting",
	StateCompleted:  "completed",
	StateFailed:     "failed",
	StateSkipped:    "skipped",
	StateArchived:   "archived",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transitions are possible,
// except Completed → Archived.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateSkipped, StateArchived:
		return true
	}
	return false
}

var validTransitions = map[State][]State{
	StateDiscovered: {StateStable},
	StateStable:     {StateProcessing},
	StateProcessing: {StateExporting, StateFailed},
	StateExporting:  {StateCompleted, StateFailed, StateSkipped},
	StateCompleted:  {StateArchived},
}

// OutcomeStatus records how a single export destination ended up.
type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeSkipped   OutcomeStatus = "skipped"
)

// Outcome is the per-destination result. Destinations are fully isolated:
// one destination's failure never appears in another's outcome.
type Outcome struct {
	DestinationID string
	Status        OutcomeStatus
	Attempts      int
	Err           string
	Target        string // rendered path / recipient, for operator visibility
}

// Job is one in-flight document and its accumulated context.
//
// A job is owned by exactly one pipeline worker between admission and its
// terminal state. The context map is write-once per key: later actions may
// only add new keys, so expression evaluation is order-independent for
// already-populated variables.
type Job struct {
	ID           uuid.UUID
	HotfolderID  string
	Path         string
	DiscoveredAt time.Time

	mu       sync.Mutex
	state    State
	ctx      map[string]string
	order    []string
	outcomes []Outcome
	attempts int
}

// New creates a job in the Discovered state for the given source file.
func New(hotfolderID, path string) *Job {
	return &Job{
		ID:           uuid.New(),
		HotfolderID:  hotfolderID,
		Path:         path,
		DiscoveredAt: time.Now(),
		state:        StateDiscovered,
		ctx:          make(map[string]string),
	}
}

// State returns the current lifecycle state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Transition moves the job to the next state. Returns an error for any
// transition not in the lifecycle diagram.
func (j *Job) Transition(to State) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, next := range validTransitions[j.state] {
		if next == to {
			j.state = to
			return nil
		}
	}
	return fmt.Errorf("invalid job transition %s → %s (job %s)", j.state, to, j.ID)
}

// Set writes a context variable. A second write to the same key is rejected;
// keys are add-only for the lifetime of the job.
func (j *Job) Set(key, value string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.ctx[key]; ok {
		return fmt.Errorf("context key %q already set (job %s)", key, j.ID)
	}
	j.ctx[key] = value
	j.order = append(j.order, key)
	return nil
}

// Get returns a context variable and whether it is present.
func (j *Job) Get(key string) (string, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	v, ok := j.ctx[key]
	return v, ok
}

// Snapshot returns an immutable copy of the context for expression and
// condition evaluation. Evaluators never see later writes.
func (j *Job) Snapshot() map[string]string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make(map[string]string, len(j.ctx))
	for k, v := range j.ctx {
		out[k] = v
	}
	return out
}

// Keys returns the context keys in insertion order.
func (j *Job) Keys() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.order))
	copy(out, j.order)
	return out
}

// RecordOutcome appends a per-destination outcome.
func (j *Job) RecordOutcome(o Outcome) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.outcomes = append(j.outcomes, o)
}

// Outcomes returns a copy of all recorded destination outcomes.
func (j *Job) Outcomes() []Outcome {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Outcome, len(j.outcomes))
	copy(out, j.outcomes)
	return out
}

// NextAttempt increments and returns the job-level attempt counter.
func (j *Job) NextAttempt() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.attempts++
	return j.attempts
}

// Attempts returns the job-level attempt counter.
func (j *Job) Attempts() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.attempts
}

// BaseName returns the source file name without extension.
func (j *Job) BaseName() string {
	base := filepath.Base(j.Path)
	return base[:len(base)-len(filepath.Ext(base))]
}
