package model

import "time"

// Run status constants.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Sampling path constants. They record how the shots of a run were produced.
const (
	PathNative         = "native"
	PathEmulated       = "emulated"
	PathNativeFeedback = "native-feedback"
	PathRemote         = "remote"
)

// validTransitions maps each status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusRunning: true,
		StatusFailed:  true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether status is a final run status.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// Run event kinds.
const (
	EventQueued    = "queued"
	EventRunning   = "running"
	EventProgress  = "progress"
	EventCompleted = "completed"
	EventFailed    = "failed"
)

// RunEvent is one step in the life of a sampling run. Seq numbers the events
// of a run from zero. Shot and Shots are set on progress events only.
type RunEvent struct {
	ID        int64     `json:"id,omitempty"`
	RunID     string    `json:"run_id"`
	Seq       int       `json:"seq"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Shot      int       `json:"shot,omitempty"`
	Shots     int       `json:"shots,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Terminal reports whether the event finishes its run.
func (e RunEvent) Terminal() bool {
	return e.Kind == EventCompleted || e.Kind == EventFailed
}

// Run records one sampling invocation of a kernel on a QPU.
type Run struct {
	ID         string         `json:"id"`
	Status     string         `json:"status"`
	Kernel     string         `json:"kernel"`
	QPU        int            `json:"qpu"`
	Shots      int            `json:"shots"`
	Path       string         `json:"path,omitempty"`
	Async      bool           `json:"async"`
	Counts     map[string]int `json:"counts,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMS *int           `json:"duration_ms,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// Result returns the run's counts as a SampleResult.
func (r *Run) Result() SampleResult {
	res := NewSampleResult()
	for bits, n := range r.Counts {
		res.Add(bits, n)
	}
	return res
}
