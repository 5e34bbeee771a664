package models

import "time"

type RunPhase string

const (
	PhaseIdle     RunPhase = "idle"
	PhaseRunning  RunPhase = "running"
	PhaseStopping RunPhase = "stopping"
)

// Outcome classifies a single attempted data point.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeZero    Outcome = "zero"
	OutcomeFailure Outcome = "failure"
)

type ExecutionResult struct {
	RunID        string    `json:"run_id" db:"run_id"`
	DataPointID  string    `json:"data_point_id" db:"data_point_id"`
	Value        float64   `json:"value" db:"value"`
	Outcome      Outcome   `json:"outcome" db:"outcome"`
	Succeeded    bool      `json:"succeeded" db:"succeeded"`
	ErrorKind    string    `json:"error_kind,omitempty" db:"error_kind"`
	ErrorMessage string    `json:"error_message,omitempty" db:"error_message"`
	DurationMs   int64     `json:"duration_ms" db:"duration_ms"`
	ExecutedAt   time.Time `json:"executed_at" db:"executed_at"`
}

// RunState is an immutable snapshot of the current or last run.
// A published snapshot is never modified; the coordinator publishes a fresh
// copy on every transition.
type RunState struct {
	RunID             string            `json:"run_id,omitempty"`
	Mode              RunMode           `json:"mode,omitempty"`
	Phase             RunPhase          `json:"phase"`
	ActiveDataPointID string            `json:"active_data_point_id,omitempty"`
	LastDataPointID   string            `json:"last_data_point_id,omitempty"`
	Total             int               `json:"total"`
	ProcessedCount    int               `json:"processed_count"`
	SuccessCount      int               `json:"success_count"`
	ZeroValueCount    int               `json:"zero_value_count"`
	FailureCount      int               `json:"failure_count"`
	Stopped           bool              `json:"stopped"`
	StartedAt         *time.Time        `json:"started_at,omitempty"`
	FinishedAt        *time.Time        `json:"finished_at,omitempty"`
	Results           []ExecutionResult `json:"results,omitempty"`
}

// Clone returns a deep copy so the caller can mutate it without touching
// a published snapshot.
func (s RunState) Clone() RunState {
	out := s
	if s.Results != nil {
		out.Results = make([]ExecutionResult, len(s.Results))
		copy(out.Results, s.Results)
	}
	return out
}

// Record tallies a finished row.
func (s *RunState) Record(res ExecutionResult) {
	s.ProcessedCount++
	switch res.Outcome {
	case OutcomeSuccess:
		s.SuccessCount++
	case OutcomeZero:
		s.ZeroValueCount++
	case OutcomeFailure:
		s.FailureCount++
	}
	s.LastDataPointID = res.DataPointID
	s.Results = append(s.Results, res)
}
