package trust

import (
	"time"
)

// EventKind names an outcome that carries a fixed confidence delta.
// The empty kind is a plain success/failure with no delta.
type EventKind string

// Decay events (penalties).
const (
	EditRolledBack   EventKind = "EDIT_ROLLED_BACK"
	HumanRejection   EventKind = "HUMAN_REJECTION"
	WSPViolation     EventKind = "WSP_VIOLATION"
	RegressionCaused EventKind = "REGRESSION_CAUSED"
	SecurityIssue    EventKind = "SECURITY_ISSUE"
	FalsePositive    EventKind = "FALSE_POSITIVE"
	DuplicateWork    EventKind = "DUPLICATE_WORK"
)

// Boost events.
const (
	HumanApproval    EventKind = "HUMAN_APPROVAL"
	TestsPassed      EventKind = "TESTS_PASSED"
	WSPCompliant     EventKind = "WSP_COMPLIANT"
	PeerValidation   EventKind = "PEER_VALIDATION"
	ProductionStable EventKind = "PRODUCTION_STABLE"
)

// eventDeltas is the single dispatch table for named events. Penalties are
// negative, boosts positive. Unknown names simply resolve to a zero delta.
var eventDeltas = map[EventKind]float64{
	EditRolledBack:   -0.15,
	HumanRejection:   -0.10,
	WSPViolation:     -0.20,
	RegressionCaused: -0.25,
	SecurityIssue:    -0.50,
	FalsePositive:    -0.05,
	DuplicateWork:    -0.03,

	HumanApproval:    +0.10,
	TestsPassed:      +0.05,
	WSPCompliant:     +0.03,
	PeerValidation:   +0.08,
	ProductionStable: +0.15,
}

// Delta returns the signed confidence delta for a named event. The second
// return is false for the empty kind and for names outside the tables.
func (k EventKind) Delta() (float64, bool) {
	d, ok := eventDeltas[k]
	return d, ok
}

// Outcome is the caller-supplied report of one autonomous action.
type Outcome struct {
	Success   bool
	Kind      EventKind      // optional named decay/boost event
	Timestamp time.Time      // zero means now
	Metadata  map[string]any // free-form, persisted with the event
}

// Event is the immutable persisted form of one scored outcome.
type Event struct {
	ID         string
	AgentID    string
	Kind       EventKind
	Success    bool
	Before     float64
	After      float64
	RecordedAt time.Time
	Metadata   map[string]any
}

// TrajectoryPoint is one step of an agent's reconstructed confidence history.
type TrajectoryPoint struct {
	RecordedAt time.Time `json:"recorded_at"`
	Confidence float64   `json:"confidence"`
	Kind       EventKind `json:"event_kind,omitempty"`
	Success    bool      `json:"success"`
}
