// Package trust maintains a bounded [0,1] confidence score per agent,
// derived from a time-decayed weighted history of execution outcomes.
// The score feeds the permission engine's live threshold checks.
package trust

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// NeutralPrior is the score assigned to agents with no history.
	NeutralPrior = 0.5

	// lookback is the window outside which events carry zero weight.
	lookback = 30 * 24 * time.Hour

	// decayRate is the per-day exponential decay applied to event weights.
	decayRate = 0.05

	// recentFailureWindow bounds the failure-streak multiplier.
	recentFailureWindow = 7 * 24 * time.Hour
)

// EventStore persists scored outcomes and serves them back for trajectory
// queries and cache rehydration. Implementations must preserve per-agent
// temporal ordering.
type EventStore interface {
	AppendConfidenceEvent(ctx context.Context, ev Event) error
	ConfidenceEvents(ctx context.Context, agentID string, since time.Time) ([]Event, error)
	ConfidenceEventsSince(ctx context.Context, since time.Time) ([]Event, error)
}

// Tracker computes and caches per-agent confidence scores.
//
// The cache is authoritative for reads; the store is a best-effort audit
// trail. A store write failure is logged and swallowed so the caller's
// decision loop never blocks on audit I/O.
type Tracker struct {
	mu      sync.RWMutex
	store   EventStore
	logger  *slog.Logger
	clock   func() time.Time
	scores  map[string]float64
	history map[string][]Event // per-agent events inside the lookback window
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// WithClock overrides the clock for deterministic testing.
func WithClock(clock func() time.Time) Option {
	return func(t *Tracker) { t.clock = clock }
}

// NewTracker creates a tracker backed by the given event store.
// The store may be nil, in which case scores are purely in-memory.
func NewTracker(store EventStore, opts ...Option) *Tracker {
	t := &Tracker{
		store:   store,
		logger:  slog.Default().With("component", "trust"),
		clock:   time.Now,
		scores:  make(map[string]float64),
		history: make(map[string][]Event),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// UpdateConfidence ingests one outcome for the agent, recomputes the
// time-decayed score, persists the event best-effort, and returns the new
// score. The returned score is always within [0,1].
func (t *Tracker) UpdateConfidence(ctx context.Context, agentID string, outcome Outcome) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock()
	ts := outcome.Timestamp
	if ts.IsZero() {
		ts = now
	}

	before, ok := t.scores[agentID]
	if !ok {
		before = NeutralPrior
	}

	ev := Event{
		ID:         uuid.New().String(),
		AgentID:    agentID,
		Kind:       outcome.Kind,
		Success:    outcome.Success,
		Before:     before,
		RecordedAt: ts.UTC(),
		Metadata:   outcome.Metadata,
	}

	events := t.pruneLocked(agentID, now)
	events = append(events, ev)
	after := score(events, now)
	ev.After = after

	events[len(events)-1] = ev
	t.history[agentID] = events
	t.scores[agentID] = after

	if t.store != nil {
		if err := t.store.AppendConfidenceEvent(ctx, ev); err != nil {
			// Audit is best-effort: an audit gap beats blocking the caller.
			t.logger.Error("confidence event persist failed",
				"agent", agentID, "event_kind", string(ev.Kind), "error", err)
		}
	}

	t.logger.Debug("confidence updated",
		"agent", agentID, "event_kind", string(ev.Kind),
		"success", ev.Success, "before", before, "after", after)
	return after
}

// GetConfidence returns the cached score for the agent, or the neutral
// prior for agents that have never been scored. Pure read, no I/O.
func (t *Tracker) GetConfidence(agentID string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.scores[agentID]; ok {
		return s
	}
	return NeutralPrior
}

// Confidence implements the policy engine's ConfidenceSource.
func (t *Tracker) Confidence(agentID string) float64 {
	return t.GetConfidence(agentID)
}

// Trajectory reconstructs the agent's confidence history from the persisted
// event log, oldest first, bounded to the requested number of days.
func (t *Tracker) Trajectory(ctx context.Context, agentID string, days int) ([]TrajectoryPoint, error) {
	if t.store == nil {
		return nil, nil
	}
	since := t.clock().Add(-time.Duration(days) * 24 * time.Hour)
	events, err := t.store.ConfidenceEvents(ctx, agentID, since)
	if err != nil {
		return nil, err
	}
	points := make([]TrajectoryPoint, 0, len(events))
	for _, ev := range events {
		points = append(points, TrajectoryPoint{
			RecordedAt: ev.RecordedAt,
			Confidence: ev.After,
			Kind:       ev.Kind,
			Success:    ev.Success,
		})
	}
	return points, nil
}

// Rehydrate rebuilds the in-memory cache from the persisted event log.
// Called once at startup; without it a fresh process would silently reset
// every agent to the neutral prior.
func (t *Tracker) Rehydrate(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	now := t.clock()
	events, err := t.store.ConfidenceEventsSince(ctx, now.Add(-lookback))
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.history = make(map[string][]Event)
	t.scores = make(map[string]float64)
	for _, ev := range events {
		t.history[ev.AgentID] = append(t.history[ev.AgentID], ev)
	}
	for agent, evs := range t.history {
		t.scores[agent] = score(evs, now)
	}
	t.logger.Info("confidence cache rehydrated", "agents", len(t.scores), "events", len(events))
	return nil
}

// pruneLocked drops events older than the lookback window and returns the
// surviving slice. Caller holds t.mu.
func (t *Tracker) pruneLocked(agentID string, now time.Time) []Event {
	evs := t.history[agentID]
	cutoff := now.Add(-lookback)
	kept := evs[:0]
	for _, ev := range evs {
		if ev.RecordedAt.After(cutoff) {
			kept = append(kept, ev)
		}
	}
	return kept
}

// score computes the time-decayed confidence over a set of events.
// Events outside the lookback window contribute nothing.
func score(events []Event, now time.Time) float64 {
	cutoff := now.Add(-lookback)
	failureCutoff := now.Add(-recentFailureWindow)

	var weightedTotal, weightedSuccesses float64
	recentFailures := 0

	for _, ev := range events {
		if !ev.RecordedAt.After(cutoff) {
			continue
		}
		daysAgo := now.Sub(ev.RecordedAt).Hours() / 24
		if daysAgo < 0 {
			daysAgo = 0
		}
		weight := math.Exp(-decayRate * daysAgo)
		weightedTotal += weight

		delta, _ := ev.Kind.Delta()
		if ev.Success {
			weightedSuccesses += weight * (1 + math.Max(0, delta))
		} else {
			weightedSuccesses += weight * math.Min(0, delta)
			if ev.RecordedAt.After(failureCutoff) {
				recentFailures++
			}
		}
	}

	if weightedTotal == 0 {
		return NeutralPrior
	}

	base := weightedSuccesses / weightedTotal
	multiplier := math.Max(0.5, 1-0.1*float64(recentFailures))
	return clamp(base * multiplier)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
