// Package engine wires the confidence tracker, permission manager, audit
// store, and telemetry into the single surface collaborators consume. It
// also serializes the write path: grant, downgrade, and confidence updates
// take an engine-wide lock so a single writer mutates shared state at a
// time, while checks and reads run concurrently.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/guardrail-labs/trustgate/pkg/audit"
	"github.com/guardrail-labs/trustgate/pkg/config"
	"github.com/guardrail-labs/trustgate/pkg/ladder"
	"github.com/guardrail-labs/trustgate/pkg/observability"
	"github.com/guardrail-labs/trustgate/pkg/policy"
	"github.com/guardrail-labs/trustgate/pkg/registry"
	"github.com/guardrail-labs/trustgate/pkg/trust"
)

// Engine is the confidence-weighted permission escalation engine.
type Engine struct {
	writeMu sync.Mutex

	tracker *trust.Tracker
	manager *policy.Manager
	store   *audit.Store
	obs     *observability.Provider
	logger  *slog.Logger
}

// New builds an engine from configuration: opens the audit database, loads
// the grant registry, rehydrates the confidence cache from the last 30 days
// of events, and starts telemetry when enabled.
func New(ctx context.Context, cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	logger := slog.Default().With("component", "engine")

	store, err := audit.Open(cfg.AuditDBPath)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}

	tracker := trust.NewTracker(store)
	if err := tracker.Rehydrate(ctx); err != nil {
		// A rehydration failure resets agents to the neutral prior; the
		// engine keeps running and scores rebuild from new outcomes.
		logger.Warn("confidence rehydration failed, starting from neutral prior", "error", err)
	}

	repo := registry.NewFileRepository(cfg.RegistryPath)
	manager, err := policy.NewManager(ctx, repo, tracker, policy.WithAuditSink(store))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("load permission manager: %w", err)
	}

	obs, err := observability.New(ctx, cfg.Telemetry)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("start telemetry: %w", err)
	}

	return &Engine{
		tracker: tracker,
		manager: manager,
		store:   store,
		obs:     obs,
		logger:  logger,
	}, nil
}

// NewWithComponents assembles an engine from pre-built parts. Used by tests
// and by hosts that manage their own persistence wiring.
func NewWithComponents(tracker *trust.Tracker, manager *policy.Manager, store *audit.Store, obs *observability.Provider) *Engine {
	return &Engine{
		tracker: tracker,
		manager: manager,
		store:   store,
		obs:     obs,
		logger:  slog.Default().With("component", "engine"),
	}
}

// RegisterAgent creates an agent's grant record at the floor rung.
func (e *Engine) RegisterAgent(ctx context.Context, agentID, registeredBy string) (*registry.GrantRecord, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.manager.RegisterAgent(ctx, agentID, registeredBy)
}

// CheckPermission authorizes one (agent, operation, filePath) triple.
func (e *Engine) CheckPermission(ctx context.Context, agentID, operation, filePath string) policy.Decision {
	ctx, span := e.obs.StartSpan(ctx, "trustgate.check_permission",
		attribute.String("agent", agentID),
		attribute.String("operation", operation))
	defer span.End()

	d := e.manager.CheckPermission(ctx, agentID, operation, filePath)
	e.obs.RecordDecision(ctx, d.Allowed, string(d.PermissionLevel))
	return d
}

// GrantPermission promotes (or re-grants) an agent to the requested rung.
func (e *Engine) GrantPermission(ctx context.Context, req policy.GrantRequest) (*registry.GrantRecord, error) {
	ctx, span := e.obs.StartSpan(ctx, "trustgate.grant_permission",
		attribute.String("agent", req.AgentID),
		attribute.String("permission", req.Permission))
	defer span.End()

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	rec, err := e.manager.GrantPermission(ctx, req)
	if err != nil {
		return nil, err
	}
	e.obs.RecordGrant(ctx, string(rec.PermissionLevel))
	return rec, nil
}

// DowngradePermission moves the agent one rung down the ladder.
func (e *Engine) DowngradePermission(ctx context.Context, agentID, reason string, requiresReapproval bool) (bool, error) {
	ctx, span := e.obs.StartSpan(ctx, "trustgate.downgrade_permission",
		attribute.String("agent", agentID))
	defer span.End()

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	ok, err := e.manager.DowngradePermission(ctx, agentID, reason, requiresReapproval)
	if err != nil {
		return ok, err
	}
	if level, found := e.manager.GetPermissionLevel(agentID); found {
		e.obs.RecordDowngrade(ctx, string(level))
	}
	return ok, nil
}

// GetPermissionLevel returns the agent's current rung.
func (e *Engine) GetPermissionLevel(agentID string) (ladder.Level, bool) {
	return e.manager.GetPermissionLevel(agentID)
}

// UpdateConfidence ingests one execution outcome and returns the new score.
func (e *Engine) UpdateConfidence(ctx context.Context, agentID string, outcome trust.Outcome) float64 {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	score := e.tracker.UpdateConfidence(ctx, agentID, outcome)
	e.obs.RecordConfidence(ctx, score, outcome.Success)
	return score
}

// GetConfidence returns the agent's cached confidence score.
func (e *Engine) GetConfidence(agentID string) float64 {
	return e.tracker.GetConfidence(agentID)
}

// GetConfidenceTrajectory reconstructs the agent's score history from the
// audit log, oldest first, bounded to the requested number of days.
func (e *Engine) GetConfidenceTrajectory(ctx context.Context, agentID string, days int) ([]trust.TrajectoryPoint, error) {
	return e.tracker.Trajectory(ctx, agentID, days)
}

// Close releases the audit store and flushes telemetry.
func (e *Engine) Close(ctx context.Context) error {
	var firstErr error
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			firstErr = err
		}
	}
	if err := e.obs.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
