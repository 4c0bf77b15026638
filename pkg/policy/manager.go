// Package policy authorizes (agent, operation, path) triples against each
// agent's grant record and live confidence, and manages the grant lifecycle:
// registration, promotion via GrantPermission, and single-rung downgrades.
//
// Denial is a result, not an error: CheckPermission always returns a
// structured Decision with a reason string suitable for direct logging.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/guardrail-labs/trustgate/pkg/ladder"
	"github.com/guardrail-labs/trustgate/pkg/registry"
)

// ErrUnknownPermission rejects grants naming a level outside the ladder.
var ErrUnknownPermission = errors.New("unknown permission type")

// ErrNotRegistered is returned by lifecycle mutations on unknown agents.
var ErrNotRegistered = errors.New("agent not registered")

// Permission event types written to the audit trail.
const (
	EventRegistered = "agent_registered"
	EventGranted    = "permission_granted"
	EventDowngraded = "permission_downgraded"
)

// Decision is the structured result of CheckPermission.
type Decision struct {
	Allowed         bool         `json:"allowed"`
	Reason          string       `json:"reason"`
	PermissionLevel ladder.Level `json:"permission_level,omitempty"`
	Confidence      float64      `json:"confidence,omitempty"`
}

// PermissionEvent is the audit record of one grant/downgrade/registration,
// kept independently of the mutable GrantRecord.
type PermissionEvent struct {
	ID                string
	AgentID           string
	EventType         string
	Permission        ladder.Level
	GrantedBy         string
	GrantedAt         time.Time
	ExpiresAt         time.Time
	ConfidenceAtGrant float64
	Justification     string
	ApprovalSignature string
	Metadata          map[string]any
}

// GrantRequest carries the inputs of one GrantPermission call.
type GrantRequest struct {
	AgentID       string
	Permission    string // ladder level name; validated
	GrantedBy     string
	DurationDays  int
	Allowlist     []string // nil means: use the rung's default allowlist
	Forbidlist    []string // nil means: use the rung's default forbidlist
	Justification string
}

// ConfidenceSource supplies the live trust score for threshold checks.
type ConfidenceSource interface {
	Confidence(agentID string) float64
}

// AuditSink receives permission events. Writes are best-effort: a sink
// failure never blocks or reverses a decision already computed.
type AuditSink interface {
	AppendPermissionEvent(ctx context.Context, ev PermissionEvent) error
}

// Manager owns the grant registry and evaluates permission checks.
type Manager struct {
	mu         sync.RWMutex
	repo       registry.Repository
	confidence ConfidenceSource
	audit      AuditSink
	logger     *slog.Logger
	clock      func() time.Time
	records    map[string]*registry.GrantRecord
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithAuditSink attaches an audit sink for permission events.
func WithAuditSink(sink AuditSink) ManagerOption {
	return func(m *Manager) { m.audit = sink }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithClock overrides the clock for deterministic testing.
func WithClock(clock func() time.Time) ManagerOption {
	return func(m *Manager) { m.clock = clock }
}

// NewManager loads the registry from the repository and returns a manager.
// A corrupt registry file is logged and replaced with an empty registry:
// reads fail open so the process keeps running, while every agent becomes
// unregistered, so decisions fail closed.
func NewManager(ctx context.Context, repo registry.Repository, confidence ConfidenceSource, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		repo:       repo,
		confidence: confidence,
		logger:     slog.Default().With("component", "policy"),
		clock:      time.Now,
		records:    make(map[string]*registry.GrantRecord),
	}
	for _, opt := range opts {
		opt(m)
	}

	doc, err := repo.Load(ctx)
	switch {
	case errors.Is(err, registry.ErrCorrupt):
		m.logger.Error("registry corrupt, starting with empty registry", "error", err)
		doc = registry.NewDocument()
	case err != nil:
		return nil, fmt.Errorf("load registry: %w", err)
	}
	for _, rec := range doc.Skills {
		m.records[rec.Agent] = rec
	}
	m.logger.Info("registry loaded", "agents", len(m.records))
	return m, nil
}

// CheckPermission authorizes one (agent, operation, filePath) triple.
// filePath may be empty for operations that do not target a path.
//
// Rule order, first match wins: unregistered, expired, operation coverage,
// forbidlist, allowlist, confidence threshold.
func (m *Manager) CheckPermission(ctx context.Context, agentID, operation, filePath string) Decision {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[agentID]
	if !ok {
		return Decision{Allowed: false, Reason: fmt.Sprintf("agent %q is not registered", agentID)}
	}

	now := m.clock()
	level := rec.PermissionLevel

	if rec.Expired(now) {
		return Decision{
			Allowed:         false,
			Reason:          fmt.Sprintf("permission expired at %s", rec.ExpiresAt.UTC().Format(time.RFC3339)),
			PermissionLevel: level,
		}
	}

	if !level.Covers(operation) {
		return Decision{
			Allowed:         false,
			Reason:          fmt.Sprintf("permission level %q does not cover operation %q", level, operation),
			PermissionLevel: level,
		}
	}

	if ladder.PathSensitive(operation) && filePath != "" {
		allow, forbid := rec.ActivePatterns()
		// Forbidlist always wins over allowlist.
		if pattern, hit := matchAny(forbid, filePath); hit {
			return Decision{
				Allowed:         false,
				Reason:          fmt.Sprintf("path %q matches forbidlist pattern %q", filePath, pattern),
				PermissionLevel: level,
			}
		}
		if len(allow) > 0 {
			if _, hit := matchAny(allow, filePath); !hit {
				return Decision{
					Allowed:         false,
					Reason:          fmt.Sprintf("path %q not in allowlist", filePath),
					PermissionLevel: level,
				}
			}
		}
	}

	conf := m.confidence.Confidence(agentID)
	if floor, required := level.ConfidenceFloor(); required && conf < floor {
		return Decision{
			Allowed:         false,
			Reason:          fmt.Sprintf("confidence %.2f below threshold %.2f for level %q", conf, floor, level),
			PermissionLevel: level,
			Confidence:      conf,
		}
	}

	return Decision{
		Allowed:         true,
		Reason:          fmt.Sprintf("operation %q permitted at level %q", operation, level),
		PermissionLevel: level,
		Confidence:      conf,
	}
}

// RegisterAgent creates an agent's record at the floor rung without granting
// any timed permission. Idempotent: an existing record is returned as-is.
func (m *Manager) RegisterAgent(ctx context.Context, agentID, registeredBy string) (*registry.GrantRecord, error) {
	if agentID == "" {
		return nil, errors.New("agent id must not be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.records[agentID]; ok {
		return rec.Clone(), nil
	}

	rec := &registry.GrantRecord{
		Name:            agentID,
		Agent:           agentID,
		PermissionLevel: ladder.Floor,
		GrantedBy:       registeredBy,
		ConfidenceScore: m.confidence.Confidence(agentID),
	}
	m.records[agentID] = rec
	m.persistLocked(ctx)

	m.emitEvent(ctx, PermissionEvent{
		AgentID:           agentID,
		EventType:         EventRegistered,
		Permission:        ladder.Floor,
		GrantedBy:         registeredBy,
		GrantedAt:         m.clock().UTC(),
		ConfidenceAtGrant: rec.ConfidenceScore,
	})

	m.logger.Info("agent registered", "agent", agentID, "by", registeredBy)
	return rec.Clone(), nil
}

// GrantPermission promotes (or re-grants) an agent to the requested rung.
// The record is created implicitly for unknown agents. Promotion criteria
// are advisory and not re-verified here: the grantor attests they were met.
func (m *Manager) GrantPermission(ctx context.Context, req GrantRequest) (*registry.GrantRecord, error) {
	level, err := ladder.Parse(req.Permission)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPermission, req.Permission)
	}
	if req.AgentID == "" {
		return nil, errors.New("agent id must not be empty")
	}
	if req.DurationDays <= 0 {
		return nil, fmt.Errorf("grant duration must be positive, got %d days", req.DurationDays)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[req.AgentID]
	if !ok {
		rec = &registry.GrantRecord{
			Name:            req.AgentID,
			Agent:           req.AgentID,
			PermissionLevel: ladder.Floor,
		}
		m.records[req.AgentID] = rec
	}

	allow, forbid := req.Allowlist, req.Forbidlist
	if allow == nil || forbid == nil {
		criteria, _ := ladder.CriteriaFor(level)
		if allow == nil {
			allow = criteria.DefaultAllowlist
		}
		if forbid == nil {
			forbid = criteria.DefaultForbidlist
		}
	}

	now := m.clock().UTC()
	expires := now.AddDate(0, 0, req.DurationDays)
	conf := m.confidence.Confidence(req.AgentID)

	signature, err := approvalSignature(req.AgentID, level, req.GrantedBy, now)
	if err != nil {
		return nil, fmt.Errorf("compute approval signature: %w", err)
	}

	reason := req.Justification
	if reason == "" {
		reason = fmt.Sprintf("granted %s by %s", level, req.GrantedBy)
	}

	fromLevel := rec.PermissionLevel
	rec.PromotionHistory = append(rec.PromotionHistory, registry.PromotionEntry{
		From:               fromLevel,
		To:                 level,
		Date:               now,
		Reason:             reason,
		Confidence:         conf,
		ApprovalSignature:  signature,
		AllowlistPatterns:  allow,
		ForbidlistPatterns: forbid,
	})
	rec.PermissionLevel = level
	rec.GrantedAt = now
	rec.GrantedBy = req.GrantedBy
	rec.ExpiresAt = expires
	rec.ConfidenceScore = conf
	rec.RequiresReapproval = false

	m.persistLocked(ctx)

	m.emitEvent(ctx, PermissionEvent{
		AgentID:           req.AgentID,
		EventType:         EventGranted,
		Permission:        level,
		GrantedBy:         req.GrantedBy,
		GrantedAt:         now,
		ExpiresAt:         expires,
		ConfidenceAtGrant: conf,
		Justification:     reason,
		ApprovalSignature: signature,
	})

	m.logger.Info("permission granted",
		"agent", req.AgentID, "from", string(fromLevel), "to", string(level),
		"by", req.GrantedBy, "expires", expires, "confidence", conf)
	return rec.Clone(), nil
}

// DowngradePermission moves the agent exactly one rung down the ladder.
// Already at the floor is a no-op returning true. Confidence is untouched:
// score and rung are decoupled state, cross-checked only at evaluation time.
func (m *Manager) DowngradePermission(ctx context.Context, agentID, reason string, requiresReapproval bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[agentID]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrNotRegistered, agentID)
	}

	if rec.PermissionLevel == ladder.Floor {
		return true, nil
	}

	fromLevel := rec.PermissionLevel
	rec.PermissionLevel = fromLevel.Below()
	rec.RequiresReapproval = requiresReapproval

	m.persistLocked(ctx)

	m.emitEvent(ctx, PermissionEvent{
		AgentID:           agentID,
		EventType:         EventDowngraded,
		Permission:        rec.PermissionLevel,
		GrantedAt:         m.clock().UTC(),
		ConfidenceAtGrant: m.confidence.Confidence(agentID),
		Justification:     reason,
		Metadata:          map[string]any{"from": string(fromLevel), "requires_reapproval": requiresReapproval},
	})

	m.logger.Warn("permission downgraded",
		"agent", agentID, "from", string(fromLevel), "to", string(rec.PermissionLevel),
		"reason", reason, "requires_reapproval", requiresReapproval)
	return true, nil
}

// GetPermissionLevel returns the agent's current rung.
func (m *Manager) GetPermissionLevel(agentID string) (ladder.Level, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[agentID]
	if !ok {
		return "", false
	}
	return rec.PermissionLevel, true
}

// GetGrantRecord returns a copy of the agent's record.
func (m *Manager) GetGrantRecord(agentID string) (*registry.GrantRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[agentID]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// persistLocked writes the whole registry through the repository. A save
// failure is logged and swallowed: the in-memory registry has already
// advanced and decisions remain authoritative. Caller holds m.mu.
func (m *Manager) persistLocked(ctx context.Context) {
	doc := &registry.Document{Version: registry.DocumentVersion}
	agents := make([]string, 0, len(m.records))
	for agent := range m.records {
		agents = append(agents, agent)
	}
	sort.Strings(agents)
	for _, agent := range agents {
		doc.Skills = append(doc.Skills, m.records[agent].Clone())
	}
	if err := m.repo.Save(ctx, doc); err != nil {
		m.logger.Error("registry persist failed", "error", err)
	}
}

// emitEvent appends a permission event best-effort.
func (m *Manager) emitEvent(ctx context.Context, ev PermissionEvent) {
	if m.audit == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if err := m.audit.AppendPermissionEvent(ctx, ev); err != nil {
		m.logger.Error("permission event persist failed",
			"agent", ev.AgentID, "event_type", ev.EventType, "error", err)
	}
}
