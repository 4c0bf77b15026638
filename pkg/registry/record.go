// Package registry persists the grant registry: one GrantRecord per agent,
// stored as a single versioned JSON document. The file-backed repository
// validates the document against an embedded JSON Schema on load and writes
// atomically (temp file then rename) so readers never observe a torn write.
package registry

import (
	"time"

	"github.com/guardrail-labs/trustgate/pkg/ladder"
)

// DocumentVersion is the registry document format version this build writes.
const DocumentVersion = "1.0.0"

// PromotionEntry captures one ladder transition. Entries are append-only:
// the newest entry carries the allow/forbid patterns currently in force.
type PromotionEntry struct {
	From               ladder.Level `json:"from"`
	To                 ladder.Level `json:"to"`
	Date               time.Time    `json:"date"`
	Reason             string       `json:"reason"`
	Confidence         float64      `json:"confidence"`
	ApprovalSignature  string       `json:"approval_signature"`
	AllowlistPatterns  []string     `json:"allowlist_patterns"`
	ForbidlistPatterns []string     `json:"forbidlist_patterns"`
}

// GrantRecord is the persisted standing of one agent on the ladder.
type GrantRecord struct {
	Name               string           `json:"name"`
	Agent              string           `json:"agent"`
	PermissionLevel    ladder.Level     `json:"permission_level"`
	GrantedAt          time.Time        `json:"permission_granted_at"`
	GrantedBy          string           `json:"permission_granted_by"`
	ExpiresAt          time.Time        `json:"permission_expires_at"`
	ConfidenceScore    float64          `json:"confidence_score"`
	RequiresReapproval bool             `json:"requires_reapproval"`
	PromotionHistory   []PromotionEntry `json:"promotion_history"`
}

// Expired reports whether the grant has lapsed at the given instant.
// A zero ExpiresAt means the record has never been granted a timed
// permission and is not subject to expiry.
func (r *GrantRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// ActivePatterns returns the allow/forbid pattern lists from the most
// recent promotion entry. Both are nil when no promotion has happened.
func (r *GrantRecord) ActivePatterns() (allow, forbid []string) {
	if len(r.PromotionHistory) == 0 {
		return nil, nil
	}
	last := r.PromotionHistory[len(r.PromotionHistory)-1]
	return last.AllowlistPatterns, last.ForbidlistPatterns
}

// Clone returns a deep copy, so callers can hand records out without
// exposing internal state to mutation.
func (r *GrantRecord) Clone() *GrantRecord {
	cp := *r
	cp.PromotionHistory = make([]PromotionEntry, len(r.PromotionHistory))
	copy(cp.PromotionHistory, r.PromotionHistory)
	for i := range cp.PromotionHistory {
		cp.PromotionHistory[i].AllowlistPatterns = append([]string(nil), r.PromotionHistory[i].AllowlistPatterns...)
		cp.PromotionHistory[i].ForbidlistPatterns = append([]string(nil), r.PromotionHistory[i].ForbidlistPatterns...)
	}
	return &cp
}

// Document is the on-disk registry format.
type Document struct {
	Version string         `json:"version"`
	Skills  []*GrantRecord `json:"skills"`
}

// NewDocument returns an empty document at the current format version.
func NewDocument() *Document {
	return &Document{Version: DocumentVersion, Skills: []*GrantRecord{}}
}
