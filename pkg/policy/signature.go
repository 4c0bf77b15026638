package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/guardrail-labs/trustgate/pkg/ladder"
)

// approvalSignature computes the deterministic hash binding an agent,
// permission, grantor, and timestamp for the tamper-evident promotion
// history. It is an integrity marker, not an authentication credential.
func approvalSignature(agentID string, permission ladder.Level, grantedBy string, ts time.Time) (string, error) {
	payload := map[string]string{
		"agent_id":   agentID,
		"permission": string(permission),
		"granted_by": grantedBy,
		"timestamp":  ts.UTC().Format(time.RFC3339),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal signature payload: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize signature payload: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
