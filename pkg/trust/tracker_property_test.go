//go:build property
// +build property

// Property-based tests for the confidence score algebra.
package trust

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var allKinds = []EventKind{
	"", EditRolledBack, HumanRejection, WSPViolation, RegressionCaused,
	SecurityIssue, FalsePositive, DuplicateWork,
	HumanApproval, TestsPassed, WSPCompliant, PeerValidation, ProductionStable,
}

// TestConfidenceAlwaysBounded verifies 0 <= score <= 1 for arbitrary
// outcome sequences, kinds, and timestamps within the lookback window.
func TestConfidenceAlwaysBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	properties.Property("score stays in [0,1]", prop.ForAll(
		func(successes []bool, kindIdx []int, hoursAgo []int) bool {
			tr := NewTracker(nil, WithClock(func() time.Time { return now }))
			ctx := context.Background()

			n := len(successes)
			if len(kindIdx) < n {
				n = len(kindIdx)
			}
			if len(hoursAgo) < n {
				n = len(hoursAgo)
			}
			for i := 0; i < n; i++ {
				kind := allKinds[kindIdx[i]%len(allKinds)]
				ts := now.Add(-time.Duration(hoursAgo[i]%(40*24)) * time.Hour)
				got := tr.UpdateConfidence(ctx, "agent", Outcome{
					Success:   successes[i],
					Kind:      kind,
					Timestamp: ts,
				})
				if got < 0.0 || got > 1.0 {
					return false
				}
			}
			final := tr.GetConfidence("agent")
			return final >= 0.0 && final <= 1.0
		},
		gen.SliceOf(gen.Bool()),
		gen.SliceOf(gen.IntRange(0, 1000)),
		gen.SliceOf(gen.IntRange(0, 10000)),
	))

	properties.TestingRun(t)
}
