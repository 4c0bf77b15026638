// Package ladder defines the ordered permission ladder an autonomous agent
// climbs as it earns trust, the operations each rung covers, and the
// confidence thresholds and promotion criteria attached to each rung.
package ladder

import (
	"fmt"
)

// Level is one rung of the permission ladder.
type Level string

const (
	ReadOnly        Level = "read_only"
	MetricsWrite    Level = "metrics_write"
	EditAccessTests Level = "edit_access_tests"
	EditAccessSrc   Level = "edit_access_src"
)

// Rungs lists the ladder from least to most capable. Each rung inherits
// every operation covered by the rungs below it.
var Rungs = []Level{ReadOnly, MetricsWrite, EditAccessTests, EditAccessSrc}

var rungRank = map[Level]int{
	ReadOnly: 0, MetricsWrite: 1, EditAccessTests: 2, EditAccessSrc: 3,
}

// Parse validates a permission level name.
func Parse(s string) (Level, error) {
	l := Level(s)
	if _, ok := rungRank[l]; !ok {
		return "", fmt.Errorf("unknown permission level %q", s)
	}
	return l, nil
}

// Valid reports whether l names a rung of the ladder.
func (l Level) Valid() bool {
	_, ok := rungRank[l]
	return ok
}

// Rank returns the position of l on the ladder, or -1 for unknown levels.
func (l Level) Rank() int {
	r, ok := rungRank[l]
	if !ok {
		return -1
	}
	return r
}

// Below returns the rung one step down. The floor stays at the floor.
func (l Level) Below() Level {
	r := l.Rank()
	if r <= 0 {
		return ReadOnly
	}
	return Rungs[r-1]
}

// Floor is the rung every agent starts at.
const Floor = ReadOnly

// opFloor maps each operation to the lowest rung that covers it.
// Higher rungs inherit all operations of the rungs below them.
var opFloor = map[string]Level{
	"read":          ReadOnly,
	"analyze":       ReadOnly,
	"metrics_write": MetricsWrite,
	"log_write":     MetricsWrite,
	"edit":          EditAccessTests,
	"write":         EditAccessTests,
}

// Covers reports whether rung l covers the requested operation.
func (l Level) Covers(operation string) bool {
	floor, ok := opFloor[operation]
	if !ok {
		return false
	}
	return l.Rank() >= floor.Rank()
}

// PathSensitive reports whether the operation targets a file path and is
// therefore subject to allowlist/forbidlist evaluation.
func PathSensitive(operation string) bool {
	return operation == "edit" || operation == "write"
}

// confidenceFloors holds the minimum live confidence required to exercise
// each rung at evaluation time. The floor rung has no requirement.
var confidenceFloors = map[Level]float64{
	MetricsWrite:    0.70,
	EditAccessTests: 0.80,
	EditAccessSrc:   0.90,
}

// ConfidenceFloor returns the downgrade threshold for l. The second return
// is false for rungs that carry no confidence requirement.
func (l Level) ConfidenceFloor() (float64, bool) {
	f, ok := confidenceFloors[l]
	return f, ok
}

// PromotionCriteria describes what an agent is expected to have demonstrated
// before being promoted to a rung, plus the default path patterns in force
// once promoted. The criteria are advisory: the grantor attests they were
// met, the engine does not re-verify them.
type PromotionCriteria struct {
	ConfidenceRequired   float64
	SuccessfulExecutions int
	HumanValidations     int
	TrialPeriodDays      int
	DefaultAllowlist     []string
	DefaultForbidlist    []string
}

var promotionCriteria = map[Level]PromotionCriteria{
	ReadOnly: {
		ConfidenceRequired: 0.0,
	},
	MetricsWrite: {
		ConfidenceRequired:   0.60,
		SuccessfulExecutions: 10,
		HumanValidations:     1,
		TrialPeriodDays:      7,
		DefaultAllowlist:     []string{"metrics/**/*.json", "reports/**/*.md"},
		DefaultForbidlist:    []string{".git/**", "secrets/**"},
	},
	EditAccessTests: {
		ConfidenceRequired:   0.75,
		SuccessfulExecutions: 25,
		HumanValidations:     3,
		TrialPeriodDays:      14,
		DefaultAllowlist:     []string{"modules/**/tests/*.py", "tests/**/*.py"},
		DefaultForbidlist:    []string{".git/**", "secrets/**"},
	},
	EditAccessSrc: {
		ConfidenceRequired:   0.90,
		SuccessfulExecutions: 50,
		HumanValidations:     5,
		TrialPeriodDays:      30,
		DefaultAllowlist:     []string{"modules/**/src/*.py", "modules/**/tests/*.py", "tests/**/*.py"},
		DefaultForbidlist:    []string{".git/**", "secrets/**", "config/credentials*"},
	},
}

// CriteriaFor returns the promotion criteria for a rung.
func CriteriaFor(l Level) (PromotionCriteria, bool) {
	c, ok := promotionCriteria[l]
	return c, ok
}
