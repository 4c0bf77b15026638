package ladder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLadderOrdering(t *testing.T) {
	for i := 1; i < len(Rungs); i++ {
		assert.Greater(t, Rungs[i].Rank(), Rungs[i-1].Rank(),
			"%s must outrank %s", Rungs[i], Rungs[i-1])
	}
}

func TestParse(t *testing.T) {
	l, err := Parse("metrics_write")
	require.NoError(t, err)
	assert.Equal(t, MetricsWrite, l)

	_, err = Parse("root_access")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown permission level")
}

func TestBelowStopsAtFloor(t *testing.T) {
	assert.Equal(t, EditAccessTests, EditAccessSrc.Below())
	assert.Equal(t, MetricsWrite, EditAccessTests.Below())
	assert.Equal(t, ReadOnly, MetricsWrite.Below())
	assert.Equal(t, ReadOnly, ReadOnly.Below())
}

func TestCoversInheritsLowerRungs(t *testing.T) {
	// Every rung covers read.
	for _, l := range Rungs {
		assert.True(t, l.Covers("read"), "%s should cover read", l)
	}

	assert.False(t, ReadOnly.Covers("metrics_write"))
	assert.True(t, MetricsWrite.Covers("metrics_write"))
	assert.False(t, MetricsWrite.Covers("edit"))
	assert.True(t, EditAccessTests.Covers("edit"))
	assert.True(t, EditAccessSrc.Covers("write"))

	// Unknown operations are never covered.
	assert.False(t, EditAccessSrc.Covers("deploy"))
}

func TestConfidenceFloors(t *testing.T) {
	_, ok := ReadOnly.ConfidenceFloor()
	assert.False(t, ok, "floor rung carries no confidence requirement")

	f, ok := MetricsWrite.ConfidenceFloor()
	require.True(t, ok)
	assert.InDelta(t, 0.70, f, 1e-9)

	f, ok = EditAccessTests.ConfidenceFloor()
	require.True(t, ok)
	assert.InDelta(t, 0.80, f, 1e-9)

	f, ok = EditAccessSrc.ConfidenceFloor()
	require.True(t, ok)
	assert.InDelta(t, 0.90, f, 1e-9)
}

func TestCriteriaDefaultsTightenUpLadder(t *testing.T) {
	prev := -1
	for _, l := range Rungs {
		c, ok := CriteriaFor(l)
		require.True(t, ok, "missing criteria for %s", l)
		assert.Greater(t, c.SuccessfulExecutions, prev)
		prev = c.SuccessfulExecutions
	}

	c, _ := CriteriaFor(EditAccessTests)
	assert.Contains(t, c.DefaultAllowlist, "modules/**/tests/*.py")
	assert.Contains(t, c.DefaultForbidlist, ".git/**")
}
