package inference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate(t *testing.T) {
	var g Gate

	require.True(t, g.Claim())
	assert.True(t, g.Busy())
	assert.False(t, g.Claim(), "slot already held")
	assert.Empty(t, g.Task())

	g.Assign("t1")
	assert.Equal(t, "t1", g.Task())

	g.Release()
	assert.False(t, g.Busy())
	assert.Empty(t, g.Task())

	g.Release()
	require.True(t, g.Claim(), "double release leaves a single slot")
	assert.False(t, g.Claim())
}

func TestGate_AssignWithoutClaim(t *testing.T) {
	var g Gate
	g.Assign("t1")
	assert.Empty(t, g.Task())
	assert.False(t, g.Busy())
}
