package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundToTick(t *testing.T) {
	assert.InDelta(t, 1.23, RoundToTick(1.2345, 0.01), 1e-12)
	assert.InDelta(t, 1.24, RoundToTick(1.236, 0.01), 1e-12)
	assert.InDelta(t, 0.0401, RoundToTick(0.040149, 0.0001), 1e-12)
	assert.InDelta(t, 50000, RoundToTick(50024, 1000), 1e-12)
	assert.InDelta(t, -1.23, RoundToTick(-1.2341, 0.01), 1e-12)
}

func TestRoundToTickPassthrough(t *testing.T) {
	assert.Equal(t, 1.2345, RoundToTick(1.2345, 0))
	assert.Equal(t, 1.2345, RoundToTick(1.2345, -0.01))
}

func TestFloorToStep(t *testing.T) {
	assert.InDelta(t, 0.0199, FloorToStep(0.01999, 0.0001), 1e-12)
	assert.InDelta(t, 5, FloorToStep(5.9, 1), 1e-12)
	assert.InDelta(t, 0, FloorToStep(0.00004, 0.0001), 1e-12)
	assert.Equal(t, 1.5, FloorToStep(1.5, 0), "no step passes through")
}
