package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricsAverage(t *testing.T) {
	MetricsInitialize()
	for i := 0; i < int(AVG_COUNT); i++ {
		MetricsUpdate(0.010)
	}
	assert.InDelta(t, 10.0, MetricsFrameTime(), 1e-9)

	// a second window must not accumulate on top of the first one
	for i := 0; i < int(AVG_COUNT); i++ {
		MetricsUpdate(0.020)
	}
	assert.InDelta(t, 20.0, MetricsFrameTime(), 1e-9)
}

func TestMetricsFPS(t *testing.T) {
	MetricsInitialize()
	for i := 0; i < 101; i++ {
		MetricsUpdate(0.010)
	}
	fps, _ := MetricsFrame()
	assert.Equal(t, 101.0, fps)
}
