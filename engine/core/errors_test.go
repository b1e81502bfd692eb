package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, StatusSuccess},
		{"memory", fmt.Errorf("buffer init: %w", ErrMemory), StatusMemory},
		{"unsupported", ErrUnsupported, StatusUnsupported},
		{"invalid usage", fmt.Errorf("wrapped twice: %w", fmt.Errorf("once: %w", ErrInvalidUsage)), StatusInvalidUsage},
		{"invalid arg", ErrInvalidArg, StatusInvalidArg},
		{"device lost", ErrDeviceLost, StatusExternal},
		{"surface out of date", ErrSurfaceOutOfDate, StatusExternal},
		{"foreign error", errors.New("boom"), StatusGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Status(tt.err))
		})
	}
}

func TestDeviceConditionsAreExternal(t *testing.T) {
	assert.ErrorIs(t, ErrDeviceLost, ErrExternal)
	assert.ErrorIs(t, ErrSurfaceOutOfDate, ErrExternal)
	assert.NotErrorIs(t, ErrDeviceLost, ErrSurfaceOutOfDate)
}
