package wgpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/wgpu/hal"
	"github.com/spaghettifunk/gpuctx/engine/core"
)

// halError maps a HAL failure to the core taxonomy. The HAL message is kept
// in the text; callers only ever match the core sentinel.
func halError(op string, err error) error {
	if err == nil {
		return nil
	}
	var class error
	switch {
	case errors.Is(err, hal.ErrDeviceOutOfMemory):
		class = core.ErrMemory
	case errors.Is(err, hal.ErrSurfaceOutdated):
		class = core.ErrSurfaceOutOfDate
	case errors.Is(err, hal.ErrDeviceLost), errors.Is(err, hal.ErrTimeout), errors.Is(err, hal.ErrDriverBug):
		class = core.ErrDeviceLost
	case errors.Is(err, hal.ErrTimestampsNotSupported), errors.Is(err, hal.ErrBackendNotFound):
		class = core.ErrUnsupported
	case errors.Is(err, hal.ErrZeroArea), errors.Is(err, hal.ErrInvalidMapRange):
		class = core.ErrInvalidArg
	default:
		class = core.ErrExternal
	}
	return fmt.Errorf("%s: %v: %w", op, err, class)
}
