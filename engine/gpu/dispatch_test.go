package gpu

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/spaghettifunk/gpuctx/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherRunsInOrder(t *testing.T) {
	d := NewDispatcher()
	d.Go()
	defer d.Stop()

	var order []int
	for i := 0; i < 10; i++ {
		require.NoError(t, d.Call(func() error {
			order = append(order, i)
			return nil
		}))
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)

	boom := errors.New("boom")
	assert.Equal(t, boom, d.Call(func() error { return boom }))
}

func TestDispatcherSerializesCallers(t *testing.T) {
	d := NewDispatcher()
	d.Go()
	defer d.Stop()

	var active, overlaps, calls atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = d.Call(func() error {
					if active.Add(1) > 1 {
						overlaps.Add(1)
					}
					calls.Add(1)
					active.Add(-1)
					return nil
				})
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 400, calls.Load())
	assert.Zero(t, overlaps.Load())
}

func TestDispatcherRecoversPanics(t *testing.T) {
	d := NewDispatcher()
	d.Go()
	defer d.Stop()

	err := d.Call(func() error { panic("driver crashed") })
	assert.ErrorIs(t, err, core.ErrGeneric)
	assert.Contains(t, err.Error(), "driver crashed")

	// The loop survives.
	assert.NoError(t, d.Call(func() error { return nil }))
}

func TestDispatcherStop(t *testing.T) {
	d := NewDispatcher()
	d.Go()
	d.Stop()
	d.Stop()

	ran := false
	err := d.Call(func() error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, core.ErrInvalidUsage)
	assert.False(t, ran)

	never := NewDispatcher()
	never.Stop()
	assert.ErrorIs(t, never.Call(func() error { return nil }), core.ErrInvalidUsage)
}

func TestDispatcherServeOnCaller(t *testing.T) {
	d := NewDispatcher()
	done := make(chan struct{})
	go func() {
		d.Serve()
		close(done)
	}()

	n := 0
	require.NoError(t, d.Call(func() error {
		n++
		return nil
	}))
	assert.Equal(t, 1, n)

	// A second loop refuses to start and returns at once.
	d.Serve()

	d.Stop()
	<-done
}
