package core

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerAcquireRelease(t *testing.T) {
	tr := NewTracker()
	a := tr.Acquire("buffer", "vertices")
	b := tr.Acquire("texture", "albedo")
	c := tr.Acquire("pipeline", "main")
	require.Equal(t, 3, tr.Count())
	assert.NotEqual(t, a, b)

	require.NoError(t, tr.Release(a))
	assert.False(t, tr.Has(a))
	assert.True(t, tr.Has(b))
	assert.True(t, tr.Has(c))
	assert.ElementsMatch(t, []string{"texture(albedo)", "pipeline(main)"}, tr.Live())

	require.NoError(t, tr.Release(c))
	require.NoError(t, tr.Release(b))
	assert.Zero(t, tr.Count())
}

func TestTrackerReleaseUnknown(t *testing.T) {
	tr := NewTracker()
	id := tr.Acquire("buffer", "")
	require.NoError(t, tr.Release(id))
	assert.ErrorIs(t, tr.Release(id), ErrInvalidUsage)
	assert.ErrorIs(t, tr.Release(uuid.New()), ErrInvalidUsage)
}
