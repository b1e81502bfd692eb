package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInputKeyTransitions(t *testing.T) {
	require.NoError(t, InputInitialize())
	defer InputShutdown()

	require.NoError(t, InputProcessKey(KEY_R, true))
	assert.True(t, InputIsKeyDown(KEY_R))
	assert.True(t, InputWasKeyUp(KEY_R))

	require.NoError(t, InputUpdate(0.016))
	assert.True(t, InputWasKeyDown(KEY_R))

	require.NoError(t, InputProcessKey(KEY_R, false))
	assert.True(t, InputIsKeyUp(KEY_R))
	assert.True(t, InputWasKeyDown(KEY_R))

	assert.ErrorIs(t, InputProcessKey(KeyCode(300), true), ErrInvalidArg)
}

func TestKeyCodeIsPrintable(t *testing.T) {
	assert.True(t, KEY_R.IsPrintable())
	assert.True(t, KeyCode('7').IsPrintable())
	assert.False(t, KEY_ESCAPE.IsPrintable())
	assert.False(t, KEY_DOWN.IsPrintable())
	assert.False(t, KeyCode('a').IsPrintable())
}

func TestInputNotInitialized(t *testing.T) {
	require.NoError(t, InputShutdown())
	assert.ErrorIs(t, InputProcessKey(KEY_A, true), ErrInvalidUsage)
	assert.False(t, InputIsKeyDown(KEY_A))
	assert.NoError(t, InputUpdate(0))
}
