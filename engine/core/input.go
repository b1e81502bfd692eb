package core

import (
	"fmt"
	"sync"
)

// KeyCode identifies a key. Letters and digits use their ASCII code, like
// glfw does.
type KeyCode uint16

const (
	KEY_BACKSPACE KeyCode = 0x08
	KEY_TAB       KeyCode = 0x09
	KEY_ENTER     KeyCode = 0x0D
	KEY_ESCAPE    KeyCode = 0x1B
	KEY_SPACE     KeyCode = 0x20
	KEY_LEFT      KeyCode = 0x25
	KEY_UP        KeyCode = 0x26
	KEY_RIGHT     KeyCode = 0x27
	KEY_DOWN      KeyCode = 0x28

	KEY_0 KeyCode = '0'
	KEY_9 KeyCode = '9'
	KEY_A KeyCode = 'A'
	KEY_R KeyCode = 'R'
	KEY_Z KeyCode = 'Z'
)

// IsPrintable reports whether k is a letter or a digit.
func (k KeyCode) IsPrintable() bool {
	return (k >= KEY_A && k <= KEY_Z) || (k >= KEY_0 && k <= KEY_9)
}

// KeyboardState holds the pressed state of every key code.
type KeyboardState struct {
	Keys [256]bool
}

// InputState keeps the keyboard of the current frame and of the previous
// one, so that transitions can be queried.
type InputState struct {
	mu               sync.RWMutex
	KeyboardCurrent  KeyboardState
	KeyboardPrevious KeyboardState
}

var inputState *InputState

func InputInitialize() error {
	inputState = &InputState{}
	LogDebug("input subsystem initialized")
	return nil
}

func InputShutdown() error {
	inputState = nil
	return nil
}

// InputUpdate ends the input frame: the current state becomes the previous
// one.
func InputUpdate(deltaTime float64) error {
	if inputState == nil {
		return nil
	}
	inputState.mu.Lock()
	inputState.KeyboardPrevious = inputState.KeyboardCurrent
	inputState.mu.Unlock()
	return nil
}

func InputIsKeyDown(key KeyCode) bool {
	if inputState == nil {
		return false
	}
	inputState.mu.RLock()
	defer inputState.mu.RUnlock()
	return inputState.KeyboardCurrent.Keys[key]
}

func InputIsKeyUp(key KeyCode) bool {
	return !InputIsKeyDown(key)
}

func InputWasKeyDown(key KeyCode) bool {
	if inputState == nil {
		return false
	}
	inputState.mu.RLock()
	defer inputState.mu.RUnlock()
	return inputState.KeyboardPrevious.Keys[key]
}

func InputWasKeyUp(key KeyCode) bool {
	return !InputWasKeyDown(key)
}

// InputProcessKey records a key transition reported by the window.
func InputProcessKey(key KeyCode, pressed bool) error {
	if inputState == nil {
		return fmt.Errorf("input subsystem not initialized: %w", ErrInvalidUsage)
	}
	if int(key) >= len(inputState.KeyboardCurrent.Keys) {
		return fmt.Errorf("key code %d out of range: %w", key, ErrInvalidArg)
	}
	inputState.mu.Lock()
	inputState.KeyboardCurrent.Keys[key] = pressed
	inputState.mu.Unlock()
	return nil
}
