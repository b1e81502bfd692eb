package core

import "sync"

// EventContext carries the payload of an event.
type EventContext struct {
	Width  int
	Height int
	Key    int
	Path   string
}

type SystemEventCode int

const (
	// Stops the player on the next frame.
	EVENT_CODE_APPLICATION_QUIT SystemEventCode = 0x01

	// Keyboard key pressed. Key holds the key code.
	EVENT_CODE_KEY_PRESSED SystemEventCode = 0x02

	// Framebuffer resized. Width and Height hold the new size.
	EVENT_CODE_RESIZED SystemEventCode = 0x08

	// A watched shader source changed on disk. Path holds the file.
	EVENT_CODE_SHADER_CHANGED SystemEventCode = 0x10

	MAX_EVENT_CODE SystemEventCode = 0xFF
)

// Should return true if handled.
type FnOnEvent func(code SystemEventCode, sender interface{}, listener interface{}, data EventContext) bool

type registeredEvent struct {
	listener interface{}
	callback FnOnEvent
}

type eventSystemState struct {
	mu         sync.RWMutex
	registered map[SystemEventCode][]registeredEvent
}

var eventState *eventSystemState

func EventInitialize() {
	eventState = &eventSystemState{registered: make(map[SystemEventCode][]registeredEvent)}
}

func EventShutdown() {
	if eventState == nil {
		return
	}
	eventState.mu.Lock()
	eventState.registered = make(map[SystemEventCode][]registeredEvent)
	eventState.mu.Unlock()
}

// EventRegister subscribes listener to code. A listener can only be
// registered once per code.
func EventRegister(code SystemEventCode, listener interface{}, onEvent FnOnEvent) bool {
	if eventState == nil || code > MAX_EVENT_CODE || onEvent == nil {
		return false
	}
	eventState.mu.Lock()
	defer eventState.mu.Unlock()

	for _, e := range eventState.registered[code] {
		if e.listener == listener {
			LogWarn("listener already registered for event code %d", code)
			return false
		}
	}
	eventState.registered[code] = append(eventState.registered[code], registeredEvent{listener: listener, callback: onEvent})
	return true
}

func EventUnregister(code SystemEventCode, listener interface{}) bool {
	if eventState == nil {
		return false
	}
	eventState.mu.Lock()
	defer eventState.mu.Unlock()

	events := eventState.registered[code]
	for i, e := range events {
		if e.listener == listener {
			eventState.registered[code] = append(events[:i], events[i+1:]...)
			return true
		}
	}
	return false
}

// EventFire delivers an event to the listeners of code in registration
// order, stopping at the first one that handles it.
func EventFire(code SystemEventCode, sender interface{}, data EventContext) bool {
	if eventState == nil {
		return false
	}
	eventState.mu.RLock()
	events := append([]registeredEvent(nil), eventState.registered[code]...)
	eventState.mu.RUnlock()

	for _, e := range events {
		if e.callback(code, sender, e.listener, data) {
			return true
		}
	}
	return false
}
