package adapter

import (
	"sync"

	"github.com/google/gousb"
)

// EventType represents device events
type EventType int

const (
	EventConnect EventType = iota
	EventDisconnect
	EventDetach
	EventData
	EventClose
)

func (t EventType) String() string {
	switch t {
	case EventConnect:
		return "connect"
	case EventDisconnect:
		return "disconnect"
	case EventDetach:
		return "detach"
	case EventData:
		return "data"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// Event represents a device event. Device is only set by the USB adapter.
type Event struct {
	Type   EventType
	Device *gousb.Device
	Data   []byte
	Error  error
}

// listeners holds event handlers; handlers run on their own goroutine
type listeners struct {
	mu       sync.RWMutex
	handlers map[EventType][]func(Event)
}

// On adds an event listener
func (l *listeners) On(eventType EventType, handler func(Event)) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.handlers == nil {
		l.handlers = make(map[EventType][]func(Event))
	}
	l.handlers[eventType] = append(l.handlers[eventType], handler)
}

// emit triggers an event
func (l *listeners) emit(event Event) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, handler := range l.handlers[event.Type] {
		go handler(event)
	}
}
