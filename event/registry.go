package event

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownEventType is returned when no fact is registered under a type name.
var ErrUnknownEventType = errors.New("event type is not registered")

// Factory creates a new, empty instance of a fact that can be decoded into.
type Factory func() Event

var (
	registry = make(map[string]Factory)
	mu       sync.RWMutex
)

// Register associates a fact's type name with a factory producing *T.
// It panics if the type name is registered twice.
func Register[T any, PT interface {
	*T
	Event
}]() {
	mu.Lock()
	defer mu.Unlock()

	name := PT(new(T)).EventType()
	if _, ok := registry[name]; ok {
		panic(fmt.Sprintf("event type '%s' is already registered", name))
	}
	registry[name] = func() Event {
		return PT(new(T))
	}
}

// New instantiates an empty fact given its type name.
func New(eventType string) (Event, error) {
	mu.RLock()
	defer mu.RUnlock()

	factory, ok := registry[eventType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}
	return factory(), nil
}

// Types lists every registered type name in lexical order.
func Types() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
