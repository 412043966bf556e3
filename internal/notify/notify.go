// Package notify is the process-wide notification bus. Non-UI code publishes user-facing
// messages here; whatever renders them registers a subscriber while it is mounted.
package notify

import (
	"log/slog"
	"sync"
	"time"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
)

// Message is a transient notification.
type Message struct {
	Level Level
	Title string
	Body  string
	At    time.Time
}

type Handler func(Message)

// Bus fans published messages out to registered handlers. With no handler registered
// Publish logs the message and drops it.
type Bus struct {
	mu       sync.RWMutex
	handlers map[uint64]Handler
	nextID   uint64
	log      *slog.Logger
}

func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		handlers: make(map[uint64]Handler),
		log:      log.With("component", "notify"),
	}
}

var (
	defaultOnce sync.Once
	defaultBus  *Bus
)

// Default returns the process-wide bus.
func Default() *Bus {
	defaultOnce.Do(func() {
		defaultBus = NewBus(nil)
	})
	return defaultBus
}

// Register adds h and returns the function that removes it. The returned function is safe
// to call more than once.
func (b *Bus) Register(h Handler) (deregister func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}
}

func (b *Bus) Publish(m Message) {
	if m.At.IsZero() {
		m.At = time.Now()
	}
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.log.Debug("no notification handler registered; dropping", "level", m.Level, "title", m.Title, "body", m.Body)
		return
	}
	for _, h := range handlers {
		h(m)
	}
}

func (b *Bus) Success(title, body string) {
	b.Publish(Message{Level: LevelSuccess, Title: title, Body: body})
}
func (b *Bus) Error(title, body string) {
	b.Publish(Message{Level: LevelError, Title: title, Body: body})
}
func (b *Bus) Info(title, body string) {
	b.Publish(Message{Level: LevelInfo, Title: title, Body: body})
}

func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}
