package services

import (
	"log/slog"
	"sync"
)

type EventType string

const (
	EventTypeStatus       EventType = "status"
	EventTypeProgress     EventType = "progress"
	EventTypeStat         EventType = "stat"
	EventTypeNotification EventType = "notification"
)

type Event struct {
	OwnerID   string
	Type      EventType
	Data      string // JSON payload
	Timestamp int64
}

type EventBus struct {
	logger *slog.Logger
	mu     sync.RWMutex
	subs   map[string][]chan Event // Key: OwnerID
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		logger: logger,
		subs:   make(map[string][]chan Event),
	}
}

// Subscribe returns a channel that receives events for one owner
func (b *EventBus) Subscribe(ownerID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 100)
	b.subs[ownerID] = append(b.subs[ownerID], ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			subscribers := b.subs[ownerID]
			for i, sub := range subscribers {
				if sub == ch {
					close(ch)
					b.subs[ownerID] = append(subscribers[:i], subscribers[i+1:]...)
					break
				}
			}
			if len(b.subs[ownerID]) == 0 {
				delete(b.subs, ownerID)
			}
		})
	}

	return ch, unsub
}

// Publish sends an event to all subscribers of the owner without blocking
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[e.OwnerID] {
		select {
		case ch <- e:
		default:
			b.logger.Warn("event bus channel full, dropping event", "owner_id", e.OwnerID, "type", e.Type)
		}
	}
}
