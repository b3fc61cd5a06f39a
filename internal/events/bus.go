// Package events is the in-process publish/subscribe channel for scaling
// and health notifications, bridged to websocket clients by the API layer.
package events

import (
	"sync"

	"github.com/rabbitreels/autoscaler/internal/logger"
	"github.com/rabbitreels/autoscaler/pkg/models"
)

// Bus fans events out to named subscribers. Publishing never blocks; a
// subscriber that falls behind loses events rather than stalling the
// control loop.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan models.Event
	bufferSize  int
	dropped     uint64
	closed      bool
}

func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Bus{
		subscribers: make(map[string]chan models.Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a named subscriber and returns its channel plus an
// unsubscribe func. Re-subscribing a name replaces the old channel.
func (b *Bus) Subscribe(name string) (<-chan models.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.subscribers[name]; ok {
		close(old)
	}
	ch := make(chan models.Event, b.bufferSize)
	if b.closed {
		close(ch)
	} else {
		b.subscribers[name] = ch
	}

	return ch, func() { b.unsubscribe(name, ch) }
}

func (b *Bus) unsubscribe(name string, ch chan models.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if current, ok := b.subscribers[name]; ok && current == ch {
		delete(b.subscribers, name)
		close(ch)
	}
}

func (b *Bus) Publish(evt models.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for name, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			b.dropped++
			logger.WithComponent("event-bus").Warnf("subscriber %s full, dropped %s event", name, evt.Type)
		}
	}
}

func (b *Bus) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for name, ch := range b.subscribers {
		delete(b.subscribers, name)
		close(ch)
	}
}
