package websocket

import (
	"context"
	"encoding/json"

	"github.com/rabbitreels/autoscaler/internal/events"
	"github.com/rabbitreels/autoscaler/internal/logger"
)

// Bridge subscribes to the event bus and relays every event to the hub as
// JSON.
type Bridge struct {
	bus *events.Bus
	hub *Hub
}

func NewBridge(bus *events.Bus, hub *Hub) *Bridge {
	return &Bridge{bus: bus, hub: hub}
}

// Run blocks until ctx is cancelled or the bus closes.
func (b *Bridge) Run(ctx context.Context) {
	ch, cancel := b.bus.Subscribe("websocket-bridge")
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			message, err := json.Marshal(evt)
			if err != nil {
				logger.WithComponent("websocket").Errorf("failed to marshal event: %v", err)
				continue
			}
			b.hub.Broadcast(message)
		}
	}
}
