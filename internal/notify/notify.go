// Package notify fans catalog price changes out to open cashier screens.
package notify

import (
	"context"
	"sync"
	"time"

	"cafepos/internal/catalog"
	"cafepos/internal/logger"
)

// Actions carried by a PriceUpdate.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
	ActionStock   = "stock"
)

// PriceUpdate tells subscribers an item's price or availability may have changed.
type PriceUpdate struct {
	ItemID string       `json:"item_id"`
	Name   string       `json:"name"`
	Kind   catalog.Kind `json:"kind"`
	Action string       `json:"action"`
	At     time.Time    `json:"at"`
}

// Broker publishes updates and hands out subscriptions.
type Broker interface {
	Publish(ctx context.Context, u PriceUpdate) error
	// Subscribe returns a channel of updates and a function that ends the
	// subscription and closes the channel.
	Subscribe(ctx context.Context) (<-chan PriceUpdate, func())
}

const subscriberBuffer = 16

// Hub is an in-process Broker. A subscriber that falls behind drops updates
// rather than block publishers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]chan PriceUpdate
	nextID uint64
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]chan PriceUpdate)}
}

func (h *Hub) Publish(ctx context.Context, u PriceUpdate) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subs {
		select {
		case ch <- u:
		default:
			logger.LogWarn("Price update subscriber %d is full, dropping update for %s", id, u.ItemID)
		}
	}
	return nil
}

func (h *Hub) Subscribe(ctx context.Context) (<-chan PriceUpdate, func()) {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	ch := make(chan PriceUpdate, subscriberBuffer)
	h.subs[id] = ch
	h.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(ch)
			h.mu.Unlock()
			close(done)
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()

	return ch, cancel
}

// Subscribers reports how many subscriptions are open.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
