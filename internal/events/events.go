package events

import (
	"context"
	"sync"
)

// Streams
const (
	StreamAgent = "events:agent"
)

// Event types
const (
	EventAgentRegistered   = "agent_registered"
	EventAgentClaimed      = "agent_claimed"
	EventAgentClaimExpired = "agent_claim_expired"
	EventPurchaseConfirmed = "purchase_confirmed"
	EventPurchaseFailed    = "purchase_failed"
)

// Event payloads carry "agent_id" so subscribers can route per agent.
type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

func (e Event) AgentID() string {
	id, _ := e.Payload["agent_id"].(string)
	return id
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}

// MemoryBus is an in-process Publisher and Subscriber. Handlers run
// synchronously on the publishing goroutine.
type MemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]func(Event)
	events   []Event
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: make(map[string][]func(Event))}
}

func (b *MemoryBus) Publish(_ context.Context, stream string, event Event) error {
	b.mu.Lock()
	b.events = append(b.events, event)
	handlers := append([]func(Event){}, b.handlers[stream]...)
	b.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, stream string, handler func(Event)) error {
	b.mu.Lock()
	b.handlers[stream] = append(b.handlers[stream], handler)
	b.mu.Unlock()
	return nil
}

// Published returns every event seen so far, in order.
func (b *MemoryBus) Published() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Event(nil), b.events...)
}

// Types returns the types of every published event, in order.
func (b *MemoryBus) Types() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, len(b.events))
	for i, e := range b.events {
		out[i] = e.Type
	}
	return out
}
