// Package events implements an in-process publish-subscribe broker carrying
// state changes from the replicated state machine to local observers (the
// scheduler loop, diagnostics).
package events

import (
	"sync"

	"github.com/graftio/ingestify/pkg/types"
)

// Subscriber is a channel that receives state changes as they are applied.
type Subscriber chan *types.StateChange

// Broker fans out applied state changes to every active subscriber. It never
// blocks a slow subscriber: a full subscriber buffer drops the event for
// that subscriber rather than stalling the FSM.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]bool
	eventCh     chan *types.StateChange
	stopCh      chan struct{}
}

// NewBroker constructs a Broker. Call Start to begin distribution.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *types.StateChange, 256),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's distribution loop in its own goroutine.
func (b *Broker) Start() {
	go b.run()
}

// Stop halts the distribution loop and stops accepting new publishes.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe registers a new subscription.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := make(Subscriber, 64)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes and closes a subscription.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, sub)
	close(sub)
}

// Publish enqueues a state change for distribution.
func (b *Broker) Publish(sc *types.StateChange) {
	select {
	case b.eventCh <- sc:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case sc := <-b.eventCh:
			b.broadcast(sc)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(sc *types.StateChange) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		select {
		case sub <- sc:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
