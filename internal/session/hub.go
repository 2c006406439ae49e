package session

import (
	"context"
	"sync"
)

const hubSubscriberBuffer = 16

// Hub is an in-process Notifier for single-host deployments and tests. It
// keeps a bounded buffer per subscriber and drops on overflow rather than
// blocking publishers.
type Hub struct {
	mu      sync.Mutex
	streams map[string]map[uint64]chan Record
	nextID  uint64
}

// NewHub wires a Hub.
func NewHub() *Hub {
	return &Hub{streams: make(map[string]map[uint64]chan Record)}
}

// Publish delivers the record to every subscriber of its account.
func (hub *Hub) Publish(_ context.Context, record Record) error {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	for _, subscriber := range hub.streams[record.AccountID] {
		select {
		case subscriber <- record:
		default:
		}
	}
	return nil
}

// Subscribe opens a change stream for one account.
func (hub *Hub) Subscribe(_ context.Context, accountID string) (Subscription, error) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	hub.nextID++
	id := hub.nextID
	channel := make(chan Record, hubSubscriberBuffer)
	if hub.streams[accountID] == nil {
		hub.streams[accountID] = make(map[uint64]chan Record)
	}
	hub.streams[accountID][id] = channel
	return &hubSubscription{hub: hub, accountID: accountID, id: id, channel: channel}, nil
}

type hubSubscription struct {
	hub       *Hub
	accountID string
	id        uint64
	channel   chan Record
	once      sync.Once
}

func (subscription *hubSubscription) Records() <-chan Record {
	return subscription.channel
}

func (subscription *hubSubscription) Close() error {
	subscription.once.Do(func() {
		subscription.hub.mu.Lock()
		defer subscription.hub.mu.Unlock()
		delete(subscription.hub.streams[subscription.accountID], subscription.id)
		close(subscription.channel)
	})
	return nil
}
