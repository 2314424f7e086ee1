// Package notification provides the notification manager for broadcasting state changes.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type identifies which part of the orchestrator state changed.
type Type int

const (
	TypeQueueChanged    Type = iota // Queue entries, order or current entry changed
	TypePlaybackChanged             // Local playback state changed
	TypeRemoteChanged               // Remote device status changed
	TypeSettingsChanged             // Shuffle/repeat/visibility flags changed
)

// String returns the string representation of the notification type.
func (t Type) String() string {
	switch t {
	case TypeQueueChanged:
		return "queue_changed"
	case TypePlaybackChanged:
		return "playback_changed"
	case TypeRemoteChanged:
		return "remote_changed"
	case TypeSettingsChanged:
		return "settings_changed"
	default:
		return "unknown"
	}
}

// Notification is a single change broadcast to subscribers.
type Notification struct {
	Type       Type
	SequenceNo uint64
}

// Stream represents a notification stream for a subscriber.
type Stream interface {
	Send(Notification) error
}

// StreamFunc adapts a function to the Stream interface.
type StreamFunc func(Notification) error

// Send calls f(n).
func (f StreamFunc) Send(n Notification) error {
	return f(n)
}

const sendTimeout = 500 * time.Millisecond

// subscription represents a subscriber's subscription.
type subscription struct {
	id     string
	stream Stream
}

// Manager manages notification subscriptions and broadcasting.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	sequenceNo    uint64
	sequenceNoMu  sync.Mutex
}

// NewManager creates a new notification manager.
func NewManager() *Manager {
	return &Manager{
		subscriptions: make(map[string]*subscription),
	}
}

// Subscribe adds a new subscription and returns the subscription ID.
func (m *Manager) Subscribe(stream Stream) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	m.subscriptions[id] = &subscription{
		id:     id,
		stream: stream,
	}
	return id
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, subscriptionID)
}

// Broadcast sends a notification of the given type to all subscribers.
// Each stream send runs in its own goroutine bounded by a timeout so a slow
// subscriber cannot stall the publisher.
func (m *Manager) Broadcast(t Type) {
	m.sequenceNoMu.Lock()
	m.sequenceNo++
	n := Notification{Type: t, SequenceNo: m.sequenceNo}
	m.sequenceNoMu.Unlock()

	m.mu.RLock()
	subs := make([]*subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- s.stream.Send(n)
			}()

			select {
			case <-done:
			case <-ctx.Done():
			}
		}(sub)
	}
	wg.Wait()
}

// SequenceNo returns the sequence number of the last broadcast.
func (m *Manager) SequenceNo() uint64 {
	m.sequenceNoMu.Lock()
	defer m.sequenceNoMu.Unlock()
	return m.sequenceNo
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close removes all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = make(map[string]*subscription)
}
