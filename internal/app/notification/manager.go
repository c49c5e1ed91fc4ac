// Package notification fans playback events out to subscribers.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/jukebot/internal/app/playback"
)

const sendTimeout = 500 * time.Millisecond

// Notice is a playback event stamped with a sequence number.
type Notice struct {
	SequenceNo uint64
	At         time.Time
	Event      playback.Event
}

// Stream represents a notification stream for a subscriber.
type Stream interface {
	Send(Notice) error
}

// StreamFunc adapts a function to Stream.
type StreamFunc func(Notice) error

// Send calls f(n).
func (f StreamFunc) Send(n Notice) error { return f(n) }

// subscription represents a subscriber's subscription.
type subscription struct {
	id     string
	name   string
	stream Stream
}

// Manager manages notification subscriptions and broadcasting.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	sequenceNo    uint64
	sequenceNoMu  sync.Mutex
	timeout       time.Duration
}

// NewManager creates a new notification manager.
func NewManager() *Manager {
	return &Manager{
		subscriptions: make(map[string]*subscription),
		timeout:       sendTimeout,
	}
}

// Subscribe adds a new subscription and returns the subscription ID.
// name is only used in logs.
func (m *Manager) Subscribe(name string, stream Stream) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	m.subscriptions[id] = &subscription{
		id:     id,
		name:   name,
		stream: stream,
	}
	zlog.Debug().Msgf("notification: subscribed: id=%s name=%s", id, name)
	return id
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, subscriptionID)
}

// Broadcast stamps ev and sends it to all subscribers.
// Each send runs with a timeout; a subscriber whose Send fails is removed.
func (m *Manager) Broadcast(ev playback.Event) Notice {
	m.sequenceNoMu.Lock()
	m.sequenceNo++
	notice := Notice{SequenceNo: m.sequenceNo, At: time.Now(), Event: ev}
	m.sequenceNoMu.Unlock()

	m.mu.RLock()
	// Copy subscriptions to avoid holding lock during sends
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
			ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- s.stream.Send(notice)
			}()

			select {
			case err := <-done:
				if err != nil {
					zlog.Debug().Msgf("notification: dropping subscriber: id=%s name=%s error=%v", s.id, s.name, err)
					m.Unsubscribe(s.id)
				}
			case <-ctx.Done():
				zlog.Debug().Msgf("notification: send timed out: id=%s name=%s seq=%d", s.id, s.name, notice.SequenceNo)
			}
		}(sub)
	}

	wg.Wait()
	return notice
}

// Pump broadcasts every event from events until the channel is closed or ctx is done.
func (m *Manager) Pump(ctx context.Context, events <-chan playback.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.Broadcast(ev)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close closes the manager and removes all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = make(map[string]*subscription)
}
