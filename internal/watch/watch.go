// Package watch fans out op-heads change notifications to subscribers,
// adapted from an event-type broadcast broker into a version-keyed one:
// subscribers care about the latest version, not about missing any one
// intermediate notification, so a slow subscriber is coalesced up to the
// newest version rather than backed up or disconnected.
package watch

import (
	"sync"

	"github.com/tandem-vcs/tandem/internal/metrics"
	"github.com/tandem-vcs/tandem/internal/tandemtypes"
)

// Notification is delivered to a subscriber on every accepted head
// transition. Version is monotonically increasing; a subscriber that
// observes version N never observes a version less than N afterward.
// OpHeads is the new operation-id head set; WorkspaceHeads is the
// workspace-name-to-commit map derived from it.
type Notification struct {
	Version        int64
	OpHeads        []tandemtypes.Hash
	WorkspaceHeads tandemtypes.WorkspaceHeads
}

// Subscription is the channel handed back by Subscribe. The broker closes
// it on Unsubscribe or Broker.Close.
type Subscription chan Notification

// Broker distributes head-transition notifications to subscribers.
type Broker struct {
	mu          sync.Mutex
	subscribers map[Subscription]struct{}
	closed      bool
}

// NewBroker creates an empty Broker.
func NewBroker() *Broker {
	return &Broker{subscribers: make(map[Subscription]struct{})}
}

// Subscribe registers a new subscription. The returned channel has a
// capacity of 1: because notifications carry the full current state,
// coalescing to the latest one on a full buffer never loses information a
// subscriber needs.
func (b *Broker) Subscribe() Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscription, 1)
	b.subscribers[sub] = struct{}{}
	metrics.WatchersActive.Set(float64(len(b.subscribers)))
	return sub
}

// Unsubscribe removes and closes sub. Safe to call more than once.
func (b *Broker) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
	metrics.WatchersActive.Set(float64(len(b.subscribers)))
}

// Notify broadcasts n to every current subscriber. A subscriber whose
// buffer is full has its pending notification drained and replaced with n,
// so it always ends up with the newest version rather than stalling the
// broker.
func (b *Broker) Notify(n Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		select {
		case sub <- n:
		default:
			select {
			case <-sub:
			default:
			}
			select {
			case sub <- n:
			default:
			}
		}
	}
}

// Close unsubscribes and closes every current subscriber's channel. Used
// on server shutdown.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subscribers {
		close(sub)
	}
	b.subscribers = make(map[Subscription]struct{})
	metrics.WatchersActive.Set(0)
}

// SubscriberCount returns the number of active subscriptions.
func (b *Broker) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
