// Package realtime fans out row change events to subscribers.
//
// Every write the services commit is published as a model.ChangeEvent on
// the relation it touched. Websocket clients subscribe per relation.
//
//	service ──Publish──▶ Broker ──▶ subscriber channels ──▶ websocket clients
//
// LocalBroker delivers within one process. RedisBroker routes events through
// Redis pub/sub first, so every instance behind a load balancer sees them.
package realtime

import (
	"context"
	"sync"

	"github.com/sakif/captured-thinkings/internal/model"
)

// Broker publishes change events and hands out per-relation subscriptions.
type Broker interface {
	Publish(ctx context.Context, ev model.ChangeEvent) error
	// Subscribe returns a channel of events for relation and a cancel func
	// that closes it. Slow subscribers miss events rather than block.
	Subscribe(relation string) (<-chan model.ChangeEvent, func())
}

// subscriberBuffer is how many events a subscriber may lag behind.
const subscriberBuffer = 64

type subscriber struct {
	ch   chan model.ChangeEvent
	once sync.Once
}

// LocalBroker is an in-process Broker.
type LocalBroker struct {
	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
}

var _ Broker = (*LocalBroker)(nil)

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{subs: make(map[string]map[*subscriber]struct{})}
}

// Publish delivers ev to every current subscriber of ev.Relation.
func (b *LocalBroker) Publish(_ context.Context, ev model.ChangeEvent) error {
	b.deliver(ev)
	return nil
}

func (b *LocalBroker) deliver(ev model.ChangeEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	eventsPublished.WithLabelValues(ev.Relation, string(ev.Type)).Inc()
	for s := range b.subs[ev.Relation] {
		select {
		case s.ch <- ev:
		default:
			eventsDropped.WithLabelValues(ev.Relation).Inc()
		}
	}
}

func (b *LocalBroker) Subscribe(relation string) (<-chan model.ChangeEvent, func()) {
	s := &subscriber{ch: make(chan model.ChangeEvent, subscriberBuffer)}

	b.mu.Lock()
	if b.subs[relation] == nil {
		b.subs[relation] = make(map[*subscriber]struct{})
	}
	b.subs[relation][s] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		s.once.Do(func() {
			b.mu.Lock()
			delete(b.subs[relation], s)
			if len(b.subs[relation]) == 0 {
				delete(b.subs, relation)
			}
			b.mu.Unlock()
			// deliver can no longer reach s.
			close(s.ch)
		})
	}
	return s.ch, cancel
}

// Subscribers returns the number of live subscriptions on relation.
func (b *LocalBroker) Subscribers(relation string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[relation])
}
