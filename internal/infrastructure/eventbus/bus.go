// Package eventbus fans analytics events out to in-process subscribers.
package eventbus

import (
	"sync"

	"callscope/internal/core/domain"
	"callscope/internal/core/ports"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type subscription struct {
	id      string
	name    domain.EventName
	all     bool
	handler func(domain.Event)
}

// Bus delivers every published event synchronously, in subscription order.
// A panicking subscriber is logged and skipped; the remaining subscribers
// still receive the event.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscription
	logger *zap.SugaredLogger
}

func New(logger *zap.SugaredLogger) *Bus {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Bus{logger: logger}
}

func (b *Bus) Subscribe(name domain.EventName, handler func(domain.Event)) ports.Unsubscribe {
	return b.add(&subscription{name: name, handler: handler})
}

func (b *Bus) SubscribeAll(handler func(domain.Event)) ports.Unsubscribe {
	return b.add(&subscription{all: true, handler: handler})
}

func (b *Bus) add(sub *subscription) ports.Unsubscribe {
	sub.id = uuid.NewString()

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(sub.id) })
	}
}

func (b *Bus) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

func (b *Bus) Publish(ev domain.Event) {
	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.all || sub.name == ev.Name {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		b.deliver(sub, ev)
	}
}

func (b *Bus) deliver(sub *subscription, ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Errorw("Event subscriber panicked",
				"subscription_id", sub.id,
				"event", ev.Name,
				"panic", r,
			)
		}
	}()
	sub.handler(ev)
}

// Subscribers reports the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

var _ ports.EventBus = (*Bus)(nil)
