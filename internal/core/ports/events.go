package ports

import "callscope/internal/core/domain"

type EventPublisher interface {
	Publish(event domain.Event)
}

type EventSubscriber interface {
	Subscribe(name domain.EventName, handler func(domain.Event)) Unsubscribe
	SubscribeAll(handler func(domain.Event)) Unsubscribe
}

type EventBus interface {
	EventPublisher
	EventSubscriber
}
