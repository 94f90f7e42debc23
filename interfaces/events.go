package interfaces

import "context"

type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, payload interface{}) error
	Close() error
}
