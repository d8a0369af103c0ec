package messaging

import (
	"context"
)

// Message is one payload received on a channel.
type Message struct {
	Channel string
	Payload []byte
}

// Broker publishes and fans out raw payloads. Delivery is at most once per
// subscriber; consumers must tolerate duplicates from outbox retries.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe delivers messages until ctx is cancelled, then closes the
	// channel.
	Subscribe(ctx context.Context, channels ...string) (<-chan Message, error)
	Close() error
}

// Handler processes one message.
type Handler func(ctx context.Context, msg Message) error
