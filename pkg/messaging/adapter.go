package messaging

import (
	"context"
	"strings"

	"github.com/jwalitptl/clinic-booking/pkg/logger"
)

// Channels maps event types onto broker channel names.
type Channels struct {
	Prefix string
}

func (c Channels) For(eventType string) string {
	return c.Prefix + eventType
}

// EventType strips the prefix from a channel name.
func (c Channels) EventType(channel string) string {
	return strings.TrimPrefix(channel, c.Prefix)
}

// Consume subscribes to channels and runs handler for every message until
// ctx is done. Handler errors are logged and the message dropped.
func Consume(ctx context.Context, broker Broker, log *logger.Logger, handler Handler, channels ...string) error {
	msgs, err := broker.Subscribe(ctx, channels...)
	if err != nil {
		return err
	}

	for msg := range msgs {
		if err := handler(ctx, msg); err != nil {
			log.Error(err, "Failed to handle message", "channel", msg.Channel)
		}
	}
	return nil
}
