package rabbitmq

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publish sends msg to exchange with routingKey. Success means the client
// handed the frames to the broker, not that the broker routed the message;
// unroutable mandatory or immediate publishes come back through NotifyReturn.
func Publish(ctx context.Context, ch Channel, exchange, routingKey string, mandatory, immediate bool, msg amqp.Publishing) error {
	if ch == nil || ch.IsClosed() {
		return &PublishError{
			Exchange:   exchange,
			RoutingKey: routingKey,
			Mandatory:  mandatory,
			Immediate:  immediate,
			Err:        ErrChannelClosed,
			Timestamp:  time.Now(),
		}
	}

	if err := ch.PublishWithContext(ctx, exchange, routingKey, mandatory, immediate, msg); err != nil {
		return &PublishError{
			Exchange:   exchange,
			RoutingKey: routingKey,
			Mandatory:  mandatory,
			Immediate:  immediate,
			Err:        err,
			Timestamp:  time.Now(),
		}
	}

	return nil
}
