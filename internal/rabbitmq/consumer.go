package rabbitmq

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ConsumeOne waits for a single delivery on queue. It returns (nil, nil) when
// timeout elapses first; a negative timeout waits until ctx ends. When ctx
// ends first the error wraps ErrOperationCancelled. The consumer is cancelled
// before returning.
func ConsumeOne(ctx context.Context, ch Channel, queue string, autoAck bool, timeout time.Duration) (*amqp.Delivery, error) {
	tag := "mmate-reply-" + uuid.New().String()

	deliveries, err := ch.Consume(
		queue,
		tag,
		autoAck,
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, &ConsumerError{Queue: queue, ConsumerTag: tag, Op: "consume", Err: err, Timestamp: time.Now()}
	}
	defer func() {
		if !ch.IsClosed() {
			_ = ch.Cancel(tag, false)
		}
	}()

	var expired <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case delivery, ok := <-deliveries:
		if !ok {
			return nil, &ConsumerError{Queue: queue, ConsumerTag: tag, Op: "consume", Err: ErrConsumerCancelled, Timestamp: time.Now()}
		}
		return &delivery, nil

	case <-expired:
		return nil, nil

	case <-ctx.Done():
		return nil, &ConsumerError{
			Queue:       queue,
			ConsumerTag: tag,
			Op:          "consume",
			Err:         fmt.Errorf("%w: %w", ErrOperationCancelled, ctx.Err()),
			Timestamp:   time.Now(),
		}
	}
}
