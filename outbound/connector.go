package outbound

import (
	"context"
	"time"
)

// Defaults are connector-level publication settings. DeliveryMode and
// Priority only fill properties a message leaves unset.
type Defaults struct {
	DeliveryMode DeliveryMode
	Priority     *uint8
	Mandatory    bool
	Immediate    bool
}

// Connector exposes the broker primitives a Dispatcher drives. Consume
// returns a nil message and nil error when the timeout elapses without a
// reply, and an error matching ErrInterruptedWait when ctx ends first.
type Connector interface {
	OpenOutboundSession(ctx context.Context, endpoint Endpoint) (*Session, error)
	CloseChannel(ch Channel) error
	Publish(ctx context.Context, ch Channel, exchange, routingKey string, mandatory, immediate bool, msg *Message) error
	DeclareTemporaryQueue(ctx context.Context, ch Channel) (string, error)
	Consume(ctx context.Context, ch Channel, queue string, autoAck bool, timeout time.Duration) (*Message, error)
	Defaults() Defaults
}
