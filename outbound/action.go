package outbound

import (
	"context"
	"errors"
	"time"
)

// OutboundAction selects how a dispatch talks to the broker
type OutboundAction int

const (
	// ActionDispatch publishes and returns without waiting
	ActionDispatch OutboundAction = iota
	// ActionSend publishes with a private reply queue and waits for the reply
	ActionSend
)

func (a OutboundAction) String() string {
	switch a {
	case ActionDispatch:
		return "dispatch"
	case ActionSend:
		return "send"
	default:
		return "unknown"
	}
}

// run performs the action. A nil message with a nil error is the no-reply
// outcome.
func (a OutboundAction) run(ctx context.Context, connector Connector, ch Channel, exchange, routingKey string, msg *Message, timeout time.Duration) (*Message, error) {
	switch a {
	case ActionDispatch:
		return nil, publish(ctx, connector, ch, exchange, routingKey, msg)
	case ActionSend:
		return sendAndReceive(ctx, connector, ch, exchange, routingKey, msg, timeout)
	default:
		return nil, errors.New("outbound: unknown action")
	}
}

func publish(ctx context.Context, connector Connector, ch Channel, exchange, routingKey string, msg *Message) error {
	defaults := connector.Defaults()
	if err := connector.Publish(ctx, ch, exchange, routingKey, defaults.Mandatory, defaults.Immediate, msg); err != nil {
		return brokerError("publish", err)
	}
	return nil
}

func sendAndReceive(ctx context.Context, connector Connector, ch Channel, exchange, routingKey string, msg *Message, timeout time.Duration) (*Message, error) {
	replyQueue, err := connector.DeclareTemporaryQueue(ctx, ch)
	if err != nil {
		return nil, brokerError("declare", err)
	}
	msg.SetReplyTo(replyQueue)

	if err := publish(ctx, connector, ch, exchange, routingKey, msg); err != nil {
		return nil, err
	}

	reply, err := connector.Consume(ctx, ch, replyQueue, true, timeout)
	if err != nil {
		return nil, brokerError("consume", err)
	}
	return reply, nil
}

// brokerError wraps connector failures in BrokerIOError. Interrupted waits
// and errors already classified pass through.
func brokerError(op string, err error) error {
	if errors.Is(err, ErrInterruptedWait) || errors.Is(err, ErrBrokerIO) {
		return err
	}
	return &BrokerIOError{Op: op, Err: err}
}
