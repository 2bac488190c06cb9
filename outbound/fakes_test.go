package outbound

import (
	"context"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type fakeChannel struct {
	mu      sync.Mutex
	returns []chan amqp.Return
	closed  bool
}

func (c *fakeChannel) NotifyReturn(ch chan amqp.Return) chan amqp.Return {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.returns = append(c.returns, ch)
	return ch
}

func (c *fakeChannel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// deliver sends ret to every attached listener
func (c *fakeChannel) deliver(ret amqp.Return) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.returns {
		ch <- ret
	}
}

func (c *fakeChannel) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for _, ch := range c.returns {
		close(ch)
	}
}

type publishCall struct {
	exchange   string
	routingKey string
	mandatory  bool
	immediate  bool
	replyTo    string
	msg        *Message
}

type consumeCall struct {
	queue   string
	autoAck bool
	timeout time.Duration
}

type fakeConnector struct {
	mu       sync.Mutex
	defaults Defaults
	channel  *fakeChannel

	calls    []string
	publish  []publishCall
	consume  []consumeCall
	declared int
	closed   int
	opened   []Endpoint

	queueName  string
	reply      *Message
	publishErr error
	declareErr error
	consumeErr error
	openErr    error
	// blockConsume makes Consume wait for ctx like a real blocking consume
	blockConsume bool
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{
		channel:   &fakeChannel{},
		queueName: "amq.gen-reply",
	}
}

func (f *fakeConnector) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeConnector) OpenOutboundSession(ctx context.Context, endpoint Endpoint) (*Session, error) {
	f.record("open")
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.mu.Lock()
	f.opened = append(f.opened, endpoint)
	f.mu.Unlock()
	return &Session{Channel: f.channel, Exchange: endpoint.Exchange, RoutingKey: endpoint.RoutingKey}, nil
}

func (f *fakeConnector) CloseChannel(ch Channel) error {
	f.record("close")
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	if fc, ok := ch.(*fakeChannel); ok {
		fc.close()
	}
	return nil
}

func (f *fakeConnector) Publish(ctx context.Context, ch Channel, exchange, routingKey string, mandatory, immediate bool, msg *Message) error {
	f.record("publish")
	if f.publishErr != nil {
		return f.publishErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publish = append(f.publish, publishCall{
		exchange:   exchange,
		routingKey: routingKey,
		mandatory:  mandatory,
		immediate:  immediate,
		replyTo:    msg.Properties.ReplyTo,
		msg:        msg,
	})
	return nil
}

func (f *fakeConnector) DeclareTemporaryQueue(ctx context.Context, ch Channel) (string, error) {
	f.record("declare")
	if f.declareErr != nil {
		return "", f.declareErr
	}
	f.mu.Lock()
	f.declared++
	f.mu.Unlock()
	return f.queueName, nil
}

func (f *fakeConnector) Consume(ctx context.Context, ch Channel, queue string, autoAck bool, timeout time.Duration) (*Message, error) {
	f.record("consume")
	f.mu.Lock()
	f.consume = append(f.consume, consumeCall{queue: queue, autoAck: autoAck, timeout: timeout})
	f.mu.Unlock()

	if f.consumeErr != nil {
		return nil, f.consumeErr
	}
	if f.blockConsume {
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrInterruptedWait, ctx.Err())
		case <-time.After(timeout):
			return nil, nil
		}
	}
	return f.reply, nil
}

func (f *fakeConnector) Defaults() Defaults {
	return f.defaults
}

func (f *fakeConnector) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func uint8Ptr(v uint8) *uint8 {
	return &v
}
