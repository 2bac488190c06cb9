package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/mmate-dispatch/internal/rabbitmq"
	"github.com/glimte/mmate-dispatch/outbound"
)

// ChannelOpener opens broker channels. *rabbitmq.ConnectionManager is the
// production implementation.
type ChannelOpener interface {
	OpenChannel(ctx context.Context) (rabbitmq.Channel, error)
}

// ErrUnsupportedChannel is returned when a session channel was not opened by
// this connector
var ErrUnsupportedChannel = errors.New("rabbitmq: unsupported channel type")

// Connector implements outbound.Connector for RabbitMQ
type Connector struct {
	opener   ChannelOpener
	defaults outbound.Defaults
	logger   *slog.Logger
}

// ConnectorOption configures the connector
type ConnectorOption func(*Connector)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ConnectorOption {
	return func(c *Connector) {
		c.logger = logger
	}
}

// WithDefaultDeliveryMode sets the delivery mode applied to messages that
// leave it unset
func WithDefaultDeliveryMode(mode outbound.DeliveryMode) ConnectorOption {
	return func(c *Connector) {
		c.defaults.DeliveryMode = mode
	}
}

// WithDefaultPriority sets the priority applied to messages without one
func WithDefaultPriority(priority uint8) ConnectorOption {
	return func(c *Connector) {
		c.defaults.Priority = &priority
	}
}

// WithMandatory makes unroutable publishes come back as returns
func WithMandatory(mandatory bool) ConnectorOption {
	return func(c *Connector) {
		c.defaults.Mandatory = mandatory
	}
}

// WithImmediate sets the immediate publish flag. RabbitMQ 3.x and later
// close the channel on immediate publishes.
func WithImmediate(immediate bool) ConnectorOption {
	return func(c *Connector) {
		c.defaults.Immediate = immediate
	}
}

// NewConnector creates a connector opening its channels through opener
func NewConnector(opener ChannelOpener, options ...ConnectorOption) *Connector {
	c := &Connector{
		opener: opener,
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// OpenOutboundSession opens a channel for endpoint and declares its exchange
// when the endpoint asks for it
func (c *Connector) OpenOutboundSession(ctx context.Context, endpoint outbound.Endpoint) (*outbound.Session, error) {
	ch, err := c.opener.OpenChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open channel for %s: %w", endpoint, err)
	}

	if decl := endpoint.ExchangeDeclaration; decl != nil {
		err := rabbitmq.DeclareExchange(ch, rabbitmq.ExchangeDeclaration{
			Name:       decl.Name,
			Type:       decl.Type,
			Durable:    decl.Durable,
			AutoDelete: decl.AutoDelete,
		})
		if err != nil {
			_ = ch.Close()
			return nil, err
		}
	}

	c.logger.Debug("outbound session opened",
		"endpoint", endpoint.String(),
		"exchange", endpoint.Exchange,
		"routingKey", endpoint.RoutingKey)

	return &outbound.Session{
		Channel:    ch,
		Exchange:   endpoint.Exchange,
		RoutingKey: endpoint.RoutingKey,
	}, nil
}

// CloseChannel closes ch unless the broker already did
func (c *Connector) CloseChannel(ch outbound.Channel) error {
	if ch == nil {
		return nil
	}
	rc, err := channelOf(ch)
	if err != nil {
		return err
	}
	if rc.IsClosed() {
		return nil
	}
	return rc.Close()
}

// Publish converts msg to an AMQP publishing and sends it
func (c *Connector) Publish(ctx context.Context, ch outbound.Channel, exchange, routingKey string, mandatory, immediate bool, msg *outbound.Message) error {
	rc, err := channelOf(ch)
	if err != nil {
		return err
	}
	return rabbitmq.Publish(ctx, rc, exchange, routingKey, mandatory, immediate, msg.Publishing())
}

// DeclareTemporaryQueue declares a server-named reply queue on ch
func (c *Connector) DeclareTemporaryQueue(ctx context.Context, ch outbound.Channel) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rc, err := channelOf(ch)
	if err != nil {
		return "", err
	}
	return rabbitmq.DeclareTemporaryQueue(rc)
}

// Consume waits up to timeout for one delivery on queue. Cancellation of ctx
// is reported as outbound.ErrInterruptedWait.
func (c *Connector) Consume(ctx context.Context, ch outbound.Channel, queue string, autoAck bool, timeout time.Duration) (*outbound.Message, error) {
	rc, err := channelOf(ch)
	if err != nil {
		return nil, err
	}

	delivery, err := rabbitmq.ConsumeOne(ctx, rc, queue, autoAck, timeout)
	if err != nil {
		if rabbitmq.IsCancelled(err) {
			return nil, fmt.Errorf("%w: %w", outbound.ErrInterruptedWait, err)
		}
		return nil, err
	}
	if delivery == nil {
		c.logger.Debug("no reply before timeout", "queue", queue, "timeout", timeout)
		return nil, nil
	}

	return outbound.MessageFromDelivery(*delivery), nil
}

// Defaults returns the connector-level publication defaults
func (c *Connector) Defaults() outbound.Defaults {
	return c.defaults
}

func channelOf(ch outbound.Channel) (rabbitmq.Channel, error) {
	rc, ok := ch.(rabbitmq.Channel)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedChannel, ch)
	}
	return rc, nil
}

var _ outbound.Connector = (*Connector)(nil)
