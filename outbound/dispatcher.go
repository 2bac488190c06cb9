package outbound

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultResponseTimeout is the host context default used when none is configured
const DefaultResponseTimeout = 10 * time.Second

// ReceiveTransformer turns a reply message into the payload of a result event
type ReceiveTransformer func(reply *Message) (interface{}, error)

// Dispatcher sends events to one outbound endpoint. A Dispatcher owns its
// session channel: dispatches, Connect and Disconnect are serialized so the
// channel is never used concurrently.
type Dispatcher struct {
	connector          Connector
	endpoint           Endpoint
	evaluator          Evaluator
	defaultTimeout     time.Duration
	receiveTransformer ReceiveTransformer
	logger             *slog.Logger

	mu      sync.Mutex
	session *Session
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithEvaluator sets the routing key expression evaluator
func WithEvaluator(evaluator Evaluator) DispatcherOption {
	return func(d *Dispatcher) {
		d.evaluator = evaluator
	}
}

// WithDefaultResponseTimeout sets the host context default response timeout
func WithDefaultResponseTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.defaultTimeout = timeout
	}
}

// WithReceiveTransformer sets the transformer applied to replies by Send
func WithReceiveTransformer(transformer ReceiveTransformer) DispatcherOption {
	return func(d *Dispatcher) {
		d.receiveTransformer = transformer
	}
}

// NewDispatcher creates a dispatcher for endpoint. It starts disconnected.
func NewDispatcher(connector Connector, endpoint Endpoint, options ...DispatcherOption) (*Dispatcher, error) {
	if connector == nil {
		return nil, fmt.Errorf("outbound: connector cannot be nil")
	}

	d := &Dispatcher{
		connector:      connector,
		endpoint:       endpoint,
		defaultTimeout: DefaultResponseTimeout,
		logger:         slog.Default(),
	}

	for _, opt := range options {
		opt(d)
	}

	if d.endpoint.ResponseTimeout == 0 {
		d.endpoint.ResponseTimeout = d.defaultTimeout
	}

	d.logger.Debug("instantiated dispatcher", "endpoint", d.endpoint.String())
	return d, nil
}

// Endpoint returns the endpoint configuration
func (d *Dispatcher) Endpoint() Endpoint {
	return d.endpoint
}

// Connect opens the outbound session. It is a no-op when already connected.
// A session whose channel the broker has closed is replaced.
func (d *Dispatcher) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session.open() {
		return nil
	}
	if stale := d.session.channel(); stale != nil {
		d.logger.Debug("replacing closed session", "endpoint", d.endpoint.String())
		d.session = nil
		if err := d.connector.CloseChannel(stale); err != nil {
			d.logger.Debug("failed to release closed channel", "error", err)
		}
	}

	session, err := d.connector.OpenOutboundSession(ctx, d.endpoint)
	if err != nil {
		return fmt.Errorf("outbound: failed to connect to %s: %w", d.endpoint, err)
	}
	if !session.open() {
		return fmt.Errorf("outbound: connector returned no open channel for %s", d.endpoint)
	}

	d.session = session
	d.logger.Debug("connected",
		"endpoint", d.endpoint.String(),
		"exchange", session.Exchange,
		"routingKey", session.RoutingKey,
	)
	return nil
}

// Disconnect clears the session and closes its channel. Later dispatches fail
// with ErrNotConnected until Connect succeeds again.
func (d *Dispatcher) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ch := d.session.channel()
	if ch == nil {
		return nil
	}

	d.logger.Debug("disconnecting", "exchange", d.session.Exchange, "endpoint", d.endpoint.String())

	d.session = nil
	return d.connector.CloseChannel(ch)
}

// IsConnected reports whether a session is open and its channel is live
func (d *Dispatcher) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session.open()
}

// Dispatch publishes the event's message without waiting for a reply
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) error {
	_, err := d.doOutboundAction(ctx, event, ActionDispatch)
	return err
}

// Send publishes the event's message and waits for a reply on a private
// temporary queue. The result event carries the reply, or a nil payload when
// no reply arrived before the timeout.
func (d *Dispatcher) Send(ctx context.Context, event *Event) (*Event, error) {
	reply, err := d.doOutboundAction(ctx, event, ActionSend)
	if err != nil {
		return nil, err
	}

	result := &Event{
		ID:                   event.ID,
		OutboundProperties:   make(map[string]interface{}),
		InvocationProperties: make(map[string]interface{}),
	}
	if reply == nil {
		return result, nil
	}

	result.OutboundProperties[ExchangeProperty] = reply.Exchange
	result.OutboundProperties[RoutingKeyProperty] = reply.RoutingKey
	result.Payload = reply

	if d.receiveTransformer != nil {
		payload, err := d.receiveTransformer(reply)
		if err != nil {
			return nil, fmt.Errorf("outbound: failed to transform reply for event %s: %w", event.ID, err)
		}
		result.Payload = payload
	}

	return result, nil
}

func (d *Dispatcher) doOutboundAction(ctx context.Context, event *Event, action OutboundAction) (*Message, error) {
	if event == nil {
		return nil, d.dispatchError(action, nil, Route{}, ErrInvalidPayload)
	}

	msg, ok := event.Message()
	if !ok {
		return nil, d.dispatchError(action, event, Route{}, fmt.Errorf("%w: got %T", ErrInvalidPayload, event.Payload))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.session.open() {
		return nil, d.dispatchError(action, event, Route{}, ErrNotConnected)
	}
	ch := d.session.channel()

	route, err := ResolveRoute(event, d.session, d.evaluator)
	if err != nil {
		return nil, d.dispatchError(action, event, route, err)
	}

	msg.Properties = ResolveDeliveryProperties(msg.Properties, d.connector.Defaults())

	addReturnListenerIfNeeded(event, d.session, d.connector, d.logger)

	reply, err := action.run(ctx, d.connector, ch, route.Exchange, route.RoutingKey, msg, d.timeoutFor(event))
	if err != nil {
		return nil, d.dispatchError(action, event, route, err)
	}

	d.logger.Debug("performed outbound action",
		"action", action.String(),
		"exchange", route.Exchange,
		"routingKey", route.RoutingKey,
		"eventId", event.ID,
		"reply", reply.String(),
	)

	return reply, nil
}

// timeoutFor resolves the reply wait. A zero event timeout counts as the
// context default.
func (d *Dispatcher) timeoutFor(event *Event) time.Duration {
	eventTimeout := event.Timeout
	if eventTimeout == 0 {
		eventTimeout = d.defaultTimeout
	}
	return ResolveTimeout(d.defaultTimeout, eventTimeout, d.endpoint.ResponseTimeout)
}

func (d *Dispatcher) dispatchError(action OutboundAction, event *Event, route Route, err error) error {
	de := &DispatchError{
		Action:     action,
		Endpoint:   d.endpoint.String(),
		Exchange:   route.Exchange,
		RoutingKey: route.RoutingKey,
		Err:        err,
		Timestamp:  time.Now(),
	}
	if event != nil {
		de.EventID = event.ID
	}
	return de
}
