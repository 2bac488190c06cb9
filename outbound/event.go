package outbound

import (
	"time"

	"github.com/google/uuid"
)

// Well-known property keys
const (
	// ExchangeProperty overrides the session exchange for one event
	ExchangeProperty = "exchange"
	// RoutingKeyProperty overrides the session routing key for one event
	RoutingKeyProperty = "routing-key"
	// ReturnListenerKey is the invocation property holding a ReturnListener
	ReturnListenerKey = "amqp.return-listener"
)

// Event is one unit of work handed to a Dispatcher. Its payload must be a
// *Message for the dispatch to proceed.
type Event struct {
	ID      string
	Payload interface{}

	// OutboundProperties carry per-event routing overrides
	OutboundProperties map[string]interface{}
	// InvocationProperties are scoped to a single invocation and never sent
	InvocationProperties map[string]interface{}

	// Timeout is the reply wait requested for this event. Zero means the
	// host context default.
	Timeout time.Duration
}

// EventOption configures an event
type EventOption func(*Event)

// WithExchange overrides the exchange for the event
func WithExchange(exchange string) EventOption {
	return func(e *Event) {
		e.SetOutboundProperty(ExchangeProperty, exchange)
	}
}

// WithRoutingKey overrides the routing key for the event
func WithRoutingKey(routingKey string) EventOption {
	return func(e *Event) {
		e.SetOutboundProperty(RoutingKeyProperty, routingKey)
	}
}

// WithReturnListener attaches a return listener for the duration of the dispatch
func WithReturnListener(listener ReturnListener) EventOption {
	return func(e *Event) {
		e.SetInvocationProperty(ReturnListenerKey, listener)
	}
}

// WithTimeout sets the reply wait for the event
func WithTimeout(timeout time.Duration) EventOption {
	return func(e *Event) {
		e.Timeout = timeout
	}
}

// NewEvent creates an event carrying payload
func NewEvent(payload interface{}, options ...EventOption) *Event {
	e := &Event{
		ID:                   uuid.New().String(),
		Payload:              payload,
		OutboundProperties:   make(map[string]interface{}),
		InvocationProperties: make(map[string]interface{}),
	}

	for _, opt := range options {
		opt(e)
	}

	return e
}

// SetOutboundProperty sets an outbound property
func (e *Event) SetOutboundProperty(key string, value interface{}) {
	if e.OutboundProperties == nil {
		e.OutboundProperties = make(map[string]interface{})
	}
	e.OutboundProperties[key] = value
}

// SetInvocationProperty sets an invocation-scoped property
func (e *Event) SetInvocationProperty(key string, value interface{}) {
	if e.InvocationProperties == nil {
		e.InvocationProperties = make(map[string]interface{})
	}
	e.InvocationProperties[key] = value
}

// OutboundString returns the outbound property under key as a string, or
// fallback when it is absent or not a string
func (e *Event) OutboundString(key, fallback string) string {
	if v, ok := e.OutboundProperties[key].(string); ok {
		return v
	}
	return fallback
}

// Message returns the payload as a *Message
func (e *Event) Message() (*Message, bool) {
	msg, ok := e.Payload.(*Message)
	return msg, ok && msg != nil
}
