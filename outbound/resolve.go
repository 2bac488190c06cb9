package outbound

import (
	"errors"
	"fmt"
	"time"
)

// DefaultExchangeAlias names the unnamed default exchange in configuration
const DefaultExchangeAlias = "AMQP.DEFAULT.EXCHANGE"

var errNilRoutingKey = errors.New("expression evaluated to nil")

// Evaluator evaluates routing key expressions against an event
type Evaluator interface {
	IsValidExpression(expression string) bool
	Evaluate(expression string, event *Event) (interface{}, error)
}

// Route is the effective exchange and routing key of one event
type Route struct {
	Exchange   string
	RoutingKey string
}

// IsDefaultExchange reports whether name denotes the broker's default exchange
func IsDefaultExchange(name string) bool {
	return name == "" || name == DefaultExchangeAlias || name == "amq.default"
}

// ResolveDeliveryProperties fills the delivery mode and priority of p from d
// where p leaves them unset. Explicit values are kept.
func ResolveDeliveryProperties(p Properties, d Defaults) Properties {
	if p.DeliveryMode == DeliveryModeUnset && d.DeliveryMode != DeliveryModeUnset {
		p.DeliveryMode = d.DeliveryMode
	}
	if p.Priority == nil && d.Priority != nil {
		priority := *d.Priority
		p.Priority = &priority
	}
	return p
}

// ResolveRoute computes the exchange and routing key for event. Event
// overrides win over the session defaults. Only the routing key is subject to
// expression evaluation; the exchange is fixed by endpoint configuration.
func ResolveRoute(event *Event, session *Session, evaluator Evaluator) (Route, error) {
	route := Route{
		Exchange:   event.OutboundString(ExchangeProperty, session.exchange()),
		RoutingKey: event.OutboundString(RoutingKeyProperty, session.routingKey()),
	}

	if IsDefaultExchange(route.Exchange) {
		route.Exchange = ""
	}

	if evaluator != nil && evaluator.IsValidExpression(route.RoutingKey) {
		value, err := evaluator.Evaluate(route.RoutingKey, event)
		if err != nil {
			return route, &RoutingResolutionError{Expression: route.RoutingKey, Err: err}
		}
		if value == nil {
			return route, &RoutingResolutionError{Expression: route.RoutingKey, Err: errNilRoutingKey}
		}
		route.RoutingKey = fmt.Sprint(value)
	}

	return route, nil
}

// ResolveTimeout returns the reply wait for an event. An event timeout that
// differs from the context default was set explicitly and wins; otherwise the
// endpoint's response timeout applies.
func ResolveTimeout(contextDefault, eventTimeout, endpointTimeout time.Duration) time.Duration {
	if eventTimeout != contextDefault {
		return eventTimeout
	}
	return endpointTimeout
}
