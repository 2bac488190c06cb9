package outbound

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the broker channel handle a session owns. It is not safe for
// unsynchronized concurrent use; a Dispatcher serializes access to its own.
type Channel interface {
	NotifyReturn(c chan amqp.Return) chan amqp.Return
	IsClosed() bool
}

// Session binds a broker channel to the exchange and routing key an outbound
// endpoint publishes to. It lives from Connect to Disconnect, or until the
// broker closes its channel.
type Session struct {
	Channel    Channel
	Exchange   string
	RoutingKey string

	// returns is created with the first return listener attached to Channel
	returns *returnFanout
}

func (s *Session) channel() Channel {
	if s == nil {
		return nil
	}
	return s.Channel
}

// open reports whether the session still has a live channel
func (s *Session) open() bool {
	ch := s.channel()
	return ch != nil && !ch.IsClosed()
}

func (s *Session) exchange() string {
	if s == nil {
		return ""
	}
	return s.Exchange
}

func (s *Session) routingKey() string {
	if s == nil {
		return ""
	}
	return s.RoutingKey
}
