package outbound

import (
	"context"
	"log/slog"
	"reflect"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Headers added to messages republished by a DispatchingReturnListener
const (
	ReturnReplyCodeHeader  = "x-return-reply-code"
	ReturnReplyTextHeader  = "x-return-reply-text"
	ReturnExchangeHeader   = "x-return-exchange"
	ReturnRoutingKeyHeader = "x-return-routing-key"
)

// ReturnListener receives messages the broker could not route or deliver
// under the mandatory or immediate flags
type ReturnListener interface {
	HandleReturn(ret amqp.Return)
}

// ReturnListenerFunc is a function adapter for ReturnListener. Function
// listeners are told apart by their code, so closures built from the same
// function literal count as one listener per channel.
type ReturnListenerFunc func(ret amqp.Return)

// HandleReturn implements ReturnListener
func (f ReturnListenerFunc) HandleReturn(ret amqp.Return) {
	f(ret)
}

// ConnectorBinder is implemented by listeners that re-enter the dispatch
// path and need the dispatcher's connector. Their HandleReturn runs on its
// own goroutine so a republish never stalls return delivery on the channel.
type ConnectorBinder interface {
	SetConnector(connector Connector)
}

// returnBuffer sizes the notify channel of a session's return fan-out
const returnBuffer = 64

// returnFanout forwards the returns of one channel to every listener
// attached to it. A channel gets a single NotifyReturn registration and a
// single forwarding goroutine, which exits when the channel closes.
type returnFanout struct {
	mu        sync.RWMutex
	listeners []ReturnListener
	keys      map[interface{}]struct{}
}

type funcListenerKey uintptr

// listenerKey identifies a listener. Values of types that cannot be compared
// are identified by their type.
func listenerKey(listener ReturnListener) interface{} {
	v := reflect.ValueOf(listener)
	switch {
	case v.Kind() == reflect.Func:
		return funcListenerKey(v.Pointer())
	case v.Type().Comparable():
		return listener
	default:
		return v.Type()
	}
}

// add attaches listener unless it is already attached
func (f *returnFanout) add(listener ReturnListener) bool {
	key := listenerKey(listener)

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.keys[key]; ok {
		return false
	}
	f.keys[key] = struct{}{}
	f.listeners = append(f.listeners, listener)
	return true
}

func (f *returnFanout) forward(returns <-chan amqp.Return) {
	for ret := range returns {
		f.mu.RLock()
		listeners := append([]ReturnListener(nil), f.listeners...)
		f.mu.RUnlock()

		for _, listener := range listeners {
			if _, redispatches := listener.(ConnectorBinder); redispatches {
				go listener.HandleReturn(ret)
				continue
			}
			listener.HandleReturn(ret)
		}
	}
}

// attachReturnListener registers listener on the session's channel. The
// caller holds the dispatcher lock.
func (s *Session) attachReturnListener(listener ReturnListener) bool {
	if s.returns == nil {
		s.returns = &returnFanout{keys: make(map[interface{}]struct{})}
		notify := s.Channel.NotifyReturn(make(chan amqp.Return, returnBuffer))
		go s.returns.forward(notify)
	}
	return s.returns.add(listener)
}

// addReturnListenerIfNeeded attaches the event's return listener to the
// session channel. A listener is attached at most once per channel and stays
// attached until the channel closes.
func addReturnListenerIfNeeded(event *Event, session *Session, connector Connector, logger *slog.Logger) {
	listener, ok := event.InvocationProperties[ReturnListenerKey].(ReturnListener)
	if !ok || listener == nil {
		return
	}

	if binder, ok := listener.(ConnectorBinder); ok {
		binder.SetConnector(connector)
	}

	if session.attachReturnListener(listener) {
		logger.Debug("set return listener on channel", "eventId", event.ID)
	}
}

// LoggingReturnListener logs every returned message
type LoggingReturnListener struct {
	logger *slog.Logger
}

// NewLoggingReturnListener creates a listener logging to logger
func NewLoggingReturnListener(logger *slog.Logger) *LoggingReturnListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingReturnListener{logger: logger}
}

// HandleReturn implements ReturnListener
func (l *LoggingReturnListener) HandleReturn(ret amqp.Return) {
	l.logger.Warn("message returned by broker",
		"replyCode", ret.ReplyCode,
		"replyText", ret.ReplyText,
		"exchange", ret.Exchange,
		"routingKey", ret.RoutingKey,
		"messageId", ret.MessageId,
		"correlationId", ret.CorrelationId,
	)
}

// DispatchingReturnListener republishes returned messages to a fallback
// exchange and routing key through the connector it is bound to
type DispatchingReturnListener struct {
	exchange   string
	routingKey string
	timeout    time.Duration
	logger     *slog.Logger

	mu        sync.RWMutex
	connector Connector
}

// DispatchingReturnListenerOption configures a DispatchingReturnListener
type DispatchingReturnListenerOption func(*DispatchingReturnListener)

// WithRedispatchTimeout bounds each republish
func WithRedispatchTimeout(timeout time.Duration) DispatchingReturnListenerOption {
	return func(l *DispatchingReturnListener) {
		l.timeout = timeout
	}
}

// WithReturnLogger sets the logger
func WithReturnLogger(logger *slog.Logger) DispatchingReturnListenerOption {
	return func(l *DispatchingReturnListener) {
		l.logger = logger
	}
}

// NewDispatchingReturnListener creates a listener republishing to exchange/routingKey
func NewDispatchingReturnListener(exchange, routingKey string, options ...DispatchingReturnListenerOption) *DispatchingReturnListener {
	l := &DispatchingReturnListener{
		exchange:   exchange,
		routingKey: routingKey,
		timeout:    5 * time.Second,
		logger:     slog.Default(),
	}

	for _, opt := range options {
		opt(l)
	}

	return l
}

// SetConnector implements ConnectorBinder
func (l *DispatchingReturnListener) SetConnector(connector Connector) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connector = connector
}

// HandleReturn implements ReturnListener
func (l *DispatchingReturnListener) HandleReturn(ret amqp.Return) {
	l.mu.RLock()
	connector := l.connector
	l.mu.RUnlock()

	if connector == nil {
		l.logger.Error("returned message dropped: no connector bound",
			"exchange", ret.Exchange, "routingKey", ret.RoutingKey)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	if err := l.redispatch(ctx, connector, ret); err != nil {
		l.logger.Error("failed to redispatch returned message",
			"error", err,
			"exchange", l.exchange,
			"routingKey", l.routingKey,
		)
	}
}

func (l *DispatchingReturnListener) redispatch(ctx context.Context, connector Connector, ret amqp.Return) error {
	exchange := l.exchange
	if IsDefaultExchange(exchange) {
		exchange = ""
	}

	session, err := connector.OpenOutboundSession(ctx, Endpoint{Exchange: exchange, RoutingKey: l.routingKey})
	if err != nil {
		return err
	}
	defer connector.CloseChannel(session.Channel)

	msg := MessageFromReturn(ret)
	headers := amqp.Table{}
	for k, v := range ret.Headers {
		headers[k] = v
	}
	headers[ReturnReplyCodeHeader] = int32(ret.ReplyCode)
	headers[ReturnReplyTextHeader] = ret.ReplyText
	headers[ReturnExchangeHeader] = ret.Exchange
	headers[ReturnRoutingKeyHeader] = ret.RoutingKey
	msg.Properties.Headers = headers

	return connector.Publish(ctx, session.Channel, exchange, l.routingKey, false, false, msg)
}
