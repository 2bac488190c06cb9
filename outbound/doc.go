// Package outbound sends application events to an AMQP exchange.
//
// A Dispatcher owns one broker channel for the lifetime of a
// Connect/Disconnect cycle and supports two actions:
//   - Dispatch: publish and return
//   - Send: declare a private temporary reply queue, publish with reply-to
//     set to it and block until a reply arrives or the timeout elapses
//
// Before each action the dispatcher resolves the exchange and routing key
// (event overrides, session defaults, expression evaluation of the routing
// key), fills unset delivery mode and priority from connector defaults and
// attaches the event's return listener to the channel.
//
// A Send that times out returns a result with a nil payload; it is not an
// error. Failures are reported as *DispatchError wrapping one of
// ErrInvalidPayload, ErrNotConnected, ErrRoutingResolution, ErrBrokerIO or
// ErrInterruptedWait.
//
// Example usage:
//
//	d, err := outbound.NewDispatcher(connector, endpoint, outbound.WithEvaluator(expression.NewEvaluator()))
//	if err := d.Connect(ctx); err != nil {
//		return err
//	}
//	defer d.Disconnect()
//
//	result, err := d.Send(ctx, outbound.NewEvent(outbound.NewMessage(body)))
package outbound
