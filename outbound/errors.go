package outbound

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidPayload is returned when an event payload is not a *Message
	ErrInvalidPayload = errors.New("outbound: payload is not a dispatchable message")
	// ErrNotConnected is returned when a dispatch is attempted on a torn down session
	ErrNotConnected = errors.New("outbound: dispatcher is not connected")
	// ErrRoutingResolution is matched by every RoutingResolutionError
	ErrRoutingResolution = errors.New("outbound: routing resolution failed")
	// ErrBrokerIO is matched by every BrokerIOError
	ErrBrokerIO = errors.New("outbound: broker I/O failed")
	// ErrInterruptedWait is returned when a reply wait is cancelled before a
	// reply or the deadline
	ErrInterruptedWait = errors.New("outbound: reply wait interrupted")
)

// RoutingResolutionError reports a routing key expression that failed to evaluate
type RoutingResolutionError struct {
	Expression string
	Err        error
}

func (e *RoutingResolutionError) Error() string {
	return fmt.Sprintf("outbound: failed to evaluate routing key %q: %v", e.Expression, e.Err)
}

func (e *RoutingResolutionError) Unwrap() error {
	return e.Err
}

// Is makes every RoutingResolutionError match ErrRoutingResolution
func (e *RoutingResolutionError) Is(target error) bool {
	return target == ErrRoutingResolution
}

// BrokerIOError reports a failed publish, declare or consume call
type BrokerIOError struct {
	Op  string // publish, declare, consume
	Err error
}

func (e *BrokerIOError) Error() string {
	return fmt.Sprintf("outbound: broker %s failed: %v", e.Op, e.Err)
}

func (e *BrokerIOError) Unwrap() error {
	return e.Err
}

// Is makes every BrokerIOError match ErrBrokerIO
func (e *BrokerIOError) Is(target error) bool {
	return target == ErrBrokerIO
}

// DispatchError carries the context of a failed dispatch so callers can log
// it or route it to a failure handler
type DispatchError struct {
	Action     OutboundAction
	Endpoint   string
	Exchange   string
	RoutingKey string
	EventID    string
	Err        error
	Timestamp  time.Time
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("outbound %s error: event %s on endpoint %s (exchange=%q, routing key=%q): %v",
		e.Action, e.EventID, e.Endpoint, e.Exchange, e.RoutingKey, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether a failed dispatch may succeed if attempted again.
// Only broker I/O failures qualify; usage errors and interrupted waits do not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, ErrInvalidPayload),
		errors.Is(err, ErrNotConnected),
		errors.Is(err, ErrRoutingResolution),
		errors.Is(err, ErrInterruptedWait):
		return false
	}

	return errors.Is(err, ErrBrokerIO)
}
