// Package expression evaluates routing key expressions against outbound events.
//
// Expressions are written as #[ <expr> ] using the expr language
// (github.com/expr-lang/expr). The evaluation environment exposes:
//   - id: the event ID
//   - payload: the event payload
//   - body: the message body as a string
//   - headers: the message headers
//   - message: the message properties (contentType, correlationId, messageId,
//     replyTo, type, appId, userId, deliveryMode, priority)
//   - outbound, invocation: the event property maps
//   - timeout: the event timeout in milliseconds
//
// For example "#['orders.' + lower(headers.region)]" routes on a header.
package expression

import (
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/glimte/mmate-dispatch/outbound"
)

const (
	prefix = "#["
	suffix = "]"
)

var _ outbound.Evaluator = (*Evaluator)(nil)

// Evaluator compiles and runs routing key expressions. Compiled programs are
// cached by source, so an Evaluator is safe for concurrent use.
type Evaluator struct {
	programs sync.Map // string -> *vm.Program
}

// NewEvaluator creates an evaluator
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// IsValidExpression reports whether s is a #[...] expression that compiles
func (e *Evaluator) IsValidExpression(s string) bool {
	source, ok := unwrap(s)
	if !ok {
		return false
	}
	_, err := e.compile(source)
	return err == nil
}

// Evaluate runs the expression s against event
func (e *Evaluator) Evaluate(s string, event *outbound.Event) (interface{}, error) {
	source, ok := unwrap(s)
	if !ok {
		return nil, fmt.Errorf("not an expression: %q", s)
	}

	program, err := e.compile(source)
	if err != nil {
		return nil, err
	}

	return expr.Run(program, Environment(event))
}

func (e *Evaluator) compile(source string) (*vm.Program, error) {
	if cached, ok := e.programs.Load(source); ok {
		return cached.(*vm.Program), nil
	}

	program, err := expr.Compile(source)
	if err != nil {
		return nil, err
	}

	e.programs.Store(source, program)
	return program, nil
}

func unwrap(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, prefix) || !strings.HasSuffix(s, suffix) {
		return "", false
	}
	source := strings.TrimSpace(s[len(prefix) : len(s)-len(suffix)])
	return source, source != ""
}

// Environment builds the variables an expression sees for event
func Environment(event *outbound.Event) map[string]interface{} {
	env := map[string]interface{}{
		"id":         "",
		"payload":    nil,
		"body":       "",
		"headers":    map[string]interface{}{},
		"message":    map[string]interface{}{},
		"outbound":   map[string]interface{}{},
		"invocation": map[string]interface{}{},
		"timeout":    int64(0),
	}
	if event == nil {
		return env
	}

	env["id"] = event.ID
	env["payload"] = event.Payload
	env["timeout"] = event.Timeout.Milliseconds()
	if event.OutboundProperties != nil {
		env["outbound"] = event.OutboundProperties
	}
	if event.InvocationProperties != nil {
		env["invocation"] = event.InvocationProperties
	}

	msg, ok := event.Message()
	if !ok {
		return env
	}

	env["body"] = string(msg.Body)
	if msg.Properties.Headers != nil {
		env["headers"] = map[string]interface{}(msg.Properties.Headers)
	}

	props := map[string]interface{}{
		"contentType":   msg.Properties.ContentType,
		"correlationId": msg.Properties.CorrelationID,
		"messageId":     msg.Properties.MessageID,
		"replyTo":       msg.Properties.ReplyTo,
		"type":          msg.Properties.Type,
		"appId":         msg.Properties.AppID,
		"userId":        msg.Properties.UserID,
		"deliveryMode":  int(msg.Properties.DeliveryMode),
		"priority":      nil,
	}
	if msg.Properties.Priority != nil {
		props["priority"] = int(*msg.Properties.Priority)
	}
	env["message"] = props

	return env
}
