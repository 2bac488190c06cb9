package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/glimte/mmate-dispatch/outbound"
)

// readBody returns the first argument, or stdin when it is "-" or absent
func readBody(args []string, stdin io.Reader) ([]byte, error) {
	if len(args) == 1 && args[0] != "-" {
		return []byte(args[0]), nil
	}
	body, err := io.ReadAll(stdin)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	return body, nil
}

func parseHeaders(raw []string) (map[string]interface{}, error) {
	headers := make(map[string]interface{}, len(raw))
	for _, h := range raw {
		key, value, ok := strings.Cut(h, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid header %q, want key=value", h)
		}
		headers[key] = value
	}
	return headers, nil
}

// returnListener picks the handler for returned messages: none unless
// publishing mandatory, a republish when --return-to is set, a warning log
// otherwise
func (f *messageFlags) returnListener(logger *slog.Logger) (outbound.ReturnListener, error) {
	if !f.mandatory {
		return nil, nil
	}
	if f.returnTo == "" {
		return outbound.NewLoggingReturnListener(logger), nil
	}
	exchange, routingKey, ok := strings.Cut(f.returnTo, "/")
	if !ok || routingKey == "" {
		return nil, fmt.Errorf("invalid return target %q, want exchange/routing-key", f.returnTo)
	}
	return outbound.NewDispatchingReturnListener(exchange, routingKey, outbound.WithReturnLogger(logger)), nil
}

func buildEvent(body []byte, f *messageFlags, logger *slog.Logger) (*outbound.Event, error) {
	if f.priority > 9 {
		return nil, errors.New("priority must be between 0 and 9")
	}

	headers, err := parseHeaders(f.headers)
	if err != nil {
		return nil, err
	}

	listener, err := f.returnListener(logger)
	if err != nil {
		return nil, err
	}

	msg := outbound.NewMessage(body)
	msg.Properties.ContentType = f.contentType
	for k, v := range headers {
		msg.SetHeader(k, v)
	}
	if f.persistent {
		msg.SetDeliveryMode(outbound.DeliveryModePersistent)
	}
	if f.priority >= 0 {
		msg.SetPriority(uint8(f.priority))
	}

	var opts []outbound.EventOption
	if f.routingKey != "" {
		opts = append(opts, outbound.WithRoutingKey(f.routingKey))
	}
	if f.timeout > 0 {
		opts = append(opts, outbound.WithTimeout(f.timeout))
	}
	if listener != nil {
		opts = append(opts, outbound.WithReturnListener(listener))
	}

	event := outbound.NewEvent(msg, opts...)
	msg.Properties.MessageID = event.ID
	msg.Properties.CorrelationID = event.ID
	return event, nil
}

func eventLine(event *outbound.Event, uri string) string {
	return fmt.Sprintf("event %s to %s", event.ID, uri)
}
