package outbound

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// Scheme is the URI scheme of AMQP outbound endpoints
	Scheme = "amqp"

	queuePrefix = "amqp-queue."
)

// ExchangeDeclaration describes an exchange to declare when a session opens
type ExchangeDeclaration struct {
	Name       string
	Type       string
	Durable    bool
	AutoDelete bool
}

// Endpoint is the static configuration of one outbound destination
type Endpoint struct {
	Address         string
	Exchange        string
	Queue           string
	RoutingKey      string
	ResponseTimeout time.Duration

	// ExchangeDeclaration is declared on session open when set
	ExchangeDeclaration *ExchangeDeclaration
}

// String returns the endpoint address, or a synthesized one
func (e Endpoint) String() string {
	if e.Address != "" {
		return e.Address
	}
	return fmt.Sprintf("%s://%s", Scheme, e.Exchange)
}

// ParseEndpoint parses an endpoint URI of the form
//
//	amqp://[exchange][/]amqp-queue.<queue>?routingKey=..&responseTimeout=..
//
// An exchange-only URI (amqp://exchange) targets the exchange with an empty
// queue; a queue-only URI (amqp://amqp-queue.q) targets the default exchange.
// When no routingKey is given the queue name is used.
//
// The address is split on "/" rather than parsed as a URL host, so exchange
// names may hold any character but "/" and "?". Percent escapes in names are
// decoded when they are valid and kept verbatim otherwise.
func ParseEndpoint(uri string) (Endpoint, error) {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok || !strings.EqualFold(scheme, Scheme) {
		return Endpoint{}, fmt.Errorf("invalid endpoint uri %q: scheme must be %s", uri, Scheme)
	}

	address, rawQuery, _ := strings.Cut(rest, "?")
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid endpoint uri %q: %w", uri, err)
	}

	ep := Endpoint{Address: uri}

	first, path, _ := strings.Cut(address, "/")
	segments := []string{first}
	if path = strings.Trim(path, "/"); path != "" {
		segments = append(segments, path)
	}
	for _, segment := range segments {
		segment = unescapeSegment(segment)
		if strings.HasPrefix(segment, queuePrefix) {
			ep.Queue = strings.TrimPrefix(segment, queuePrefix)
		} else if segment != "" {
			ep.Exchange = segment
		}
	}

	ep.RoutingKey = query.Get("routingKey")
	if ep.RoutingKey == "" {
		ep.RoutingKey = ep.Queue
	}

	if raw := query.Get("responseTimeout"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms < 0 {
			return Endpoint{}, fmt.Errorf("invalid endpoint uri %q: responseTimeout must be a non-negative number of milliseconds", uri)
		}
		ep.ResponseTimeout = time.Duration(ms) * time.Millisecond
	}

	if kind := query.Get("exchangeType"); kind != "" && !IsDefaultExchange(ep.Exchange) {
		ep.ExchangeDeclaration = &ExchangeDeclaration{
			Name:       ep.Exchange,
			Type:       kind,
			Durable:    parseBool(query.Get("exchangeDurable"), true),
			AutoDelete: parseBool(query.Get("exchangeAutoDelete"), false),
		}
	}

	return ep, nil
}

func unescapeSegment(segment string) string {
	if unescaped, err := url.PathUnescape(segment); err == nil {
		return unescaped
	}
	return segment
}

func parseBool(raw string, fallback bool) bool {
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return b
}
