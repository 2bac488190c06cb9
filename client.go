// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/mmate-dispatch/expression"
	"github.com/glimte/mmate-dispatch/health"
	"github.com/glimte/mmate-dispatch/internal/rabbitmq"
	"github.com/glimte/mmate-dispatch/outbound"
	rabbitmqTransport "github.com/glimte/mmate-dispatch/transports/rabbitmq"
)

// connection is the broker connection a Client drives
type connection interface {
	Connect(ctx context.Context) error
	OpenChannel(ctx context.Context) (rabbitmq.Channel, error)
	IsConnected() bool
	Close() error
}

// Client wires a broker connection, a RabbitMQ connector and the routing
// expression evaluator, and hands out connected dispatchers for endpoints
type Client struct {
	conn      connection
	connector *rabbitmqTransport.Connector
	evaluator *expression.Evaluator
	logger    *slog.Logger
	timeout   time.Duration

	mu          sync.Mutex
	dispatchers []*outbound.Dispatcher
	closed      bool
}

// NewClient connects to the broker at connectionString with default options
func NewClient(ctx context.Context, connectionString string) (*Client, error) {
	return NewClientWithOptions(ctx, connectionString, WithDefaultLogger())
}

// NewClientWithOptions connects to the broker at connectionString
func NewClientWithOptions(ctx context.Context, connectionString string, options ...ClientOption) (*Client, error) {
	cfg := newClientConfig(options...)

	connOpts := append([]rabbitmq.ConnectionOption{rabbitmq.WithLogger(cfg.logger)}, cfg.connectionOptions...)
	manager := rabbitmq.NewConnectionManager(connectionString, connOpts...)

	return newClient(ctx, manager, cfg)
}

func newClient(ctx context.Context, conn connection, cfg *clientConfig) (*Client, error) {
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	connOpts := append([]rabbitmqTransport.ConnectorOption{rabbitmqTransport.WithLogger(cfg.logger)}, cfg.connectorOptions...)

	return &Client{
		conn:      conn,
		connector: rabbitmqTransport.NewConnector(conn, connOpts...),
		evaluator: expression.NewEvaluator(),
		logger:    cfg.logger,
		timeout:   cfg.responseTimeout,
	}, nil
}

// Dispatcher parses endpointURI, creates a dispatcher for it and connects
// it. The client disconnects it on Close.
func (c *Client) Dispatcher(ctx context.Context, endpointURI string, options ...outbound.DispatcherOption) (*outbound.Dispatcher, error) {
	endpoint, err := outbound.ParseEndpoint(endpointURI)
	if err != nil {
		return nil, err
	}

	opts := []outbound.DispatcherOption{
		outbound.WithLogger(c.logger),
		outbound.WithEvaluator(c.evaluator),
	}
	if c.timeout > 0 {
		opts = append(opts, outbound.WithDefaultResponseTimeout(c.timeout))
	}
	opts = append(opts, options...)

	d, err := outbound.NewDispatcher(c.connector, endpoint, opts...)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("client is closed")
	}

	if err := d.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect dispatcher for %s: %w", endpoint, err)
	}
	c.dispatchers = append(c.dispatchers, d)

	c.logger.Info("dispatcher connected", "endpoint", endpoint.String())
	return d, nil
}

// Connector returns the RabbitMQ connector
func (c *Client) Connector() *rabbitmqTransport.Connector {
	return c.connector
}

// Evaluator returns the routing expression evaluator
func (c *Client) Evaluator() *expression.Evaluator {
	return c.evaluator
}

// IsConnected reports whether the broker connection is up
func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

// HealthRegistry returns a registry checking the connection and every
// dispatcher handed out so far
func (c *Client) HealthRegistry() *health.Registry {
	registry := health.NewRegistry()
	registry.Register(health.NewConnectionChecker(c.conn, c.logger))

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.dispatchers {
		registry.Register(health.NewDispatcherChecker(d))
	}

	return registry
}

// Close disconnects all dispatchers and closes the broker connection
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	dispatchers := c.dispatchers
	c.dispatchers = nil
	c.mu.Unlock()

	var errs []error
	for _, d := range dispatchers {
		if err := d.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("disconnect %s: %w", d.Endpoint(), err))
		}
	}
	if err := c.conn.Close(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// clientConfig holds client configuration
type clientConfig struct {
	logger            *slog.Logger
	responseTimeout   time.Duration
	connectionOptions []rabbitmq.ConnectionOption
	connectorOptions  []rabbitmqTransport.ConnectorOption
}

func newClientConfig(options ...ClientOption) *clientConfig {
	cfg := &clientConfig{logger: slog.Default()}
	for _, opt := range options {
		opt(cfg)
	}
	return cfg
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithDefaultLogger uses the default logger
func WithDefaultLogger() ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = slog.Default()
	}
}

// WithReconnectDelay sets the base delay between reconnection attempts
func WithReconnectDelay(delay time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.connectionOptions = append(cfg.connectionOptions, rabbitmq.WithReconnectDelay(delay))
	}
}

// WithMaxReconnectAttempts limits reconnection attempts, -1 for no limit
func WithMaxReconnectAttempts(attempts int) ClientOption {
	return func(cfg *clientConfig) {
		cfg.connectionOptions = append(cfg.connectionOptions, rabbitmq.WithMaxRetries(attempts))
	}
}

// WithDialTimeout bounds each connection attempt
func WithDialTimeout(timeout time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.connectionOptions = append(cfg.connectionOptions, rabbitmq.WithDialTimeout(timeout))
	}
}

// WithDeliveryMode sets the delivery mode for messages that leave it unset
func WithDeliveryMode(mode outbound.DeliveryMode) ClientOption {
	return func(cfg *clientConfig) {
		cfg.connectorOptions = append(cfg.connectorOptions, rabbitmqTransport.WithDefaultDeliveryMode(mode))
	}
}

// WithPriority sets the priority for messages without one
func WithPriority(priority uint8) ClientOption {
	return func(cfg *clientConfig) {
		cfg.connectorOptions = append(cfg.connectorOptions, rabbitmqTransport.WithDefaultPriority(priority))
	}
}

// WithMandatory publishes with the mandatory flag so unroutable messages
// reach return listeners
func WithMandatory(mandatory bool) ClientOption {
	return func(cfg *clientConfig) {
		cfg.connectorOptions = append(cfg.connectorOptions, rabbitmqTransport.WithMandatory(mandatory))
	}
}

// WithResponseTimeout sets the reply timeout dispatchers fall back to
func WithResponseTimeout(timeout time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.responseTimeout = timeout
	}
}
