package health

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/mmate-dispatch/internal/rabbitmq"
	"github.com/glimte/mmate-dispatch/outbound"
)

// Connection is the part of *rabbitmq.ConnectionManager the connection
// check needs
type Connection interface {
	IsConnected() bool
	OpenChannel(ctx context.Context) (rabbitmq.Channel, error)
}

// ConnectionChecker checks that the broker connection can open channels
type ConnectionChecker struct {
	conn   Connection
	logger *slog.Logger
}

// NewConnectionChecker creates a new broker connection health checker
func NewConnectionChecker(conn Connection, logger *slog.Logger) *ConnectionChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectionChecker{conn: conn, logger: logger}
}

func (c *ConnectionChecker) Name() string {
	return "rabbitmq"
}

func (c *ConnectionChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	if !c.conn.IsConnected() {
		result.Status = StatusUnhealthy
		result.Message = "Not connected"
		result.Error = rabbitmq.ErrConnectionNotReady.Error()
		result.Duration = time.Since(start)
		return result
	}

	// a channel round trip proves the connection is actually usable
	ch, err := c.conn.OpenChannel(ctx)
	if err != nil {
		c.logger.Warn("health check could not open channel", "error", err)
		result.Status = StatusDegraded
		result.Message = "Failed to open channel"
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}
	if err := ch.Close(); err != nil {
		c.logger.Debug("health check channel close failed", "error", err)
	}

	result.Status = StatusHealthy
	result.Message = "Connection is healthy"
	result.Duration = time.Since(start)
	result.Details["connection_open"] = true
	result.Details["response_time_ms"] = result.Duration.Milliseconds()

	return result
}

// Dispatcher is the part of *outbound.Dispatcher the dispatcher check needs
type Dispatcher interface {
	IsConnected() bool
	Endpoint() outbound.Endpoint
}

// DispatcherChecker checks that an outbound dispatcher holds a session
type DispatcherChecker struct {
	dispatcher Dispatcher
}

// NewDispatcherChecker creates a checker for one dispatcher
func NewDispatcherChecker(dispatcher Dispatcher) *DispatcherChecker {
	return &DispatcherChecker{dispatcher: dispatcher}
}

func (c *DispatcherChecker) Name() string {
	return fmt.Sprintf("dispatcher_%s", c.dispatcher.Endpoint())
}

func (c *DispatcherChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	endpoint := c.dispatcher.Endpoint()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details: map[string]interface{}{
			"endpoint":            endpoint.String(),
			"exchange":            endpoint.Exchange,
			"routing_key":         endpoint.RoutingKey,
			"response_timeout_ms": endpoint.ResponseTimeout.Milliseconds(),
		},
	}

	if c.dispatcher.IsConnected() {
		result.Status = StatusHealthy
		result.Message = "Dispatcher session is open"
	} else {
		result.Status = StatusUnhealthy
		result.Message = "Dispatcher is disconnected"
		result.Error = outbound.ErrNotConnected.Error()
	}

	result.Duration = time.Since(start)
	return result
}

// ComponentChecker allows checking custom components
type ComponentChecker struct {
	name    string
	checker func(ctx context.Context) (Status, string, map[string]interface{}, error)
}

// NewComponentChecker creates a checker for custom components
func NewComponentChecker(name string, checker func(ctx context.Context) (Status, string, map[string]interface{}, error)) *ComponentChecker {
	return &ComponentChecker{name: name, checker: checker}
}

func (c *ComponentChecker) Name() string {
	return c.name
}

func (c *ComponentChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	status, message, details, err := c.checker(ctx)

	result.Status = status
	result.Message = message
	if details != nil {
		result.Details = details
	}
	if err != nil {
		result.Error = err.Error()
	}
	result.Duration = time.Since(start)

	return result
}
