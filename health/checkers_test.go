package health

import (
	"context"
	"testing"

	"github.com/glimte/mmate-dispatch/internal/rabbitmq"
	"github.com/glimte/mmate-dispatch/outbound"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockConnection struct {
	mock.Mock
}

func (m *mockConnection) IsConnected() bool {
	return m.Called().Bool(0)
}

func (m *mockConnection) OpenChannel(ctx context.Context) (rabbitmq.Channel, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(rabbitmq.Channel), args.Error(1)
}

// closeTracker satisfies rabbitmq.Channel; only Close is exercised
type closeTracker struct {
	rabbitmq.Channel
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return nil
}

type stubDispatcher struct {
	connected bool
	endpoint  outbound.Endpoint
}

func (s stubDispatcher) IsConnected() bool           { return s.connected }
func (s stubDispatcher) Endpoint() outbound.Endpoint { return s.endpoint }

func TestConnectionChecker(t *testing.T) {
	t.Run("healthy when a channel opens", func(t *testing.T) {
		ch := &closeTracker{}
		conn := &mockConnection{}
		conn.On("IsConnected").Return(true)
		conn.On("OpenChannel", mock.Anything).Return(ch, nil)

		result := NewConnectionChecker(conn, nil).Check(context.Background())

		assert.Equal(t, "rabbitmq", result.Name)
		assert.Equal(t, StatusHealthy, result.Status)
		assert.Equal(t, true, result.Details["connection_open"])
		assert.True(t, ch.closed)
	})

	t.Run("unhealthy when disconnected", func(t *testing.T) {
		conn := &mockConnection{}
		conn.On("IsConnected").Return(false)

		result := NewConnectionChecker(conn, nil).Check(context.Background())

		assert.Equal(t, StatusUnhealthy, result.Status)
		assert.Equal(t, rabbitmq.ErrConnectionNotReady.Error(), result.Error)
		conn.AssertNotCalled(t, "OpenChannel", mock.Anything)
	})

	t.Run("degraded when channels cannot be opened", func(t *testing.T) {
		conn := &mockConnection{}
		conn.On("IsConnected").Return(true)
		conn.On("OpenChannel", mock.Anything).Return(nil, &rabbitmq.ChannelError{Op: "open channel", ChannelID: "new", Err: amqp.ErrClosed})

		result := NewConnectionChecker(conn, nil).Check(context.Background())

		assert.Equal(t, StatusDegraded, result.Status)
		assert.Contains(t, result.Error, "open channel")
	})
}

func TestDispatcherChecker(t *testing.T) {
	ep, err := outbound.ParseEndpoint("amqp://orders/amqp-queue.created")
	assert.NoError(t, err)

	t.Run("connected dispatcher", func(t *testing.T) {
		result := NewDispatcherChecker(stubDispatcher{connected: true, endpoint: ep}).Check(context.Background())

		assert.Equal(t, "dispatcher_amqp://orders/amqp-queue.created", result.Name)
		assert.Equal(t, StatusHealthy, result.Status)
		assert.Equal(t, "orders", result.Details["exchange"])
		assert.Equal(t, "created", result.Details["routing_key"])
	})

	t.Run("disconnected dispatcher", func(t *testing.T) {
		result := NewDispatcherChecker(stubDispatcher{endpoint: ep}).Check(context.Background())

		assert.Equal(t, StatusUnhealthy, result.Status)
		assert.Equal(t, outbound.ErrNotConnected.Error(), result.Error)
	})
}
