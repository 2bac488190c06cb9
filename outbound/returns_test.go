package outbound

import (
	"bytes"
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReturnListenerRegistration(t *testing.T) {
	t.Run("no listener is a no-op", func(t *testing.T) {
		connector := newFakeConnector()
		d := newConnectedDispatcher(t, connector, Endpoint{Exchange: "orders"})

		require.NoError(t, d.Dispatch(context.Background(), NewEvent(NewMessage(nil))))

		assert.Empty(t, connector.channel.returns)
	})

	t.Run("listener receives returns until the channel closes", func(t *testing.T) {
		connector := newFakeConnector()
		d := newConnectedDispatcher(t, connector, Endpoint{Exchange: "orders"})

		received := make(chan amqp.Return, 1)
		listener := ReturnListenerFunc(func(ret amqp.Return) { received <- ret })

		err := d.Dispatch(context.Background(), NewEvent(NewMessage(nil), WithReturnListener(listener)))
		require.NoError(t, err)
		require.Len(t, connector.channel.returns, 1)

		connector.channel.deliver(amqp.Return{ReplyCode: 312, ReplyText: "NO_ROUTE", RoutingKey: "nowhere"})

		select {
		case ret := <-received:
			assert.Equal(t, uint16(312), ret.ReplyCode)
			assert.Equal(t, "nowhere", ret.RoutingKey)
		case <-time.After(time.Second):
			t.Fatal("return was not delivered to the listener")
		}

		require.NoError(t, d.Disconnect())
		assert.True(t, connector.channel.IsClosed())
	})

	t.Run("dispatching listener is bound to the connector", func(t *testing.T) {
		connector := newFakeConnector()
		d := newConnectedDispatcher(t, connector, Endpoint{Exchange: "orders"})

		listener := NewDispatchingReturnListener("fallback", "unroutable")
		_, err := d.Send(context.Background(), NewEvent(NewMessage(nil), WithReturnListener(listener)))
		require.NoError(t, err)

		listener.mu.RLock()
		defer listener.mu.RUnlock()
		assert.Same(t, connector, listener.connector)
	})

	t.Run("listener is attached once per channel", func(t *testing.T) {
		connector := newFakeConnector()
		d := newConnectedDispatcher(t, connector, Endpoint{Exchange: "orders"})

		var calls atomic.Int32
		received := make(chan amqp.Return, 10)
		listener := ReturnListenerFunc(func(ret amqp.Return) {
			calls.Add(1)
			received <- ret
		})

		for i := 0; i < 10; i++ {
			err := d.Dispatch(context.Background(), NewEvent(NewMessage(nil), WithReturnListener(listener)))
			require.NoError(t, err)
		}
		require.Len(t, connector.channel.returns, 1)

		connector.channel.deliver(amqp.Return{ReplyCode: 312, RoutingKey: "nowhere"})

		select {
		case <-received:
		case <-time.After(time.Second):
			t.Fatal("return was not delivered to the listener")
		}
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("distinct listeners share one registration", func(t *testing.T) {
		connector := newFakeConnector()
		d := newConnectedDispatcher(t, connector, Endpoint{Exchange: "orders"})

		first := &recordingListener{received: make(chan amqp.Return, 4)}
		second := &recordingListener{received: make(chan amqp.Return, 4)}
		for _, l := range []*recordingListener{first, second, first} {
			require.NoError(t, d.Dispatch(context.Background(), NewEvent(NewMessage(nil), WithReturnListener(l))))
		}
		require.Len(t, connector.channel.returns, 1)

		connector.channel.deliver(amqp.Return{RoutingKey: "nowhere"})

		for _, l := range []*recordingListener{first, second} {
			select {
			case ret := <-l.received:
				assert.Equal(t, "nowhere", ret.RoutingKey)
			case <-time.After(time.Second):
				t.Fatal("return was not delivered to every listener")
			}
		}
		time.Sleep(20 * time.Millisecond)
		assert.Empty(t, first.received)
	})

	t.Run("republishes once per return", func(t *testing.T) {
		connector := newFakeConnector()
		d := newConnectedDispatcher(t, connector, Endpoint{Exchange: "orders"})

		listener := NewDispatchingReturnListener("fallback", "unroutable")
		for i := 0; i < 5; i++ {
			require.NoError(t, d.Dispatch(context.Background(), NewEvent(NewMessage(nil), WithReturnListener(listener))))
		}

		connector.channel.deliver(amqp.Return{ReplyCode: 312, RoutingKey: "nowhere"})

		require.Eventually(t, func() bool {
			connector.mu.Lock()
			defer connector.mu.Unlock()
			return len(connector.publish) == 6
		}, time.Second, 5*time.Millisecond)
		time.Sleep(20 * time.Millisecond)

		connector.mu.Lock()
		defer connector.mu.Unlock()
		assert.Len(t, connector.publish, 6)
		assert.Equal(t, "unroutable", connector.publish[5].routingKey)
	})

	t.Run("a new channel gets its own registration", func(t *testing.T) {
		connector := newFakeConnector()
		d := newConnectedDispatcher(t, connector, Endpoint{Exchange: "orders"})
		listener := NewLoggingReturnListener(nil)

		require.NoError(t, d.Dispatch(context.Background(), NewEvent(NewMessage(nil), WithReturnListener(listener))))
		require.NoError(t, d.Disconnect())

		connector.channel = &fakeChannel{}
		require.NoError(t, d.Connect(context.Background()))
		require.NoError(t, d.Dispatch(context.Background(), NewEvent(NewMessage(nil), WithReturnListener(listener))))

		assert.Len(t, connector.channel.returns, 1)
	})

	t.Run("values of the wrong type are ignored", func(t *testing.T) {
		connector := newFakeConnector()
		d := newConnectedDispatcher(t, connector, Endpoint{Exchange: "orders"})

		ev := NewEvent(NewMessage(nil))
		ev.SetInvocationProperty(ReturnListenerKey, "not a listener")

		require.NoError(t, d.Dispatch(context.Background(), ev))
		assert.Empty(t, connector.channel.returns)
	})
}

type recordingListener struct {
	received chan amqp.Return
}

func (l *recordingListener) HandleReturn(ret amqp.Return) {
	l.received <- ret
}

func TestDispatchingReturnListener(t *testing.T) {
	t.Run("republishes the returned message with return headers", func(t *testing.T) {
		connector := newFakeConnector()
		listener := NewDispatchingReturnListener(DefaultExchangeAlias, "unroutable")
		listener.SetConnector(connector)

		listener.HandleReturn(amqp.Return{
			ReplyCode:     312,
			ReplyText:     "NO_ROUTE",
			Exchange:      "orders",
			RoutingKey:    "missing",
			CorrelationId: "c-1",
			Headers:       amqp.Table{"tenant": "acme"},
			Body:          []byte("payload"),
		})

		assert.Equal(t, []string{"open", "publish", "close"}, connector.callLog())
		require.Len(t, connector.publish, 1)
		call := connector.publish[0]
		assert.Equal(t, "", call.exchange)
		assert.Equal(t, "unroutable", call.routingKey)
		assert.False(t, call.mandatory)
		assert.Equal(t, []byte("payload"), call.msg.Body)
		assert.Equal(t, "c-1", call.msg.Properties.CorrelationID)
		assert.Equal(t, "acme", call.msg.Properties.Headers["tenant"])
		assert.Equal(t, int32(312), call.msg.Properties.Headers[ReturnReplyCodeHeader])
		assert.Equal(t, "NO_ROUTE", call.msg.Properties.Headers[ReturnReplyTextHeader])
		assert.Equal(t, "orders", call.msg.Properties.Headers[ReturnExchangeHeader])
		assert.Equal(t, "missing", call.msg.Properties.Headers[ReturnRoutingKeyHeader])
	})

	t.Run("drops the return without a connector", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))
		listener := NewDispatchingReturnListener("fallback", "k", WithReturnLogger(logger))

		listener.HandleReturn(amqp.Return{RoutingKey: "missing"})

		assert.Contains(t, buf.String(), "no connector bound")
	})
}

func TestLoggingReturnListener(t *testing.T) {
	var buf bytes.Buffer
	listener := NewLoggingReturnListener(slog.New(slog.NewTextHandler(&buf, nil)))

	listener.HandleReturn(amqp.Return{ReplyCode: 312, ReplyText: "NO_ROUTE", RoutingKey: "missing"})

	assert.Contains(t, buf.String(), "message returned by broker")
	assert.Contains(t, buf.String(), "NO_ROUTE")
	assert.Contains(t, buf.String(), "routingKey=missing")
}
