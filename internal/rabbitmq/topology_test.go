package rabbitmq

import (
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeclareTemporaryQueue(t *testing.T) {
	t.Run("declares a server-named exclusive auto-delete queue", func(t *testing.T) {
		ch := &mockChannel{}
		ch.On("QueueDeclare", "", false, true, true, false, amqp.Table(nil)).
			Return(amqp.Queue{Name: "amq.gen-abc"}, nil)

		name, err := DeclareTemporaryQueue(ch)

		require.NoError(t, err)
		assert.Equal(t, "amq.gen-abc", name)
		ch.AssertExpectations(t)
	})

	t.Run("wraps declaration failures", func(t *testing.T) {
		ch := &mockChannel{}
		ch.On("QueueDeclare", "", false, true, true, false, amqp.Table(nil)).
			Return(amqp.Queue{}, errors.New("ACCESS_REFUSED"))

		_, err := DeclareTemporaryQueue(ch)

		var topologyErr *TopologyError
		require.ErrorAs(t, err, &topologyErr)
		assert.Equal(t, "queue", topologyErr.Component)
		assert.Equal(t, "declare", topologyErr.Op)
	})
}

func TestDeclareExchange(t *testing.T) {
	t.Run("declares the exchange", func(t *testing.T) {
		ch := &mockChannel{}
		ch.On("ExchangeDeclare", "orders", "topic", true, false, false, false, amqp.Table(nil)).Return(nil)

		err := DeclareExchange(ch, ExchangeDeclaration{Name: "orders", Type: "topic", Durable: true})

		require.NoError(t, err)
		ch.AssertExpectations(t)
	})

	t.Run("wraps declaration failures", func(t *testing.T) {
		ch := &mockChannel{}
		ch.On("ExchangeDeclare", "orders", "fanout", false, true, false, false, amqp.Table(nil)).
			Return(errors.New("PRECONDITION_FAILED"))

		err := DeclareExchange(ch, ExchangeDeclaration{Name: "orders", Type: "fanout", AutoDelete: true})

		var topologyErr *TopologyError
		require.ErrorAs(t, err, &topologyErr)
		assert.Equal(t, "exchange", topologyErr.Component)
		assert.Contains(t, err.Error(), "PRECONDITION_FAILED")
	})
}
