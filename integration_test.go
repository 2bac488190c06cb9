//go:build integration

package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/glimte/mmate-dispatch/outbound"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
)

// startBroker runs RabbitMQ in a container and returns its AMQP URL
func startBroker(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	c, err := rabbitmq.Run(ctx, "rabbitmq:4-management-alpine")
	require.NoError(t, err)
	t.Cleanup(func() {
		c.Terminate(context.Background()) //nolint:errcheck
	})

	url, err := c.AmqpURL(ctx)
	require.NoError(t, err)
	return url
}

// declareQueue declares a durable queue through a side connection
func declareQueue(t *testing.T, url, name string) *amqp.Channel {
	t.Helper()
	conn, err := amqp.Dial(url)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	ch, err := conn.Channel()
	require.NoError(t, err)
	_, err = ch.QueueDeclare(name, true, false, false, false, nil)
	require.NoError(t, err)
	return ch
}

// respond answers every request on queue with prefix + body
func respond(t *testing.T, ch *amqp.Channel, queue, prefix string) {
	t.Helper()
	deliveries, err := ch.Consume(queue, "responder", true, false, false, false, nil)
	require.NoError(t, err)

	go func() {
		for d := range deliveries {
			_ = ch.PublishWithContext(context.Background(), "", d.ReplyTo, false, false, amqp.Publishing{
				CorrelationId: d.CorrelationId,
				Body:          append([]byte(prefix), d.Body...),
			})
		}
	}()
}

func TestIntegration(t *testing.T) {
	url := startBroker(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	client, err := NewClientWithOptions(ctx, url, WithMandatory(true), WithResponseTimeout(2*time.Second))
	require.NoError(t, err)
	defer client.Close()

	t.Run("dispatch reaches the queue", func(t *testing.T) {
		side := declareQueue(t, url, "it.dispatch")

		d, err := client.Dispatcher(ctx, "amqp://amqp-queue.it.dispatch")
		require.NoError(t, err)

		msg := outbound.NewMessage([]byte("hello"))
		msg.SetDeliveryMode(outbound.DeliveryModePersistent)
		require.NoError(t, d.Dispatch(ctx, outbound.NewEvent(msg)))

		require.Eventually(t, func() bool {
			got, ok, err := side.Get("it.dispatch", true)
			return err == nil && ok && string(got.Body) == "hello" && got.DeliveryMode == amqp.Persistent
		}, 5*time.Second, 50*time.Millisecond)
	})

	t.Run("send waits for the reply", func(t *testing.T) {
		side := declareQueue(t, url, "it.rpc")
		respond(t, side, "it.rpc", "re: ")

		d, err := client.Dispatcher(ctx, "amqp://amqp-queue.it.rpc")
		require.NoError(t, err)

		result, err := d.Send(ctx, outbound.NewEvent(outbound.NewMessage([]byte("ping"))))

		require.NoError(t, err)
		reply, ok := result.Payload.(*outbound.Message)
		require.True(t, ok)
		assert.Equal(t, "re: ping", string(reply.Body))
		assert.Contains(t, reply.RoutingKey, "amq.gen-")
	})

	t.Run("send without responder times out", func(t *testing.T) {
		declareQueue(t, url, "it.silent")

		d, err := client.Dispatcher(ctx, "amqp://amqp-queue.it.silent")
		require.NoError(t, err)

		result, err := d.Send(ctx, outbound.NewEvent(outbound.NewMessage([]byte("ping")), outbound.WithTimeout(200*time.Millisecond)))

		require.NoError(t, err)
		assert.Nil(t, result.Payload)
	})

	t.Run("unroutable mandatory publish is returned", func(t *testing.T) {
		d, err := client.Dispatcher(ctx, "amqp://it.orders?routingKey=nowhere&exchangeType=direct")
		require.NoError(t, err)

		returned := make(chan amqp.Return, 1)
		listener := outbound.ReturnListenerFunc(func(ret amqp.Return) { returned <- ret })

		err = d.Dispatch(ctx, outbound.NewEvent(outbound.NewMessage([]byte("lost")), outbound.WithReturnListener(listener)))
		require.NoError(t, err)

		select {
		case ret := <-returned:
			assert.Equal(t, "it.orders", ret.Exchange)
			assert.Equal(t, "nowhere", ret.RoutingKey)
			assert.Equal(t, "lost", string(ret.Body))
		case <-time.After(5 * time.Second):
			t.Fatal("no return received")
		}
	})

	t.Run("health", func(t *testing.T) {
		overall := client.HealthRegistry().Check(ctx)
		assert.Equal(t, "healthy", string(overall.Status))
	})
}
