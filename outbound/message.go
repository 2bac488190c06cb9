package outbound

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DeliveryMode is the persistence hint of a published message
type DeliveryMode uint8

const (
	// DeliveryModeUnset leaves the decision to connector defaults or the broker
	DeliveryModeUnset DeliveryMode = 0
	// DeliveryModeTransient messages are not written to disk
	DeliveryModeTransient DeliveryMode = DeliveryMode(amqp.Transient)
	// DeliveryModePersistent messages survive a broker restart on durable queues
	DeliveryModePersistent DeliveryMode = DeliveryMode(amqp.Persistent)
)

func (m DeliveryMode) String() string {
	switch m {
	case DeliveryModeUnset:
		return "unset"
	case DeliveryModeTransient:
		return "transient"
	case DeliveryModePersistent:
		return "persistent"
	default:
		return fmt.Sprintf("DeliveryMode(%d)", uint8(m))
	}
}

// Properties are the AMQP basic properties of a message
type Properties struct {
	ContentType     string
	ContentEncoding string
	Headers         amqp.Table
	DeliveryMode    DeliveryMode
	Priority        *uint8 // nil when unset
	CorrelationID   string
	ReplyTo         string
	Expiration      string
	MessageID       string
	Timestamp       time.Time
	Type            string
	UserID          string
	AppID           string
}

// Message is a broker-addressed unit ready to be dispatched. Reply messages
// also carry the delivery metadata they were received with.
type Message struct {
	Properties Properties
	Body       []byte

	Exchange    string
	RoutingKey  string
	Redelivered bool
	DeliveryTag uint64
}

// NewMessage creates a message with the given body and no properties set
func NewMessage(body []byte) *Message {
	return &Message{Body: body}
}

// SetDeliveryMode sets the delivery mode
func (m *Message) SetDeliveryMode(mode DeliveryMode) {
	m.Properties.DeliveryMode = mode
}

// SetPriority sets the priority
func (m *Message) SetPriority(priority uint8) {
	m.Properties.Priority = &priority
}

// SetReplyTo sets the reply-to address
func (m *Message) SetReplyTo(replyTo string) {
	m.Properties.ReplyTo = replyTo
}

// SetHeader sets a header, creating the header table on first use
func (m *Message) SetHeader(key string, value interface{}) {
	if m.Properties.Headers == nil {
		m.Properties.Headers = amqp.Table{}
	}
	m.Properties.Headers[key] = value
}

// Publishing converts the message to its amqp091 wire representation
func (m *Message) Publishing() amqp.Publishing {
	p := amqp.Publishing{
		Headers:         m.Properties.Headers,
		ContentType:     m.Properties.ContentType,
		ContentEncoding: m.Properties.ContentEncoding,
		DeliveryMode:    uint8(m.Properties.DeliveryMode),
		CorrelationId:   m.Properties.CorrelationID,
		ReplyTo:         m.Properties.ReplyTo,
		Expiration:      m.Properties.Expiration,
		MessageId:       m.Properties.MessageID,
		Timestamp:       m.Properties.Timestamp,
		Type:            m.Properties.Type,
		UserId:          m.Properties.UserID,
		AppId:           m.Properties.AppID,
		Body:            m.Body,
	}
	if m.Properties.Priority != nil {
		p.Priority = *m.Properties.Priority
	}
	return p
}

// MessageFromDelivery builds a reply message from a consumed delivery
func MessageFromDelivery(d amqp.Delivery) *Message {
	priority := d.Priority
	return &Message{
		Properties: Properties{
			ContentType:     d.ContentType,
			ContentEncoding: d.ContentEncoding,
			Headers:         d.Headers,
			DeliveryMode:    DeliveryMode(d.DeliveryMode),
			Priority:        &priority,
			CorrelationID:   d.CorrelationId,
			ReplyTo:         d.ReplyTo,
			Expiration:      d.Expiration,
			MessageID:       d.MessageId,
			Timestamp:       d.Timestamp,
			Type:            d.Type,
			UserID:          d.UserId,
			AppID:           d.AppId,
		},
		Body:        d.Body,
		Exchange:    d.Exchange,
		RoutingKey:  d.RoutingKey,
		Redelivered: d.Redelivered,
		DeliveryTag: d.DeliveryTag,
	}
}

// MessageFromReturn rebuilds the message carried by a broker return
func MessageFromReturn(r amqp.Return) *Message {
	priority := r.Priority
	return &Message{
		Properties: Properties{
			ContentType:     r.ContentType,
			ContentEncoding: r.ContentEncoding,
			Headers:         r.Headers,
			DeliveryMode:    DeliveryMode(r.DeliveryMode),
			Priority:        &priority,
			CorrelationID:   r.CorrelationId,
			ReplyTo:         r.ReplyTo,
			Expiration:      r.Expiration,
			MessageID:       r.MessageId,
			Timestamp:       r.Timestamp,
			Type:            r.Type,
			UserID:          r.UserId,
			AppID:           r.AppId,
		},
		Body:       r.Body,
		Exchange:   r.Exchange,
		RoutingKey: r.RoutingKey,
	}
}

func (m *Message) String() string {
	if m == nil {
		return "<nil>"
	}
	return fmt.Sprintf("Message{deliveryMode=%s, replyTo=%q, correlationId=%q, body=%d bytes}",
		m.Properties.DeliveryMode, m.Properties.ReplyTo, m.Properties.CorrelationID, len(m.Body))
}
