package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/TURRA7/BotShop/internal/entity"
)

const (
	TopicPurchases = "shop.purchases"
	TopicBalances  = "shop.balances"
	TopicPayments  = "shop.payments"
	// TopicPaymentNotifications carries gateway notifications relayed by the webhook gateway.
	TopicPaymentNotifications = "payments.notifications"
)

// Publisher defines an interface for publishing events to a message broker.
type Publisher interface {
	PublishEvent(ctx context.Context, topic string, key string, event entity.Event) error
}

// Subscriber defines an interface for subscribing to a message topic.
type Subscriber interface {
	Consume(ctx context.Context, topic string, groupID string, handler func(ctx context.Context, payload []byte) error)
}

// Envelope is the wire shape of every published event.
type Envelope struct {
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Encode wraps event in an Envelope.
func Encode(event entity.Event, now time.Time) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: event.EventType(), Payload: payload, OccurredAt: now})
}

// Notification is a gateway payment notification. Only the intent id is trusted.
type Notification struct {
	Event  string `json:"event"`
	Object struct {
		ID string `json:"id"`
	} `json:"object"`
}

// NopPublisher drops every event. It is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishEvent(context.Context, string, string, entity.Event) error { return nil }
