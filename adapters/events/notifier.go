package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/layer-3/sentry/ports"
)

// NotificationTopic carries NotificationEvent payloads
const NotificationTopic = "sentry.notifications"

// NotificationEvent is a user visible message
type NotificationEvent struct {
	ID      string    `json:"id"`
	Address string    `json:"address,omitempty"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// LogNotifier writes notifications to a Watermill logger
type LogNotifier struct {
	logger watermill.LoggerAdapter
}

func NewLogNotifier(logger watermill.LoggerAdapter) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, msg string) {
	n.logger.Info(msg, watermill.LogFields{"component": "notifier"})
}

// MessageNotifier publishes notifications on a message bus.
// Failures are logged and dropped.
type MessageNotifier struct {
	publisher message.Publisher
	wallet    ports.Wallet
	logger    watermill.LoggerAdapter
	now       func() time.Time
}

// NewMessageNotifier creates a notifier publishing to NotificationTopic.
// wallet may be nil; when set, events carry the connected address.
func NewMessageNotifier(publisher message.Publisher, wallet ports.Wallet, logger watermill.LoggerAdapter) *MessageNotifier {
	return &MessageNotifier{
		publisher: publisher,
		wallet:    wallet,
		logger:    logger,
		now:       time.Now,
	}
}

func (n *MessageNotifier) Notify(ctx context.Context, msg string) {
	event := NotificationEvent{
		ID:      uuid.NewString(),
		Message: msg,
		At:      n.now().UTC(),
	}
	if n.wallet != nil {
		if addr, ok := n.wallet.Account(); ok {
			event.Address = addr.Hex()
		}
	}

	payload, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("Failed to marshal notification", err, nil)
		return
	}

	m := message.NewMessage(event.ID, payload)
	m.SetContext(ctx)
	if err := n.publisher.Publish(NotificationTopic, m); err != nil {
		n.logger.Error("Failed to publish notification", err, watermill.LogFields{"id": event.ID})
	}
}

// Fanout delivers every notification to all of its notifiers
type Fanout []ports.Notifier

func (f Fanout) Notify(ctx context.Context, msg string) {
	for _, n := range f {
		n.Notify(ctx, msg)
	}
}
