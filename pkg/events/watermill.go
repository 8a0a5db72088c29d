package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"
)

// DefaultTopic is the topic chat events are published on.
const DefaultTopic = "koziky.chat"

// WatermillSink publishes events as JSON messages to a watermill Publisher
// so several subscribers can follow the same turn.
type WatermillSink struct {
	publisher message.Publisher
	topic     string
	logger    *zap.Logger
}

// NewWatermillSink creates a sink publishing to topic.
func NewWatermillSink(publisher message.Publisher, topic string, logger *zap.Logger) *WatermillSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WatermillSink{
		publisher: publisher,
		topic:     topic,
		logger:    logger,
	}
}

// Publish serializes e and hands it to the publisher. Failures are logged;
// event delivery never fails a turn.
func (w *WatermillSink) Publish(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		w.logger.Error("failed to marshal event", zap.String("event_type", string(e.Type)), zap.Error(err))
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := w.publisher.Publish(w.topic, msg); err != nil {
		w.logger.Error("failed to publish event",
			zap.String("topic", w.topic),
			zap.String("event_type", string(e.Type)),
			zap.Error(err),
		)
		return
	}

	w.logger.Debug("published event",
		zap.String("topic", w.topic),
		zap.String("event_type", string(e.Type)),
	)
}

var _ Sink = (*WatermillSink)(nil)

// Decode parses a published event payload.
func Decode(payload []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return e, nil
}

// Forward acks and decodes every message from a subscription and passes the
// event to fn until the channel closes or ctx is done. Undecodable messages
// are logged and skipped.
func Forward(ctx context.Context, messages <-chan *message.Message, logger *zap.Logger, fn func(Event)) {
	if logger == nil {
		logger = zap.NewNop()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			msg.Ack()

			e, err := Decode(msg.Payload)
			if err != nil {
				logger.Warn("skipping undecodable event", zap.String("uuid", msg.UUID), zap.Error(err))
				continue
			}
			fn(e)
		}
	}
}
