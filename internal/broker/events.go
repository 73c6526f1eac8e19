package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Aniket17200/Profitfirst/internal/models"
	"github.com/Aniket17200/Profitfirst/internal/util"
)

// EventWriter is the part of Producer the publisher needs
type EventWriter interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer EventWriter
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer EventWriter) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishMetricsSnapshot publishes a MetricsSnapshot event keyed by owner, so
// one owner's snapshots stay ordered within a partition.
func (ep *EventPublisher) PublishMetricsSnapshot(ctx context.Context, event *models.MetricsSnapshotEvent) error {
	key := fmt.Sprintf("owner-%s", event.OwnerID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onMetricsSnapshot func(context.Context, *models.MetricsSnapshotEvent) error
	logger            *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.ComponentLogger("broker")}
}

// OnMetricsSnapshot registers a handler for MetricsSnapshot events
func (eh *EventHandler) OnMetricsSnapshot(handler func(context.Context, *models.MetricsSnapshotEvent) error) {
	eh.onMetricsSnapshot = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeMetricsSnapshot:
		if eh.onMetricsSnapshot != nil {
			var event models.MetricsSnapshotEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal MetricsSnapshot event: %w", err)
			}
			return eh.onMetricsSnapshot(ctx, &event)
		}

	default:
		eh.logger.Warn("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
