package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"backoffice-service/internal/models"
	"backoffice-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventSink accepts a keyed event; *Producer is the production sink
type EventSink interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer EventSink
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer EventSink) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishDispatchImported publishes DispatchImported event
func (ep *EventPublisher) PublishDispatchImported(ctx context.Context, event *models.DispatchImportedEvent) error {
	key := fmt.Sprintf("dispatch-%d", event.DispatchNumber)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishPaymentSucceeded publishes PaymentSucceeded event
func (ep *EventPublisher) PublishPaymentSucceeded(ctx context.Context, event *models.PaymentSucceededEvent) error {
	key := fmt.Sprintf("payment-%s-%s", event.Method, event.Identifier)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishPaymentFailed publishes PaymentFailed event
func (ep *EventPublisher) PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error {
	key := fmt.Sprintf("payment-%s-%s", event.Method, event.Identifier)
	return ep.producer.PublishEvent(ctx, key, event)
}

// EventHandler routes incoming events by type
type EventHandler struct {
	onDispatchImported func(context.Context, *models.DispatchImportedEvent) error
	onPaymentSucceeded func(context.Context, *models.PaymentSucceededEvent) error
	onPaymentFailed    func(context.Context, *models.PaymentFailedEvent) error
	logger             *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnDispatchImported registers a handler for DispatchImported events
func (eh *EventHandler) OnDispatchImported(handler func(context.Context, *models.DispatchImportedEvent) error) {
	eh.onDispatchImported = handler
}

// OnPaymentSucceeded registers a handler for PaymentSucceeded events
func (eh *EventHandler) OnPaymentSucceeded(handler func(context.Context, *models.PaymentSucceededEvent) error) {
	eh.onPaymentSucceeded = handler
}

// OnPaymentFailed registers a handler for PaymentFailed events
func (eh *EventHandler) OnPaymentFailed(handler func(context.Context, *models.PaymentFailedEvent) error) {
	eh.onPaymentFailed = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	return eh.Handle(ctx, msg.Value)
}

// Handle decodes one event payload and dispatches it
func (eh *EventHandler) Handle(ctx context.Context, value []byte) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeDispatchImported:
		if eh.onDispatchImported != nil {
			var event models.DispatchImportedEvent
			if err := json.Unmarshal(value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal DispatchImported event: %w", err)
			}
			return eh.onDispatchImported(ctx, &event)
		}

	case models.EventTypePaymentSucceeded:
		if eh.onPaymentSucceeded != nil {
			var event models.PaymentSucceededEvent
			if err := json.Unmarshal(value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PaymentSucceeded event: %w", err)
			}
			return eh.onPaymentSucceeded(ctx, &event)
		}

	case models.EventTypePaymentFailed:
		if eh.onPaymentFailed != nil {
			var event models.PaymentFailedEvent
			if err := json.Unmarshal(value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PaymentFailed event: %w", err)
			}
			return eh.onPaymentFailed(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
