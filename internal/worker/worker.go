package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"backoffice-service/config"
	"backoffice-service/internal/broker"
	"backoffice-service/internal/models"
	"backoffice-service/internal/util"

	"go.uber.org/zap"
)

// NotificationStore records which events have been forwarded
type NotificationStore interface {
	IsNotificationLogged(ctx context.Context, eventID string) (bool, error)
	LogNotification(ctx context.Context, entry *models.NotificationLog) error
}

// message is the JSON body posted to the WhatsApp webhook
type message struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Text      string `json:"text"`
}

// NotificationWorker forwards back-office events to the WhatsApp webhook
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	store        NotificationStore
	httpClient   *http.Client
	webhookURL   string
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker. consumer may be
// nil when events are fed through Handle directly.
func NewNotificationWorker(
	consumer *broker.Consumer,
	store NotificationStore,
	cfg config.WhatsAppConfig,
) *NotificationWorker {
	w := &NotificationWorker{
		consumer:   consumer,
		store:      store,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		webhookURL: cfg.WebhookURL,
		logger:     util.GetLogger(),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnDispatchImported(w.handleDispatchImported)
	eventHandler.OnPaymentSucceeded(w.handlePaymentSucceeded)
	eventHandler.OnPaymentFailed(w.handlePaymentFailed)
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker", zap.String("target", w.webhookURL))
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

// Handle processes one raw event payload
func (w *NotificationWorker) Handle(ctx context.Context, value []byte) error {
	return w.eventHandler.Handle(ctx, value)
}

func (w *NotificationWorker) handleDispatchImported(ctx context.Context, e *models.DispatchImportedEvent) error {
	text := fmt.Sprintf("Store dispatch %d imported for %s: %d items, total %d",
		e.DispatchNumber, e.Location, e.Lines, e.TotalAmount)
	return w.deliver(ctx, e.EventID, e.EventType, text)
}

func (w *NotificationWorker) handlePaymentSucceeded(ctx context.Context, e *models.PaymentSucceededEvent) error {
	text := fmt.Sprintf("Payment received (%s %s): %s, payment %s",
		e.Method, e.Identifier, e.Amount, e.PaymentID)
	return w.deliver(ctx, e.EventID, e.EventType, text)
}

func (w *NotificationWorker) handlePaymentFailed(ctx context.Context, e *models.PaymentFailedEvent) error {
	text := fmt.Sprintf("Payment failed (%s %s): %s", e.Method, e.Identifier, e.Reason)
	return w.deliver(ctx, e.EventID, e.EventType, text)
}

// deliver posts once per event id and records the outcome. Delivery failures
// are recorded, not retried; only storage errors are returned.
func (w *NotificationWorker) deliver(ctx context.Context, eventID, eventType, text string) error {
	if w.webhookURL == "" {
		return nil
	}

	logged, err := w.store.IsNotificationLogged(ctx, eventID)
	if err != nil {
		return fmt.Errorf("failed to check notification log: %w", err)
	}
	if logged {
		w.logger.Debug("Event already notified", zap.String("event_id", eventID))
		return nil
	}

	entry := &models.NotificationLog{
		EventID:   eventID,
		EventType: eventType,
		Target:    w.webhookURL,
		Status:    models.NotificationStatusSuccess,
	}
	if err := w.post(ctx, message{EventID: eventID, EventType: eventType, Text: text}); err != nil {
		entry.Status = models.NotificationStatusFailed
		entry.Detail = err.Error()
		util.NotificationDeliveriesTotal.WithLabelValues("failed").Inc()
		w.logger.Warn("WhatsApp notification failed",
			zap.String("event_id", eventID),
			zap.String("event_type", eventType),
			zap.Error(err))
	} else {
		util.NotificationDeliveriesTotal.WithLabelValues("success").Inc()
	}

	return w.store.LogNotification(ctx, entry)
}

func (w *NotificationWorker) post(ctx context.Context, msg message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
