package razorpay

import (
	"encoding/json"
	"fmt"
)

// Webhook event names
const (
	EventPaymentCaptured = "payment.captured"
	EventPaymentFailed   = "payment.failed"
)

// WebhookEvent is the envelope Razorpay posts to the webhook URL
type WebhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity json.RawMessage `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// PaymentEntity is the subset of a payment entity the back office reads
type PaymentEntity struct {
	ID               string            `json:"id"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	Status           string            `json:"status"`
	OrderID          string            `json:"order_id"`
	Method           string            `json:"method"`
	ErrorCode        string            `json:"error_code"`
	ErrorDescription string            `json:"error_description"`
	Notes            map[string]string `json:"-"`
}

// ParseWebhook decodes a webhook body and its payment entity, if any.
func ParseWebhook(body []byte) (*WebhookEvent, *PaymentEntity, error) {
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, nil, fmt.Errorf("invalid webhook body: %w", err)
	}
	if event.Event == "" {
		return nil, nil, fmt.Errorf("invalid webhook body: missing event")
	}
	if len(event.Payload.Payment.Entity) == 0 {
		return &event, nil, nil
	}

	var entity PaymentEntity
	if err := json.Unmarshal(event.Payload.Payment.Entity, &entity); err != nil {
		return nil, nil, fmt.Errorf("invalid payment entity: %w", err)
	}
	entity.Notes = decodeNotes(event.Payload.Payment.Entity)
	return &event, &entity, nil
}

// decodeNotes reads entity.notes. Razorpay sends an empty array when there
// are no notes and an object otherwise; non-string values are dropped.
func decodeNotes(entity json.RawMessage) map[string]string {
	var wrapper struct {
		Notes json.RawMessage `json:"notes"`
	}
	if err := json.Unmarshal(entity, &wrapper); err != nil || len(wrapper.Notes) == 0 {
		return nil
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(wrapper.Notes, &raw); err != nil {
		return nil
	}
	notes := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			notes[k] = s
		}
	}
	return notes
}
