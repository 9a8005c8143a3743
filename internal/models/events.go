package models

import "time"

// Event types
const (
	EventTypeDispatchImported = "DISPATCH_IMPORTED"
	EventTypePaymentSucceeded = "PAYMENT_SUCCEEDED"
	EventTypePaymentFailed    = "PAYMENT_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// DispatchImportedEvent published after a CSV import is persisted
type DispatchImportedEvent struct {
	BaseEvent
	DispatchNumber int64  `json:"dispatch_number"`
	Location       string `json:"location"`
	Lines          int    `json:"lines"`
	TotalAmount    int64  `json:"total_amount"`
}

// PaymentSucceededEvent published after a success outcome is persisted
type PaymentSucceededEvent struct {
	BaseEvent
	Method     string `json:"method"`
	Identifier string `json:"identifier"`
	PaymentID  string `json:"payment_id"`
	Amount     string `json:"amount"`
}

// PaymentFailedEvent published after a failure outcome is persisted
type PaymentFailedEvent struct {
	BaseEvent
	Method     string `json:"method"`
	Identifier string `json:"identifier"`
	Reason     string `json:"reason"`
}
