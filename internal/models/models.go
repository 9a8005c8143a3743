package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Counter is a named allocation sequence
type Counter struct {
	Name      string    `db:"name" json:"name"`
	Value     int64     `db:"value" json:"value"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Item is a catalog entry as read by the dispatch importer
type Item struct {
	ItemName      string `db:"item_name" json:"itemName"`
	UOM           string `db:"uom" json:"uom"`
	PurchasePrice int64  `db:"purchase_price" json:"purchasePrice"`
	ItemCode      string `db:"item_code" json:"itemCode"`
}

// WeightBased reports whether quantities for this item are weights in kilograms.
func (i Item) WeightBased() bool {
	switch strings.ToLower(strings.TrimSpace(i.UOM)) {
	case "kg", "kgs":
		return true
	}
	return false
}

// DispatchLine is one imported row after validation and the UoM split.
// Exactly one of Qty and Weight is non-zero.
type DispatchLine struct {
	ItemName     string  `json:"itemName"`
	VarianceName string  `json:"varianceName"`
	UOM          string  `json:"uom"`
	ItemCode     string  `json:"itemCode"`
	Price        int64   `json:"price"`
	Qty          int64   `json:"qty"`
	Weight       float64 `json:"weight"`
	Amount       int64   `json:"amount"`
}

// DispatchLines is stored as a JSONB array
type DispatchLines []DispatchLine

// Value implements driver.Valuer
func (l DispatchLines) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner
func (l *DispatchLines) Scan(src interface{}) error {
	return scanJSON(src, l)
}

// DispatchRecord is a composite store dispatch emitted by one CSV import
type DispatchRecord struct {
	ID             int64         `db:"id"`
	DispatchNumber int64         `db:"dispatch_number"`
	Location       string        `db:"location"`
	Lines          DispatchLines `db:"lines"`
	SentDate       string        `db:"sent_date"`
	Status         string        `db:"status"`
	CreatedAt      time.Time     `db:"created_at"`
}

// TotalAmount sums the line amounts
func (r *DispatchRecord) TotalAmount() int64 {
	var total int64
	for _, line := range r.Lines {
		total += line.Amount
	}
	return total
}

// DispatchWire is the column-wise shape clients of the store-dispatch
// resource expect. Every slice has one entry per line.
type DispatchWire struct {
	RandomID       int64     `json:"randomId"`
	DispatchNumber int64     `json:"dispatchNumber"`
	Location       string    `json:"location"`
	ItemName       []string  `json:"itemName"`
	VarianceName   []string  `json:"varianceName"`
	UOM            []string  `json:"uom"`
	Price          []int64   `json:"price"`
	Qty            []int64   `json:"qty"`
	Weight         []float64 `json:"weight"`
	Amount         []int64   `json:"amount"`
	ItemCode       []string  `json:"itemCode"`
	TotalAmount    int64     `json:"totalAmount"`
	SentDate       string    `json:"sentDate"`
	Date           string    `json:"date"`
	Status         string    `json:"status"`
}

// Wire converts the record to its parallel-array shape; formatDate renders
// the server timestamp.
func (r *DispatchRecord) Wire(formatDate func(time.Time) string) DispatchWire {
	n := len(r.Lines)
	w := DispatchWire{
		RandomID:       r.DispatchNumber,
		DispatchNumber: r.DispatchNumber,
		Location:       r.Location,
		ItemName:       make([]string, n),
		VarianceName:   make([]string, n),
		UOM:            make([]string, n),
		Price:          make([]int64, n),
		Qty:            make([]int64, n),
		Weight:         make([]float64, n),
		Amount:         make([]int64, n),
		ItemCode:       make([]string, n),
		TotalAmount:    r.TotalAmount(),
		SentDate:       r.SentDate,
		Date:           formatDate(r.CreatedAt),
		Status:         r.Status,
	}
	for i, line := range r.Lines {
		w.ItemName[i] = line.ItemName
		w.VarianceName[i] = line.VarianceName
		w.UOM[i] = line.UOM
		w.Price[i] = line.Price
		w.Qty[i] = line.Qty
		w.Weight[i] = line.Weight
		w.Amount[i] = line.Amount
		w.ItemCode[i] = line.ItemCode
	}
	return w
}

// Document is an opaque JSON snapshot stored as JSONB
type Document json.RawMessage

// Value implements driver.Valuer
func (d Document) Value() (driver.Value, error) {
	if len(d) == 0 {
		return []byte("{}"), nil
	}
	return []byte(d), nil
}

// Scan implements sql.Scanner
func (d *Document) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*d = nil
	case []byte:
		*d = append((*d)[:0], v...)
	case string:
		*d = Document(v)
	default:
		return errors.New("unsupported type for Document")
	}
	return nil
}

// MarshalJSON emits the raw snapshot
func (d Document) MarshalJSON() ([]byte, error) {
	if len(d) == 0 {
		return []byte("null"), nil
	}
	return []byte(d), nil
}

// UnmarshalJSON keeps the raw snapshot
func (d *Document) UnmarshalJSON(data []byte) error {
	*d = append((*d)[:0], data...)
	return nil
}

// PaymentAttempt is one QR or card collection attempt
type PaymentAttempt struct {
	Method     string          `db:"method" json:"method"`
	Identifier string          `db:"identifier" json:"identifier"`
	Status     string          `db:"status" json:"status"`
	PaymentID  *string         `db:"payment_id" json:"payment_id,omitempty"`
	Amount     decimal.Decimal `db:"amount" json:"price"`
	Payload    Document        `db:"payload" json:"payload,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	VerifiedAt *time.Time      `db:"verified_at" json:"verified_at,omitempty"`
}

// Terminal reports whether the attempt has reached success or failed
func (p *PaymentAttempt) Terminal() bool {
	return p.Status == PaymentStatusSuccess || p.Status == PaymentStatusFailed
}

// Payment methods
const (
	PaymentMethodQR   = "qr"
	PaymentMethodCard = "card"
)

// Payment statuses
const (
	PaymentStatusPending = "pending"
	PaymentStatusSuccess = "success"
	PaymentStatusFailed  = "failed"
)

// Dispatch statuses
const (
	DispatchStatusActive = "active"
)

// PaymentNotification is what a waiting client receives on its channel
type PaymentNotification struct {
	Status    string  `json:"status"`
	PaymentID string  `json:"payment_id,omitempty"`
	Amount    float64 `json:"amount,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}

// Terminal reports whether the notification ends the wait
func (n PaymentNotification) Terminal() bool {
	return n.Status == PaymentStatusSuccess || n.Status == PaymentStatusFailed
}

// NotificationLog records one outbound notification delivery
type NotificationLog struct {
	ID        int64     `db:"id" json:"id"`
	EventID   string    `db:"event_id" json:"event_id"`
	EventType string    `db:"event_type" json:"event_type"`
	Target    string    `db:"target" json:"target"`
	Status    string    `db:"status" json:"status"`
	Detail    string    `db:"detail" json:"detail"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Notification delivery statuses
const (
	NotificationStatusSuccess = "success"
	NotificationStatusFailed  = "failed"
)

func scanJSON(src interface{}, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return errors.New("unsupported type for JSON column")
	}
}
