package razorpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"backoffice-service/config"
	"backoffice-service/internal/util"

	"go.uber.org/zap"
)

// Payload is a decoded gateway response. Numbers are kept as json.Number so
// a response can be relayed to clients without float rounding.
type Payload map[string]interface{}

// QRCodeRequest is the body of a QR code creation call
type QRCodeRequest struct {
	Type          string            `json:"type"`
	Name          string            `json:"name,omitempty"`
	Usage         string            `json:"usage"`
	FixedAmount   bool              `json:"fixed_amount"`
	PaymentAmount int64             `json:"payment_amount"`
	Description   string            `json:"description,omitempty"`
	CloseBy       int64             `json:"close_by,omitempty"`
	Notes         map[string]string `json:"notes,omitempty"`
}

// OrderRequest is the body of an order creation call
type OrderRequest struct {
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency"`
	Receipt        string            `json:"receipt,omitempty"`
	PaymentCapture int               `json:"payment_capture"`
	Notes          map[string]string `json:"notes,omitempty"`
}

// APIError is a non-2xx gateway response
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("razorpay returned %d: %s", e.StatusCode, e.Body)
}

// Client talks to the Razorpay REST API with basic auth
type Client struct {
	baseURL    string
	keyID      string
	keySecret  string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new gateway client
func NewClient(cfg config.RazorpayConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		keyID:      cfg.KeyID,
		keySecret:  cfg.KeySecret,
		httpClient: &http.Client{Timeout: timeout},
		logger:     util.GetLogger(),
	}
}

// CreateQRCode creates a UPI QR code
func (c *Client) CreateQRCode(ctx context.Context, req QRCodeRequest) (Payload, error) {
	return c.post(ctx, "create_qr", "/payments/qr_codes", req)
}

// CreateOrder creates a card order
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (Payload, error) {
	return c.post(ctx, "create_order", "/orders", req)
}

func (c *Client) post(ctx context.Context, op, path string, body interface{}) (Payload, error) {
	ctx, span := util.StartSpan(ctx, "razorpay."+op)
	defer span.End()

	start := time.Now()
	defer func() {
		util.PaymentGatewayLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		util.PaymentGatewayRequestsTotal.WithLabelValues(op, "error").Inc()
		return nil, fmt.Errorf("razorpay %s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		util.PaymentGatewayRequestsTotal.WithLabelValues(op, "error").Inc()
		return nil, fmt.Errorf("failed to read razorpay %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		util.PaymentGatewayRequestsTotal.WithLabelValues(op, "rejected").Inc()
		c.logger.Warn("Razorpay rejected request",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", raw))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var payload Payload
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		util.PaymentGatewayRequestsTotal.WithLabelValues(op, "error").Inc()
		return nil, fmt.Errorf("failed to decode razorpay %s response: %w", op, err)
	}

	util.PaymentGatewayRequestsTotal.WithLabelValues(op, "success").Inc()
	return payload, nil
}
