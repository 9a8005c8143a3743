package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"backoffice-service/config"
	"backoffice-service/internal/models"
	"backoffice-service/internal/razorpay"
	"backoffice-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentStore is the persistence the payment coordinator needs
type PaymentStore interface {
	CreatePendingPayment(ctx context.Context, p *models.PaymentAttempt) error
	RecordPaymentOutcome(ctx context.Context, p *models.PaymentAttempt) (bool, error)
	GetPayment(ctx context.Context, method, identifier string) (*models.PaymentAttempt, error)
}

// Gateway creates QR codes and orders at the payment provider
type Gateway interface {
	CreateQRCode(ctx context.Context, req razorpay.QRCodeRequest) (razorpay.Payload, error)
	CreateOrder(ctx context.Context, req razorpay.OrderRequest) (razorpay.Payload, error)
}

// Broadcaster fans a payment outcome out to the clients waiting on a QR id
type Broadcaster interface {
	Broadcast(ctx context.Context, qrID string, msg models.PaymentNotification) error
}

var hundred = decimal.NewFromInt(100)

// PaymentService coordinates QR and card payment attempts
type PaymentService struct {
	store         PaymentStore
	gateway       Gateway
	broadcaster   Broadcaster
	publisher     EventPublisher
	clock         *util.Clock
	keySecret     string
	webhookSecret string
	qrCloseAfter  time.Duration
	logger        *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(
	store PaymentStore,
	gateway Gateway,
	broadcaster Broadcaster,
	publisher EventPublisher,
	clock *util.Clock,
	cfg config.RazorpayConfig,
) *PaymentService {
	return &PaymentService{
		store:         store,
		gateway:       gateway,
		broadcaster:   broadcaster,
		publisher:     publisher,
		clock:         clock,
		keySecret:     cfg.KeySecret,
		webhookSecret: cfg.WebhookSecret,
		qrCloseAfter:  cfg.QRCloseAfter,
		logger:        util.GetLogger(),
	}
}

// CreateQR creates a single-use UPI QR code for amount (major units) and
// returns the gateway response with the local qr_id added.
func (ps *PaymentService) CreateQR(ctx context.Context, amount decimal.Decimal) (razorpay.Payload, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CreateQR")
	defer span.End()

	if !amount.IsPositive() {
		return nil, newError(ErrBadRequest, "price must be a positive amount")
	}

	qrID := uuid.New().String()
	req := razorpay.QRCodeRequest{
		Type:          "upi_qr",
		Name:          "Store payment",
		Usage:         "single_use",
		FixedAmount:   true,
		PaymentAmount: minorUnits(amount),
		Description:   "Payment " + qrID,
		Notes:         map[string]string{"qr_id": qrID},
	}
	if ps.qrCloseAfter > 0 {
		req.CloseBy = ps.clock.Now().Add(ps.qrCloseAfter).Unix()
	}

	payload, err := ps.gateway.CreateQRCode(ctx, req)
	if err != nil {
		return nil, gatewayError("failed to create QR code", err)
	}
	payload["qr_id"] = qrID

	ps.recordPending(ctx, models.PaymentMethodQR, qrID, amount, payload)

	ps.logger.Info("QR code created",
		zap.String("qr_id", qrID),
		zap.String("amount", amount.StringFixed(2)))
	return payload, nil
}

// CreateCardOrder creates a card order for amount (major units) and returns
// the gateway response unchanged.
func (ps *PaymentService) CreateCardOrder(ctx context.Context, amount decimal.Decimal) (razorpay.Payload, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CreateCardOrder")
	defer span.End()

	if !amount.IsPositive() {
		return nil, newError(ErrBadRequest, "price must be a positive amount")
	}

	req := razorpay.OrderRequest{
		Amount:         minorUnits(amount),
		Currency:       "INR",
		Receipt:        "rcpt_" + uuid.New().String()[:8],
		PaymentCapture: 1,
	}

	payload, err := ps.gateway.CreateOrder(ctx, req)
	if err != nil {
		return nil, gatewayError("failed to create order", err)
	}

	if orderID, ok := payload["id"].(string); ok && orderID != "" {
		ps.recordPending(ctx, models.PaymentMethodCard, orderID, amount, payload)
		ps.logger.Info("Card order created",
			zap.String("order_id", orderID),
			zap.String("amount", amount.StringFixed(2)))
	} else {
		ps.logger.Warn("Order response carried no id, attempt not recorded")
	}
	return payload, nil
}

// HandleWebhook authenticates and applies a gateway event. Outcomes are
// persisted before they are broadcast; persistence errors are returned.
func (ps *PaymentService) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	ctx, span := util.StartSpan(ctx, "PaymentService.HandleWebhook")
	defer span.End()

	if !razorpay.VerifySignature(ps.webhookSecret, body, signature) {
		util.PaymentWebhooksTotal.WithLabelValues("unknown", "rejected").Inc()
		ps.logger.Warn("Webhook signature rejected", zap.Bool("signature_present", signature != ""))
		return newError(ErrSignatureMismatch, "invalid webhook signature")
	}

	event, entity, err := razorpay.ParseWebhook(body)
	if err != nil {
		util.PaymentWebhooksTotal.WithLabelValues("unknown", "malformed").Inc()
		return &Error{Kind: ErrBadRequest, Message: "malformed webhook", Err: err}
	}

	switch event.Event {
	case razorpay.EventPaymentCaptured, razorpay.EventPaymentFailed:
	default:
		util.PaymentWebhooksTotal.WithLabelValues(event.Event, "ignored").Inc()
		ps.logger.Debug("Webhook event ignored", zap.String("event", event.Event))
		return nil
	}
	if entity == nil {
		util.PaymentWebhooksTotal.WithLabelValues(event.Event, "malformed").Inc()
		return newError(ErrBadRequest, "webhook %s carries no payment entity", event.Event)
	}

	if event.Event == razorpay.EventPaymentCaptured {
		err = ps.applyCaptured(ctx, entity, event.Payload.Payment.Entity)
	} else {
		err = ps.applyFailed(ctx, entity, event.Payload.Payment.Entity)
	}
	if err != nil {
		util.PaymentWebhooksTotal.WithLabelValues(event.Event, "error").Inc()
		return err
	}

	util.PaymentWebhooksTotal.WithLabelValues(event.Event, "applied").Inc()
	return nil
}

func (ps *PaymentService) applyCaptured(ctx context.Context, entity *razorpay.PaymentEntity, snapshot json.RawMessage) error {
	amount := decimal.New(entity.Amount, -2)

	if qrID := entity.Notes["qr_id"]; qrID != "" {
		applied, err := ps.recordOutcome(ctx, models.PaymentMethodQR, qrID, models.PaymentStatusSuccess,
			entity.ID, amount, models.Document(snapshot), nil)
		if err != nil {
			return err
		}
		if applied {
			ps.broadcast(ctx, qrID, models.PaymentNotification{
				Status:    models.PaymentStatusSuccess,
				PaymentID: entity.ID,
				Amount:    amount.InexactFloat64(),
			})
			ps.publishSucceeded(ctx, models.PaymentMethodQR, qrID, entity.ID, amount)
		}
	}

	if entity.OrderID != "" {
		applied, err := ps.recordOutcome(ctx, models.PaymentMethodCard, entity.OrderID, models.PaymentStatusSuccess,
			entity.ID, amount, models.Document(snapshot), nil)
		if err != nil {
			return err
		}
		if applied {
			ps.publishSucceeded(ctx, models.PaymentMethodCard, entity.OrderID, entity.ID, amount)
		}
	}
	return nil
}

func (ps *PaymentService) applyFailed(ctx context.Context, entity *razorpay.PaymentEntity, snapshot json.RawMessage) error {
	reason := entity.ErrorDescription
	if reason == "" {
		reason = "payment failed"
	}
	amount := decimal.New(entity.Amount, -2)

	if qrID := entity.Notes["qr_id"]; qrID != "" {
		applied, err := ps.recordOutcome(ctx, models.PaymentMethodQR, qrID, models.PaymentStatusFailed,
			entity.ID, amount, models.Document(snapshot), nil)
		if err != nil {
			return err
		}
		if applied {
			ps.broadcast(ctx, qrID, models.PaymentNotification{
				Status: models.PaymentStatusFailed,
				Reason: reason,
			})
			ps.publishFailed(ctx, models.PaymentMethodQR, qrID, reason)
		}
	}

	if entity.OrderID != "" {
		applied, err := ps.recordOutcome(ctx, models.PaymentMethodCard, entity.OrderID, models.PaymentStatusFailed,
			entity.ID, amount, models.Document(snapshot), nil)
		if err != nil {
			return err
		}
		if applied {
			ps.publishFailed(ctx, models.PaymentMethodCard, entity.OrderID, reason)
		}
	}
	return nil
}

// VerifyCard checks a checkout signature over order_id|payment_id and records
// the outcome under the order. A mismatch is an outcome, not an error.
func (ps *PaymentService) VerifyCard(ctx context.Context, orderID, paymentID, signature string) (string, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.VerifyCard", "order_id", orderID)
	defer span.End()

	if orderID == "" || paymentID == "" {
		return "", newError(ErrBadRequest, "order_id and payment_id are required")
	}

	status := models.PaymentStatusFailed
	if razorpay.VerifySignature(ps.keySecret, razorpay.PaymentSignaturePayload(orderID, paymentID), signature) {
		status = models.PaymentStatusSuccess
	}
	util.PaymentVerificationsTotal.WithLabelValues(status).Inc()

	snapshot, _ := json.Marshal(map[string]string{
		"order_id":   orderID,
		"payment_id": paymentID,
		"signature":  signature,
	})
	verifiedAt := ps.clock.Now()

	applied, err := ps.recordOutcome(ctx, models.PaymentMethodCard, orderID, status,
		paymentID, decimal.Zero, models.Document(snapshot), &verifiedAt)
	if err != nil {
		return "", err
	}

	if !applied {
		existing, err := ps.store.GetPayment(ctx, models.PaymentMethodCard, orderID)
		if err != nil {
			return status, nil
		}
		return existing.Status, nil
	}

	if status == models.PaymentStatusSuccess {
		ps.publishSucceeded(ctx, models.PaymentMethodCard, orderID, paymentID, decimal.Zero)
	} else {
		ps.logger.Warn("Card signature mismatch", zap.String("order_id", orderID))
		ps.publishFailed(ctx, models.PaymentMethodCard, orderID, "signature mismatch")
	}
	return status, nil
}

// GetPayment returns the recorded attempt for (method, identifier)
func (ps *PaymentService) GetPayment(ctx context.Context, method, identifier string) (*models.PaymentAttempt, error) {
	if method != models.PaymentMethodQR && method != models.PaymentMethodCard {
		return nil, newError(ErrBadRequest, "unknown payment method %q", method)
	}
	p, err := ps.store.GetPayment(ctx, method, identifier)
	if err != nil {
		return nil, storageError("payment "+method+"/"+identifier+" not found", err)
	}
	return p, nil
}

func (ps *PaymentService) recordPending(ctx context.Context, method, identifier string, amount decimal.Decimal, payload razorpay.Payload) {
	snapshot, _ := json.Marshal(payload)
	attempt := &models.PaymentAttempt{
		Method:     method,
		Identifier: identifier,
		Status:     models.PaymentStatusPending,
		Amount:     amount,
		Payload:    models.Document(snapshot),
		CreatedAt:  ps.clock.Now(),
	}
	// The gateway call already succeeded; a later webhook upsert creates the row.
	if err := ps.store.CreatePendingPayment(ctx, attempt); err != nil {
		ps.logger.Error("Failed to record pending payment",
			zap.String("method", method),
			zap.String("identifier", identifier),
			zap.Error(err))
	}
}

func (ps *PaymentService) recordOutcome(
	ctx context.Context,
	method, identifier, status, paymentID string,
	amount decimal.Decimal,
	snapshot models.Document,
	verifiedAt *time.Time,
) (bool, error) {
	var pid *string
	if paymentID != "" {
		pid = &paymentID
	}
	attempt := &models.PaymentAttempt{
		Method:     method,
		Identifier: identifier,
		Status:     status,
		PaymentID:  pid,
		Amount:     amount,
		Payload:    snapshot,
		CreatedAt:  ps.clock.Now(),
		VerifiedAt: verifiedAt,
	}

	applied, err := ps.store.RecordPaymentOutcome(ctx, attempt)
	if err != nil {
		return false, storageError("failed to record payment outcome", err)
	}
	if !applied {
		ps.logger.Warn("Refused conflicting terminal transition",
			zap.String("method", method),
			zap.String("identifier", identifier),
			zap.String("status", status))
		return false, nil
	}

	ps.logger.Info("Payment outcome recorded",
		zap.String("method", method),
		zap.String("identifier", identifier),
		zap.String("status", status))
	return true, nil
}

func (ps *PaymentService) broadcast(ctx context.Context, qrID string, msg models.PaymentNotification) {
	if ps.broadcaster == nil {
		return
	}
	if err := ps.broadcaster.Broadcast(ctx, qrID, msg); err != nil {
		ps.logger.Warn("Failed to broadcast payment outcome",
			zap.String("qr_id", qrID),
			zap.Error(err))
	}
}

func (ps *PaymentService) publishSucceeded(ctx context.Context, method, identifier, paymentID string, amount decimal.Decimal) {
	if ps.publisher == nil {
		return
	}
	event := &models.PaymentSucceededEvent{
		BaseEvent: models.BaseEvent{
			EventID:   outcomeEventID(method, identifier, models.PaymentStatusSuccess),
			EventType: models.EventTypePaymentSucceeded,
			Timestamp: time.Now(),
		},
		Method:     method,
		Identifier: identifier,
		PaymentID:  paymentID,
		Amount:     amount.StringFixed(2),
	}
	if err := ps.publisher.PublishPaymentSucceeded(ctx, event); err != nil {
		ps.logger.Error("Failed to publish PaymentSucceeded event", zap.Error(err))
	}
}

func (ps *PaymentService) publishFailed(ctx context.Context, method, identifier, reason string) {
	if ps.publisher == nil {
		return
	}
	event := &models.PaymentFailedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   outcomeEventID(method, identifier, models.PaymentStatusFailed),
			EventType: models.EventTypePaymentFailed,
			Timestamp: time.Now(),
		},
		Method:     method,
		Identifier: identifier,
		Reason:     reason,
	}
	if err := ps.publisher.PublishPaymentFailed(ctx, event); err != nil {
		ps.logger.Error("Failed to publish PaymentFailed event", zap.Error(err))
	}
}

// outcomeEventID is stable per terminal outcome so replays share one event id.
func outcomeEventID(method, identifier, status string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(method+"/"+identifier+"/"+status)).String()
}

// minorUnits converts rupees to paise, rounding half away from zero.
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

func gatewayError(op string, err error) error {
	var apiErr *razorpay.APIError
	if errors.As(err, &apiErr) {
		return &Error{Kind: ErrGateway, Message: fmt.Sprintf("%s: gateway returned %d", op, apiErr.StatusCode), Err: err}
	}
	return &Error{Kind: ErrGateway, Message: op, Err: err}
}
