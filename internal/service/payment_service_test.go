package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"backoffice-service/config"
	"backoffice-service/internal/models"
	"backoffice-service/internal/razorpay"
	"backoffice-service/internal/util"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKeySecret     = "key_secret"
	testWebhookSecret = "whsec_test"
)

type paymentFixture struct {
	svc         *PaymentService
	store       *memStore
	gateway     *fakeGateway
	broadcaster *recordingBroadcaster
	publisher   *recordingPublisher
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()

	f := &paymentFixture{
		store:       newMemStore(),
		gateway:     &fakeGateway{},
		broadcaster: &recordingBroadcaster{},
		publisher:   &recordingPublisher{},
	}
	cfg := config.RazorpayConfig{
		KeySecret:     testKeySecret,
		WebhookSecret: testWebhookSecret,
		QRCloseAfter:  15 * time.Minute,
	}
	f.svc = NewPaymentService(f.store, f.gateway, f.broadcaster, f.publisher, util.NewFixedClock(importTime), cfg)
	return f
}

func webhookBody(t *testing.T, event string, entity map[string]interface{}) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"event": event,
		"payload": map[string]interface{}{
			"payment": map[string]interface{}{"entity": entity},
		},
	})
	require.NoError(t, err)
	return body
}

func signed(body []byte) string {
	return razorpay.Sign(testWebhookSecret, body)
}

func TestCreateQR(t *testing.T) {
	f := newPaymentFixture(t)

	payload, err := f.svc.CreateQR(context.Background(), decimal.RequireFromString("99"))
	require.NoError(t, err)

	require.Len(t, f.gateway.qrRequests, 1)
	req := f.gateway.qrRequests[0]
	assert.Equal(t, int64(9900), req.PaymentAmount)
	assert.Equal(t, "upi_qr", req.Type)
	assert.Equal(t, "single_use", req.Usage)
	assert.True(t, req.FixedAmount)
	assert.Equal(t, importTime.Add(15*time.Minute).Unix(), req.CloseBy)

	qrID, ok := payload["qr_id"].(string)
	require.True(t, ok)
	assert.Equal(t, qrID, req.Notes["qr_id"])
	assert.Equal(t, "qr_gateway_1", payload["id"])

	attempt, err := f.svc.GetPayment(context.Background(), models.PaymentMethodQR, qrID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, attempt.Status)
	assert.True(t, decimal.NewFromInt(99).Equal(attempt.Amount))
}

func TestCreateQRRejectsNonPositiveAmount(t *testing.T) {
	f := newPaymentFixture(t)

	for _, amount := range []string{"0", "-5"} {
		_, err := f.svc.CreateQR(context.Background(), decimal.RequireFromString(amount))
		assert.True(t, errors.Is(err, ErrBadRequest), amount)
	}
	assert.Empty(t, f.gateway.qrRequests)
}

func TestMinorUnitsRounding(t *testing.T) {
	assert.Equal(t, int64(9900), minorUnits(decimal.RequireFromString("99")))
	assert.Equal(t, int64(1050), minorUnits(decimal.RequireFromString("10.5")))
	assert.Equal(t, int64(1001), minorUnits(decimal.RequireFromString("10.005")))
	assert.Equal(t, int64(1), minorUnits(decimal.RequireFromString("0.009")))
}

func TestCreateQRGatewayError(t *testing.T) {
	f := newPaymentFixture(t)
	f.gateway.err = &razorpay.APIError{StatusCode: 401, Body: `{"error":{"code":"BAD_REQUEST_ERROR"}}`}

	_, err := f.svc.CreateQR(context.Background(), decimal.NewFromInt(10))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGateway))
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, 0, f.store.paymentCount())
}

func TestCreateQRSurvivesPendingPersistFailure(t *testing.T) {
	f := newPaymentFixture(t)
	f.store.failWith = errStoreDown

	payload, err := f.svc.CreateQR(context.Background(), decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.NotEmpty(t, payload["qr_id"])
}

func TestCreateCardOrder(t *testing.T) {
	f := newPaymentFixture(t)

	payload, err := f.svc.CreateCardOrder(context.Background(), decimal.RequireFromString("250.75"))
	require.NoError(t, err)
	assert.Equal(t, "order_O1", payload["id"])

	require.Len(t, f.gateway.orderRequests, 1)
	req := f.gateway.orderRequests[0]
	assert.Equal(t, int64(25075), req.Amount)
	assert.Equal(t, "INR", req.Currency)
	assert.Equal(t, 1, req.PaymentCapture)
	assert.Regexp(t, `^rcpt_[0-9a-f]{8}$`, req.Receipt)

	attempt, err := f.svc.GetPayment(context.Background(), models.PaymentMethodCard, "order_O1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, attempt.Status)
}

func TestWebhookCapturedQRBroadcastsSuccess(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	payload, err := f.svc.CreateQR(ctx, decimal.NewFromInt(99))
	require.NoError(t, err)
	qrID := payload["qr_id"].(string)

	body := webhookBody(t, razorpay.EventPaymentCaptured, map[string]interface{}{
		"id":     "pay_X",
		"amount": 9900,
		"status": "captured",
		"notes":  map[string]string{"qr_id": qrID},
	})
	require.NoError(t, f.svc.HandleWebhook(ctx, body, signed(body)))

	attempt, err := f.svc.GetPayment(ctx, models.PaymentMethodQR, qrID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSuccess, attempt.Status)
	require.NotNil(t, attempt.PaymentID)
	assert.Equal(t, "pay_X", *attempt.PaymentID)
	assert.True(t, decimal.NewFromInt(99).Equal(attempt.Amount))

	require.Len(t, f.broadcaster.calls, 1)
	call := f.broadcaster.calls[0]
	assert.Equal(t, qrID, call.qrID)
	assert.Equal(t, models.PaymentNotification{
		Status:    models.PaymentStatusSuccess,
		PaymentID: "pay_X",
		Amount:    99,
	}, call.msg)

	require.Len(t, f.publisher.succeeded, 1)
	assert.Equal(t, models.PaymentMethodQR, f.publisher.succeeded[0].Method)
	assert.Equal(t, "99.00", f.publisher.succeeded[0].Amount)
}

func TestWebhookReplayIsIdempotent(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	body := webhookBody(t, razorpay.EventPaymentCaptured, map[string]interface{}{
		"id":     "pay_X",
		"amount": 5000,
		"notes":  map[string]string{"qr_id": "qr-1"},
	})
	require.NoError(t, f.svc.HandleWebhook(ctx, body, signed(body)))
	require.NoError(t, f.svc.HandleWebhook(ctx, body, signed(body)))

	assert.Equal(t, 1, f.store.paymentCount())
	assert.Len(t, f.broadcaster.calls, 2)

	require.Len(t, f.publisher.succeeded, 2)
	assert.Equal(t, f.publisher.succeeded[0].EventID, f.publisher.succeeded[1].EventID)

	attempt, err := f.svc.GetPayment(ctx, models.PaymentMethodQR, "qr-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSuccess, attempt.Status)
}

func TestWebhookCapturedOrderRecordsCardSuccess(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateCardOrder(ctx, decimal.NewFromInt(10))
	require.NoError(t, err)

	body := webhookBody(t, razorpay.EventPaymentCaptured, map[string]interface{}{
		"id":       "pay_C",
		"amount":   1000,
		"order_id": "order_O1",
		"notes":    []interface{}{},
	})
	require.NoError(t, f.svc.HandleWebhook(ctx, body, signed(body)))

	attempt, err := f.svc.GetPayment(ctx, models.PaymentMethodCard, "order_O1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSuccess, attempt.Status)
	assert.Empty(t, f.broadcaster.calls)
	assert.Len(t, f.publisher.succeeded, 1)
}

func TestWebhookAfterVerifyKeepsVerifiedAt(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	sig := razorpay.Sign(testKeySecret, razorpay.PaymentSignaturePayload("order_O1", "pay_C"))
	_, err := f.svc.VerifyCard(ctx, "order_O1", "pay_C", sig)
	require.NoError(t, err)

	body := webhookBody(t, razorpay.EventPaymentCaptured, map[string]interface{}{
		"id":       "pay_C",
		"amount":   1000,
		"order_id": "order_O1",
	})
	require.NoError(t, f.svc.HandleWebhook(ctx, body, signed(body)))

	attempt, err := f.svc.GetPayment(ctx, models.PaymentMethodCard, "order_O1")
	require.NoError(t, err)
	require.NotNil(t, attempt.VerifiedAt)
	assert.True(t, importTime.Equal(*attempt.VerifiedAt))

	require.Len(t, f.publisher.succeeded, 2)
	assert.Equal(t, f.publisher.succeeded[0].EventID, f.publisher.succeeded[1].EventID)
}

func TestWebhookFailedBothBranches(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	body := webhookBody(t, razorpay.EventPaymentFailed, map[string]interface{}{
		"id":                "pay_F",
		"amount":            1000,
		"order_id":          "order_F",
		"error_description": "Payment was declined",
		"notes":             map[string]string{"qr_id": "qr-F"},
	})
	require.NoError(t, f.svc.HandleWebhook(ctx, body, signed(body)))

	for _, key := range [][2]string{{models.PaymentMethodQR, "qr-F"}, {models.PaymentMethodCard, "order_F"}} {
		attempt, err := f.svc.GetPayment(ctx, key[0], key[1])
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusFailed, attempt.Status, key[0])
	}

	require.Len(t, f.broadcaster.calls, 1)
	assert.Equal(t, models.PaymentNotification{
		Status: models.PaymentStatusFailed,
		Reason: "Payment was declined",
	}, f.broadcaster.calls[0].msg)
	assert.Len(t, f.publisher.failed, 2)
}

func TestWebhookFailedDefaultReason(t *testing.T) {
	f := newPaymentFixture(t)

	body := webhookBody(t, razorpay.EventPaymentFailed, map[string]interface{}{
		"id":    "pay_F",
		"notes": map[string]string{"qr_id": "qr-F"},
	})
	require.NoError(t, f.svc.HandleWebhook(context.Background(), body, signed(body)))

	require.Len(t, f.broadcaster.calls, 1)
	assert.Equal(t, "payment failed", f.broadcaster.calls[0].msg.Reason)
}

func TestWebhookRefusesConflictingTerminalStatus(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	captured := webhookBody(t, razorpay.EventPaymentCaptured, map[string]interface{}{
		"id":    "pay_1",
		"notes": map[string]string{"qr_id": "qr-1"},
	})
	failed := webhookBody(t, razorpay.EventPaymentFailed, map[string]interface{}{
		"id":    "pay_2",
		"notes": map[string]string{"qr_id": "qr-1"},
	})
	require.NoError(t, f.svc.HandleWebhook(ctx, captured, signed(captured)))
	require.NoError(t, f.svc.HandleWebhook(ctx, failed, signed(failed)))

	attempt, err := f.svc.GetPayment(ctx, models.PaymentMethodQR, "qr-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSuccess, attempt.Status)
	assert.Len(t, f.broadcaster.calls, 1)
	assert.Empty(t, f.publisher.failed)
}

func TestWebhookSignatureRejected(t *testing.T) {
	f := newPaymentFixture(t)
	body := webhookBody(t, razorpay.EventPaymentCaptured, map[string]interface{}{
		"id":    "pay_X",
		"notes": map[string]string{"qr_id": "qr-1"},
	})

	tests := map[string]string{
		"missing":      "",
		"wrong secret": razorpay.Sign("other", body),
		"garbage":      "not-hex",
	}
	for name, sig := range tests {
		t.Run(name, func(t *testing.T) {
			err := f.svc.HandleWebhook(context.Background(), body, sig)
			assert.True(t, errors.Is(err, ErrSignatureMismatch))
		})
	}

	assert.Equal(t, 0, f.store.paymentCount())
	assert.Empty(t, f.broadcaster.calls)
}

func TestWebhookEmptySecretFailsClosed(t *testing.T) {
	st := newMemStore()
	svc := NewPaymentService(st, &fakeGateway{}, nil, nil, util.NewFixedClock(importTime), config.RazorpayConfig{})

	body := []byte(`{"event":"payment.captured"}`)
	err := svc.HandleWebhook(context.Background(), body, razorpay.Sign("", body))
	assert.True(t, errors.Is(err, ErrSignatureMismatch))
}

func TestWebhookMalformedBody(t *testing.T) {
	f := newPaymentFixture(t)

	for _, body := range [][]byte{[]byte(`{not json`), []byte(`{"payload":{}}`)} {
		err := f.svc.HandleWebhook(context.Background(), body, signed(body))
		assert.True(t, errors.Is(err, ErrBadRequest), string(body))
	}
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	f := newPaymentFixture(t)

	body := webhookBody(t, "order.paid", map[string]interface{}{"id": "pay_X"})
	require.NoError(t, f.svc.HandleWebhook(context.Background(), body, signed(body)))
	assert.Equal(t, 0, f.store.paymentCount())
}

func TestWebhookStorageFailureIsReturned(t *testing.T) {
	f := newPaymentFixture(t)
	f.store.failWith = errStoreDown

	body := webhookBody(t, razorpay.EventPaymentCaptured, map[string]interface{}{
		"id":    "pay_X",
		"notes": map[string]string{"qr_id": "qr-1"},
	})
	err := f.svc.HandleWebhook(context.Background(), body, signed(body))
	assert.True(t, errors.Is(err, ErrStorageUnavailable))
	assert.Empty(t, f.broadcaster.calls)
}

func TestVerifyCard(t *testing.T) {
	ctx := context.Background()

	t.Run("valid signature", func(t *testing.T) {
		f := newPaymentFixture(t)
		sig := razorpay.Sign(testKeySecret, razorpay.PaymentSignaturePayload("order_O1", "pay_P1"))

		status, err := f.svc.VerifyCard(ctx, "order_O1", "pay_P1", sig)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusSuccess, status)

		attempt, err := f.svc.GetPayment(ctx, models.PaymentMethodCard, "order_O1")
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusSuccess, attempt.Status)
		require.NotNil(t, attempt.VerifiedAt)
		assert.True(t, importTime.Equal(*attempt.VerifiedAt))
		assert.Len(t, f.publisher.succeeded, 1)
	})

	t.Run("mismatch is an outcome", func(t *testing.T) {
		f := newPaymentFixture(t)

		status, err := f.svc.VerifyCard(ctx, "order_O1", "pay_P1", "bogus")
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusFailed, status)

		attempt, err := f.svc.GetPayment(ctx, models.PaymentMethodCard, "order_O1")
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusFailed, attempt.Status)
		require.Len(t, f.publisher.failed, 1)
		assert.Equal(t, "signature mismatch", f.publisher.failed[0].Reason)
	})

	t.Run("refused transition reports stored status", func(t *testing.T) {
		f := newPaymentFixture(t)
		sig := razorpay.Sign(testKeySecret, razorpay.PaymentSignaturePayload("order_O1", "pay_P1"))

		_, err := f.svc.VerifyCard(ctx, "order_O1", "pay_P1", sig)
		require.NoError(t, err)
		status, err := f.svc.VerifyCard(ctx, "order_O1", "pay_P1", "tampered")
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusSuccess, status)
		assert.Empty(t, f.publisher.failed)
	})

	t.Run("missing ids", func(t *testing.T) {
		f := newPaymentFixture(t)

		_, err := f.svc.VerifyCard(ctx, "", "pay_P1", "x")
		assert.True(t, errors.Is(err, ErrBadRequest))
		_, err = f.svc.VerifyCard(ctx, "order_O1", "", "x")
		assert.True(t, errors.Is(err, ErrBadRequest))
	})
}

func TestGetPayment(t *testing.T) {
	f := newPaymentFixture(t)

	_, err := f.svc.GetPayment(context.Background(), "cash", "x")
	assert.True(t, errors.Is(err, ErrBadRequest))

	_, err = f.svc.GetPayment(context.Background(), models.PaymentMethodQR, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestGatewayErrorWrapsTransportFailures(t *testing.T) {
	err := gatewayError("failed to create order", fmt.Errorf("dial tcp: i/o timeout"))
	assert.True(t, errors.Is(err, ErrGateway))
	assert.Equal(t, "failed to create order: dial tcp: i/o timeout", err.Error())
}

func TestOutcomeEventID(t *testing.T) {
	id := outcomeEventID(models.PaymentMethodQR, "qr-1", models.PaymentStatusSuccess)

	assert.Equal(t, id, outcomeEventID(models.PaymentMethodQR, "qr-1", models.PaymentStatusSuccess))
	assert.NotEqual(t, id, outcomeEventID(models.PaymentMethodQR, "qr-1", models.PaymentStatusFailed))
	assert.NotEqual(t, id, outcomeEventID(models.PaymentMethodQR, "qr-2", models.PaymentStatusSuccess))
	assert.NotEqual(t, id, outcomeEventID(models.PaymentMethodCard, "qr-1", models.PaymentStatusSuccess))
}
