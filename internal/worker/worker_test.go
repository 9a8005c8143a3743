package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"backoffice-service/config"
	"backoffice-service/internal/models"
	"backoffice-service/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	util.SetLogger(zap.NewNop())
}

type memLog struct {
	mu       sync.Mutex
	entries  []*models.NotificationLog
	checkErr error
}

func (m *memLog) IsNotificationLogged(ctx context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checkErr != nil {
		return false, m.checkErr
	}
	for _, e := range m.entries {
		if e.EventID == eventID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memLog) LogNotification(ctx context.Context, entry *models.NotificationLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

type webhookTarget struct {
	mu       sync.Mutex
	messages []message
	status   int
}

func (wt *webhookTarget) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var msg message
	_ = json.NewDecoder(r.Body).Decode(&msg)
	wt.mu.Lock()
	wt.messages = append(wt.messages, msg)
	status := wt.status
	wt.mu.Unlock()
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
}

func newWorker(t *testing.T, target *webhookTarget) (*NotificationWorker, *memLog) {
	t.Helper()
	srv := httptest.NewServer(target)
	t.Cleanup(srv.Close)

	store := &memLog{}
	w := NewNotificationWorker(nil, store, config.WhatsAppConfig{WebhookURL: srv.URL, Timeout: time.Second})
	return w, store
}

func event(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestHandleDispatchImportedPostsOnce(t *testing.T) {
	target := &webhookTarget{}
	w, store := newWorker(t, target)

	payload := event(t, &models.DispatchImportedEvent{
		BaseEvent:      models.BaseEvent{EventID: "evt-1", EventType: models.EventTypeDispatchImported},
		DispatchNumber: 8,
		Location:       "Kitchen",
		Lines:          2,
		TotalAmount:    200,
	})

	require.NoError(t, w.Handle(context.Background(), payload))
	require.NoError(t, w.Handle(context.Background(), payload))

	require.Len(t, target.messages, 1)
	assert.Equal(t, "evt-1", target.messages[0].EventID)
	assert.Equal(t, "Store dispatch 8 imported for Kitchen: 2 items, total 200", target.messages[0].Text)

	require.Len(t, store.entries, 1)
	assert.Equal(t, models.NotificationStatusSuccess, store.entries[0].Status)
}

func TestHandlePaymentEvents(t *testing.T) {
	target := &webhookTarget{}
	w, _ := newWorker(t, target)

	require.NoError(t, w.Handle(context.Background(), event(t, &models.PaymentSucceededEvent{
		BaseEvent:  models.BaseEvent{EventID: "evt-s", EventType: models.EventTypePaymentSucceeded},
		Method:     models.PaymentMethodQR,
		Identifier: "qr-1",
		PaymentID:  "pay_1",
		Amount:     "99.00",
	})))
	require.NoError(t, w.Handle(context.Background(), event(t, &models.PaymentFailedEvent{
		BaseEvent:  models.BaseEvent{EventID: "evt-f", EventType: models.EventTypePaymentFailed},
		Method:     models.PaymentMethodCard,
		Identifier: "order_1",
		Reason:     "signature mismatch",
	})))

	require.Len(t, target.messages, 2)
	assert.Equal(t, "Payment received (qr qr-1): 99.00, payment pay_1", target.messages[0].Text)
	assert.Equal(t, "Payment failed (card order_1): signature mismatch", target.messages[1].Text)
}

func TestFailedDeliveryIsRecorded(t *testing.T) {
	target := &webhookTarget{status: http.StatusBadGateway}
	w, store := newWorker(t, target)

	err := w.Handle(context.Background(), event(t, &models.PaymentFailedEvent{
		BaseEvent: models.BaseEvent{EventID: "evt-1", EventType: models.EventTypePaymentFailed},
	}))
	require.NoError(t, err)

	require.Len(t, store.entries, 1)
	assert.Equal(t, models.NotificationStatusFailed, store.entries[0].Status)
	assert.Contains(t, store.entries[0].Detail, "502")
}

func TestStorageErrorIsReturned(t *testing.T) {
	target := &webhookTarget{}
	w, store := newWorker(t, target)
	store.checkErr = errors.New("connection refused")

	err := w.Handle(context.Background(), event(t, &models.PaymentFailedEvent{
		BaseEvent: models.BaseEvent{EventID: "evt-1", EventType: models.EventTypePaymentFailed},
	}))
	assert.Error(t, err)
	assert.Empty(t, target.messages)
}

func TestNoTargetConfigured(t *testing.T) {
	store := &memLog{}
	w := NewNotificationWorker(nil, store, config.WhatsAppConfig{})

	err := w.Handle(context.Background(), event(t, &models.PaymentFailedEvent{
		BaseEvent: models.BaseEvent{EventID: "evt-1", EventType: models.EventTypePaymentFailed},
	}))
	assert.NoError(t, err)
	assert.Empty(t, store.entries)
}

func TestUnknownEventIgnored(t *testing.T) {
	target := &webhookTarget{}
	w, _ := newWorker(t, target)

	assert.NoError(t, w.Handle(context.Background(), []byte(`{"event_id":"x","event_type":"SOMETHING_ELSE"}`)))
	assert.Error(t, w.Handle(context.Background(), []byte(`not json`)))
	assert.Empty(t, target.messages)
}
