package service

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"backoffice-service/internal/models"
	"backoffice-service/internal/razorpay"
	"backoffice-service/internal/store"
)

// memStore is an in-memory stand-in for *store.Store
type memStore struct {
	mu         sync.Mutex
	counters   map[string]int64
	ids        map[string][]string
	items      []models.Item
	dispatches []*models.DispatchRecord
	payments   map[string]*models.PaymentAttempt

	// beforeCAS runs ahead of every compare-and-set, outside the lock
	beforeCAS func(s *memStore, name string)
	// failWith is returned by every call when set
	failWith error
}

func newMemStore() *memStore {
	return &memStore{
		counters: map[string]int64{},
		ids:      map[string][]string{},
		payments: map[string]*models.PaymentAttempt{},
	}
}

func (s *memStore) IncrementCounter(ctx context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return 0, s.failWith
	}
	s.counters[name]++
	return s.counters[name], nil
}

func (s *memStore) GetCounter(ctx context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return 0, s.failWith
	}
	return s.counters[name], nil
}

func (s *memStore) CounterExists(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.counters[name]
	return ok, s.failWith
}

func (s *memStore) SetCounter(ctx context.Context, name string, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.counters[name] = value
	return nil
}

func (s *memStore) InitCounter(ctx context.Context, name string, value int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.counters[name]; ok {
		return false, nil
	}
	s.counters[name] = value
	return true, nil
}

func (s *memStore) CompareAndSetCounter(ctx context.Context, name string, old, new int64) (bool, error) {
	if s.beforeCAS != nil {
		s.beforeCAS(s, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counters[name] != old {
		return false, nil
	}
	s.counters[name] = new
	return true, nil
}

func (s *memStore) ListIdentifiers(ctx context.Context, table, column string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	if table == "store_dispatches" && column == "dispatch_number" {
		out := make([]string, 0, len(s.dispatches))
		for _, d := range s.dispatches {
			out = append(out, strconv.FormatInt(d.DispatchNumber, 10))
		}
		return out, nil
	}
	return append([]string(nil), s.ids[table+"."+column]...), nil
}

func (s *memStore) addIDs(table, column string, ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[table+"."+column] = append(s.ids[table+"."+column], ids...)
}

func (s *memStore) ListItems(ctx context.Context) ([]models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	return append([]models.Item(nil), s.items...), nil
}

func (s *memStore) MaxDispatchNumber(ctx context.Context) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.dispatches) == 0 {
		return 0, false, nil
	}
	var highest int64
	for _, d := range s.dispatches {
		if d.DispatchNumber > highest {
			highest = d.DispatchNumber
		}
	}
	return highest, true, nil
}

func (s *memStore) CreateDispatch(ctx context.Context, rec *models.DispatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	copied := *rec
	copied.Lines = append(models.DispatchLines(nil), rec.Lines...)
	copied.ID = int64(len(s.dispatches) + 1)
	rec.ID = copied.ID
	s.dispatches = append(s.dispatches, &copied)
	return nil
}

func (s *memStore) LatestDispatch(ctx context.Context) (*models.DispatchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.dispatches) == 0 {
		return nil, store.ErrNotFound
	}
	return s.dispatches[len(s.dispatches)-1], nil
}

func (s *memStore) dispatchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dispatches)
}

func paymentKey(method, identifier string) string {
	return method + "/" + identifier
}

func (s *memStore) CreatePendingPayment(ctx context.Context, p *models.PaymentAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	key := paymentKey(p.Method, p.Identifier)
	if _, ok := s.payments[key]; ok {
		return nil
	}
	copied := *p
	copied.Status = models.PaymentStatusPending
	s.payments[key] = &copied
	return nil
}

func (s *memStore) RecordPaymentOutcome(ctx context.Context, p *models.PaymentAttempt) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return false, s.failWith
	}
	key := paymentKey(p.Method, p.Identifier)
	existing, ok := s.payments[key]
	if !ok {
		copied := *p
		s.payments[key] = &copied
		return true, nil
	}
	if existing.Status != models.PaymentStatusPending && existing.Status != p.Status {
		return false, nil
	}
	existing.Status = p.Status
	if p.PaymentID != nil {
		existing.PaymentID = p.PaymentID
	}
	if !p.Amount.IsZero() {
		existing.Amount = p.Amount
	}
	existing.Payload = p.Payload
	if p.VerifiedAt != nil {
		existing.VerifiedAt = p.VerifiedAt
	}
	return true, nil
}

func (s *memStore) GetPayment(ctx context.Context, method, identifier string) (*models.PaymentAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[paymentKey(method, identifier)]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (s *memStore) paymentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payments)
}

// recordingPublisher keeps every event it is given
type recordingPublisher struct {
	mu        sync.Mutex
	imported  []*models.DispatchImportedEvent
	succeeded []*models.PaymentSucceededEvent
	failed    []*models.PaymentFailedEvent
	err       error
}

func (p *recordingPublisher) PublishDispatchImported(ctx context.Context, e *models.DispatchImportedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.imported = append(p.imported, e)
	return p.err
}

func (p *recordingPublisher) PublishPaymentSucceeded(ctx context.Context, e *models.PaymentSucceededEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.succeeded = append(p.succeeded, e)
	return p.err
}

func (p *recordingPublisher) PublishPaymentFailed(ctx context.Context, e *models.PaymentFailedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = append(p.failed, e)
	return p.err
}

// broadcastCall is one Broadcast invocation
type broadcastCall struct {
	qrID string
	msg  models.PaymentNotification
}

type recordingBroadcaster struct {
	mu    sync.Mutex
	calls []broadcastCall
}

func (b *recordingBroadcaster) Broadcast(ctx context.Context, qrID string, msg models.PaymentNotification) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, broadcastCall{qrID: qrID, msg: msg})
	return nil
}

// fakeGateway answers like the payment provider
type fakeGateway struct {
	qrRequests    []razorpay.QRCodeRequest
	orderRequests []razorpay.OrderRequest
	err           error
}

func (g *fakeGateway) CreateQRCode(ctx context.Context, req razorpay.QRCodeRequest) (razorpay.Payload, error) {
	g.qrRequests = append(g.qrRequests, req)
	if g.err != nil {
		return nil, g.err
	}
	return razorpay.Payload{
		"id":             "qr_gateway_1",
		"image_url":      "https://rzp.io/i/qr",
		"usage":          req.Usage,
		"payment_amount": req.PaymentAmount,
	}, nil
}

func (g *fakeGateway) CreateOrder(ctx context.Context, req razorpay.OrderRequest) (razorpay.Payload, error) {
	g.orderRequests = append(g.orderRequests, req)
	if g.err != nil {
		return nil, g.err
	}
	return razorpay.Payload{
		"id":       "order_O1",
		"amount":   req.Amount,
		"currency": req.Currency,
		"status":   "created",
	}, nil
}

var errStoreDown = errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")
