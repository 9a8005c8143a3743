package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"backoffice-service/internal/models"
	"backoffice-service/internal/util"

	"go.uber.org/zap"
)

// Channel is one open client connection waiting on a QR payment
type Channel interface {
	Send(ctx context.Context, msg models.PaymentNotification) error
	Close() error
}

// Registry maps a QR id to the channels waiting on it. Safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	channels    map[string]map[Channel]struct{}
	sendTimeout time.Duration
	logger      *zap.Logger
}

// NewRegistry creates an empty registry. Each send is bounded by sendTimeout.
func NewRegistry(sendTimeout time.Duration) *Registry {
	if sendTimeout <= 0 {
		sendTimeout = 5 * time.Second
	}
	return &Registry{
		channels:    make(map[string]map[Channel]struct{}),
		sendTimeout: sendTimeout,
		logger:      util.GetLogger(),
	}
}

// Attach registers ch under qrID
func (r *Registry) Attach(qrID string, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.channels[qrID]
	if !ok {
		set = make(map[Channel]struct{})
		r.channels[qrID] = set
	}
	if _, dup := set[ch]; dup {
		return
	}
	set[ch] = struct{}{}
	util.PaymentChannelsOpen.Inc()

	r.logger.Debug("Channel attached", zap.String("qr_id", qrID), zap.Int("channels", len(set)))
}

// Detach removes ch from qrID. Detaching an unknown channel is a no-op.
func (r *Registry) Detach(qrID string, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detachLocked(qrID, ch)
}

func (r *Registry) detachLocked(qrID string, ch Channel) bool {
	set, ok := r.channels[qrID]
	if !ok {
		return false
	}
	if _, ok := set[ch]; !ok {
		return false
	}
	delete(set, ch)
	if len(set) == 0 {
		delete(r.channels, qrID)
	}
	util.PaymentChannelsOpen.Dec()
	return true
}

// Count returns how many channels wait on qrID
func (r *Registry) Count(qrID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels[qrID])
}

// Deliver sends msg to every channel attached under qrID and returns how many
// sends succeeded. A failing or panicking channel is logged and skipped. After
// a terminal message every channel for qrID is detached and closed.
func (r *Registry) Deliver(ctx context.Context, qrID string, msg models.PaymentNotification) int {
	r.mu.RLock()
	targets := make([]Channel, 0, len(r.channels[qrID]))
	for ch := range r.channels[qrID] {
		targets = append(targets, ch)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, ch := range targets {
		if err := r.send(ctx, ch, msg); err != nil {
			util.PaymentBroadcastsTotal.WithLabelValues("failed").Inc()
			r.logger.Warn("Failed to notify channel",
				zap.String("qr_id", qrID),
				zap.String("status", msg.Status),
				zap.Error(err))
			continue
		}
		util.PaymentBroadcastsTotal.WithLabelValues("sent").Inc()
		delivered++
	}

	if msg.Terminal() {
		r.closeAll(qrID, targets)
	}
	return delivered
}

// Broadcast delivers msg to the local channels of qrID.
func (r *Registry) Broadcast(ctx context.Context, qrID string, msg models.PaymentNotification) error {
	r.Deliver(ctx, qrID, msg)
	return nil
}

func (r *Registry) send(ctx context.Context, ch Channel, msg models.PaymentNotification) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("channel send panicked: %v", p)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	defer cancel()
	return ch.Send(ctx, msg)
}

func (r *Registry) closeAll(qrID string, targets []Channel) {
	r.mu.Lock()
	var closing []Channel
	for _, ch := range targets {
		if r.detachLocked(qrID, ch) {
			closing = append(closing, ch)
		}
	}
	r.mu.Unlock()

	for _, ch := range closing {
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.logger.Warn("Channel close panicked", zap.String("qr_id", qrID), zap.Any("panic", p))
				}
			}()
			if err := ch.Close(); err != nil {
				r.logger.Debug("Channel close failed", zap.String("qr_id", qrID), zap.Error(err))
			}
		}()
	}
}
