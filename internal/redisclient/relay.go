package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"backoffice-service/internal/models"
	"backoffice-service/internal/util"

	"go.uber.org/zap"
)

// PaymentChannel is the pub/sub channel payment outcomes travel on
const PaymentChannel = "payments:qr"

// LocalDeliverer hands a notification to the channels attached in this process
type LocalDeliverer interface {
	Deliver(ctx context.Context, qrID string, msg models.PaymentNotification) int
}

type relayMessage struct {
	QRID         string                     `json:"qr_id"`
	Notification models.PaymentNotification `json:"notification"`
}

// ErrRelayNotSubscribed is reported by Ready while no subscription is live
var ErrRelayNotSubscribed = errors.New("payment relay is not subscribed")

// Relay publishes payment outcomes so that whichever instance holds the
// client's websocket delivers it. When publishing fails, or nobody is
// subscribed, it delivers locally.
type Relay struct {
	client      *Client
	local       LocalDeliverer
	channel     string
	sendTimeout time.Duration
	minBackoff  time.Duration
	maxBackoff  time.Duration
	subscribed  atomic.Bool
	logger      *zap.Logger
}

// NewRelay creates a relay on PaymentChannel
func NewRelay(client *Client, local LocalDeliverer) *Relay {
	return &Relay{
		client:      client,
		local:       local,
		channel:     PaymentChannel,
		sendTimeout: 10 * time.Second,
		minBackoff:  500 * time.Millisecond,
		maxBackoff:  30 * time.Second,
		logger:      util.GetLogger(),
	}
}

// Broadcast publishes msg for qrID to every instance
func (r *Relay) Broadcast(ctx context.Context, qrID string, msg models.PaymentNotification) error {
	data, err := json.Marshal(relayMessage{QRID: qrID, Notification: msg})
	if err != nil {
		return fmt.Errorf("failed to marshal relay message: %w", err)
	}

	receivers, err := r.client.rdb.Publish(ctx, r.channel, data).Result()
	if err != nil {
		r.logger.Warn("Redis publish failed, delivering locally",
			zap.String("qr_id", qrID),
			zap.Error(err))
		r.local.Deliver(ctx, qrID, msg)
		return nil
	}
	if receivers == 0 {
		r.logger.Warn("No relay subscribers, delivering locally", zap.String("qr_id", qrID))
		r.local.Deliver(ctx, qrID, msg)
	}
	return nil
}

// Ready fails while the relay has no live subscription.
func (r *Relay) Ready(ctx context.Context) error {
	if !r.subscribed.Load() {
		return ErrRelayNotSubscribed
	}
	return nil
}

// Serve runs the subscription until ctx is cancelled, resubscribing with
// exponential backoff whenever it ends.
func (r *Relay) Serve(ctx context.Context) {
	delay := r.minBackoff
	for {
		started := time.Now()
		err := r.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > r.maxBackoff {
			delay = r.minBackoff
		}
		r.logger.Warn("Payment relay subscription ended, retrying",
			zap.Duration("retry_in", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = nextBackoff(delay, r.maxBackoff)
	}
}

func nextBackoff(current, limit time.Duration) time.Duration {
	if next := current * 2; next < limit {
		return next
	}
	return limit
}

// Run forwards relayed messages to local channels until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	r.subscribed.Store(true)
	defer r.subscribed.Store(false)
	r.logger.Info("Payment relay subscribed", zap.String("channel", r.channel))

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Payment relay stopping")
			return ctx.Err()
		case m, ok := <-messages:
			if !ok {
				return fmt.Errorf("subscription to %s closed", r.channel)
			}
			r.handle(ctx, []byte(m.Payload))
		}
	}
}

func (r *Relay) handle(ctx context.Context, payload []byte) {
	var msg relayMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		r.logger.Warn("Dropping malformed relay message", zap.Error(err))
		return
	}
	if msg.QRID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	defer cancel()
	r.local.Deliver(ctx, msg.QRID, msg.Notification)
}
