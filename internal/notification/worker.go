// Package notification fans breach alerts out to web push subscribers.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/pkg/errors"

	"github.com/BearBump/LockerBox/internal/storage/pgaudit"
)

// Sender sends one web push notification.
type Sender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is the real Sender backed by the webpush library.
type WebPushSender struct{}

func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// SubscriptionStore is the slice of the audit storage the pool needs.
type SubscriptionStore interface {
	ListSubscriptions(ctx context.Context) ([]pgaudit.Subscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
}

type alertPayload struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	LockerID int    `json:"locker_id"`
}

// WorkerPool delivers breach alerts off the hot path. Enqueueing never
// blocks the caller; a full queue is reported as an error instead.
type WorkerPool struct {
	size    int
	jobs    chan int
	subs    SubscriptionStore
	options *webpush.Options
	sender  Sender
	log     *slog.Logger
}

func NewWorkerPool(size int, subs SubscriptionStore, options *webpush.Options, log *slog.Logger) *WorkerPool {
	if size <= 0 {
		size = 2
	}
	if log == nil {
		log = slog.Default()
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan int, size*4),
		subs:    subs,
		options: options,
		sender:  &WebPushSender{},
		log:     log,
	}
}

// WithSender swaps the delivery mechanism, for tests.
func (wp *WorkerPool) WithSender(s Sender) *WorkerPool {
	wp.sender = s
	return wp
}

func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.log.Debug("notification worker started", "worker", id)
	for {
		select {
		case lockerID := <-wp.jobs:
			wp.sendAlerts(ctx, lockerID)
		case <-ctx.Done():
			wp.log.Debug("notification worker stopped", "worker", id)
			return
		}
	}
}

// BreachAlert queues a breach alert for the locker.
func (wp *WorkerPool) BreachAlert(_ context.Context, lockerID int) error {
	select {
	case wp.jobs <- lockerID:
		return nil
	default:
		return errors.New("notification queue is full")
	}
}

func (wp *WorkerPool) sendAlerts(ctx context.Context, lockerID int) {
	subs, err := wp.subs.ListSubscriptions(ctx)
	if err != nil {
		wp.log.Error("list push subscriptions failed", "error", err)
		return
	}
	if len(subs) == 0 {
		return
	}

	payload, err := json.Marshal(alertPayload{
		Title:    "Locker breach",
		Body:     fmt.Sprintf("Security breach detected on locker %d", lockerID),
		LockerID: lockerID,
	})
	if err != nil {
		wp.log.Error("encode alert payload failed", "error", err)
		return
	}

	wp.log.Info("sending breach alerts", "locker_id", lockerID, "subscribers", len(subs))
	for _, sub := range subs {
		wp.send(ctx, sub, payload)
	}
}

func (wp *WorkerPool) send(ctx context.Context, sub pgaudit.Subscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.options)
	if err != nil {
		wp.log.Error("push send failed", "endpoint", sub.Endpoint, "error", err)
		return
	}
	defer resp.Body.Close()

	// A 410 means the browser dropped the subscription; prune it.
	if resp.StatusCode == http.StatusGone {
		wp.log.Info("pruning expired push subscription", "endpoint", sub.Endpoint)
		if err := wp.subs.DeleteSubscription(ctx, sub.Endpoint); err != nil {
			wp.log.Error("prune subscription failed", "endpoint", sub.Endpoint, "error", err)
		}
	}
}
