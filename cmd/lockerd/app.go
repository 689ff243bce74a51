package main

import (
	"context"
	"log/slog"

	"github.com/BearBump/LockerBox/internal/api/fleetapi"
	"github.com/BearBump/LockerBox/internal/notification"
	"github.com/BearBump/LockerBox/internal/services/bridge"
	"github.com/BearBump/LockerBox/internal/services/watchdog"
)

type lockerdOpts struct {
	httpAddr      string
	topic         string
	consumerGroup string
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

type breachNotifier interface {
	BreachAlert(ctx context.Context, lockerID int) error
}

func runLockerd(ctx context.Context, opts lockerdOpts, api *fleetapi.API, br *bridge.Service, notifier *notification.WorkerPool, wd *watchdog.Supervisor, consumer kafkaConsumer) error {
	notifier.Start(ctx)
	go forwardWatchdogAlerts(ctx, wd.Alerts(), notifier)

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- api.Serve(ctx, opts.httpAddr)
	}()

	consumeErr := make(chan error, 1)
	go func() {
		slog.Info("telemetry consumer started", "topic", opts.topic, "group", opts.consumerGroup)
		consumeErr <- consumer.Consume(ctx, br.HandleReport(ctx))
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-httpErr:
		return err
	case err := <-consumeErr:
		return err
	}
}

// forwardWatchdogAlerts dispatches time-to-secure escalations to the push
// notifier. The store write happened inside the supervisor already; this
// only fans the signal out to subscribers.
func forwardWatchdogAlerts(ctx context.Context, alerts <-chan watchdog.Alert, notifier breachNotifier) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-alerts:
			if err := notifier.BreachAlert(ctx, a.LockerID); err != nil {
				slog.Error("dispatch watchdog breach alert", "locker_id", a.LockerID, "error", err.Error())
			}
		}
	}
}
