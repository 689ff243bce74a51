package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/BearBump/LockerBox/config"
	"github.com/BearBump/LockerBox/internal/api/fleetapi"
	"github.com/BearBump/LockerBox/internal/blob"
	"github.com/BearBump/LockerBox/internal/broker/kafka"
	"github.com/BearBump/LockerBox/internal/cache/rediscache"
	"github.com/BearBump/LockerBox/internal/notification"
	"github.com/BearBump/LockerBox/internal/services/bridge"
	"github.com/BearBump/LockerBox/internal/services/lockers"
	"github.com/BearBump/LockerBox/internal/services/retrieval"
	"github.com/BearBump/LockerBox/internal/services/watchdog"
	"github.com/BearBump/LockerBox/internal/storage/pgaudit"
	"github.com/BearBump/LockerBox/internal/store/redisstore"
)

type lockerdApp struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   lockerdOpts

	api      *fleetapi.API
	bridge   *bridge.Service
	notifier *notification.WorkerPool
	wd       *watchdog.Supervisor
	consumer *kafka.Consumer
	closeDB  func()
}

func mustBootstrapLockerd() *lockerdApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("config parse failed: %v", err))
	}

	httpAddr := cfg.LockerBox.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.LockerBox.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "lockerd"
	}
	topic := cfg.Kafka.TelemetryTopicName
	if topic == "" {
		topic = "locker.telemetry"
	}
	lockerCount := cfg.LockerBox.LockerCount
	if lockerCount <= 0 {
		lockerCount = 2
	}
	threshold := cfg.LockerBox.WeightThresholdGrams
	if threshold <= 0 {
		threshold = 45
	}
	watchdogDelay := time.Duration(cfg.LockerBox.WatchdogDelaySeconds) * time.Second

	log := slog.Default()

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	st := redisstore.New(redisAddr)

	wd := watchdog.New(st).WithDelay(watchdogDelay)

	photoURLTTL := time.Duration(cfg.Blob.PhotoURLTTLSeconds) * time.Second
	blobs, err := blob.New(blob.Config{
		Endpoint:       cfg.Blob.Endpoint,
		Region:         cfg.Blob.Region,
		Bucket:         cfg.Blob.Bucket,
		AccessKey:      cfg.Blob.AccessKey,
		SecretKey:      cfg.Blob.SecretKey,
		Insecure:       cfg.Blob.Insecure,
		ForcePathStyle: true,
		URLTTL:         photoURLTTL,
	})
	if err != nil {
		panic(fmt.Sprintf("blob store init failed: %v", err))
	}

	tokens := retrieval.NewTokenSource(time.Now().UnixNano())
	lockerSvc := lockers.New(st, wd, blobs, tokens, lockerCount)

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	audit := mustOpenPostgresWithRetry(connString, 60*time.Second)

	notifier := notification.NewWorkerPool(cfg.WebPush.Workers, audit, &webpush.Options{
		Subscriber:      cfg.WebPush.Subscriber,
		VAPIDPublicKey:  cfg.WebPush.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.WebPush.VAPIDPrivateKey,
		TTL:             300,
	}, log)

	br := bridge.New(st, wd, threshold, log).
		WithAuditor(audit).
		WithNotifier(notifier)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	consumer := kafka.NewConsumer(brokers, topic, consumerGroup)

	swaggerPath := os.Getenv("swaggerPath")
	if err := fleetapi.SwaggerFileExists(swaggerPath); err != nil {
		panic(fmt.Sprintf("swagger misconfigured: %v", err))
	}

	// Cached URLs expire before the presigned URLs they hold do.
	photoURLs := rediscache.NewURLCache(redisAddr, photoURLTTL/2)

	api := fleetapi.New(st, lockerSvc, log).
		WithEvents(audit).
		WithRateLimiter(rediscache.NewRateLimiter(redisAddr), cfg.LockerBox.AdminResetPerMinute).
		WithSubscriptions(audit).
		WithPhotos(photoURLs.Resolving(blobs), blobs).
		WithStats(wd, br).
		WithSwagger(swaggerPath)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &lockerdApp{
		ctx:    ctx,
		cancel: cancel,
		opts: lockerdOpts{
			httpAddr:      httpAddr,
			topic:         topic,
			consumerGroup: consumerGroup,
		},
		api:      api,
		bridge:   br,
		notifier: notifier,
		wd:       wd,
		consumer: consumer,
		closeDB:  audit.Close,
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgaudit.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgaudit.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *lockerdApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.wd != nil {
		a.wd.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *lockerdApp) Run() error {
	return runLockerd(a.ctx, a.opts, a.api, a.bridge, a.notifier, a.wd, a.consumer)
}
