// locker-hwsim stands in for the cabinet firmware during development: it
// watches the shared store for unlock commands and answers with door and
// weight telemetry over Kafka, the same feed real hardware would produce.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/BearBump/LockerBox/config"
	"github.com/BearBump/LockerBox/internal/broker/kafka"
	"github.com/BearBump/LockerBox/internal/integrations/firmware"
	"github.com/BearBump/LockerBox/internal/store/redisstore"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("config parse failed: %v", err))
	}

	topic := cfg.Kafka.TelemetryTopicName
	if topic == "" {
		topic = "locker.telemetry"
	}

	dwell := 3 * time.Second
	if v := os.Getenv("doorDwellSeconds"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			dwell = time.Duration(n) * time.Second
		}
	}

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	st := redisstore.New(redisAddr)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)

	sim := firmware.New(st, producer, topic, slog.Default()).WithDwell(dwell)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("hardware simulator started", "topic", topic, "dwell", dwell)
	if err := sim.Run(ctx); err != nil && err != context.Canceled {
		panic(err)
	}
}
