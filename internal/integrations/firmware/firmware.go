// Package firmware simulates the locker hardware: it watches the shared
// store for unlock commands and answers with the door and weight telemetry a
// real cabinet would produce.
package firmware

import (
	"context"
	"hash/fnv"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/LockerBox/internal/broker/messages"
	"github.com/BearBump/LockerBox/internal/models"
	"github.com/BearBump/LockerBox/internal/store"
)

type Publisher interface {
	PublishReport(ctx context.Context, topic string, r messages.SensorReport) error
}

type Simulator struct {
	st    store.Store
	pub   Publisher
	topic string
	dwell time.Duration
	log   *slog.Logger

	mu          sync.Mutex
	lastCommand map[int]string

	totalCycles atomic.Int64
}

func New(st store.Store, pub Publisher, topic string, log *slog.Logger) *Simulator {
	if log == nil {
		log = slog.Default()
	}
	return &Simulator{
		st:          st,
		pub:         pub,
		topic:       topic,
		dwell:       3 * time.Second,
		log:         log,
		lastCommand: make(map[int]string),
	}
}

// WithDwell sets how long the simulated door stays open.
func (s *Simulator) WithDwell(d time.Duration) *Simulator {
	if d > 0 {
		s.dwell = d
	}
	return s
}

// Run watches the control documents and reacts to lock commands. Each
// LOCKED→UNLOCKED edge plays one open/settle/close cycle.
func (s *Simulator) Run(ctx context.Context) error {
	sub, err := s.st.Watch(ctx, store.ControlPrefix)
	if err != nil {
		return errors.Wrap(err, "watch lockers")
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			s.handle(ctx, ev.Docs)
		}
	}
}

func (s *Simulator) handle(ctx context.Context, docs map[string]store.Doc) {
	for key, d := range docs {
		id, ok := lockerIDFromKey(key)
		if !ok {
			continue
		}
		l := models.LockerFromDoc(id, d)

		s.mu.Lock()
		prev, seen := s.lastCommand[id]
		s.lastCommand[id] = l.LockCommand
		s.mu.Unlock()

		if !seen || prev == l.LockCommand || l.LockCommand != models.LockCommandUnlocked {
			continue
		}
		go s.cycle(ctx, l)
	}
}

// cycle opens the door, lets the weight settle, then closes. Whether the
// scale reads a parcel afterwards depends on which phase unlocked it.
func (s *Simulator) cycle(ctx context.Context, l models.Locker) {
	s.totalCycles.Add(1)
	s.log.Info("door cycle started", "locker_id", l.ID, "phase", l.Lifecycle)

	if err := s.report(ctx, l.ID, models.DoorOpen, l.WeightGrams); err != nil {
		s.log.Error("door open report failed", "locker_id", l.ID, "error", err)
		return
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(s.dwell):
	}

	weight := l.WeightGrams
	switch l.Lifecycle {
	case models.LifecycleDroppingOff:
		weight = ParcelWeight(l.ID)
	case models.LifecyclePickingUp:
		weight = 0
	}

	if err := s.report(ctx, l.ID, models.DoorClosed, weight); err != nil {
		s.log.Error("door close report failed", "locker_id", l.ID, "error", err)
		return
	}
	s.log.Info("door cycle finished", "locker_id", l.ID, "weight_grams", weight)
}

func (s *Simulator) report(ctx context.Context, lockerID int, door string, grams float64) error {
	return s.pub.PublishReport(ctx, s.topic, messages.SensorReport{
		LockerID:    lockerID,
		DoorState:   door,
		WeightGrams: grams,
		ReportedAt:  time.Now().UTC(),
	})
}

func (s *Simulator) TotalCycles() int64 {
	return s.totalCycles.Load()
}

// ParcelWeight is a deterministic weight per locker, 50..561 grams, so demo
// runs are reproducible.
func ParcelWeight(lockerID int) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte("locker_"))
	_, _ = h.Write([]byte(strconv.Itoa(lockerID)))
	return float64(50 + h.Sum32()%512)
}

func lockerIDFromKey(key string) (int, bool) {
	rest, ok := strings.CutPrefix(key, store.ControlPrefix+"/locker_")
	if !ok {
		return 0, false
	}
	id, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return id, true
}
