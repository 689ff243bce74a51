package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/BearBump/LockerBox/internal/broker/messages"
	"github.com/BearBump/LockerBox/internal/models"
	"github.com/BearBump/LockerBox/internal/store"
)

const (
	eventDropOffDone = "DROP_OFF_COMPLETED"
	eventPickUpDone  = "PICK_UP_COMPLETED"
	eventForcedEntry = "FORCED_ENTRY"
)

type Watchdog interface {
	Disarm(ctx context.Context, lockerID int) error
}

type Auditor interface {
	AppendEvent(ctx context.Context, lockerID int, kind, detail string) error
}

type Notifier interface {
	BreachAlert(ctx context.Context, lockerID int) error
}

// Service translates firmware sensor reports into store state. The hardware
// is authoritative for door_state and weight_status; everything else it
// touches is a consequence of those two.
type Service struct {
	st        store.Store
	wd        Watchdog
	audit     Auditor
	notifier  Notifier
	threshold float64
	log       *slog.Logger

	totalReports  atomic.Int64
	totalDropOffs atomic.Int64
	totalPickUps  atomic.Int64
	totalBreaches atomic.Int64
}

func New(st store.Store, wd Watchdog, threshold float64, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{st: st, wd: wd, threshold: threshold, log: log}
}

func (s *Service) WithAuditor(a Auditor) *Service {
	s.audit = a
	return s
}

func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// HandleReport is the Kafka consumer handler. A malformed payload is an
// error so the consumer does not commit past it silently.
func (s *Service) HandleReport(ctx context.Context) func(key, value []byte) error {
	return func(_, value []byte) error {
		var r messages.SensorReport
		if err := json.Unmarshal(value, &r); err != nil {
			return errors.Wrap(err, "decode sensor report")
		}
		return s.Apply(ctx, r)
	}
}

// Apply merges one sensor report into the locker document and runs the
// transitions only the hardware can complete: occupancy flips on door close
// and the forced-entry breach.
func (s *Service) Apply(ctx context.Context, r messages.SensorReport) error {
	s.totalReports.Add(1)

	d, err := s.st.Get(ctx, store.LockerKey(r.LockerID))
	if err != nil {
		return errors.Wrap(err, "read locker")
	}
	before := models.LockerFromDoc(r.LockerID, d)

	patch := store.Doc{}.
		SetString("door_state", r.DoorState).
		SetFloat("weight_status", r.WeightGrams)

	secureAfter := false
	switch {
	case r.DoorState == models.DoorClosed &&
		before.Lifecycle == models.LifecycleDroppingOff &&
		r.WeightGrams >= s.threshold:
		patch.SetBool("is_occupied", true).
			SetString("state", models.LifecycleAvailable)
		secureAfter = true
		s.totalDropOffs.Add(1)
		s.appendEvent(ctx, r.LockerID, eventDropOffDone, "door closed with parcel inside")

	case r.DoorState == models.DoorClosed &&
		before.Lifecycle == models.LifecyclePickingUp &&
		r.WeightGrams < s.threshold:
		patch.SetBool("is_occupied", false).
			SetString("state", models.LifecycleAvailable)
		secureAfter = true
		s.totalPickUps.Add(1)
		s.appendEvent(ctx, r.LockerID, eventPickUpDone, "door closed with parcel removed")

	case r.DoorState == models.DoorOpen &&
		before.LockCommand == models.LockCommandLocked &&
		before.SecurityStatus == models.SecuritySecure:
		// The door came open without an unlock: physical tamper.
		patch.SetString("security_status", models.SecurityBreach).
			SetBool("buzzer_alarm", true)
		s.totalBreaches.Add(1)
		s.appendEvent(ctx, r.LockerID, eventForcedEntry, "door opened while locked")
	}

	if err := s.st.Update(ctx, store.LockerKey(r.LockerID), patch); err != nil {
		return errors.Wrap(err, "apply sensor report")
	}

	if secureAfter {
		if err := s.wd.Disarm(ctx, r.LockerID); err != nil {
			return errors.Wrap(err, "secure locker")
		}
	}

	if patch.String("security_status") == models.SecurityBreach && s.notifier != nil {
		if err := s.notifier.BreachAlert(ctx, r.LockerID); err != nil {
			s.log.Error("breach alert dispatch failed", "locker_id", r.LockerID, "error", err)
		}
	}
	return nil
}

func (s *Service) appendEvent(ctx context.Context, lockerID int, kind, detail string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.AppendEvent(ctx, lockerID, kind, detail); err != nil {
		s.log.Error("audit append failed", "locker_id", lockerID, "kind", kind, "error", err)
	}
}

type Stats struct {
	TotalReports  int64
	TotalDropOffs int64
	TotalPickUps  int64
	TotalBreaches int64
}

func (s *Service) Stats() Stats {
	return Stats{
		TotalReports:  s.totalReports.Load(),
		TotalDropOffs: s.totalDropOffs.Load(),
		TotalPickUps:  s.totalPickUps.Load(),
		TotalBreaches: s.totalBreaches.Load(),
	}
}
