package watchdog

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/LockerBox/internal/models"
	"github.com/BearBump/LockerBox/internal/store"
)

// Alert is the local signal raised when a check fires on a still-open
// locker. It mirrors the breach escalation already written to the store.
type Alert struct {
	LockerID int
	At       time.Time
}

// Supervisor owns the time-to-secure countdowns for one actor session.
// Arm schedules a single-shot check; re-arming the same locker cancels and
// replaces the pending check, so each arming fires at most once.
// Cancellation is local: timers armed by other sessions are unaffected.
type Supervisor struct {
	st    store.Store
	delay time.Duration

	mu     sync.Mutex
	timers map[int]armedTimer
	gen    uint64

	alerts chan Alert

	totalArmed    atomic.Int64
	totalFired    atomic.Int64
	totalBreaches atomic.Int64
	lastErrorMu   sync.Mutex
	lastError     string
}

// armedTimer pairs a timer with the arming it belongs to, so a callback
// that raced a re-arm can recognise it was superseded.
type armedTimer struct {
	t   *time.Timer
	gen uint64
}

const DefaultDelay = 10 * time.Second

func New(st store.Store) *Supervisor {
	return &Supervisor{
		st:     st,
		delay:  DefaultDelay,
		timers: make(map[int]armedTimer),
		alerts: make(chan Alert, 8),
	}
}

func (s *Supervisor) WithDelay(d time.Duration) *Supervisor {
	if d > 0 {
		s.delay = d
	}
	return s
}

// Alerts delivers local breach signals (best-effort: the store write is the
// authoritative escalation, the channel only feeds the session's own UI).
func (s *Supervisor) Alerts() <-chan Alert {
	return s.alerts
}

func (s *Supervisor) Arm(ctx context.Context, lockerID int) {
	s.totalArmed.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.timers[lockerID]; ok {
		// Stop may return false when the previous callback has already
		// started; the generation check in fire makes it a no-op then.
		prev.t.Stop()
	}
	s.gen++
	gen := s.gen
	s.timers[lockerID] = armedTimer{
		gen: gen,
		t: time.AfterFunc(s.delay, func() {
			s.fire(ctx, lockerID, gen)
		}),
	}
}

// Disarm cancels the pending check and idempotently re-secures the locker:
// solenoid locked, buzzer and LED off.
func (s *Supervisor) Disarm(ctx context.Context, lockerID int) error {
	s.mu.Lock()
	if prev, ok := s.timers[lockerID]; ok {
		prev.t.Stop()
		delete(s.timers, lockerID)
	}
	s.mu.Unlock()

	return s.st.Update(ctx, store.LockerKey(lockerID), store.Doc{}.
		SetString("lock_command", models.LockCommandLocked).
		SetBool("buzzer_alarm", false).
		SetBool("led_state", false))
}

// Close stops every pending timer without touching the store.
func (s *Supervisor) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, at := range s.timers {
		at.t.Stop()
		delete(s.timers, id)
	}
}

// fire re-reads the locker rather than trusting state captured at arm time:
// door closure is reported asynchronously by hardware and may race the
// timer. A locked, closed locker at expiry is the expected steady state.
func (s *Supervisor) fire(ctx context.Context, lockerID int, gen uint64) {
	s.mu.Lock()
	cur, ok := s.timers[lockerID]
	if !ok || cur.gen != gen {
		// A re-arm or disarm superseded this check between expiry and
		// acquiring the lock; the replacement owns the locker now.
		s.mu.Unlock()
		return
	}
	delete(s.timers, lockerID)
	s.mu.Unlock()
	s.totalFired.Add(1)

	d, err := s.st.Get(ctx, store.LockerKey(lockerID))
	if err != nil {
		s.recordError(err)
		slog.Error("watchdog read locker", "locker_id", lockerID, "error", err.Error())
		return
	}
	l := models.LockerFromDoc(lockerID, d)
	if l.LockCommand != models.LockCommandUnlocked && l.DoorState != models.DoorOpen {
		return
	}

	err = s.st.Update(ctx, store.LockerKey(lockerID), store.Doc{}.
		SetString("security_status", models.SecurityBreach).
		SetBool("buzzer_alarm", true))
	if err != nil {
		s.recordError(err)
		slog.Error("watchdog escalate breach", "locker_id", lockerID, "error", err.Error())
		return
	}
	s.totalBreaches.Add(1)
	slog.Warn("locker left open past its window", "locker_id", lockerID)

	select {
	case s.alerts <- Alert{LockerID: lockerID, At: time.Now().UTC()}:
	default:
	}
}

func (s *Supervisor) recordError(err error) {
	s.lastErrorMu.Lock()
	s.lastError = err.Error()
	s.lastErrorMu.Unlock()
}

type Stats struct {
	TotalArmed    int64  `json:"totalArmed"`
	TotalFired    int64  `json:"totalFired"`
	TotalBreaches int64  `json:"totalBreaches"`
	Pending       int    `json:"pending"`
	LastError     string `json:"lastError,omitempty"`
}

func (s *Supervisor) Stats() Stats {
	s.mu.Lock()
	pending := len(s.timers)
	s.mu.Unlock()

	st := Stats{
		TotalArmed:    s.totalArmed.Load(),
		TotalFired:    s.totalFired.Load(),
		TotalBreaches: s.totalBreaches.Load(),
		Pending:       pending,
	}
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()
	return st
}
