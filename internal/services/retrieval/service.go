package retrieval

import (
	"context"

	"github.com/pkg/errors"

	"github.com/BearBump/LockerBox/internal/models"
	"github.com/BearBump/LockerBox/internal/store"
)

// ErrTokenMismatch is a local rejection: the scan session stays open and no
// locker or parcel state changes. There is no retry limit.
var ErrTokenMismatch = errors.New("scanned value does not match the expected token")

type Watchdog interface {
	Arm(ctx context.Context, lockerID int)
}

// Service runs Phase 3: the recipient signals readiness, the monitor
// renders the stored token, and a matching physical scan authorizes the
// unlock.
type Service struct {
	st store.Store
	wd Watchdog
}

func New(st store.Store, wd Watchdog) *Service {
	return &Service{st: st, wd: wd}
}

// ScanSession pins the expected token at session start; later store writes
// cannot retarget an open scanner.
type ScanSession struct {
	svc      *Service
	lockerID int
	expected string
}

// ReadyToScan flips the monitor into token-display mode and opens the local
// scan session against the parcel's stored token.
func (s *Service) ReadyToScan(ctx context.Context, lockerID int, expectedToken string) (*ScanSession, error) {
	err := s.st.Update(ctx, store.LockerKey(lockerID), store.Doc{}.
		SetBool("ui_session/ready_to_scan", true))
	if err != nil {
		return nil, errors.Wrap(err, "signal ready to scan")
	}
	return &ScanSession{svc: s, lockerID: lockerID, expected: expectedToken}, nil
}

// Attempt compares a decoded scan byte-for-byte against the expected token.
// On a match it issues the retrieval unlock and rearms the watchdog. A
// store-rejected unlock surfaces store.ErrBlocked unchanged: the token
// validated, so the failure is an authorization-policy problem, not a scan
// problem.
func (sess *ScanSession) Attempt(ctx context.Context, decoded string) error {
	if decoded != sess.expected {
		return ErrTokenMismatch
	}

	err := sess.svc.st.Update(ctx, store.LockerKey(sess.lockerID), store.Doc{}.
		SetString("state", models.LifecyclePickingUp).
		SetString("lock_command", models.LockCommandUnlocked).
		SetBool("led_state", true).
		SetString("ui_session/delivery_status", models.DeliveryCompleted).
		SetStringPtr("ui_session/rider_name", nil).
		SetStringPtr("ui_session/rider_contact", nil).
		SetStringPtr("ui_session/recipient_identity", nil).
		SetBool("ui_session/is_confirmed", false).
		SetBool("ui_session/ready_to_scan", false).
		SetStringPtr("ui_session/monitor_qr_token", nil))
	if err != nil {
		if errors.Is(err, store.ErrBlocked) {
			return err
		}
		return errors.Wrap(err, "issue unlock command")
	}

	sess.svc.wd.Arm(ctx, sess.lockerID)
	return nil
}

// Close ends the scan session and takes the monitor out of token-display
// mode. Safe to call after a successful Attempt (the unlock merge already
// cleared ready_to_scan).
func (sess *ScanSession) Close(ctx context.Context) error {
	err := sess.svc.st.Update(ctx, store.LockerKey(sess.lockerID), store.Doc{}.
		SetBool("ui_session/ready_to_scan", false))
	return errors.Wrap(err, "clear ready to scan")
}
