package lockers

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/LockerBox/internal/models"
	"github.com/BearBump/LockerBox/internal/store"
)

// Validation and conflict failures are rejected before any store write.
var (
	ErrReceiverRequired = errors.New("receiver name is required")
	ErrCourierRequired  = errors.New("courier name is required")
	ErrPhotoRequired    = errors.New("photo evidence is required")
	ErrInvalidAmount    = errors.New("amount must be greater than zero")
	ErrOccupied         = errors.New("locker is occupied")
)

type Watchdog interface {
	Arm(ctx context.Context, lockerID int)
	Disarm(ctx context.Context, lockerID int) error
}

type Uploader interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
}

type Tokens interface {
	NewToken() string
}

type Service struct {
	st          store.Store
	wd          Watchdog
	blobs       Uploader
	tokens      Tokens
	lockerCount int
}

func New(st store.Store, wd Watchdog, blobs Uploader, tokens Tokens, lockerCount int) *Service {
	if lockerCount <= 0 {
		lockerCount = 2
	}
	return &Service{st: st, wd: wd, blobs: blobs, tokens: tokens, lockerCount: lockerCount}
}

type DropOffInput struct {
	LockerID        int
	Receiver        string
	ReceiverContact string
	CourierName     string
	CourierContact  string
	Amount          float64
	PaymentType     string
	Photo           []byte
	PhotoType       string
}

// BeginDropOff runs Phase 1: validates the submission, rejects an occupied
// locker, uploads the photo evidence, unlocks the solenoid with the LED on,
// writes the UI session (including the monitor token), arms the watchdog and
// logs the parcel.
//
// The locker merge and the parcel push are two independent writes with no
// transaction across them. A crash in between leaves an unlocked locker with
// no parcel record; that anomaly is detectable and reconciled by AdminReset,
// not prevented here.
func (s *Service) BeginDropOff(ctx context.Context, in DropOffInput) (*models.Parcel, error) {
	if in.Receiver == "" {
		return nil, ErrReceiverRequired
	}
	if in.CourierName == "" {
		return nil, ErrCourierRequired
	}
	if len(in.Photo) == 0 {
		return nil, ErrPhotoRequired
	}
	if in.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if in.PaymentType == "" {
		in.PaymentType = models.PaymentPrepaid
	}

	d, err := s.st.Get(ctx, store.LockerKey(in.LockerID))
	if err != nil {
		return nil, errors.Wrap(err, "read locker")
	}
	if models.LockerFromDoc(in.LockerID, d).IsOccupied {
		return nil, ErrOccupied
	}

	photoRef, err := s.blobs.Upload(ctx, in.Photo, in.PhotoType)
	if err != nil {
		return nil, errors.Wrap(err, "upload photo evidence")
	}

	token := s.tokens.NewToken()

	err = s.st.Update(ctx, store.LockerKey(in.LockerID), store.Doc{}.
		SetString("lock_command", models.LockCommandUnlocked).
		SetString("state", models.LifecycleDroppingOff).
		SetBool("buzzer_alarm", false).
		SetString("security_status", models.SecuritySecure).
		SetBool("led_state", true).
		SetString("ui_session/delivery_status", models.DeliveryAwaitingConfirmation).
		SetStringPtr("ui_session/rider_name", &in.CourierName).
		SetStringPtr("ui_session/rider_contact", optional(in.CourierContact)).
		SetStringPtr("ui_session/recipient_identity", &in.Receiver).
		SetBool("ui_session/is_confirmed", false).
		SetBool("ui_session/ready_to_scan", false).
		SetStringPtr("ui_session/monitor_qr_token", &token))
	if err != nil {
		return nil, errors.Wrap(err, "activate locker")
	}
	s.wd.Arm(ctx, in.LockerID)

	paymentStatus := models.PaymentStatusPending
	if in.PaymentType == models.PaymentPrepaid {
		paymentStatus = models.PaymentStatusCompleted
	}
	p := models.Parcel{
		Receiver:        in.Receiver,
		ReceiverContact: in.ReceiverContact,
		CourierName:     in.CourierName,
		Amount:          in.Amount,
		PaymentType:     in.PaymentType,
		PaymentStatus:   paymentStatus,
		LockerID:        in.LockerID,
		PhotoRef:        photoRef,
		SecureToken:     token,
		Status:          models.ParcelAwaitingVerification,
		CreatedAt:       time.Now().UTC(),
	}
	id, err := s.st.Push(ctx, store.ParcelsPrefix, p.Doc())
	if err != nil {
		return nil, errors.Wrap(err, "log parcel")
	}
	p.ID = id
	return &p, nil
}

// ParcelSensed reports whether the drop-off HUD should switch to the
// "parcel sensed, close the door" prompt. UI-only: the lifecycle transition
// itself is completed externally by the hardware-side door-close report.
func (s *Service) ParcelSensed(l models.Locker, threshold float64) bool {
	return l.Lifecycle == models.LifecycleDroppingOff && l.WeightGrams > threshold
}

// SecureDoor is the operator's "door is closed" action: cancels the pending
// watchdog check and idempotently re-locks the locker.
func (s *Service) SecureDoor(ctx context.Context, lockerID int) error {
	return s.wd.Disarm(ctx, lockerID)
}

// AcknowledgeBreach clears a breach overlay. Nothing else clears it: the
// alarm persists across timeouts until an operator acts.
func (s *Service) AcknowledgeBreach(ctx context.Context, lockerID int) error {
	err := s.st.Update(ctx, store.LockerKey(lockerID), store.Doc{}.
		SetString("security_status", models.SecuritySecure).
		SetString("lock_command", models.LockCommandLocked).
		SetBool("buzzer_alarm", false).
		SetBool("led_state", false))
	return errors.Wrap(err, "acknowledge breach")
}

// AdminReset overwrites every locker with the canonical safe state, clears
// the parcel collection and zeroes the revenue counter. Maintenance only.
func (s *Service) AdminReset(ctx context.Context) error {
	for id := 1; id <= s.lockerCount; id++ {
		safe := models.CanonicalSafeLocker(id)
		if err := s.st.Set(ctx, store.LockerKey(id), safe.Doc()); err != nil {
			return errors.Wrap(err, "reset locker")
		}
	}
	parcels, err := s.st.List(ctx, store.ParcelsPrefix)
	if err != nil {
		return errors.Wrap(err, "list parcels")
	}
	for key := range parcels {
		if err := s.st.Delete(ctx, key); err != nil {
			return errors.Wrap(err, "clear parcel")
		}
	}
	if err := s.st.Set(ctx, store.StatsKey, store.Doc{}.SetFloat(store.RevenueField, 0)); err != nil {
		return errors.Wrap(err, "zero revenue")
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
