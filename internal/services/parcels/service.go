package parcels

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/BearBump/LockerBox/internal/models"
	"github.com/BearBump/LockerBox/internal/store"
)

var (
	ErrNotFound          = errors.New("parcel not found")
	ErrInsufficientFunds = errors.New("wallet balance is insufficient")
)

const walletBalanceField = "balance"

type Service struct {
	st            store.Store
	defaultCredit float64
}

func New(st store.Store, defaultCredit float64) *Service {
	if defaultCredit <= 0 {
		defaultCredit = 100.00
	}
	return &Service{st: st, defaultCredit: defaultCredit}
}

func (s *Service) Get(ctx context.Context, parcelID string) (*models.Parcel, error) {
	d, err := s.st.Get(ctx, store.ParcelKey(parcelID))
	if err != nil {
		return nil, errors.Wrap(err, "read parcel")
	}
	if len(d) == 0 {
		return nil, ErrNotFound
	}
	p := models.ParcelFromDoc(parcelID, d)
	return &p, nil
}

// Verify records the recipient's ownership decision. Authorizing marks the
// parcel VERIFIED and confirms the locker session; rejecting marks it
// REJECTED and flips the session's delivery status so the courier sees it
// through the shared document.
func (s *Service) Verify(ctx context.Context, parcelID string, isMine bool) error {
	p, err := s.Get(ctx, parcelID)
	if err != nil {
		return err
	}

	if isMine {
		err = s.st.Update(ctx, store.ParcelKey(parcelID), store.Doc{}.
			SetString("status", models.ParcelVerified))
		if err != nil {
			return errors.Wrap(err, "mark parcel verified")
		}
		err = s.st.Update(ctx, store.LockerKey(p.LockerID), store.Doc{}.
			SetBool("ui_session/is_confirmed", true))
		return errors.Wrap(err, "confirm locker session")
	}

	err = s.st.Update(ctx, store.ParcelKey(parcelID), store.Doc{}.
		SetString("status", models.ParcelRejected))
	if err != nil {
		return errors.Wrap(err, "mark parcel rejected")
	}
	err = s.st.Update(ctx, store.LockerKey(p.LockerID), store.Doc{}.
		SetString("ui_session/delivery_status", models.DeliveryRejected))
	return errors.Wrap(err, "notify courier of rejection")
}

// Balance reads the recipient's wallet, lazily seeding it with the default
// credit on first access.
func (s *Service) Balance(ctx context.Context, identity string) (float64, error) {
	d, err := s.st.Get(ctx, store.WalletKey(identity))
	if err != nil {
		return 0, errors.Wrap(err, "read wallet")
	}
	if _, ok := d[walletBalanceField]; !ok {
		err = s.st.Set(ctx, store.WalletKey(identity), store.Doc{}.
			SetFloat(walletBalanceField, s.defaultCredit))
		if err != nil {
			return 0, errors.Wrap(err, "seed wallet")
		}
		return s.defaultCredit, nil
	}
	return d.Float(walletBalanceField), nil
}

// Settle debits the wallet by the parcel amount, completes the payment and
// adds the amount to the revenue counter. The debit and the increment are
// the store's atomic read-modify-write primitive; the balance check itself
// is a read-then-write accepted under the single-recipient-per-parcel
// assumption.
func (s *Service) Settle(ctx context.Context, parcelID, identity string) (float64, error) {
	p, err := s.Get(ctx, parcelID)
	if err != nil {
		return 0, err
	}

	bal, err := s.Balance(ctx, identity)
	if err != nil {
		return 0, err
	}
	if bal < p.Amount {
		return bal, ErrInsufficientFunds
	}

	newBal, err := s.st.IncrFloat(ctx, store.WalletKey(identity), walletBalanceField, -p.Amount)
	if err != nil {
		return 0, errors.Wrap(err, "debit wallet")
	}
	err = s.st.Update(ctx, store.ParcelKey(parcelID), store.Doc{}.
		SetString("payment_status", models.PaymentStatusCompleted))
	if err != nil {
		return newBal, errors.Wrap(err, "complete payment")
	}
	if _, err := s.st.IncrFloat(ctx, store.StatsKey, store.RevenueField, p.Amount); err != nil {
		return newBal, errors.Wrap(err, "increment revenue")
	}
	return newBal, nil
}

// RetrievalReady reports whether the recipient may start the scan handshake.
func (s *Service) RetrievalReady(p models.Parcel) bool {
	return p.Status == models.ParcelVerified && p.PaymentStatus == models.PaymentStatusCompleted
}

// MarkPickedUp closes out the parcel after a retrieval unlock.
func (s *Service) MarkPickedUp(ctx context.Context, parcelID string) error {
	err := s.st.Update(ctx, store.ParcelKey(parcelID), store.Doc{}.
		SetString("status", models.ParcelPickedUp))
	return errors.Wrap(err, "mark picked up")
}

func (s *Service) List(ctx context.Context, prefix string) ([]models.Parcel, error) {
	docs, err := s.st.List(ctx, prefix)
	if err != nil {
		return nil, errors.Wrap(err, "list parcels")
	}
	out := make([]models.Parcel, 0, len(docs))
	for key, d := range docs {
		id := key[len(prefix)+1:]
		out = append(out, models.ParcelFromDoc(id, d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Split projects a parcel list into pending vs history views. READY parcels
// are mid-handover and belong to neither view.
func Split(parcels []models.Parcel) (pending, history []models.Parcel) {
	for _, p := range parcels {
		switch {
		case p.Status == models.ParcelReady:
			continue
		case p.IsHistory():
			history = append(history, p)
		default:
			pending = append(pending, p)
		}
	}
	return pending, history
}
