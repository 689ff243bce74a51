package parcels

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/BearBump/LockerBox/internal/models"
	"github.com/BearBump/LockerBox/internal/store"
	"github.com/BearBump/LockerBox/internal/store/redisstore"
)

func newService(t *testing.T) (*Service, store.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	st := redisstore.New(mr.Addr())
	return New(st, 100.00), st
}

func pushParcel(t *testing.T, st store.Store, p models.Parcel) string {
	t.Helper()
	id, err := st.Push(context.Background(), store.ParcelsPrefix, p.Doc())
	require.NoError(t, err)
	return id
}

func testParcel() models.Parcel {
	return models.Parcel{
		Receiver:      "Jane",
		CourierName:   "Alexis",
		Amount:        50,
		PaymentType:   models.PaymentPayLater,
		PaymentStatus: models.PaymentStatusPending,
		LockerID:      1,
		SecureToken:   "K7KDQ2ZP",
		Status:        models.ParcelAwaitingVerification,
		CreatedAt:     time.Now().UTC(),
	}
}

func TestVerify_AuthorizeConfirmsLockerSession(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	id := pushParcel(t, st, testParcel())

	require.NoError(t, svc.Verify(ctx, id, true))

	p, err := svc.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.ParcelVerified, p.Status)

	d, err := st.Get(ctx, store.LockerKey(1))
	require.NoError(t, err)
	require.True(t, models.LockerFromDoc(1, d).UISession.IsConfirmed)
}

func TestVerify_RejectNotifiesCourier(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	id := pushParcel(t, st, testParcel())

	require.NoError(t, svc.Verify(ctx, id, false))

	p, err := svc.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.ParcelRejected, p.Status)

	d, err := st.Get(ctx, store.LockerKey(1))
	require.NoError(t, err)
	require.Equal(t, models.DeliveryRejected, models.LockerFromDoc(1, d).UISession.DeliveryStatus)
}

func TestVerify_UnknownParcel(t *testing.T) {
	svc, _ := newService(t)
	require.ErrorIs(t, svc.Verify(context.Background(), "missing", true), ErrNotFound)
}

func TestBalance_LazySeedOnFirstAccess(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	bal, err := svc.Balance(ctx, "jane@example.com")
	require.NoError(t, err)
	require.InDelta(t, 100.00, bal, 1e-9)

	// Second read does not reseed.
	bal, err = svc.Balance(ctx, "jane@example.com")
	require.NoError(t, err)
	require.InDelta(t, 100.00, bal, 1e-9)
}

func TestSettle_DebitsWalletAndIncrementsRevenue(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	p := testParcel()
	p.Status = models.ParcelVerified
	id := pushParcel(t, st, p)

	bal, err := svc.Settle(ctx, id, "jane@example.com")
	require.NoError(t, err)
	require.InDelta(t, 50.00, bal, 1e-9)

	got, err := svc.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.PaymentStatusCompleted, got.PaymentStatus)

	stats, err := st.Get(ctx, store.StatsKey)
	require.NoError(t, err)
	require.InDelta(t, 50.00, stats.Float(store.RevenueField), 1e-9)

	require.True(t, svc.RetrievalReady(*got))
}

func TestSettle_InsufficientFundsLeavesEverythingUntouched(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	p := testParcel()
	p.Amount = 250
	id := pushParcel(t, st, p)

	bal, err := svc.Settle(ctx, id, "jane@example.com")
	require.ErrorIs(t, err, ErrInsufficientFunds)
	require.InDelta(t, 100.00, bal, 1e-9)

	got, err := svc.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.PaymentStatusPending, got.PaymentStatus)

	stats, err := st.Get(ctx, store.StatsKey)
	require.NoError(t, err)
	require.InDelta(t, 0.0, stats.Float(store.RevenueField), 1e-9)
}

func TestSplit_ProjectsPendingAndHistory(t *testing.T) {
	base := testParcel()
	mk := func(status string) models.Parcel {
		p := base
		p.Status = status
		return p
	}
	pending, history := Split([]models.Parcel{
		mk(models.ParcelAwaitingVerification),
		mk(models.ParcelVerified),
		mk(models.ParcelReady),
		mk(models.ParcelPickedUp),
		mk(models.ParcelCompleted),
		mk(models.ParcelRejected),
	})
	require.Len(t, pending, 2)
	require.Len(t, history, 3)
}

func TestList_SortsByCreation(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	older := testParcel()
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	newer := testParcel()
	newer.Receiver = "John"

	pushParcel(t, st, newer)
	pushParcel(t, st, older)

	got, err := svc.List(ctx, store.ParcelsPrefix)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "Jane", got[0].Receiver)
	require.Equal(t, "John", got[1].Receiver)
}
