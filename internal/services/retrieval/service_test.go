package retrieval

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/BearBump/LockerBox/internal/models"
	"github.com/BearBump/LockerBox/internal/store"
	"github.com/BearBump/LockerBox/internal/store/redisstore"
)

type recordingWatchdog struct{ armed []int }

func (w *recordingWatchdog) Arm(ctx context.Context, lockerID int) {
	w.armed = append(w.armed, lockerID)
}

func securedLocker(t *testing.T, st store.Store, id int, token string) {
	t.Helper()
	l := models.CanonicalSafeLocker(id)
	l.IsOccupied = true
	l.UISession.IsConfirmed = true
	l.UISession.MonitorToken = &token
	require.NoError(t, st.Set(context.Background(), store.LockerKey(id), l.Doc()))
}

func readLocker(t *testing.T, st store.Store, id int) models.Locker {
	t.Helper()
	d, err := st.Get(context.Background(), store.LockerKey(id))
	require.NoError(t, err)
	return models.LockerFromDoc(id, d)
}

func TestScanSession_MismatchLeavesStateUntouched(t *testing.T) {
	mr := miniredis.RunT(t)
	st := redisstore.New(mr.Addr())
	wd := &recordingWatchdog{}
	svc := New(st, wd)
	ctx := context.Background()

	securedLocker(t, st, 1, "K7KDQ2ZP")
	sess, err := svc.ReadyToScan(ctx, 1, "K7KDQ2ZP")
	require.NoError(t, err)

	before := readLocker(t, st, 1)
	require.True(t, before.UISession.ReadyToScan)

	// No retry limit: repeated mismatches all reject locally.
	for i := 0; i < 3; i++ {
		err = sess.Attempt(ctx, "WRONGTOK")
		require.ErrorIs(t, err, ErrTokenMismatch)
	}

	after := readLocker(t, st, 1)
	require.Equal(t, before.Lifecycle, after.Lifecycle)
	require.Equal(t, before.LockCommand, after.LockCommand)
	require.True(t, after.UISession.ReadyToScan)
	require.Empty(t, wd.armed)

	// The session is still live: the correct token now succeeds.
	require.NoError(t, sess.Attempt(ctx, "K7KDQ2ZP"))
}

func TestScanSession_MatchUnlocksAndClearsSession(t *testing.T) {
	mr := miniredis.RunT(t)
	st := redisstore.New(mr.Addr())
	wd := &recordingWatchdog{}
	svc := New(st, wd)
	ctx := context.Background()

	securedLocker(t, st, 1, "K7KDQ2ZP")
	sess, err := svc.ReadyToScan(ctx, 1, "K7KDQ2ZP")
	require.NoError(t, err)

	require.NoError(t, sess.Attempt(ctx, "K7KDQ2ZP"))

	l := readLocker(t, st, 1)
	require.Equal(t, models.LifecyclePickingUp, l.Lifecycle)
	require.Equal(t, models.LockCommandUnlocked, l.LockCommand)
	require.True(t, l.LEDOn)
	require.Equal(t, models.DeliveryCompleted, l.UISession.DeliveryStatus)
	require.Nil(t, l.UISession.RiderName)
	require.Nil(t, l.UISession.RecipientIdentity)
	require.Nil(t, l.UISession.MonitorToken)
	require.False(t, l.UISession.ReadyToScan)
	require.Equal(t, []int{1}, wd.armed)
}

func TestScanSession_BlockedUnlockIsNotAScanFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	st := redisstore.New(mr.Addr()).WithGuard(func(key string, fields store.Doc) error {
		if _, ok := fields["lock_command"]; ok {
			return errors.New("unlock writes denied")
		}
		return nil
	})
	wd := &recordingWatchdog{}
	svc := New(st, wd)
	ctx := context.Background()

	sess, err := svc.ReadyToScan(ctx, 1, "K7KDQ2ZP")
	require.NoError(t, err)

	err = sess.Attempt(ctx, "K7KDQ2ZP")
	require.ErrorIs(t, err, store.ErrBlocked)
	require.NotErrorIs(t, err, ErrTokenMismatch)
	require.Empty(t, wd.armed)
}

func TestScanSession_CloseClearsReadyFlag(t *testing.T) {
	mr := miniredis.RunT(t)
	st := redisstore.New(mr.Addr())
	svc := New(st, &recordingWatchdog{})
	ctx := context.Background()

	sess, err := svc.ReadyToScan(ctx, 2, "AAAA1111")
	require.NoError(t, err)
	require.True(t, readLocker(t, st, 2).UISession.ReadyToScan)

	require.NoError(t, sess.Close(ctx))
	require.False(t, readLocker(t, st, 2).UISession.ReadyToScan)
}

func TestTokenSource_Format(t *testing.T) {
	ts := NewTokenSource(1)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		tok := ts.NewToken()
		require.Len(t, tok, 8)
		for _, c := range tok {
			require.Contains(t, tokenAlphabet, string(c))
		}
		seen[tok] = true
	}
	require.Greater(t, len(seen), 45)
}
