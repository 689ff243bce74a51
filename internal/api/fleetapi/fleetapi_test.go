package fleetapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/BearBump/LockerBox/internal/cache/rediscache"
	"github.com/BearBump/LockerBox/internal/models"
	"github.com/BearBump/LockerBox/internal/storage/pgaudit"
	"github.com/BearBump/LockerBox/internal/store"
	"github.com/BearBump/LockerBox/internal/store/redisstore"
)

type fakeLockerService struct {
	acked  []int
	resets int
	err    error
}

func (f *fakeLockerService) AcknowledgeBreach(_ context.Context, lockerID int) error {
	if f.err != nil {
		return f.err
	}
	f.acked = append(f.acked, lockerID)
	return nil
}

func (f *fakeLockerService) AdminReset(_ context.Context) error {
	if f.err != nil {
		return f.err
	}
	f.resets++
	return nil
}

type fakeEventStore struct {
	events []pgaudit.Event
}

func (f *fakeEventStore) ListEvents(_ context.Context, lockerID, limit int) ([]pgaudit.Event, error) {
	var out []pgaudit.Event
	for _, e := range f.events {
		if e.LockerID == lockerID {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeSubscriptionStore struct {
	saved   map[string][2]string
	deleted []string
}

func (f *fakeSubscriptionStore) SaveSubscription(_ context.Context, endpoint, p256dh, auth string) error {
	if f.saved == nil {
		f.saved = make(map[string][2]string)
	}
	f.saved[endpoint] = [2]string{p256dh, auth}
	return nil
}

func (f *fakeSubscriptionStore) DeleteSubscription(_ context.Context, endpoint string) error {
	f.deleted = append(f.deleted, endpoint)
	return nil
}

type fakePhotoStore struct {
	resolved []string
	fetched  []string
}

func (f *fakePhotoStore) Resolve(_ context.Context, object string) (string, error) {
	f.resolved = append(f.resolved, object)
	return "https://blob.local/" + object + "?X-Amz-Signature=test", nil
}

func (f *fakePhotoStore) Fetch(_ context.Context, object string) ([]byte, string, error) {
	f.fetched = append(f.fetched, object)
	return []byte("jpeg-bytes"), "image/jpeg", nil
}

func newTestAPI(t *testing.T) (*API, store.Store, *fakeLockerService, string) {
	t.Helper()
	mr := miniredis.RunT(t)
	st := redisstore.New(mr.Addr())
	require.NoError(t, st.Set(context.Background(), store.StatsKey,
		store.Doc{}.SetFloat(store.RevenueField, 0)))

	svc := &fakeLockerService{}
	api := New(st, svc, nil)
	return api, st, svc, mr.Addr()
}

func doRequest(t *testing.T, api *API, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)
	return rec
}

func doJSONRequest(t *testing.T, api *API, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReadiness(t *testing.T) {
	api, _, _, _ := newTestAPI(t)

	rec := doRequest(t, api, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, api, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestListLockersDerivesState(t *testing.T) {
	api, st, _, _ := newTestAPI(t)
	ctx := context.Background()

	breached := models.CanonicalSafeLocker(1)
	breached.SecurityStatus = models.SecurityBreach
	require.NoError(t, st.Set(ctx, store.LockerKey(1), breached.Doc()))

	occupied := models.CanonicalSafeLocker(2)
	occupied.IsOccupied = true
	occupied.WeightGrams = 120
	require.NoError(t, st.Set(ctx, store.LockerKey(2), occupied.Doc()))

	rec := doRequest(t, api, http.MethodGet, "/lockers")
	require.Equal(t, http.StatusOK, rec.Code)

	var out []lockerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	require.Equal(t, models.RenderBreach, out[0].State)
	require.True(t, out[0].Breach)
	require.Equal(t, models.RenderSecured, out[1].State)
	require.Equal(t, 120.0, out[1].WeightGrams)
}

func TestListEvents(t *testing.T) {
	api, _, _, _ := newTestAPI(t)
	api.WithEvents(&fakeEventStore{events: []pgaudit.Event{
		{ID: 1, LockerID: 3, Kind: "FORCED_ENTRY", CreatedAt: time.Now().UTC()},
		{ID: 2, LockerID: 4, Kind: "DROP_OFF_COMPLETED", CreatedAt: time.Now().UTC()},
	}})

	rec := doRequest(t, api, http.MethodGet, "/lockers/3/events")
	require.Equal(t, http.StatusOK, rec.Code)

	var out []eventResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	require.Equal(t, "FORCED_ENTRY", out[0].Kind)

	rec = doRequest(t, api, http.MethodGet, "/lockers/abc/events")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAcknowledgeBreach(t *testing.T) {
	api, _, svc, _ := newTestAPI(t)

	rec := doRequest(t, api, http.MethodPost, "/lockers/2/ack")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []int{2}, svc.acked)

	rec = doRequest(t, api, http.MethodPost, "/lockers/0/ack")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminResetIsRateLimited(t *testing.T) {
	api, _, svc, redisAddr := newTestAPI(t)
	api.WithRateLimiter(rediscache.NewRateLimiter(redisAddr), 2)

	for i := 0; i < 2; i++ {
		rec := doRequest(t, api, http.MethodPost, "/admin/reset")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := doRequest(t, api, http.MethodPost, "/admin/reset")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, 2, svc.resets)
}

func TestBlockedWriteMapsToForbidden(t *testing.T) {
	api, _, svc, _ := newTestAPI(t)
	svc.err = store.ErrBlocked

	rec := doRequest(t, api, http.MethodPost, "/lockers/1/ack")
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestParcelPhotoResolvesPresignedURL(t *testing.T) {
	api, st, _, _ := newTestAPI(t)
	photos := &fakePhotoStore{}
	api.WithPhotos(photos, photos)

	p := models.Parcel{Receiver: "alice", PhotoRef: "evidence/2026/08/29/abc", Status: models.ParcelAwaitingVerification}
	require.NoError(t, st.Set(context.Background(), store.ParcelKey("p1"), p.Doc()))

	rec := doRequest(t, api, http.MethodGet, "/parcels/p1/photo")
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, fmt.Sprintf("https://blob.local/%s?X-Amz-Signature=test", p.PhotoRef), out["url"])
	require.Equal(t, []string{p.PhotoRef}, photos.resolved)

	rec = doRequest(t, api, http.MethodGet, "/parcels/missing/photo")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestParcelPhotoRawStreamsBytes(t *testing.T) {
	api, st, _, _ := newTestAPI(t)
	photos := &fakePhotoStore{}
	api.WithPhotos(photos, photos)

	p := models.Parcel{Receiver: "bob", PhotoRef: "evidence/2026/08/29/def"}
	require.NoError(t, st.Set(context.Background(), store.ParcelKey("p2"), p.Doc()))

	rec := doRequest(t, api, http.MethodGet, "/parcels/p2/photo/raw")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	require.Equal(t, "jpeg-bytes", rec.Body.String())
	require.Equal(t, []string{p.PhotoRef}, photos.fetched)
}

func TestParcelPhotoWithoutResolverIsNotImplemented(t *testing.T) {
	api, st, _, _ := newTestAPI(t)
	p := models.Parcel{Receiver: "alice", PhotoRef: "evidence/x"}
	require.NoError(t, st.Set(context.Background(), store.ParcelKey("p1"), p.Doc()))

	rec := doRequest(t, api, http.MethodGet, "/parcels/p1/photo")
	require.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestSubscriptionRegistration(t *testing.T) {
	api, _, _, _ := newTestAPI(t)
	subs := &fakeSubscriptionStore{}
	api.WithSubscriptions(subs)

	rec := doJSONRequest(t, api, http.MethodPut, "/subscriptions",
		`{"endpoint":"https://push.example/ep1","p256dh":"key","auth":"secret"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, [2]string{"key", "secret"}, subs.saved["https://push.example/ep1"])

	rec = doJSONRequest(t, api, http.MethodPut, "/subscriptions",
		`{"endpoint":"https://push.example/ep1"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSONRequest(t, api, http.MethodDelete, "/subscriptions",
		`{"endpoint":"https://push.example/ep1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"https://push.example/ep1"}, subs.deleted)
}

func TestStatsReportsRevenue(t *testing.T) {
	api, st, _, _ := newTestAPI(t)
	_, err := st.IncrFloat(context.Background(), store.StatsKey, store.RevenueField, 50)
	require.NoError(t, err)

	rec := doRequest(t, api, http.MethodGet, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var out statsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, 50.0, out.Revenue)
}
