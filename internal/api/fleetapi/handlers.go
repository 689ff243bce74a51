package fleetapi

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/LockerBox/internal/models"
	"github.com/BearBump/LockerBox/internal/services/bridge"
	"github.com/BearBump/LockerBox/internal/services/watchdog"
	"github.com/BearBump/LockerBox/internal/store"
)

type lockerResponse struct {
	ID          int     `json:"id"`
	State       string  `json:"state"`
	DoorState   string  `json:"door_state"`
	LockCommand string  `json:"lock_command"`
	Occupied    bool    `json:"occupied"`
	WeightGrams float64 `json:"weight_grams"`
	Breach      bool    `json:"breach"`
	Delivery    string  `json:"delivery_status"`
}

type eventResponse struct {
	ID        int64     `json:"id"`
	LockerID  int       `json:"locker_id"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type statsResponse struct {
	Revenue  float64        `json:"total_revenue"`
	Watchdog watchdog.Stats `json:"watchdog"`
	Bridge   bridge.Stats   `json:"bridge"`
}

func (a *API) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if _, err := a.st.Get(r.Context(), store.StatsKey); err != nil {
		a.writeError(w, http.StatusServiceUnavailable, errors.Wrap(err, "store not reachable"))
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (a *API) handleListLockers(w http.ResponseWriter, r *http.Request) {
	docs, err := a.st.List(r.Context(), store.ControlPrefix)
	if err != nil {
		a.writeError(w, statusOf(err), err)
		return
	}
	out := make([]lockerResponse, 0, len(docs))
	for key, d := range docs {
		id, ok := lockerIDFromKey(key)
		if !ok {
			continue
		}
		l := models.LockerFromDoc(id, d)
		out = append(out, lockerResponse{
			ID:          l.ID,
			State:       models.DeriveState(l),
			DoorState:   l.DoorState,
			LockCommand: l.LockCommand,
			Occupied:    l.IsOccupied,
			WeightGrams: l.WeightGrams,
			Breach:      l.SecurityStatus == models.SecurityBreach,
			Delivery:    l.UISession.DeliveryStatus,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	a.writeJSON(w, http.StatusOK, out)
}

func (a *API) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if a.events == nil {
		a.writeError(w, http.StatusNotImplemented, errors.New("audit log is not configured"))
		return
	}
	id, err := lockerIDParam(r)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	evs, err := a.events.ListEvents(r.Context(), id, limit)
	if err != nil {
		a.writeError(w, statusOf(err), err)
		return
	}
	out := make([]eventResponse, 0, len(evs))
	for _, e := range evs {
		out = append(out, eventResponse{
			ID:        e.ID,
			LockerID:  e.LockerID,
			Kind:      e.Kind,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt,
		})
	}
	a.writeJSON(w, http.StatusOK, out)
}

func (a *API) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	id, err := lockerIDParam(r)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.lockers.AcknowledgeBreach(r.Context(), id); err != nil {
		a.writeError(w, statusOf(err), err)
		return
	}
	a.log.Info("breach acknowledged", "locker_id", id)
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

func (a *API) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	if a.rl != nil {
		ok, n, err := a.rl.Allow(r.Context(), "rl:admin_reset", a.resetPerMinute, time.Minute)
		if err != nil {
			a.writeError(w, http.StatusInternalServerError, err)
			return
		}
		if !ok {
			a.log.Warn("admin reset throttled", "count", n)
			a.writeError(w, http.StatusTooManyRequests, errors.New("reset limit reached, try again later"))
			return
		}
	}
	if err := a.lockers.AdminReset(r.Context()); err != nil {
		a.writeError(w, statusOf(err), err)
		return
	}
	a.log.Info("fleet reset to canonical state")
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// handleParcelPhoto resolves one parcel's evidence object into a
// presigned URL. The resolver is expected to cache the signed URL.
func (a *API) handleParcelPhoto(w http.ResponseWriter, r *http.Request) {
	if a.photos == nil {
		a.writeError(w, http.StatusNotImplemented, errors.New("photo evidence is not configured"))
		return
	}
	p, ok := a.parcelFor(w, r)
	if !ok {
		return
	}
	url, err := a.photos.Resolve(r.Context(), p.PhotoRef)
	if err != nil {
		a.writeError(w, statusOf(err), err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// handleParcelPhotoRaw streams the evidence bytes for clients without a
// route to the object store endpoint.
func (a *API) handleParcelPhotoRaw(w http.ResponseWriter, r *http.Request) {
	if a.fetcher == nil {
		a.writeError(w, http.StatusNotImplemented, errors.New("photo evidence is not configured"))
		return
	}
	p, ok := a.parcelFor(w, r)
	if !ok {
		return
	}
	data, contentType, err := a.fetcher.Fetch(r.Context(), p.PhotoRef)
	if err != nil {
		a.writeError(w, statusOf(err), err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		a.log.Error("write photo response failed", "error", err)
	}
}

func (a *API) parcelFor(w http.ResponseWriter, r *http.Request) (models.Parcel, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		a.writeError(w, http.StatusBadRequest, errors.New("invalid parcel id"))
		return models.Parcel{}, false
	}
	d, err := a.st.Get(r.Context(), store.ParcelKey(id))
	if err != nil {
		a.writeError(w, statusOf(err), err)
		return models.Parcel{}, false
	}
	if len(d) == 0 {
		a.writeError(w, http.StatusNotFound, errors.New("parcel not found"))
		return models.Parcel{}, false
	}
	p := models.ParcelFromDoc(id, d)
	if p.PhotoRef == "" {
		a.writeError(w, http.StatusNotFound, errors.New("parcel has no photo evidence"))
		return models.Parcel{}, false
	}
	return p, true
}

type subscriptionRequest struct {
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
}

func (a *API) handlePutSubscription(w http.ResponseWriter, r *http.Request) {
	if a.subs == nil {
		a.writeError(w, http.StatusNotImplemented, errors.New("push subscriptions are not configured"))
		return
	}
	var req subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, errors.Wrap(err, "decode subscription"))
		return
	}
	if req.Endpoint == "" || req.P256dh == "" || req.Auth == "" {
		a.writeError(w, http.StatusBadRequest, errors.New("endpoint, p256dh and auth are required"))
		return
	}
	if err := a.subs.SaveSubscription(r.Context(), req.Endpoint, req.P256dh, req.Auth); err != nil {
		a.writeError(w, statusOf(err), err)
		return
	}
	a.writeJSON(w, http.StatusCreated, map[string]string{"status": "subscribed"})
}

func (a *API) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	if a.subs == nil {
		a.writeError(w, http.StatusNotImplemented, errors.New("push subscriptions are not configured"))
		return
	}
	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, errors.Wrap(err, "decode subscription"))
		return
	}
	if req.Endpoint == "" {
		a.writeError(w, http.StatusBadRequest, errors.New("endpoint is required"))
		return
	}
	if err := a.subs.DeleteSubscription(r.Context(), req.Endpoint); err != nil {
		a.writeError(w, statusOf(err), err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "unsubscribed"})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{}
	if d, err := a.st.Get(r.Context(), store.StatsKey); err == nil {
		resp.Revenue = d.Float(store.RevenueField)
	}
	if a.wdStats != nil {
		resp.Watchdog = a.wdStats.Stats()
	}
	if a.brStats != nil {
		resp.Bridge = a.brStats.Stats()
	}
	a.writeJSON(w, http.StatusOK, resp)
}
