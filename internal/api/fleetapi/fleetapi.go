// Package fleetapi is the operator-facing HTTP surface: fleet snapshots,
// per-locker audit history, breach acknowledgement, photo evidence,
// push-subscription registration and the maintenance reset.
package fleetapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/BearBump/LockerBox/internal/services/bridge"
	"github.com/BearBump/LockerBox/internal/services/watchdog"
	"github.com/BearBump/LockerBox/internal/storage/pgaudit"
	"github.com/BearBump/LockerBox/internal/store"
)

type LockerService interface {
	AcknowledgeBreach(ctx context.Context, lockerID int) error
	AdminReset(ctx context.Context) error
}

type EventStore interface {
	ListEvents(ctx context.Context, lockerID, limit int) ([]pgaudit.Event, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type SubscriptionStore interface {
	SaveSubscription(ctx context.Context, endpoint, p256dh, auth string) error
	DeleteSubscription(ctx context.Context, endpoint string) error
}

// PhotoResolver turns a stored evidence object into a presigned URL.
type PhotoResolver interface {
	Resolve(ctx context.Context, object string) (string, error)
}

// PhotoFetcher proxies the evidence bytes for clients that cannot reach
// the object store directly.
type PhotoFetcher interface {
	Fetch(ctx context.Context, object string) ([]byte, string, error)
}

type WatchdogStats interface {
	Stats() watchdog.Stats
}

type BridgeStats interface {
	Stats() bridge.Stats
}

type API struct {
	st      store.Store
	lockers LockerService
	events  EventStore
	rl      RateLimiter
	subs    SubscriptionStore
	photos  PhotoResolver
	fetcher PhotoFetcher
	wdStats WatchdogStats
	brStats BridgeStats

	resetPerMinute int64
	swaggerPath    string
	log            *slog.Logger
}

func New(st store.Store, lockers LockerService, log *slog.Logger) *API {
	if log == nil {
		log = slog.Default()
	}
	return &API{st: st, lockers: lockers, resetPerMinute: 2, log: log}
}

func (a *API) WithEvents(events EventStore) *API {
	a.events = events
	return a
}

func (a *API) WithRateLimiter(rl RateLimiter, resetPerMinute int) *API {
	a.rl = rl
	if resetPerMinute > 0 {
		a.resetPerMinute = int64(resetPerMinute)
	}
	return a
}

func (a *API) WithSubscriptions(subs SubscriptionStore) *API {
	a.subs = subs
	return a
}

func (a *API) WithPhotos(resolver PhotoResolver, fetcher PhotoFetcher) *API {
	a.photos = resolver
	a.fetcher = fetcher
	return a
}

func (a *API) WithStats(wd WatchdogStats, br BridgeStats) *API {
	a.wdStats = wd
	a.brStats = br
	return a
}

func (a *API) WithSwagger(path string) *API {
	a.swaggerPath = path
	return a
}

func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.handleHealthz)
	r.Get("/readyz", a.handleReadyz)
	r.Get("/lockers", a.handleListLockers)
	r.Get("/lockers/{id}/events", a.handleListEvents)
	r.Post("/lockers/{id}/ack", a.handleAcknowledge)
	r.Post("/admin/reset", a.handleAdminReset)
	r.Get("/parcels/{id}/photo", a.handleParcelPhoto)
	r.Get("/parcels/{id}/photo/raw", a.handleParcelPhotoRaw)
	r.Put("/subscriptions", a.handlePutSubscription)
	r.Delete("/subscriptions", a.handleDeleteSubscription)
	r.Get("/stats", a.handleStats)

	if a.swaggerPath != "" {
		r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
			http.ServeFile(w, r, a.swaggerPath)
		})
		r.Get("/docs/*", httpSwagger.Handler(
			httpSwagger.URL("/swagger.json"),
		))
	}
	return r
}

// Serve runs the API until ctx is cancelled, in the same shape the other
// daemon goroutines use.
func (a *API) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: a.Router()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	a.log.Info("ops API listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// SwaggerFileExists rejects a misconfigured docs path at startup instead of
// serving 404s.
func SwaggerFileExists(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return errors.Wrap(err, "swagger file")
	}
	return nil
}

func (a *API) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Error("encode response failed", "error", err)
	}
}

func (a *API) writeError(w http.ResponseWriter, code int, err error) {
	a.writeJSON(w, code, map[string]string{"error": err.Error()})
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

func lockerIDParam(r *http.Request) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		return 0, errors.New("invalid locker id")
	}
	return id, nil
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, store.ErrBlocked):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
