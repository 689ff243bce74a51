// Package session is the per-actor context object: an authenticated
// identity, the projections of shared state its role may see, and the
// reactor that keeps those projections current.
package session

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"

	"github.com/BearBump/LockerBox/internal/identity"
	"github.com/BearBump/LockerBox/internal/models"
	"github.com/BearBump/LockerBox/internal/services/parcels"
	"github.com/BearBump/LockerBox/internal/store"
)

const (
	PanelProcessing = "PROCESSING"
	PanelToken      = "TOKEN"
	PanelIdle       = "IDLE"
)

var ErrRoleDenied = errors.New("view is not available to this role")

// LockerView is the render-ready projection of one locker. State is always
// recomputed from the document, never read back from it.
type LockerView struct {
	ID          int
	State       string
	DoorState   string
	Occupied    bool
	Delivery    string
	ReadyToScan bool
}

// MonitorPanel is what the kiosk display shows for one locker.
type MonitorPanel struct {
	LockerID    int
	Mode        string
	Token       string
	CourierName string
}

type Session struct {
	id    identity.Identity
	st    store.Store
	views *gocache.Cache

	onChange func([]LockerView)
	cancel   context.CancelFunc
}

func New(st store.Store, id identity.Identity) *Session {
	return &Session{
		id:    id,
		st:    st,
		views: gocache.New(gocache.NoExpiration, 10*time.Minute),
	}
}

// WithOnChange registers a callback invoked from the reactor goroutine after
// every reconciled snapshot.
func (s *Session) WithOnChange(fn func([]LockerView)) *Session {
	s.onChange = fn
	return s
}

func (s *Session) Identity() identity.Identity { return s.id }

// Run subscribes to the coordination surface and reconciles the view cache
// on every notification. It blocks until ctx is cancelled or Close is
// called; events are handled one at a time.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	lockerSub, err := s.st.Watch(ctx, store.ControlPrefix)
	if err != nil {
		return errors.Wrap(err, "watch lockers")
	}
	defer lockerSub.Close()

	parcelSub, err := s.st.Watch(ctx, store.ParcelsPrefix)
	if err != nil {
		return errors.Wrap(err, "watch parcels")
	}
	defer parcelSub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-lockerSub.Events():
			if !ok {
				return nil
			}
			s.reconcile(ev.Docs)
		case _, ok := <-parcelSub.Events():
			if !ok {
				return nil
			}
			s.notifyChange()
		}
	}
}

// Close tears the session down. Safe to call before Run.
func (s *Session) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

func (s *Session) reconcile(docs map[string]store.Doc) {
	s.views.Flush()
	for key, d := range docs {
		id, ok := lockerIDFromKey(key)
		if !ok {
			continue
		}
		l := models.LockerFromDoc(id, d)
		s.views.Set(viewKey(id), viewOf(l), gocache.NoExpiration)
	}
	s.notifyChange()
}

func (s *Session) notifyChange() {
	if s.onChange == nil {
		return
	}
	s.onChange(s.cachedViews())
}

// LockerViews is visible to every role. It serves from the reconciled cache
// when the reactor has populated it and falls back to a direct read.
func (s *Session) LockerViews(ctx context.Context) ([]LockerView, error) {
	if views := s.cachedViews(); len(views) > 0 {
		return views, nil
	}
	docs, err := s.st.List(ctx, store.ControlPrefix)
	if err != nil {
		return nil, errors.Wrap(err, "list lockers")
	}
	s.reconcile(docs)
	return s.cachedViews(), nil
}

// PendingParcels lists undelivered parcels: couriers see the whole backlog,
// recipients only what is addressed to them.
func (s *Session) PendingParcels(ctx context.Context) ([]models.Parcel, error) {
	if s.id.Role == identity.RoleMonitor {
		return nil, ErrRoleDenied
	}
	pending, _, err := s.splitParcels(ctx)
	if err != nil {
		return nil, err
	}
	if s.id.Role == identity.RoleRecipient {
		pending = s.ownParcels(pending)
	}
	return pending, nil
}

// HistoryParcels lists settled, picked-up and rejected parcels under the
// same role scoping as PendingParcels.
func (s *Session) HistoryParcels(ctx context.Context) ([]models.Parcel, error) {
	if s.id.Role == identity.RoleMonitor {
		return nil, ErrRoleDenied
	}
	_, history, err := s.splitParcels(ctx)
	if err != nil {
		return nil, err
	}
	if s.id.Role == identity.RoleRecipient {
		history = s.ownParcels(history)
	}
	return history, nil
}

// MonitorPanels projects each locker into the kiosk display. An active
// drop-off or pick-up always shows PROCESSING; the scan token is only
// surfaced once the recipient has asked for it and a token exists.
func (s *Session) MonitorPanels(ctx context.Context) ([]MonitorPanel, error) {
	if s.id.Role != identity.RoleMonitor {
		return nil, ErrRoleDenied
	}
	docs, err := s.st.List(ctx, store.ControlPrefix)
	if err != nil {
		return nil, errors.Wrap(err, "list lockers")
	}
	panels := make([]MonitorPanel, 0, len(docs))
	for key, d := range docs {
		id, ok := lockerIDFromKey(key)
		if !ok {
			continue
		}
		l := models.LockerFromDoc(id, d)
		panel := MonitorPanel{LockerID: id, Mode: PanelIdle}
		switch {
		case l.Lifecycle == models.LifecycleDroppingOff || l.Lifecycle == models.LifecyclePickingUp:
			panel.Mode = PanelProcessing
			if l.UISession.RiderName != nil {
				panel.CourierName = *l.UISession.RiderName
			}
		case l.UISession.ReadyToScan && l.UISession.MonitorToken != nil:
			panel.Mode = PanelToken
			panel.Token = *l.UISession.MonitorToken
		}
		panels = append(panels, panel)
	}
	sort.Slice(panels, func(i, j int) bool { return panels[i].LockerID < panels[j].LockerID })
	return panels, nil
}

func (s *Session) splitParcels(ctx context.Context) (pending, history []models.Parcel, err error) {
	docs, err := s.st.List(ctx, store.ParcelsPrefix)
	if err != nil {
		return nil, nil, errors.Wrap(err, "list parcels")
	}
	all := make([]models.Parcel, 0, len(docs))
	for key, d := range docs {
		id := strings.TrimPrefix(key, store.ParcelsPrefix+"/")
		all = append(all, models.ParcelFromDoc(id, d))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	pending, history = parcels.Split(all)
	return pending, history, nil
}

func (s *Session) ownParcels(in []models.Parcel) []models.Parcel {
	out := make([]models.Parcel, 0, len(in))
	for _, p := range in {
		if p.Receiver == s.id.Subject || (s.id.Email != "" && p.Receiver == s.id.Email) {
			out = append(out, p)
		}
	}
	return out
}

func (s *Session) cachedViews() []LockerView {
	items := s.views.Items()
	views := make([]LockerView, 0, len(items))
	for _, item := range items {
		if v, ok := item.Object.(LockerView); ok {
			views = append(views, v)
		}
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views
}

func viewOf(l models.Locker) LockerView {
	return LockerView{
		ID:          l.ID,
		State:       models.DeriveState(l),
		DoorState:   l.DoorState,
		Occupied:    l.IsOccupied,
		Delivery:    l.UISession.DeliveryStatus,
		ReadyToScan: l.UISession.ReadyToScan,
	}
}

func viewKey(id int) string {
	return fmt.Sprintf("locker:%d", id)
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
