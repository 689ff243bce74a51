package store

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// ErrBlocked means a server-side rule rejected the write. Callers must
// surface it distinctly from validation or scan failures and must not retry
// without a credential change.
var ErrBlocked = errors.New("store: write blocked by authorization rule")

// Guard models server-side authorization rules. Returning an error (wrapped
// into ErrBlocked by implementations) rejects the write before it happens.
type Guard func(key string, fields Doc) error

// Event is one full-snapshot notification. Watchers receive the current
// state of every document under their prefix, not a delta; consumers diff
// against their own cached copy if they need change detection.
type Event struct {
	// Key of the document whose change triggered the notification. Empty
	// for the initial resync event.
	Key  string
	Docs map[string]Doc
}

type Subscription interface {
	// Events is closed when the subscription is cancelled or fails.
	Events() <-chan Event
	Close() error
}

// Store is the shared mutable document store all actors coordinate through.
// Notifications are at-least-once and order-preserving per key; there is no
// global order across keys and no multi-key transactions.
type Store interface {
	Get(ctx context.Context, key string) (Doc, error)
	// Update merges fields into the document (last-writer-wins per field).
	Update(ctx context.Context, key string, fields Doc) error
	// Set overwrites the whole document.
	Set(ctx context.Context, key string, fields Doc) error
	Delete(ctx context.Context, key string) error
	// Push appends a new document to a collection under a generated id.
	Push(ctx context.Context, collection string, fields Doc) (string, error)
	// IncrFloat atomically adds delta to a numeric field and returns the
	// new value. The store retries internally on conflict.
	IncrFloat(ctx context.Context, key, field string, delta float64) (float64, error)
	List(ctx context.Context, prefix string) (map[string]Doc, error)
	Watch(ctx context.Context, prefix string) (Subscription, error)
}

// Key space (§6): the whole coordination surface is these four prefixes.
const (
	ControlPrefix = "system_control"
	ParcelsPrefix = "parcels"
	WalletsPrefix = "user_wallets"
	StatsKey      = "system_stats"

	RevenueField = "total_revenue"
)

func LockerKey(id int) string {
	return fmt.Sprintf("%s/locker_%d", ControlPrefix, id)
}

func ParcelKey(id string) string {
	return ParcelsPrefix + "/" + id
}

func WalletKey(identity string) string {
	return WalletsPrefix + "/" + identity
}
