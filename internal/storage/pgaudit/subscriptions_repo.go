package pgaudit

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

type Subscription struct {
	ID        int64
	Endpoint  string
	P256dh    string
	Auth      string
	CreatedAt time.Time
}

// SaveSubscription upserts by endpoint: a browser re-subscribing with fresh
// keys replaces its old record instead of duplicating it.
func (s *Storage) SaveSubscription(ctx context.Context, endpoint, p256dh, auth string) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO push_subscriptions (endpoint, p256dh, auth)
VALUES ($1, $2, $3)
ON CONFLICT (endpoint) DO UPDATE SET p256dh = EXCLUDED.p256dh, auth = EXCLUDED.auth
`, endpoint, p256dh, auth)
	return errors.Wrap(err, "save push subscription")
}

func (s *Storage) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, endpoint, p256dh, auth, created_at
FROM push_subscriptions
ORDER BY id
`)
	if err != nil {
		return nil, errors.Wrap(err, "select push subscriptions")
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		var sub Subscription
		if err := rows.Scan(&sub.ID, &sub.Endpoint, &sub.P256dh, &sub.Auth, &sub.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan push subscription")
		}
		out = append(out, sub)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) DeleteSubscription(ctx context.Context, endpoint string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM push_subscriptions WHERE endpoint = $1`, endpoint)
	return errors.Wrap(err, "delete push subscription")
}
