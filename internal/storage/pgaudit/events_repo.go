package pgaudit

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

type Event struct {
	ID        int64
	LockerID  int
	Kind      string
	Detail    string
	CreatedAt time.Time
}

func (s *Storage) AppendEvent(ctx context.Context, lockerID int, kind, detail string) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO locker_events (locker_id, kind, detail)
VALUES ($1, $2, $3)
`, lockerID, kind, detail)
	return errors.Wrap(err, "insert locker event")
}

func (s *Storage) ListEvents(ctx context.Context, lockerID, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.Query(ctx, `
SELECT id, locker_id, kind, detail, created_at
FROM locker_events
WHERE locker_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2
`, lockerID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select locker events")
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.LockerID, &e.Kind, &e.Detail, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan locker event")
		}
		out = append(out, e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
