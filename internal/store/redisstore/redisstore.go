package redisstore

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/BearBump/LockerBox/internal/store"
)

// changeChannel carries the key of every mutated document. Watchers do a
// full re-read on each notification (no delta semantics).
const changeChannel = "store:changed"

// Store keeps one Redis hash per document. HSET gives last-writer-wins
// merge per field, HINCRBYFLOAT is the single atomic read-modify-write
// primitive, pub/sub fans change notifications out to subscribers.
type Store struct {
	c     *redis.Client
	guard store.Guard
}

func New(addr string) *Store {
	return &Store{
		c: redis.NewClient(&redis.Options{
			Addr: addr,
		}),
	}
}

// WithGuard installs the server-side write rules. Rejected writes return
// store.ErrBlocked.
func (s *Store) WithGuard(g store.Guard) *Store {
	s.guard = g
	return s
}

func (s *Store) Get(ctx context.Context, key string) (store.Doc, error) {
	vals, err := s.c.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis hgetall")
	}
	return store.Doc(vals), nil
}

func (s *Store) Update(ctx context.Context, key string, fields store.Doc) error {
	if len(fields) == 0 {
		return nil
	}
	if err := s.checkGuard(key, fields); err != nil {
		return err
	}
	if err := s.c.HSet(ctx, key, flatten(fields)...).Err(); err != nil {
		return errors.Wrap(err, "redis hset")
	}
	return s.notify(ctx, key)
}

func (s *Store) Set(ctx context.Context, key string, fields store.Doc) error {
	if err := s.checkGuard(key, fields); err != nil {
		return err
	}
	pipe := s.c.TxPipeline()
	pipe.Del(ctx, key)
	if len(fields) > 0 {
		pipe.HSet(ctx, key, flatten(fields)...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "redis set doc")
	}
	return s.notify(ctx, key)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.checkGuard(key, nil); err != nil {
		return err
	}
	if err := s.c.Del(ctx, key).Err(); err != nil {
		return errors.Wrap(err, "redis del")
	}
	return s.notify(ctx, key)
}

func (s *Store) Push(ctx context.Context, collection string, fields store.Doc) (string, error) {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	key := collection + "/" + id
	if err := s.checkGuard(key, fields); err != nil {
		return "", err
	}
	if err := s.c.HSet(ctx, key, flatten(fields)...).Err(); err != nil {
		return "", errors.Wrap(err, "redis push")
	}
	return id, s.notify(ctx, key)
}

func (s *Store) IncrFloat(ctx context.Context, key, field string, delta float64) (float64, error) {
	if err := s.checkGuard(key, store.Doc{field: ""}); err != nil {
		return 0, err
	}
	v, err := s.c.HIncrByFloat(ctx, key, field, delta).Result()
	if err != nil {
		return 0, errors.Wrap(err, "redis hincrbyfloat")
	}
	return v, s.notify(ctx, key)
}

func (s *Store) List(ctx context.Context, prefix string) (map[string]store.Doc, error) {
	out := make(map[string]store.Doc)
	iter := s.c.Scan(ctx, 0, prefix+"/*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		vals, err := s.c.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, errors.Wrap(err, "redis hgetall")
		}
		if len(vals) == 0 {
			// Deleted between SCAN and HGETALL.
			continue
		}
		out[key] = store.Doc(vals)
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "redis scan")
	}
	return out, nil
}

func (s *Store) Watch(ctx context.Context, prefix string) (store.Subscription, error) {
	ps := s.c.Subscribe(ctx, changeChannel)
	// Force the SUBSCRIBE round-trip so no notification published after
	// Watch returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, errors.Wrap(err, "redis subscribe")
	}

	sub := &subscription{
		events: make(chan store.Event, 16),
		ps:     ps,
	}

	go func() {
		defer close(sub.events)

		// Initial full resync.
		if !sub.emit(ctx, s, prefix, "") {
			return
		}
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				key := msg.Payload
				if !strings.HasPrefix(key, prefix+"/") && key != prefix {
					continue
				}
				if !sub.emit(ctx, s, prefix, key) {
					return
				}
			}
		}
	}()

	return sub, nil
}

type subscription struct {
	events chan store.Event
	ps     *redis.PubSub
}

func (sub *subscription) emit(ctx context.Context, s *Store, prefix, key string) bool {
	docs, err := s.List(ctx, prefix)
	if err != nil {
		slog.Error("store watch resync", "prefix", prefix, "error", err.Error())
		return false
	}
	select {
	case sub.events <- store.Event{Key: key, Docs: docs}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (sub *subscription) Events() <-chan store.Event {
	return sub.events
}

func (sub *subscription) Close() error {
	return sub.ps.Close()
}

func (s *Store) checkGuard(key string, fields store.Doc) error {
	if s.guard == nil {
		return nil
	}
	if err := s.guard(key, fields); err != nil {
		return errors.WithMessage(store.ErrBlocked, err.Error())
	}
	return nil
}

func (s *Store) notify(ctx context.Context, key string) error {
	if err := s.c.Publish(ctx, changeChannel, key).Err(); err != nil {
		return errors.Wrap(err, "redis publish")
	}
	return nil
}

func flatten(fields store.Doc) []any {
	kv := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	return kv
}
