package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jonboulle/clockwork"
)

// Redis implements Store on a Redis server. Expiry is delegated to Redis key
// TTLs, so PurgeExpired has nothing to do. It does not implement Queue; pair
// it with SQLite for the sync queue.
type Redis struct {
	client    *redis.Client
	namespace string
	clock     clockwork.Clock
}

type redisEnvelope struct {
	Payload   []byte `json:"p"`
	Source    string `json:"s"`
	CachedAt  int64  `json:"c"`
	ExpiresAt int64  `json:"e"`
}

// NewRedis wraps a client. Keys are stored under namespace + ":".
func NewRedis(client *redis.Client, namespace string, clock clockwork.Clock) *Redis {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Redis{client: client, namespace: namespace, clock: clock}
}

func (r *Redis) key(k string) string {
	if r.namespace == "" {
		return k
	}
	return r.namespace + ":" + k
}

func (r *Redis) unkey(k string) string {
	if r.namespace == "" {
		return k
	}
	return k[len(r.namespace)+1:]
}

func (r *Redis) Get(ctx context.Context, key string) (Entry, error) {
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, unavailable("reading "+key, err)
	}
	e, err := decodeEnvelope(key, raw)
	if err != nil {
		return Entry{}, unavailable("decoding "+key, err)
	}
	// Redis expiry has one-second granularity on some paths.
	if e.Expired(r.clock.Now()) {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (r *Redis) Put(ctx context.Context, e Entry) error {
	if err := e.validate(); err != nil {
		return err
	}
	ttl := e.ExpiresAt.Sub(r.clock.Now())
	if ttl <= 0 {
		return r.Delete(ctx, e.Key)
	}
	raw, err := json.Marshal(redisEnvelope{
		Payload:   e.Payload,
		Source:    e.Source,
		CachedAt:  e.CachedAt.UnixMilli(),
		ExpiresAt: e.ExpiresAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("encoding %s: %w", e.Key, err)
	}
	if err := r.client.Set(ctx, r.key(e.Key), raw, ttl).Err(); err != nil {
		return unavailable("writing "+e.Key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return unavailable("deleting "+key, err)
	}
	return nil
}

func (r *Redis) ScanPrefix(ctx context.Context, prefix string) ([]Entry, error) {
	var out []Entry
	iter := r.client.Scan(ctx, 0, r.key(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		full := iter.Val()
		raw, err := r.client.Get(ctx, full).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, unavailable("scanning "+prefix, err)
		}
		e, err := decodeEnvelope(r.unkey(full), raw)
		if err != nil || e.Expired(r.clock.Now()) {
			continue
		}
		out = append(out, e)
	}
	if err := iter.Err(); err != nil {
		return nil, unavailable("scanning "+prefix, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (r *Redis) PurgeExpired(context.Context) (int, error) {
	return 0, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// Ping checks the server is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return unavailable("pinging redis", err)
	}
	return nil
}

func decodeEnvelope(key string, raw []byte) (Entry, error) {
	var env redisEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Entry{}, err
	}
	return Entry{
		Key:       key,
		Payload:   env.Payload,
		Source:    env.Source,
		CachedAt:  time.UnixMilli(env.CachedAt),
		ExpiresAt: time.UnixMilli(env.ExpiresAt),
	}, nil
}
