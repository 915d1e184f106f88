package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/gyaneshwarpardhi/uebax/internal/alert"
)

// RedisAlerts is an AlertStore on Redis. Each alert body is a JSON string,
// a sorted set indexes alerts by time, and create-if-absent takes a
// per-(kind, actor) latch key holding the alert id.
type RedisAlerts struct {
	client *redis.Client
	prefix string
	opts   options
}

// RedisOptions selects the Redis server and key namespace.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisAlerts connects to Redis. The connection is verified lazily; call Ping to check it.
func NewRedisAlerts(ro RedisOptions, opts ...Option) *RedisAlerts {
	prefix := ro.Prefix
	if prefix == "" {
		prefix = "uebax"
	}
	return &RedisAlerts{
		client: redis.NewClient(&redis.Options{
			Addr:     ro.Addr,
			Password: ro.Password,
			DB:       ro.DB,
		}),
		prefix: prefix,
		opts:   buildOptions(opts),
	}
}

func (r *RedisAlerts) Close() error { return r.client.Close() }

func (r *RedisAlerts) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping redis: %w", ErrUnavailable, err)
	}
	return nil
}

func (r *RedisAlerts) bodyKey(id string) string { return r.prefix + ":alert:" + id }
func (r *RedisAlerts) indexKey() string         { return r.prefix + ":alerts" }
func (r *RedisAlerts) latchKey(actor string, kind alert.Kind) string {
	return r.prefix + ":latch:" + string(kind) + ":" + actor
}

func (r *RedisAlerts) stamp(a *alert.Alert) (*alert.Alert, []byte, error) {
	stored := *a
	stored.ID = uuid.New().String()
	stored.OccurredAt = r.opts.now()
	data, err := json.Marshal(&stored)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal alert: %w", err)
	}
	return &stored, data, nil
}

func (r *RedisAlerts) Create(ctx context.Context, a *alert.Alert) (*alert.Alert, error) {
	stored, data, err := r.stamp(a)
	if err != nil {
		return nil, err
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, r.bodyKey(stored.ID), data, 0)
		p.ZAdd(ctx, r.indexKey(), redis.Z{Score: score(stored), Member: stored.ID})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create alert: %w", ErrUnavailable, err)
	}
	return stored, nil
}

// latchScript indexes the alert and takes the latch in one atomic step, or
// returns the id already holding it. ZADD runs first: if it fails the script
// aborts before the latch exists.
//
// KEYS[1] latch, KEYS[2] index. ARGV[1] score, ARGV[2] alert id.
var latchScript = redis.NewScript(`
local held = redis.call('GET', KEYS[1])
if held then
	return {0, held}
end
redis.call('ZADD', KEYS[2], ARGV[1], ARGV[2])
redis.call('SET', KEYS[1], ARGV[2])
return {1, ARGV[2]}
`)

// CreateIfAbsent writes the body before taking the latch, so a visible latch
// always points at an existing body. A losing or failed attempt removes its
// body again.
func (r *RedisAlerts) CreateIfAbsent(ctx context.Context, actor string, kind alert.Kind, build func() *alert.Alert) (*alert.Alert, bool, error) {
	a := build()
	a.Actor, a.Kind = actor, kind
	stored, data, err := r.stamp(a)
	if err != nil {
		return nil, false, err
	}

	body := r.bodyKey(stored.ID)
	if err := r.client.Set(ctx, body, data, 0).Err(); err != nil {
		return nil, false, fmt.Errorf("%w: write alert: %w", ErrUnavailable, err)
	}
	res, err := latchScript.Run(ctx, r.client,
		[]string{r.latchKey(actor, kind), r.indexKey()},
		strconv.FormatFloat(score(stored), 'f', -1, 64), stored.ID).Slice()
	if err != nil {
		_ = r.client.Del(context.WithoutCancel(ctx), body).Err()
		return nil, false, fmt.Errorf("%w: take latch: %w", ErrUnavailable, err)
	}
	won, _ := res[0].(int64)
	if won == 1 {
		return stored, true, nil
	}

	if err := r.client.Del(ctx, body).Err(); err != nil {
		return nil, false, fmt.Errorf("%w: discard alert: %w", ErrUnavailable, err)
	}
	id, _ := res[1].(string)
	existing, err := r.get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *RedisAlerts) get(ctx context.Context, id string) (*alert.Alert, error) {
	data, err := r.client.Get(ctx, r.bodyKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get alert: %w", ErrUnavailable, err)
	}
	var a alert.Alert
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode alert %s: %w", id, err)
	}
	return &a, nil
}

func (r *RedisAlerts) ListAlerts(ctx context.Context, f Filter) ([]*alert.Alert, error) {
	rng := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if !f.Since.IsZero() {
		rng.Min = strconv.FormatInt(f.Since.UnixMicro(), 10)
	}
	if !f.Until.IsZero() {
		rng.Max = "(" + strconv.FormatInt(f.Until.UnixMicro()+1, 10)
	}
	ids, err := r.client.ZRevRangeByScore(ctx, r.indexKey(), rng).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: list alerts: %w", ErrUnavailable, err)
	}
	out := make([]*alert.Alert, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.bodyKey(id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: load alerts: %w", ErrUnavailable, err)
	}
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var a alert.Alert
		if err := json.Unmarshal([]byte(s), &a); err != nil {
			return nil, fmt.Errorf("decode alert: %w", err)
		}
		if !f.matches(a.Actor, string(a.Kind), a.OccurredAt) {
			continue
		}
		out = append(out, &a)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func score(a *alert.Alert) float64 {
	return float64(a.OccurredAt.UnixMicro())
}
