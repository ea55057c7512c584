package core

import (
	"context"
	"fmt"
	"time"

	"discord-antinuke-bot/internal/models"
	"discord-antinuke-bot/internal/redis"
)

// CounterTTL is the window of every rate counter, refreshed on each write.
const CounterTTL = time.Hour

// RateCounter counts destructive actions per (action, guild, principal) in
// the shared store. Counters of different principals never share a key.
type RateCounter struct {
	kv  *redis.Client
	ttl time.Duration
}

func NewRateCounter(kv *redis.Client) *RateCounter {
	return &RateCounter{kv: kv, ttl: CounterTTL}
}

// Incr atomically increments and re-arms the expiry, returning the new count.
func (r *RateCounter) Incr(ctx context.Context, action models.ActionKind, guildID, principalID string) (int64, error) {
	n, err := r.kv.IncrExpire(ctx, redis.RateCounterKey(string(action), guildID, principalID), r.ttl)
	if err != nil {
		return 0, fmt.Errorf("incr %s counter: %w", action, err)
	}
	return n, nil
}

// Decr undoes one increment; the counter never drops below zero.
func (r *RateCounter) Decr(ctx context.Context, action models.ActionKind, guildID, principalID string) (int64, error) {
	key := redis.RateCounterKey(string(action), guildID, principalID)
	n, err := r.kv.DecrExpire(ctx, key, r.ttl)
	if err != nil {
		return 0, fmt.Errorf("decr %s counter: %w", action, err)
	}
	if n < 0 {
		if err := r.kv.Set(ctx, key, 0, r.ttl); err != nil {
			return 0, err
		}
		return 0, nil
	}
	return n, nil
}

// Peek returns the current count without modifying it.
func (r *RateCounter) Peek(ctx context.Context, action models.ActionKind, guildID, principalID string) (int64, error) {
	v, err := r.kv.Get(ctx, redis.RateCounterKey(string(action), guildID, principalID))
	if redis.IsNil(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var n int64
	_, err = fmt.Sscan(v, &n)
	return n, err
}
