package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/jonwraymond/cachegate/resilience"
)

// DefaultRedisPrefix namespaces counter keys in a shared Redis.
const DefaultRedisPrefix = "cachegate:"

// consumeScript checks both counters and increments them only if neither
// limit is reached. A limit of 0 is unlimited.
//
// Keys: KEYS[1] = monthly counter, KEYS[2] = minute counter
// Args: ARGV[1] = monthly limit, ARGV[2] = minute limit,
// ARGV[3] = monthly expiry (unix ms), ARGV[4] = minute expiry (unix ms)
// Returns: {decision, monthly, minute}
var consumeScript = redis.NewScript(`
local m = tonumber(redis.call("GET", KEYS[1]) or "0")
local r = tonumber(redis.call("GET", KEYS[2]) or "0")
local mlimit = tonumber(ARGV[1])
local rlimit = tonumber(ARGV[2])
if mlimit > 0 and m >= mlimit then
    return {1, m, r}
end
if rlimit > 0 and r >= rlimit then
    return {2, m, r}
end
m = redis.call("INCR", KEYS[1])
redis.call("PEXPIREAT", KEYS[1], ARGV[3])
r = redis.call("INCR", KEYS[2])
redis.call("PEXPIREAT", KEYS[2], ARGV[4])
return {0, m, r}
`)

// RedisCounterConfig holds configuration for the Redis counter store.
type RedisCounterConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string

	// Breaker guards the backend. Nil uses a breaker with default settings.
	Breaker *resilience.CircuitBreaker
}

// RedisCounterStore keeps counters in Redis, shared by every replica.
type RedisCounterStore struct {
	client  *redis.Client
	prefix  string
	breaker *resilience.CircuitBreaker
}

// NewRedisCounterStore creates a store with its own client.
func NewRedisCounterStore(cfg RedisCounterConfig) *RedisCounterStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisCounterStoreFromClient(client, cfg.KeyPrefix, cfg.Breaker)
}

// NewRedisCounterStoreFromClient creates a store using an existing client.
func NewRedisCounterStoreFromClient(client *redis.Client, prefix string, breaker *resilience.CircuitBreaker) *RedisCounterStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{})
	}
	return &RedisCounterStore{client: client, prefix: prefix, breaker: breaker}
}

// Consume implements CounterStore.
func (s *RedisCounterStore) Consume(ctx context.Context, principalID string, w Window, l Limits) (Result, error) {
	var vals []int64
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		vals, err = consumeScript.Run(ctx, s.client,
			[]string{s.prefix + monthKey(principalID, w), s.prefix + minuteKey(principalID, w)},
			l.Monthly, l.PerMinute, w.MonthReset.UnixMilli(), w.MinuteReset.UnixMilli(),
		).Int64Slice()
		return err
	})
	if err != nil {
		return Result{}, unavailable("consume", err)
	}
	if len(vals) != 3 {
		return Result{}, unavailable("consume", fmt.Errorf("unexpected reply of %d values", len(vals)))
	}
	return Result{Decision: Decision(vals[0]), Counts: Counts{Monthly: vals[1], Minute: vals[2]}}, nil
}

// Counts implements CounterStore.
func (s *RedisCounterStore) Counts(ctx context.Context, principalID string, w Window) (Counts, error) {
	var vals []any
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		vals, err = s.client.MGet(ctx, s.prefix+monthKey(principalID, w), s.prefix+minuteKey(principalID, w)).Result()
		return err
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return Counts{}, unavailable("counts", err)
	}
	var c Counts
	if len(vals) == 2 {
		c.Monthly = parseCount(vals[0])
		c.Minute = parseCount(vals[1])
	}
	return c, nil
}

// Ping checks the connection without going through the breaker, so health
// checks see the backend's real state.
func (s *RedisCounterStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisCounterStore) Close() error {
	return s.client.Close()
}

// BreakerState reports the circuit breaker state.
func (s *RedisCounterStore) BreakerState() resilience.State {
	return s.breaker.State()
}

func parseCount(v any) int64 {
	str, _ := v.(string)
	n, _ := strconv.ParseInt(str, 10, 64)
	return n
}

var _ CounterStore = (*RedisCounterStore)(nil)

