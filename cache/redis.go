package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces entry keys in a shared Redis.
const DefaultRedisPrefix = "cachegate:entry:"

const scanBatch = 500

// touchScript increments the access counter only when the entry exists, so a
// read racing an invalidation never resurrects a partial hash.
//
// Keys: KEYS[1] = entry key
// Args: ARGV[1] = access time (unix nanoseconds)
var touchScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
    return 0
end
redis.call("HINCRBY", KEYS[1], "access_count", 1)
redis.call("HSET", KEYS[1], "last_accessed_at", ARGV[1])
return 1
`)

var metaFields = []string{"fp", "ns", "provider", "model", "source_url", "cached_at"}

// RedisStoreConfig holds configuration for the Redis store.
type RedisStoreConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string

	// Retention keeps expired entries readable this long past expiry.
	Retention time.Duration
}

// RedisStore is a Store shared by every cachegate replica. Each entry is a
// Redis hash whose key expires Retention after the entry's TTL.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

// NewRedisStore creates a Redis-backed store with its own client.
func NewRedisStore(cfg RedisStoreConfig) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisStoreFromClient(client, cfg.KeyPrefix, cfg.Retention)
}

// NewRedisStoreFromClient creates a Redis store using an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string, retention time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if retention <= 0 {
		retention = DefaultExpiredRetention
	}
	return &RedisStore{client: client, prefix: prefix, retention: retention}
}

func (s *RedisStore) key(fp string) string {
	return s.prefix + fp
}

// Get loads the entry hash.
func (s *RedisStore) Get(ctx context.Context, fingerprint string) (*Entry, error) {
	fields, err := s.client.HGetAll(ctx, s.key(fingerprint)).Result()
	if err != nil {
		return nil, unavailable("get", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeHash(fields)
}

// Set replaces the entry hash atomically.
func (s *RedisStore) Set(ctx context.Context, entry *Entry) error {
	if err := ValidateEntry(entry); err != nil {
		return err
	}
	key := s.key(entry.Fingerprint)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, encodeHash(entry))
		pipe.PExpireAt(ctx, key, entry.ExpiresAt().Add(s.retention))
		return nil
	})
	if err != nil {
		return unavailable("set", err)
	}
	return nil
}

// Touch records a read on an existing entry.
func (s *RedisStore) Touch(ctx context.Context, fingerprint string, at time.Time) error {
	err := touchScript.Run(ctx, s.client, []string{s.key(fingerprint)}, at.UnixNano()).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return unavailable("touch", err)
	}
	return nil
}

// Delete removes one entry.
func (s *RedisStore) Delete(ctx context.Context, fingerprint string) (int, error) {
	n, err := s.client.Del(ctx, s.key(fingerprint)).Result()
	if err != nil {
		return 0, unavailable("delete", err)
	}
	return int(n), nil
}

// DeleteWhere scans the key space in batches, reads only the metadata fields,
// and deletes matching keys one by one. Concurrent writers may observe a
// partially applied invalidation.
func (s *RedisStore) DeleteWhere(ctx context.Context, criteria Criteria) (DeleteResult, error) {
	pred, err := criteria.Compile()
	if err != nil {
		return DeleteResult{}, err
	}

	touched := namespaceSet{}
	count := 0
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", scanBatch).Result()
		if err != nil {
			return DeleteResult{Count: count, Namespaces: touched.sorted()}, unavailable("scan", err)
		}

		n, err := s.deleteMatching(ctx, keys, pred, touched)
		count += n
		if err != nil {
			return DeleteResult{Count: count, Namespaces: touched.sorted()}, err
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}
	return DeleteResult{Count: count, Namespaces: touched.sorted()}, nil
}

func (s *RedisStore) deleteMatching(ctx context.Context, keys []string, pred *Predicate, touched namespaceSet) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	metas := make([]*redis.SliceCmd, len(keys))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			metas[i] = pipe.HMGet(ctx, k, metaFields...)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, unavailable("scan metadata", err)
	}

	type victim struct {
		key string
		ns  string
	}
	var victims []victim
	for i, cmd := range metas {
		vals := cmd.Val()
		if len(vals) != len(metaFields) || vals[0] == nil {
			continue
		}
		cachedAt := time.Unix(0, parseInt(vals[5]))
		if pred.MatchMeta(str(vals[0]), str(vals[1]), str(vals[2]), str(vals[3]), str(vals[4]), cachedAt) {
			victims = append(victims, victim{key: keys[i], ns: str(vals[1])})
		}
	}
	if len(victims) == 0 {
		return 0, nil
	}

	dels := make([]*redis.IntCmd, len(victims))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, v := range victims {
			dels[i] = pipe.Del(ctx, v.key)
		}
		return nil
	})
	if err != nil {
		return 0, unavailable("delete batch", err)
	}

	count := 0
	for i, cmd := range dels {
		if cmd.Val() > 0 {
			count++
			touched.add(victims[i].ns)
		}
	}
	return count, nil
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func encodeHash(e *Entry) map[string]any {
	h := map[string]any{
		"fp":           e.Fingerprint,
		"ns":           e.Namespace,
		"provider":     e.Provider,
		"model":        e.Model,
		"payload":      e.Payload,
		"cached_at":    e.CachedAt.UnixNano(),
		"ttl":          int64(e.TTL),
		"source_url":   e.SourceURL,
		"content_hash": e.ContentHash,
		"access_count": e.AccessCount,
	}
	if !e.LastAccessedAt.IsZero() {
		h["last_accessed_at"] = e.LastAccessedAt.UnixNano()
	}
	return h
}

func decodeHash(h map[string]string) (*Entry, error) {
	e := &Entry{
		Fingerprint: h["fp"],
		Namespace:   h["ns"],
		Provider:    h["provider"],
		Model:       h["model"],
		Payload:     []byte(h["payload"]),
		CachedAt:    time.Unix(0, parseInt(h["cached_at"])),
		TTL:         time.Duration(parseInt(h["ttl"])),
		SourceURL:   h["source_url"],
		ContentHash: h["content_hash"],
		AccessCount: parseInt(h["access_count"]),
	}
	if v, ok := h["last_accessed_at"]; ok {
		e.LastAccessedAt = time.Unix(0, parseInt(v))
	}
	if e.Fingerprint == "" {
		return nil, unavailable("decode", errors.New("entry hash has no fingerprint"))
	}
	return e, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func parseInt(v any) int64 {
	s, _ := v.(string)
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

var _ Store = (*RedisStore)(nil)
