package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	bolt "go.etcd.io/bbolt"
)

var entriesBucket = []byte("entries")

// BoltOptions configures a BoltStore.
type BoltOptions struct {
	// Retention keeps expired entries readable this long past expiry.
	Retention time.Duration

	// Now replaces time.Now in Sweep.
	Now func() time.Time
}

// BoltStore is a single-node persistent Store backed by bbolt. Entries are
// stored as JSON in one bucket keyed by fingerprint.
type BoltStore struct {
	db        *bolt.DB
	retention time.Duration
	now       func() time.Time
}

// OpenBoltStore opens or creates the database file at path.
func OpenBoltStore(path string, opts BoltOptions) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, unavailable("open", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(entriesBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, unavailable("init", err)
	}
	s := &BoltStore{db: db, retention: opts.Retention, now: opts.Now}
	if s.retention <= 0 {
		s.retention = DefaultExpiredRetention
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Get decodes the stored entry.
func (s *BoltStore) Get(_ context.Context, fingerprint string) (*Entry, error) {
	var e *Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(entriesBucket).Get([]byte(fingerprint))
		if v == nil {
			return nil
		}
		e = &Entry{}
		return json.Unmarshal(v, e)
	})
	if err != nil {
		return nil, unavailable("get", err)
	}
	if e == nil {
		return nil, ErrNotFound
	}
	return e, nil
}

// Set writes the entry.
func (s *BoltStore) Set(_ context.Context, entry *Entry) error {
	if err := ValidateEntry(entry); err != nil {
		return err
	}
	buf, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(entriesBucket).Put([]byte(entry.Fingerprint), buf)
	}); err != nil {
		return unavailable("set", err)
	}
	return nil
}

// Touch updates access metadata inside one write transaction.
func (s *BoltStore) Touch(_ context.Context, fingerprint string, at time.Time) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		v := b.Get([]byte(fingerprint))
		if v == nil {
			return nil
		}
		var e Entry
		if err := json.Unmarshal(v, &e); err != nil {
			return err
		}
		e.AccessCount++
		e.LastAccessedAt = at
		buf, err := json.Marshal(&e)
		if err != nil {
			return err
		}
		return b.Put([]byte(fingerprint), buf)
	})
	if err != nil {
		return unavailable("touch", err)
	}
	return nil
}

// Delete removes one entry.
func (s *BoltStore) Delete(_ context.Context, fingerprint string) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		if b.Get([]byte(fingerprint)) == nil {
			return nil
		}
		removed = 1
		return b.Delete([]byte(fingerprint))
	})
	if err != nil {
		return 0, unavailable("delete", err)
	}
	return removed, nil
}

// DeleteWhere collects matching keys with a cursor and deletes them in the
// same transaction.
func (s *BoltStore) DeleteWhere(ctx context.Context, criteria Criteria) (DeleteResult, error) {
	pred, err := criteria.Compile()
	if err != nil {
		return DeleteResult{}, err
	}
	touched := namespaceSet{}
	count := 0
	err = s.db.Update(func(tx *bolt.Tx) error {
		return s.deleteIf(ctx, tx, func(e *Entry) bool { return pred.Match(e) }, touched, &count)
	})
	if err != nil {
		if ctx.Err() != nil {
			return DeleteResult{}, ctx.Err()
		}
		return DeleteResult{}, unavailable("delete where", err)
	}
	return DeleteResult{Count: count, Namespaces: touched.sorted()}, nil
}

// Sweep removes entries that expired longer ago than the retention window.
func (s *BoltStore) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.retention)
	count := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		return s.deleteIf(ctx, tx, func(e *Entry) bool { return e.ExpiresAt().Before(cutoff) }, namespaceSet{}, &count)
	})
	if err != nil {
		return 0, unavailable("sweep", err)
	}
	return count, nil
}

func (s *BoltStore) deleteIf(ctx context.Context, tx *bolt.Tx, match func(*Entry) bool, touched namespaceSet, count *int) error {
	b := tx.Bucket(entriesBucket)
	var keys [][]byte
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var e Entry
		if err := json.Unmarshal(v, &e); err != nil {
			continue
		}
		if match(&e) {
			keys = append(keys, append([]byte(nil), k...))
			touched.add(e.Namespace)
		}
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	*count = len(keys)
	return nil
}

// Ping reports whether the database is open.
func (s *BoltStore) Ping(context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(entriesBucket) == nil {
			return unavailable("ping", errors.New("entries bucket missing"))
		}
		return nil
	})
}

// Close closes the database file.
func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var (
	_ Store   = (*BoltStore)(nil)
	_ Sweeper = (*BoltStore)(nil)
)
