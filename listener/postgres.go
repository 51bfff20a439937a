package listener

import (
	"context"
	_ "embed"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

const listenerColumns = `id, owner, url, namespace, check_interval_ms, invalidate_on_change,
	webhook_url, state, initial_hash, last_hash, last_checked_at, last_changed_at,
	consecutive_failures, failing_since, last_error, paused_reason, created_at, updated_at`

// PostgresStore keeps listeners in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgresStore connects to dsn, verifies the connection and applies
// the schema.
func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, unavailable("open", errors.New("postgres DSN is required"))
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, unavailable("open", err)
	}
	s := NewPostgresStore(pool)
	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore wraps an existing pool. Call Migrate before use.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the listener table and indexes if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return unavailable("migrate", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, l *Listener) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cachegate_listeners (`+listenerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		l.ID, l.Owner, l.URL, l.Namespace, l.CheckInterval.Milliseconds(), l.InvalidateOnChange,
		l.WebhookURL, string(l.State), l.InitialHash, l.LastHash, nullTime(l.LastCheckedAt), nullTime(l.LastChangedAt),
		l.ConsecutiveFailures, nullTime(l.FailingSince), l.LastError, l.PausedReason, l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return unavailable("create", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Listener, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+listenerColumns+` FROM cachegate_listeners WHERE id = $1`, id)
	l, err := scanListener(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	return l, nil
}

func (s *PostgresStore) Update(ctx context.Context, l *Listener) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE cachegate_listeners SET
			url = $2, namespace = $3, check_interval_ms = $4, invalidate_on_change = $5,
			webhook_url = $6, state = $7, initial_hash = $8, last_hash = $9,
			last_checked_at = $10, last_changed_at = $11, consecutive_failures = $12,
			failing_since = $13, last_error = $14, paused_reason = $15, updated_at = $16
		WHERE id = $1`,
		l.ID, l.URL, l.Namespace, l.CheckInterval.Milliseconds(), l.InvalidateOnChange,
		l.WebhookURL, string(l.State), l.InitialHash, l.LastHash,
		nullTime(l.LastCheckedAt), nullTime(l.LastChangedAt), l.ConsecutiveFailures,
		nullTime(l.FailingSince), l.LastError, l.PausedReason, l.UpdatedAt,
	)
	if err != nil {
		return unavailable("update", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	ct, err := s.pool.Exec(ctx, `DELETE FROM cachegate_listeners WHERE id = $1`, id)
	if err != nil {
		return unavailable("delete", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListByOwner(ctx context.Context, owner string) ([]*Listener, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+listenerColumns+` FROM cachegate_listeners
		WHERE owner = $1 ORDER BY created_at, id`, owner)
	if err != nil {
		return nil, unavailable("list", err)
	}
	return scanListeners(rows)
}

func (s *PostgresStore) CountByOwner(ctx context.Context, owner string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM cachegate_listeners WHERE owner = $1`, owner).Scan(&n)
	if err != nil {
		return 0, unavailable("count", err)
	}
	return n, nil
}

func (s *PostgresStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*Listener, error) {
	query := `
		SELECT ` + listenerColumns + ` FROM cachegate_listeners
		WHERE state = 'active'
		  AND COALESCE(last_checked_at + check_interval_ms * INTERVAL '1 millisecond', created_at) <= $1
		ORDER BY COALESCE(last_checked_at + check_interval_ms * INTERVAL '1 millisecond', created_at), id`
	args := []any{now}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, unavailable("list due", err)
	}
	return scanListeners(rows)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanListener(row pgx.Row) (*Listener, error) {
	var (
		l                                      Listener
		intervalMS                             int64
		state                                  string
		lastChecked, lastChanged, failingSince *time.Time
	)
	err := row.Scan(
		&l.ID, &l.Owner, &l.URL, &l.Namespace, &intervalMS, &l.InvalidateOnChange,
		&l.WebhookURL, &state, &l.InitialHash, &l.LastHash, &lastChecked, &lastChanged,
		&l.ConsecutiveFailures, &failingSince, &l.LastError, &l.PausedReason, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	l.CheckInterval = time.Duration(intervalMS) * time.Millisecond
	l.State = State(state)
	l.LastCheckedAt = derefTime(lastChecked)
	l.LastChangedAt = derefTime(lastChanged)
	l.FailingSince = derefTime(failingSince)
	return &l, nil
}

func scanListeners(rows pgx.Rows) ([]*Listener, error) {
	defer rows.Close()
	var out []*Listener
	for rows.Next() {
		l, err := scanListener(rows)
		if err != nil {
			return nil, unavailable("scan", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("scan", err)
	}
	return out, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

var _ Store = (*PostgresStore)(nil)
