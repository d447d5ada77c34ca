package knowledge

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/avelin0/sage/internal/log"
)

// DB is the subset of pgxpool.Pool the source needs. Declared here so
// tests can substitute a fake without a live database.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// PostgresSource implements Source over a pgx connection pool. Every
// query runs under its own timeout so a stalled database degrades the
// service instead of hanging it.
type PostgresSource struct {
	db      DB
	timeout time.Duration
	logger  log.Logger
}

// NewPostgresSource creates a source backed by db. timeout bounds each
// individual query.
func NewPostgresSource(db DB, timeout time.Duration, logger log.Logger) *PostgresSource {
	return &PostgresSource{db: db, timeout: timeout, logger: logger}
}

// ListActive implements Source.
func (s *PostgresSource) ListActive(ctx context.Context) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	r, err := s.db.Query(ctx,
		`SELECT id, question, answer FROM knowledge_entries WHERE active ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: listing active entries: %v", ErrSourceUnavailable, err)
	}
	return scanEntries(r)
}

// MaxLastModified implements Source.
func (s *PostgresSource) MaxLastModified(ctx context.Context) (time.Time, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var ts *time.Time
	err := s.db.QueryRow(ctx,
		`SELECT max(last_modified) FROM knowledge_entries WHERE active`).Scan(&ts)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: querying max last_modified: %v", ErrSourceUnavailable, err)
	}
	if ts == nil {
		return time.Time{}, false, nil
	}
	return *ts, true, nil
}

// FetchByIDs implements Source. Results follow the order of ids, which
// carries the similarity ranking through to the caller. Unknown or
// inactive ids are dropped silently.
func (s *PostgresSource) FetchByIDs(ctx context.Context, ids []int64) ([]Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	r, err := s.db.Query(ctx,
		`SELECT id, question, answer FROM knowledge_entries WHERE active AND id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching entries by id: %v", ErrSourceUnavailable, err)
	}
	entries, err := scanEntries(r)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]Entry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}
	ordered := make([]Entry, 0, len(ids))
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			ordered = append(ordered, e)
		}
	}
	return ordered, nil
}

// UptimeSeconds implements Source using the server's postmaster start
// time, so it reflects database restarts rather than pool reconnects.
func (s *PostgresSource) UptimeSeconds(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var uptime int64
	err := s.db.QueryRow(ctx,
		`SELECT extract(epoch FROM now() - pg_postmaster_start_time())::bigint`).Scan(&uptime)
	if err != nil {
		return 0, fmt.Errorf("%w: querying uptime: %v", ErrSourceUnavailable, err)
	}
	return uptime, nil
}

// Ping reports whether the store is reachable. Used by the readiness
// endpoint.
func (s *PostgresSource) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return nil
}
