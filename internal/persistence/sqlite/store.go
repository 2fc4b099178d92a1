// Package sqlite implements the session gateway on an embedded SQLite
// database. Sessions live in one table and their visit history in an
// append-only table keyed by session and sequence number.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/example/session-timer/internal/persistence"
	"github.com/example/session-timer/internal/session"
)

var psq = sq.StatementBuilder.PlaceholderFormat(sq.Question)

var sessionColumns = []string{
	"id", "name", "status", "check_in_time", "photo",
	"duration_minutes", "start_time", "end_time", "is_nearing_end",
	"has_extended", "extension_count", "last_extension_time",
}

var visitColumns = []string{
	"session_id", "seq", "check_in", "check_out", "duration_minutes",
	"was_extended", "completed_session", "time_ended", "extensions_used",
}

// Store implements persistence.Gateway on SQLite.
type Store struct {
	db          *sql.DB
	ownsDB      bool
	now         func() time.Time
	idGenerator func() string
	retry       RetryConfig
	logger      *slog.Logger
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the time source used to stamp new sessions.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides identifier generation.
func WithIDGenerator(next func() string) Option {
	return func(s *Store) {
		if next != nil {
			s.idGenerator = next
		}
	}
}

// WithRetry overrides the busy retry policy.
func WithRetry(cfg RetryConfig) Option {
	return func(s *Store) { s.retry = cfg }
}

// WithLogger sets the logger used for migration output.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New wraps an open database. The caller keeps ownership of db.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:          db,
		now:         time.Now,
		idGenerator: uuid.NewString,
		retry:       DefaultRetryConfig(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens dsn, applies migrations and returns a store that closes the
// database on Close.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := OpenDB(ctx, dsn)
	if err != nil {
		return nil, err
	}

	s := New(db, opts...)
	s.ownsDB = true
	if err := s.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies pending schema migrations.
func (s *Store) Migrate() error {
	return Migrate(s.db, s.logger)
}

// Close releases the database when the store opened it.
func (s *Store) Close() error {
	if s.ownsDB && s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// List returns every session in display order.
func (s *Store) List(ctx context.Context) ([]session.Session, error) {
	query, args, err := psq.Select(sessionColumns...).From("sessions").OrderBy("created_at", "id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlite: build list query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list sessions: %w", mapError(err))
	}
	defer rows.Close()

	var out []session.Session
	index := make(map[string]int)
	for rows.Next() {
		item, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		index[item.ID] = len(out)
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate sessions: %w", mapError(err))
	}
	// Release the single connection before the second query.
	_ = rows.Close()

	visits, err := s.loadVisits(ctx, s.db, nil)
	if err != nil {
		return nil, err
	}
	for id, history := range visits {
		if i, ok := index[id]; ok {
			out[i].History = history
		}
	}

	session.Sort(out)
	return out, nil
}

// Create stores a new checked-in session built from draft.
func (s *Store) Create(ctx context.Context, draft persistence.Draft) (session.Session, error) {
	if draft.Duration <= 0 || draft.Name == "" {
		return session.Session{}, persistence.ErrConstraintViolation
	}

	created := session.CheckIn(s.idGenerator(), draft.Name, draft.Duration, s.now())
	if draft.Photo != nil {
		photo := *draft.Photo
		created.Photo = &photo
	}

	err := withRetry(ctx, s.retry, func() error {
		return insertSession(ctx, s.db, created, created.Interval.StartTime)
	})
	if err != nil {
		return session.Session{}, fmt.Errorf("sqlite: create session: %w", err)
	}
	return created, nil
}

// Update merges patch into the stored session within a transaction.
func (s *Store) Update(ctx context.Context, id string, patch persistence.Patch) (session.Session, error) {
	var updated session.Session

	err := withRetry(ctx, s.retry, func() error {
		return withTx(ctx, s.db, func(tx *sql.Tx) error {
			current, err := s.getSession(ctx, tx, id)
			if err != nil {
				return err
			}

			updated = current.Clone()
			patch.Apply(&updated)

			if err := updateSession(ctx, tx, updated); err != nil {
				return err
			}
			return insertVisits(ctx, tx, id, len(current.History), patch.AppendHistory)
		})
	})
	if err != nil {
		return session.Session{}, fmt.Errorf("sqlite: update session %s: %w", id, err)
	}
	return updated, nil
}

// Delete removes a session and its visit history.
func (s *Store) Delete(ctx context.Context, id string) error {
	err := withRetry(ctx, s.retry, func() error {
		return withTx(ctx, s.db, func(tx *sql.Tx) error {
			if err := deleteVisits(ctx, tx, id); err != nil {
				return err
			}

			query, args, err := psq.Delete("sessions").Where(sq.Eq{"id": id}).ToSql()
			if err != nil {
				return err
			}
			result, err := tx.ExecContext(ctx, query, args...)
			if err != nil {
				return mapError(err)
			}
			affected, err := result.RowsAffected()
			if err != nil {
				return err
			}
			if affected == 0 {
				return persistence.ErrNotFound
			}
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("sqlite: delete session %s: %w", id, err)
	}
	return nil
}

// ReplaceAll swaps the whole collection in a single transaction.
func (s *Store) ReplaceAll(ctx context.Context, sessions []session.Session) error {
	createdAt := s.now()

	err := withRetry(ctx, s.retry, func() error {
		return withTx(ctx, s.db, func(tx *sql.Tx) error {
			if err := deleteVisits(ctx, tx, ""); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM sessions"); err != nil {
				return mapError(err)
			}
			for i, item := range sessions {
				// Preserve the incoming order for sessions that sort equal.
				if err := insertSession(ctx, tx, item, createdAt.Add(time.Duration(i)*time.Millisecond)); err != nil {
					return err
				}
				if err := insertVisits(ctx, tx, item.ID, 0, item.History); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("sqlite: replace sessions: %w", err)
	}
	return nil
}

func (s *Store) getSession(ctx context.Context, q querier, id string) (session.Session, error) {
	query, args, err := psq.Select(sessionColumns...).From("sessions").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return session.Session{}, err
	}

	item, err := scanSession(q.QueryRowContext(ctx, query, args...))
	if err != nil {
		return session.Session{}, err
	}

	visits, err := s.loadVisits(ctx, q, &id)
	if err != nil {
		return session.Session{}, err
	}
	item.History = visits[id]
	return item, nil
}

func (s *Store) loadVisits(ctx context.Context, q querier, sessionID *string) (map[string][]session.VisitRecord, error) {
	builder := psq.Select(visitColumns...).From("visit_records").OrderBy("session_id", "seq")
	if sessionID != nil {
		builder = builder.Where(sq.Eq{"session_id": *sessionID})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlite: build visit query: %w", err)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list visits: %w", mapError(err))
	}
	defer rows.Close()

	out := make(map[string][]session.VisitRecord)
	for rows.Next() {
		var (
			id  string
			seq int
			v   session.VisitRecord
		)
		if err := rows.Scan(&id, &seq, &v.CheckIn, &v.CheckOut, &v.Duration,
			&v.WasExtended, &v.CompletedSession, &v.TimeEnded, &v.ExtensionsUsed); err != nil {
			return nil, fmt.Errorf("sqlite: scan visit: %w", err)
		}
		out[id] = append(out[id], v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate visits: %w", mapError(err))
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (session.Session, error) {
	var (
		item          session.Session
		status        string
		photo         sql.NullString
		start, end    int64
		lastExtension sql.NullInt64
	)
	err := row.Scan(&item.ID, &item.Name, &status, &item.CheckInTime, &photo,
		&item.Interval.Duration, &start, &end, &item.Interval.IsNearingEnd,
		&item.Interval.HasExtended, &item.Interval.ExtensionCount, &lastExtension)
	if err != nil {
		return session.Session{}, mapError(err)
	}

	item.Status = session.Status(status)
	if photo.Valid {
		value := photo.String
		item.Photo = &value
	}
	item.Interval.StartTime = session.FromMillis(start)
	item.Interval.EndTime = session.FromMillis(end)
	if lastExtension.Valid {
		last := session.FromMillis(lastExtension.Int64)
		item.Interval.LastExtensionTime = &last
	}
	return item, nil
}

func sessionValues(item session.Session) []any {
	var photo, lastExtension any
	if item.Photo != nil {
		photo = *item.Photo
	}
	if item.Interval.LastExtensionTime != nil {
		lastExtension = item.Interval.LastExtensionTime.UnixMilli()
	}
	return []any{
		item.ID, item.Name, string(item.Status), item.CheckInTime, photo,
		item.Interval.Duration, item.Interval.StartTime.UnixMilli(), item.Interval.EndTime.UnixMilli(),
		item.Interval.IsNearingEnd, item.Interval.HasExtended, item.Interval.ExtensionCount, lastExtension,
	}
}

func insertSession(ctx context.Context, q querier, item session.Session, createdAt time.Time) error {
	columns := append(append([]string(nil), sessionColumns...), "created_at")
	values := append(sessionValues(item), createdAt.UnixMilli())

	query, args, err := psq.Insert("sessions").Columns(columns...).Values(values...).ToSql()
	if err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return mapError(err)
	}
	return nil
}

func updateSession(ctx context.Context, q querier, item session.Session) error {
	values := sessionValues(item)
	builder := psq.Update("sessions").Where(sq.Eq{"id": item.ID})
	for i, column := range sessionColumns {
		if column == "id" {
			continue
		}
		builder = builder.Set(column, values[i])
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return err
	}
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func insertVisits(ctx context.Context, q querier, sessionID string, offset int, visits []session.VisitRecord) error {
	if len(visits) == 0 {
		return nil
	}

	builder := psq.Insert("visit_records").Columns(visitColumns...)
	for i, v := range visits {
		builder = builder.Values(sessionID, offset+i, v.CheckIn, v.CheckOut, v.Duration,
			v.WasExtended, v.CompletedSession, v.TimeEnded, v.ExtensionsUsed)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return mapError(err)
	}
	return nil
}

// deleteVisits removes the history of sessionID, or every history when
// sessionID is empty.
func deleteVisits(ctx context.Context, q querier, sessionID string) error {
	builder := psq.Delete("visit_records")
	if sessionID != "" {
		builder = builder.Where(sq.Eq{"session_id": sessionID})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return mapError(err)
	}
	return nil
}
