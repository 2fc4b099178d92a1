package application

import (
	"context"
	"errors"
	"time"

	"github.com/example/session-timer/internal/backup"
	"github.com/example/session-timer/internal/cache"
	"github.com/example/session-timer/internal/persistence"
	"github.com/example/session-timer/internal/session"
)

// StaleAfter is how long a checked-out session survives in a cached snapshot
// that is read back as a fallback.
const StaleAfter = 24 * time.Hour

// Load populates the collection at startup. The gateway is authoritative; the
// local cache is only read when the gateway cannot be reached.
func (m *CollectionManager) Load(ctx context.Context) (err error) {
	logger := m.loggerWith(ctx, "Load")

	remote, err := m.gateway.List(ctx)
	if err == nil {
		m.metrics.ObserveReload("remote", true)
		m.replace(remote)
		m.mirror(ctx, remote)
		m.records.Load(ctx)
		logger.InfoContext(ctx, "collection loaded", "source", "remote", "sessions", len(remote))
		return nil
	}
	m.metrics.ObserveReload("remote", false)
	logger.WarnContext(ctx, "remote list failed, falling back to local cache", "error", err)

	cached, ok := m.readCache(ctx)
	if !ok {
		m.metrics.ObserveReload("cache", false)
		err = persistenceFailure(err)
		logger.ErrorContext(ctx, "failed to load collection", "error", err, "error_kind", ErrorKind(err))
		return err
	}

	cached = pruneStale(cached, m.now())
	m.metrics.ObserveReload("cache", true)
	m.replace(cached)
	m.records.Load(ctx)
	logger.InfoContext(ctx, "collection loaded", "source", "cache", "sessions", len(cached))
	return nil
}

// Reload replaces the collection with what the gateway holds. On failure the
// current collection is kept.
func (m *CollectionManager) Reload(ctx context.Context) error {
	remote, err := m.gateway.List(ctx)
	if err != nil {
		m.metrics.ObserveReload("remote", false)
		return persistenceFailure(err)
	}
	m.metrics.ObserveReload("remote", true)
	m.replace(remote)
	m.mirror(ctx, remote)
	return nil
}

type scanChange struct {
	before session.Session
	after  session.Session
	visit  *session.VisitRecord
}

// Scan expires every checked-in session whose time ran out and flags those
// nearing their end. The collection is only re-sorted when something
// changed. Changes are written through the gateway afterwards; if any write
// fails the collection is reloaded.
func (m *CollectionManager) Scan(ctx context.Context) (result ScanResult, err error) {
	logger := m.loggerWith(ctx, "Scan")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "scan failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		if len(result.Expired) > 0 || len(result.Flagged) > 0 {
			logger.InfoContext(ctx, "scan changed sessions", "expired", len(result.Expired), "flagged", len(result.Flagged))
		}
	}()

	now := m.now()
	var changes []scanChange

	m.mu.Lock()
	for i := range m.sessions {
		s := &m.sessions[i]
		if s.Status != session.StatusCheckedIn || m.isProvisional(s.ID) {
			continue
		}
		before := s.Clone()
		if record, ok := session.Expire(s, now); ok {
			visit := record
			changes = append(changes, scanChange{before: before, after: s.Clone(), visit: &visit})
			result.Expired = append(result.Expired, s.ID)
			continue
		}
		if session.Refresh(s, now, m.threshold) {
			changes = append(changes, scanChange{before: before, after: s.Clone()})
			if s.Interval.IsNearingEnd {
				result.Flagged = append(result.Flagged, s.ID)
			}
		}
	}
	var snapshot []session.Session
	if len(changes) > 0 {
		session.Sort(m.sessions)
		snapshot = session.CloneAll(m.sessions)
	}
	m.mu.Unlock()

	m.metrics.ObserveScan(len(result.Expired), len(result.Flagged))
	if len(changes) == 0 {
		return
	}
	m.mirror(ctx, snapshot)

	var failures []error
	var failed []scanChange
	for _, c := range changes {
		persisted, updateErr := m.gateway.Update(ctx, c.after.ID, persistence.Diff(c.before, c.after))
		if updateErr != nil {
			failures = append(failures, updateErr)
			failed = append(failed, c)
			continue
		}
		m.confirm(ctx, persisted.ID, persisted)
		if c.visit != nil {
			m.records.RecordVisit(ctx, persisted, *c.visit)
		}
	}

	if len(failures) == 0 {
		m.metrics.ObserveMutation("scan", "ok")
		return
	}

	m.metrics.ObserveMutation("scan", "failed")
	if reloadErr := m.Reload(ctx); reloadErr != nil {
		logger.WarnContext(ctx, "reload after failed scan did not succeed, restoring previous state", "error", reloadErr)
		for _, c := range failed {
			before := c.before
			m.restore(before.ID, &before)
		}
	}
	err = persistenceFailure(errors.Join(failures...))
	return
}

// Snapshot writes the current collection and the customer records to the
// local cache.
func (m *CollectionManager) Snapshot(ctx context.Context) error {
	m.mu.Lock()
	snapshot := session.CloneAll(m.sessions)
	m.mu.Unlock()

	if err := m.writeCache(ctx, snapshot); err != nil {
		return err
	}
	return m.records.Save(ctx)
}

func (m *CollectionManager) mirrorCurrent(ctx context.Context) {
	m.mu.Lock()
	snapshot := session.CloneAll(m.sessions)
	m.mu.Unlock()
	m.mirror(ctx, snapshot)
}

// mirror is the best-effort cache write that follows every change.
func (m *CollectionManager) mirror(ctx context.Context, sessions []session.Session) {
	if err := m.writeCache(ctx, sessions); err != nil {
		m.loggerWith(ctx, "mirror").WarnContext(ctx, "failed to mirror sessions to local cache", "error", err)
	}
}

func (m *CollectionManager) writeCache(ctx context.Context, sessions []session.Session) error {
	if m.cache == nil {
		return nil
	}
	data, err := backup.EncodeCustomers(m.settled(sessions))
	if err != nil {
		return err
	}
	return m.cache.Set(ctx, cache.KeySessions, data)
}

func (m *CollectionManager) readCache(ctx context.Context) ([]session.Session, bool) {
	if m.cache == nil {
		return nil, false
	}
	logger := m.loggerWith(ctx, "readCache")

	data, ok, err := m.cache.Get(ctx, cache.KeySessions)
	if err != nil {
		logger.WarnContext(ctx, "failed to read local cache", "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	sessions, err := backup.DecodeCustomers(data)
	if err != nil {
		logger.WarnContext(ctx, "discarding unreadable local cache", "error", err)
		return nil, false
	}
	return sessions, true
}

// settled leaves out check-ins the gateway has not assigned an id to yet.
func (m *CollectionManager) settled(sessions []session.Session) []session.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]session.Session, 0, len(sessions))
	for _, s := range sessions {
		if m.isProvisional(s.ID) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// pruneStale drops checked-out sessions that ended more than StaleAfter
// before now.
func pruneStale(sessions []session.Session, now time.Time) []session.Session {
	cutoff := now.Add(-StaleAfter)
	out := sessions[:0]
	for _, s := range sessions {
		if s.Status == session.StatusCheckedOut && s.Interval.EndTime.Before(cutoff) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func errorIsNotFound(err error) bool {
	return errors.Is(err, persistence.ErrNotFound)
}
