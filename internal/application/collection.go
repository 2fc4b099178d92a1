package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/example/session-timer/internal/persistence"
	"github.com/example/session-timer/internal/session"
)

// MaxDuration bounds the length of a single check-in, in minutes.
const MaxDuration = 24 * 60

// CollectionOptions configures a CollectionManager. Zero values fall back to
// the defaults of the session package.
type CollectionOptions struct {
	Cache            LocalCache
	Records          *RecordBook
	Metrics          Recorder
	Policy           session.ExtensionPolicy
	WarningThreshold time.Duration
	Now              func() time.Time
	Logger           *slog.Logger
}

// CollectionManager owns the working set of sessions. Every mutation is
// applied to the in-memory collection first and then written through the
// gateway; a failed write discards the local change by reloading.
type CollectionManager struct {
	gateway   SessionGateway
	cache     LocalCache
	records   *RecordBook
	metrics   Recorder
	policy    session.ExtensionPolicy
	threshold time.Duration
	now       func() time.Time
	logger    *slog.Logger

	mu          sync.Mutex
	sessions    []session.Session
	pending     int
	provisional map[string]struct{}
}

// NewCollectionManager constructs an empty manager. Call Load to populate it.
func NewCollectionManager(gateway SessionGateway, opts CollectionOptions) *CollectionManager {
	m := &CollectionManager{
		gateway:   gateway,
		cache:     opts.Cache,
		records:   opts.Records,
		metrics:   opts.Metrics,
		policy:    opts.Policy,
		threshold: opts.WarningThreshold,
		now:       opts.Now,
		logger:    defaultLogger(opts.Logger),

		provisional: make(map[string]struct{}),
	}
	if m.metrics == nil {
		m.metrics = nopRecorder{}
	}
	if m.policy == (session.ExtensionPolicy{}) {
		m.policy = session.DefaultExtensionPolicy()
	}
	if m.threshold <= 0 {
		m.threshold = session.DefaultWarningThreshold
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.records == nil {
		m.records = NewRecordBookWithLogger(m.cache, m.logger)
	}
	return m
}

func (m *CollectionManager) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, m.logger, "CollectionManager", operation, attrs...)
}

// Now returns the manager's current instant.
func (m *CollectionManager) Now() time.Time {
	return m.now()
}

// Threshold is the warning threshold sessions are flagged with.
func (m *CollectionManager) Threshold() time.Duration {
	return m.threshold
}

// Records exposes the customer record rollup.
func (m *CollectionManager) Records() *RecordBook {
	return m.records
}

// Reading evaluates the timer of s at the current instant.
func (m *CollectionManager) Reading(s session.Session) session.Reading {
	return session.EvaluateInterval(s.Interval, m.now(), m.threshold)
}

// List returns the sessions in display order, narrowed by filter.
func (m *CollectionManager) List(filter ListFilter) []session.Session {
	query := strings.ToLower(strings.TrimSpace(filter.Query))

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(s.Name), query) {
			continue
		}
		out = append(out, s.Clone())
	}
	return out
}

// Get returns one session.
func (m *CollectionManager) Get(id string) (session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexOf(id)
	if idx < 0 {
		return session.Session{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return m.sessions[idx].Clone(), nil
}

// Stats counts sessions by status. Nearing-end is evaluated at the current
// instant rather than read from the stored flag.
func (m *CollectionManager) Stats() Stats {
	now := m.now()

	m.mu.Lock()
	var stats Stats
	stats.Total = len(m.sessions)
	for _, s := range m.sessions {
		switch s.Status {
		case session.StatusCheckedIn:
			stats.Active++
			if session.EvaluateInterval(s.Interval, now, m.threshold).NearingEnd {
				stats.NearingEnd++
			}
		case session.StatusCheckedOut:
			stats.CheckedOut++
		case session.StatusWaiting:
			stats.Waiting++
		}
	}
	m.mu.Unlock()

	stats.Records, stats.InactiveRecords = m.records.Counts()
	return stats
}

// CheckIn validates input and starts a new session. The session is visible
// under a provisional identifier until the gateway assigns the real one.
func (m *CollectionManager) CheckIn(ctx context.Context, input CheckInInput) (created session.Session, err error) {
	if m == nil {
		err = fmt.Errorf("CollectionManager is nil")
		return
	}

	logger := m.loggerWith(ctx, "CheckIn", "event", "check-in")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to check in", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("session_id", created.ID).InfoContext(ctx, "session checked in")
	}()

	input, vErr := normalizeCheckIn(input)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	m.mu.Lock()
	m.pending++
	provisionalID := fmt.Sprintf("pending-%d", m.pending)
	provisional := session.CheckIn(provisionalID, input.Name, input.Duration, m.now())
	provisional.Photo = input.Photo
	m.sessions = append(m.sessions, provisional)
	m.provisional[provisionalID] = struct{}{}
	session.Sort(m.sessions)
	snapshot := session.CloneAll(m.sessions)
	m.mu.Unlock()
	m.mirror(ctx, snapshot)

	created, err = m.gateway.Create(ctx, persistence.Draft{Name: input.Name, Duration: input.Duration, Photo: input.Photo})
	if err != nil {
		m.settle(provisionalID)
		err = m.discard(ctx, "check-in", provisionalID, nil, err)
		return
	}

	m.confirmCreated(ctx, provisionalID, created)
	m.metrics.ObserveMutation("check-in", "ok")
	return
}

func normalizeCheckIn(input CheckInInput) (CheckInInput, *ValidationError) {
	vErr := &ValidationError{}
	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" {
		vErr.add("name", "name is required")
	}
	if input.Duration == 0 {
		input.Duration = session.DefaultDuration
	}
	vErr.merge(validateDuration(input.Duration))
	if input.Photo != nil && strings.TrimSpace(*input.Photo) == "" {
		input.Photo = nil
	}
	return input, vErr
}

func validateDuration(minutes int) *ValidationError {
	if minutes < 1 || minutes > MaxDuration {
		return fieldError("duration", fmt.Sprintf("duration must be between 1 and %d minutes", MaxDuration))
	}
	return nil
}

// EditTime restarts a session with a new duration anchored at the current
// instant. Extension bookkeeping is reset and a checked-out session becomes
// checked in again.
func (m *CollectionManager) EditTime(ctx context.Context, id string, duration int) (updated session.Session, err error) {
	logger := m.loggerWith(ctx, "EditTime", "session_id", id, "duration", duration)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to edit time", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "session time edited")
	}()

	if vErr := validateDuration(duration); vErr.HasErrors() {
		err = vErr
		return
	}

	now := m.now()
	updated, err = m.mutate(ctx, "edit-time", id, func(s *session.Session) error {
		session.Recheck(s, duration, now)
		return nil
	})
	return
}

// Extend asks the extension policy for more time. A refusal leaves the
// session untouched and is reported through the result, not the error.
func (m *CollectionManager) Extend(ctx context.Context, id string) (result ExtensionResult, err error) {
	logger := m.loggerWith(ctx, "Extend", "session_id", id)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to extend session", "error", err, "error_kind", ErrorKind(err))
			return
		}
		if !result.Granted {
			logger.InfoContext(ctx, "extension denied", "retry_after_minutes", result.RetryAfterMinutes)
			return
		}
		logger.With("extension_count", result.Session.Interval.ExtensionCount).InfoContext(ctx, "session extended")
	}()

	now := m.now()
	var decision session.Decision
	result.Session, err = m.mutate(ctx, "extend", id, func(s *session.Session) error {
		d, extendErr := session.Extend(s, m.policy, now)
		if extendErr != nil {
			return fieldError("status", "session is not checked in")
		}
		decision = d
		return nil
	})
	if err != nil {
		return
	}

	result.Granted = decision.Allowed
	if !decision.Allowed {
		result.RetryAfterMinutes = decision.RetryAfterMinutes()
		result.Reason = decision.Reason
	}
	m.metrics.ObserveExtension(decision.Allowed)
	return
}

// CheckOut ends a session at the customer's request. Checking out a session
// that is no longer checked in changes nothing.
func (m *CollectionManager) CheckOut(ctx context.Context, id string) (updated session.Session, err error) {
	logger := m.loggerWith(ctx, "CheckOut", "session_id", id)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to check out", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "session checked out")
	}()

	now := m.now()
	var visit *session.VisitRecord
	updated, err = m.mutate(ctx, "check-out", id, func(s *session.Session) error {
		if record, ok := session.CheckOut(s, now); ok {
			visit = &record
		}
		return nil
	})
	if err == nil && visit != nil {
		m.records.RecordVisit(ctx, updated, *visit)
	}
	return
}

// Finish expires a session whose time has run out. It is safe to call
// repeatedly: a session that is not checked in, or not yet expired, is left
// as it is.
func (m *CollectionManager) Finish(ctx context.Context, id string) (updated session.Session, err error) {
	logger := m.loggerWith(ctx, "Finish", "session_id", id)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to finish session", "error", err, "error_kind", ErrorKind(err))
		}
	}()

	now := m.now()
	var visit *session.VisitRecord
	updated, err = m.mutate(ctx, "finish", id, func(s *session.Session) error {
		if record, ok := session.Expire(s, now); ok {
			visit = &record
		}
		return nil
	})
	if err == nil && visit != nil {
		m.records.RecordVisit(ctx, updated, *visit)
		logger.InfoContext(ctx, "session time ended")
	}
	return
}

// SetPhoto stores or, when photo is nil, clears the photo reference.
func (m *CollectionManager) SetPhoto(ctx context.Context, id string, photo *string) (session.Session, error) {
	return m.mutate(ctx, "photo", id, func(s *session.Session) error {
		if photo == nil {
			s.Photo = nil
			return nil
		}
		value := *photo
		s.Photo = &value
		return nil
	})
}

// Delete removes a session and marks its customer record inactive.
func (m *CollectionManager) Delete(ctx context.Context, id string) (err error) {
	logger := m.loggerWith(ctx, "Delete", "session_id", id)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to delete session", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "session deleted")
	}()

	m.mu.Lock()
	idx := m.settledIndexOf(id)
	if idx < 0 {
		m.mu.Unlock()
		err = unknownSession(id)
		return
	}
	before := m.sessions[idx].Clone()
	m.sessions = append(m.sessions[:idx], m.sessions[idx+1:]...)
	snapshot := session.CloneAll(m.sessions)
	m.mu.Unlock()
	m.mirror(ctx, snapshot)

	if err = m.gateway.Delete(ctx, id); err != nil {
		err = m.discard(ctx, "delete", id, &before, err)
		return
	}

	m.metrics.ObserveMutation("delete", "ok")
	m.publishGauges()
	m.records.MarkInactive(ctx, id)
	return
}

// ReplaceAll swaps the whole collection. The gateway is written first so a
// failure leaves the current collection in place.
func (m *CollectionManager) ReplaceAll(ctx context.Context, sessions []session.Session) error {
	if err := m.gateway.ReplaceAll(ctx, sessions); err != nil {
		m.metrics.ObserveMutation("replace-all", "failed")
		return persistenceFailure(err)
	}

	m.replace(sessions)
	m.metrics.ObserveMutation("replace-all", "ok")
	m.mirrorCurrent(ctx)
	return nil
}

// mutate applies change to a copy of session id, publishes the copy, and
// writes the difference through the gateway. A change that alters nothing is
// not written.
func (m *CollectionManager) mutate(ctx context.Context, event, id string, change func(s *session.Session) error) (session.Session, error) {
	m.mu.Lock()
	idx := m.settledIndexOf(id)
	if idx < 0 {
		m.mu.Unlock()
		return session.Session{}, unknownSession(id)
	}

	before := m.sessions[idx].Clone()
	tentative := before.Clone()
	if err := change(&tentative); err != nil {
		m.mu.Unlock()
		return session.Session{}, err
	}

	patch := persistence.Diff(before, tentative)
	if patch.Empty() {
		m.mu.Unlock()
		return tentative, nil
	}

	m.sessions[idx] = tentative
	session.Sort(m.sessions)
	snapshot := session.CloneAll(m.sessions)
	m.mu.Unlock()
	m.mirror(ctx, snapshot)

	persisted, err := m.gateway.Update(ctx, id, patch)
	if err != nil {
		return session.Session{}, m.discard(ctx, event, id, &before, err)
	}

	m.confirm(ctx, id, persisted)
	m.metrics.ObserveMutation(event, "ok")
	return persisted, nil
}

// confirm replaces the tentative entry id with what the gateway persisted.
// The entry may have been removed by a concurrent delete, in which case the
// persisted version is dropped.
func (m *CollectionManager) confirm(ctx context.Context, id string, persisted session.Session) {
	m.mu.Lock()
	idx := m.indexOf(id)
	if idx < 0 {
		m.mu.Unlock()
		return
	}
	m.sessions[idx] = persisted.Clone()
	session.Sort(m.sessions)
	snapshot := session.CloneAll(m.sessions)
	m.mu.Unlock()

	m.mirror(ctx, snapshot)
	m.publishGauges()
}

// confirmCreated swaps the provisional entry of a check-in for the session
// the gateway created. A reload may already have removed the provisional
// entry or picked up the created session; either way the created session
// ends up in the collection exactly once.
func (m *CollectionManager) confirmCreated(ctx context.Context, provisionalID string, created session.Session) {
	m.mu.Lock()
	delete(m.provisional, provisionalID)
	if idx := m.indexOf(provisionalID); idx >= 0 {
		m.sessions = append(m.sessions[:idx], m.sessions[idx+1:]...)
	}
	if idx := m.indexOf(created.ID); idx >= 0 {
		m.sessions[idx] = created.Clone()
	} else {
		m.sessions = append(m.sessions, created.Clone())
	}
	session.Sort(m.sessions)
	snapshot := session.CloneAll(m.sessions)
	m.mu.Unlock()

	m.mirror(ctx, snapshot)
	m.publishGauges()
}

// settle forgets that id is provisional.
func (m *CollectionManager) settle(id string) {
	m.mu.Lock()
	delete(m.provisional, id)
	m.mu.Unlock()
}

func (m *CollectionManager) isProvisional(id string) bool {
	_, ok := m.provisional[id]
	return ok
}

// discard abandons a tentative change after the gateway rejected it. The
// collection is reloaded from the gateway; if that fails too, the entry is
// put back the way it was before the change.
func (m *CollectionManager) discard(ctx context.Context, event, id string, before *session.Session, cause error) error {
	m.metrics.ObserveMutation(event, "failed")
	logger := m.loggerWith(ctx, "discard", "event", event, "session_id", id)
	logger.WarnContext(ctx, "discarding tentative change", "error", cause)

	if err := m.Reload(ctx); err != nil {
		logger.WarnContext(ctx, "reload after failed write did not succeed, restoring previous state", "error", err)
		m.restore(id, before)
	}

	if errorIsNotFound(cause) {
		return unknownSession(id)
	}
	return persistenceFailure(cause)
}

func (m *CollectionManager) restore(id string, before *session.Session) {
	m.mu.Lock()
	if idx := m.indexOf(id); idx >= 0 {
		m.sessions = append(m.sessions[:idx], m.sessions[idx+1:]...)
	}
	if before != nil {
		m.sessions = append(m.sessions, before.Clone())
	}
	session.Sort(m.sessions)
	m.mu.Unlock()
}

// replace swaps the collection for sessions. Check-ins still waiting on the
// gateway are carried over.
func (m *CollectionManager) replace(sessions []session.Session) {
	next := session.CloneAll(sessions)

	m.mu.Lock()
	for _, s := range m.sessions {
		if m.isProvisional(s.ID) {
			next = append(next, s.Clone())
		}
	}
	session.Sort(next)
	m.sessions = next
	m.mu.Unlock()
	m.publishGauges()
}

func (m *CollectionManager) indexOf(id string) int {
	for i := range m.sessions {
		if m.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

// settledIndexOf is indexOf for sessions the gateway already knows.
func (m *CollectionManager) settledIndexOf(id string) int {
	if m.isProvisional(id) {
		return -1
	}
	return m.indexOf(id)
}

func (m *CollectionManager) publishGauges() {
	counts := map[session.Status]int{
		session.StatusWaiting:    0,
		session.StatusCheckedIn:  0,
		session.StatusCheckedOut: 0,
	}
	m.mu.Lock()
	for _, s := range m.sessions {
		counts[s.Status]++
	}
	m.mu.Unlock()

	for status, n := range counts {
		m.metrics.SetSessions(string(status), n)
	}
}
