package session

import (
	"errors"
	"time"
)

// ErrNotCheckedIn is returned when an operation requires an active session.
var ErrNotCheckedIn = errors.New("session: not checked in")

func freshInterval(duration int, now time.Time) Interval {
	return Interval{
		Duration:  duration,
		StartTime: now,
		EndTime:   now.Add(Minutes(duration)),
	}
}

// CheckIn starts a new session for name lasting duration minutes.
func CheckIn(id, name string, duration int, now time.Time) Session {
	now = Instant(now)
	return Session{
		ID:          id,
		Name:        name,
		Status:      StatusCheckedIn,
		CheckInTime: FormatCheckIn(now),
		Interval:    freshInterval(duration, now),
	}
}

// Recheck restarts s with a fresh interval of duration minutes. Extension
// state is reset and history is kept.
func Recheck(s *Session, duration int, now time.Time) {
	now = Instant(now)
	s.Status = StatusCheckedIn
	s.CheckInTime = FormatCheckIn(now)
	s.Interval = freshInterval(duration, now)
}

// Extend asks policy to extend s and applies a granted decision.
func Extend(s *Session, policy ExtensionPolicy, now time.Time) (Decision, error) {
	if s.Status != StatusCheckedIn {
		return Decision{}, ErrNotCheckedIn
	}

	decision := policy.Request(s.Interval, now)
	if !decision.Allowed {
		return decision, nil
	}

	last := decision.LastExtensionTime
	s.Interval.EndTime = decision.EndTime
	s.Interval.Duration = decision.Duration
	s.Interval.ExtensionCount = decision.ExtensionCount
	s.Interval.LastExtensionTime = &last
	s.Interval.HasExtended = true
	s.Interval.IsNearingEnd = false
	return decision, nil
}

func closingRecord(s *Session, now time.Time, completed bool) VisitRecord {
	return VisitRecord{
		CheckIn:          s.CheckInTime,
		CheckOut:         FormatCheckIn(now),
		Duration:         s.Interval.Duration,
		WasExtended:      s.Interval.HasExtended,
		CompletedSession: completed,
		TimeEnded:        !completed,
		ExtensionsUsed:   s.Interval.ExtensionCount,
	}
}

// CheckOut ends s at the customer's request. The interval end is moved to now
// and a completed visit is appended to the history. Calling it on a session
// that is not checked in changes nothing and reports false.
func CheckOut(s *Session, now time.Time) (VisitRecord, bool) {
	if s.Status != StatusCheckedIn {
		return VisitRecord{}, false
	}

	now = Instant(now)
	record := closingRecord(s, now, true)
	s.Status = StatusCheckedOut
	s.Interval.EndTime = now
	s.Interval.IsNearingEnd = false
	s.History = append(s.History, record)
	return record, true
}

// Expire checks out s because its time ran out. The interval end is left as
// it was. It changes nothing and reports false unless s is checked in and its
// interval has elapsed at now.
func Expire(s *Session, now time.Time) (VisitRecord, bool) {
	if s.Status != StatusCheckedIn {
		return VisitRecord{}, false
	}
	if now.Before(s.Interval.EndTime) {
		return VisitRecord{}, false
	}

	record := closingRecord(s, Instant(now), false)
	s.Status = StatusCheckedOut
	s.Interval.IsNearingEnd = false
	s.History = append(s.History, record)
	return record, true
}

// Refresh recomputes the nearing-end flag of s at now and reports whether it
// changed. Sessions that are not checked in never carry the flag.
func Refresh(s *Session, now time.Time, threshold time.Duration) bool {
	want := false
	if s.Status == StatusCheckedIn {
		want = EvaluateInterval(s.Interval, now, threshold).NearingEnd
	}
	if s.Interval.IsNearingEnd == want {
		return false
	}
	s.Interval.IsNearingEnd = want
	return true
}
