// Package session holds the customer session domain: the timer interval, the
// extension policy, and the state transitions a session moves through between
// check-in and check-out.
//
// Every function in this package is pure. Callers supply the current instant,
// which keeps the rules deterministic under test and lets the application
// layer decide where time comes from.
package session

import "time"

// Status is the lifecycle state of a customer session.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusCheckedIn  Status = "checked-in"
	StatusCheckedOut Status = "checked-out"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusCheckedIn, StatusCheckedOut:
		return true
	}
	return false
}

// CheckInLayout is the human readable layout used for check-in and check-out
// labels.
const CheckInLayout = "2006-01-02 15:04:05"

// DefaultDuration is the session length, in minutes, offered when the caller
// does not pick one.
const DefaultDuration = 60

// DurationOptions lists the session lengths, in minutes, offered at check-in.
var DurationOptions = []int{30, 60, 90, 120}

// Interval is the timer attached to a session.
type Interval struct {
	// Duration is the total allotted minutes including extensions.
	Duration          int
	StartTime         time.Time
	EndTime           time.Time
	IsNearingEnd      bool
	HasExtended       bool
	ExtensionCount    int
	LastExtensionTime *time.Time
}

// VisitRecord is an immutable summary of one completed session.
type VisitRecord struct {
	CheckIn          string
	CheckOut         string
	Duration         int
	WasExtended      bool
	CompletedSession bool
	TimeEnded        bool
	ExtensionsUsed   int
}

// Session is a customer's visit with its timer and visit history.
type Session struct {
	ID          string
	Name        string
	Status      Status
	CheckInTime string
	Photo       *string
	Interval    Interval
	History     []VisitRecord
}

// Clone returns a deep copy of s.
func (s Session) Clone() Session {
	out := s
	if s.Photo != nil {
		photo := *s.Photo
		out.Photo = &photo
	}
	if s.Interval.LastExtensionTime != nil {
		last := *s.Interval.LastExtensionTime
		out.Interval.LastExtensionTime = &last
	}
	if s.History != nil {
		out.History = make([]VisitRecord, len(s.History))
		copy(out.History, s.History)
	}
	return out
}

// CloneAll deep copies a slice of sessions.
func CloneAll(sessions []Session) []Session {
	if sessions == nil {
		return nil
	}
	out := make([]Session, len(sessions))
	for i, s := range sessions {
		out[i] = s.Clone()
	}
	return out
}

// Instant truncates t to millisecond precision, the resolution instants are
// persisted and exchanged at.
func Instant(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli())
}

// FromMillis converts a millisecond epoch value into an instant.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

// FormatCheckIn renders t using CheckInLayout in local time.
func FormatCheckIn(t time.Time) string {
	return t.Local().Format(CheckInLayout)
}

// Minutes converts a count of minutes into a duration.
func Minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}
