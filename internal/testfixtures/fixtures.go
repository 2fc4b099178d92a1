package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/session-timer/internal/session"
)

var sessionCounter uint64

var referenceTime = time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// SessionFixture describes a deterministic session that tests can tweak
// through options before materialising it.
type SessionFixture struct {
	ID       string
	Name     string
	Duration int
	Start    time.Time
	Photo    *string

	extensions  []time.Duration
	checkOutAt  *time.Duration
	expireAfter *time.Duration
}

// SessionOption mutates a SessionFixture.
type SessionOption func(*SessionFixture)

// NewSessionFixture returns a fixture for a sixty minute session that started
// at ReferenceTime.
func NewSessionFixture(opts ...SessionOption) SessionFixture {
	n := atomic.AddUint64(&sessionCounter, 1)
	f := SessionFixture{
		ID:       fmt.Sprintf("session-%d", n),
		Name:     fmt.Sprintf("Customer %d", n),
		Duration: session.DefaultDuration,
		Start:    ReferenceTime(),
	}
	for _, opt := range opts {
		opt(&f)
	}
	return f
}

// WithSessionID overrides the identifier.
func WithSessionID(id string) SessionOption {
	return func(f *SessionFixture) { f.ID = id }
}

// WithSessionName overrides the customer name.
func WithSessionName(name string) SessionOption {
	return func(f *SessionFixture) { f.Name = name }
}

// WithSessionDuration overrides the allotted minutes.
func WithSessionDuration(minutes int) SessionOption {
	return func(f *SessionFixture) { f.Duration = minutes }
}

// WithSessionStart overrides the check-in instant.
func WithSessionStart(t time.Time) SessionOption {
	return func(f *SessionFixture) { f.Start = t }
}

// WithSessionPhoto attaches a photo URL.
func WithSessionPhoto(url string) SessionOption {
	return func(f *SessionFixture) { f.Photo = &url }
}

// WithSessionExtendedAt extends the session at the given offsets from start.
func WithSessionExtendedAt(offsets ...time.Duration) SessionOption {
	return func(f *SessionFixture) { f.extensions = append(f.extensions, offsets...) }
}

// WithSessionCheckedOutAfter checks the session out after d.
func WithSessionCheckedOutAfter(d time.Duration) SessionOption {
	return func(f *SessionFixture) { f.checkOutAt = &d }
}

// WithSessionExpiredAfter expires the session after d, which must fall at or
// after its end.
func WithSessionExpiredAfter(d time.Duration) SessionOption {
	return func(f *SessionFixture) { f.expireAfter = &d }
}

// Session materialises the fixture by replaying it through the session rules.
func (f SessionFixture) Session() session.Session {
	s := session.CheckIn(f.ID, f.Name, f.Duration, f.Start)
	if f.Photo != nil {
		photo := *f.Photo
		s.Photo = &photo
	}
	policy := session.DefaultExtensionPolicy()
	for _, offset := range f.extensions {
		_, _ = session.Extend(&s, policy, f.Start.Add(offset))
	}
	if f.checkOutAt != nil {
		session.CheckOut(&s, f.Start.Add(*f.checkOutAt))
	}
	if f.expireAfter != nil {
		session.Expire(&s, f.Start.Add(*f.expireAfter))
	}
	return s
}
