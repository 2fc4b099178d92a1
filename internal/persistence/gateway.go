package persistence

import (
	"context"

	"github.com/example/session-timer/internal/session"
)

// Draft describes a session to be created. The store assigns the identifier
// and the start of the interval.
type Draft struct {
	Name     string
	Duration int
	Photo    *string
}

// Patch describes a partial update. Nil fields are left untouched and
// AppendHistory is appended to the stored history rather than replacing it.
type Patch struct {
	Name        *string
	Status      *session.Status
	CheckInTime *string
	Photo       *string
	ClearPhoto  bool
	Interval    *session.Interval

	AppendHistory []session.VisitRecord
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Name == nil && p.Status == nil && p.CheckInTime == nil &&
		p.Photo == nil && !p.ClearPhoto && p.Interval == nil && len(p.AppendHistory) == 0
}

// Apply merges p into s.
func (p Patch) Apply(s *session.Session) {
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.CheckInTime != nil {
		s.CheckInTime = *p.CheckInTime
	}
	if p.ClearPhoto {
		s.Photo = nil
	}
	if p.Photo != nil {
		photo := *p.Photo
		s.Photo = &photo
	}
	if p.Interval != nil {
		iv := *p.Interval
		if iv.LastExtensionTime != nil {
			last := *iv.LastExtensionTime
			iv.LastExtensionTime = &last
		}
		s.Interval = iv
	}
	if len(p.AppendHistory) > 0 {
		s.History = append(s.History, p.AppendHistory...)
	}
}

// Diff builds the patch that turns before into after. History entries beyond
// the length of before are treated as appended.
func Diff(before, after session.Session) Patch {
	var p Patch
	if before.Name != after.Name {
		name := after.Name
		p.Name = &name
	}
	if before.Status != after.Status {
		status := after.Status
		p.Status = &status
	}
	if before.CheckInTime != after.CheckInTime {
		label := after.CheckInTime
		p.CheckInTime = &label
	}
	switch {
	case after.Photo == nil && before.Photo != nil:
		p.ClearPhoto = true
	case after.Photo != nil && (before.Photo == nil || *before.Photo != *after.Photo):
		photo := *after.Photo
		p.Photo = &photo
	}
	if !intervalEqual(before.Interval, after.Interval) {
		iv := after.Clone().Interval
		p.Interval = &iv
	}
	if len(after.History) > len(before.History) {
		p.AppendHistory = append([]session.VisitRecord(nil), after.History[len(before.History):]...)
	}
	return p
}

func intervalEqual(a, b session.Interval) bool {
	if a.Duration != b.Duration || !a.StartTime.Equal(b.StartTime) || !a.EndTime.Equal(b.EndTime) ||
		a.IsNearingEnd != b.IsNearingEnd || a.HasExtended != b.HasExtended || a.ExtensionCount != b.ExtensionCount {
		return false
	}
	switch {
	case a.LastExtensionTime == nil && b.LastExtensionTime == nil:
		return true
	case a.LastExtensionTime == nil || b.LastExtensionTime == nil:
		return false
	}
	return a.LastExtensionTime.Equal(*b.LastExtensionTime)
}

// Gateway is the contract every session store satisfies.
type Gateway interface {
	List(ctx context.Context) ([]session.Session, error)
	Create(ctx context.Context, draft Draft) (session.Session, error)
	Update(ctx context.Context, id string, patch Patch) (session.Session, error)
	Delete(ctx context.Context, id string) error
	// ReplaceAll swaps the whole collection in one step.
	ReplaceAll(ctx context.Context, sessions []session.Session) error
}
