package session

import (
	"sort"
	"time"
)

// Less reports whether a is displayed before b. Checked-in sessions come
// first, the one closest to its end leading. The rest follow with the most
// recent check-in first. Ties fall back to the identifier.
func Less(a, b Session) bool {
	aActive := a.Status == StatusCheckedIn
	bActive := b.Status == StatusCheckedIn
	if aActive != bActive {
		return aActive
	}

	if aActive {
		if !a.Interval.EndTime.Equal(b.Interval.EndTime) {
			return a.Interval.EndTime.Before(b.Interval.EndTime)
		}
	} else {
		at, bt := checkedInAt(a), checkedInAt(b)
		if !at.Equal(bt) {
			return at.After(bt)
		}
	}
	return a.ID < b.ID
}

// Sort orders sessions in display order in place.
func Sort(sessions []Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		return Less(sessions[i], sessions[j])
	})
}

func checkedInAt(s Session) time.Time {
	if t, err := time.ParseInLocation(CheckInLayout, s.CheckInTime, time.Local); err == nil {
		return t
	}
	return s.Interval.StartTime
}
