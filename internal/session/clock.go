package session

import (
	"fmt"
	"time"
)

// DefaultWarningThreshold is how close to the end a session must be before it
// is flagged as nearing its end.
const DefaultWarningThreshold = 15 * time.Minute

// Reading is the evaluation of an interval at a given instant.
type Reading struct {
	Remaining  time.Duration
	Expired    bool
	NearingEnd bool
	// Progress is the share of the interval still remaining, from 0 to 100.
	Progress float64
}

// Evaluate computes the remaining time of the interval [start, end] at now.
// A session is expired when nothing remains and nearing its end when the
// remaining time is positive and within threshold.
func Evaluate(start, end, now time.Time, threshold time.Duration) Reading {
	if threshold <= 0 {
		threshold = DefaultWarningThreshold
	}

	remaining := end.Sub(now)
	reading := Reading{
		Remaining:  remaining,
		Expired:    remaining <= 0,
		NearingEnd: remaining > 0 && remaining <= threshold,
	}
	if remaining < 0 {
		reading.Remaining = 0
	}

	total := end.Sub(start)
	if total > 0 && remaining > 0 {
		reading.Progress = float64(remaining) / float64(total) * 100
		if reading.Progress > 100 {
			reading.Progress = 100
		}
	}
	return reading
}

// EvaluateInterval is Evaluate applied to an Interval.
func EvaluateInterval(iv Interval, now time.Time, threshold time.Duration) Reading {
	return Evaluate(iv.StartTime, iv.EndTime, now, threshold)
}

// FormatRemaining renders a remaining duration as m:ss, or "Time's up" once
// nothing remains.
func FormatRemaining(d time.Duration) string {
	if d <= 0 {
		return "Time's up"
	}
	minutes := int(d / time.Minute)
	seconds := int((d % time.Minute) / time.Second)
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}
