package session

import "time"

const (
	// ExtensionTime is the amount of time granted per extension.
	ExtensionTime = 30 * time.Minute
	// MaxExtensions is how many extensions fit in one window.
	MaxExtensions = 3
	// ExtensionCooldown is how long a session must wait after exhausting its
	// extensions before a new window opens.
	ExtensionCooldown = time.Hour
)

// ReasonCooldown is the denial reason reported while the cooldown runs.
const ReasonCooldown = "maximum extensions reached; cooldown in effect"

// ExtensionPolicy decides whether a session may be extended.
type ExtensionPolicy struct {
	ExtensionTime time.Duration
	MaxExtensions int
	Cooldown      time.Duration
}

// DefaultExtensionPolicy returns the standard thirty minute, three per hour
// policy.
func DefaultExtensionPolicy() ExtensionPolicy {
	return ExtensionPolicy{
		ExtensionTime: ExtensionTime,
		MaxExtensions: MaxExtensions,
		Cooldown:      ExtensionCooldown,
	}
}

func (p ExtensionPolicy) normalized() ExtensionPolicy {
	def := DefaultExtensionPolicy()
	if p.ExtensionTime <= 0 {
		p.ExtensionTime = def.ExtensionTime
	}
	if p.MaxExtensions <= 0 {
		p.MaxExtensions = def.MaxExtensions
	}
	if p.Cooldown <= 0 {
		p.Cooldown = def.Cooldown
	}
	return p
}

// Decision is the outcome of an extension request. When Allowed is true the
// interval fields describe the granted extension. Otherwise RetryAfter holds
// the remaining cooldown.
type Decision struct {
	Allowed bool

	EndTime           time.Time
	Duration          int
	ExtensionCount    int
	LastExtensionTime time.Time

	RetryAfter time.Duration
	Reason     string
}

// RetryAfterMinutes is RetryAfter rounded up to whole minutes.
func (d Decision) RetryAfterMinutes() int {
	if d.RetryAfter <= 0 {
		return 0
	}
	return int((d.RetryAfter + time.Minute - 1) / time.Minute)
}

// Request evaluates an extension of iv at now.
//
// Extensions within a window are granted until MaxExtensions is reached.
// Once the window is exhausted further requests are denied until Cooldown has
// elapsed since the last extension, after which the count restarts at one.
// The new end is now plus ExtensionTime, not the old end plus ExtensionTime.
func (p ExtensionPolicy) Request(iv Interval, now time.Time) Decision {
	p = p.normalized()
	now = Instant(now)

	if iv.ExtensionCount >= p.MaxExtensions && iv.LastExtensionTime != nil {
		elapsed := now.Sub(*iv.LastExtensionTime)
		if elapsed < p.Cooldown {
			return Decision{
				Allowed:    false,
				RetryAfter: p.Cooldown - elapsed,
				Reason:     ReasonCooldown,
			}
		}
	}

	count := iv.ExtensionCount + 1
	if iv.ExtensionCount >= p.MaxExtensions {
		count = 1
	}

	return Decision{
		Allowed:           true,
		EndTime:           now.Add(p.ExtensionTime),
		Duration:          iv.Duration + int(p.ExtensionTime/time.Minute),
		ExtensionCount:    count,
		LastExtensionTime: now,
	}
}
