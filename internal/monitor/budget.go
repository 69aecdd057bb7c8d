package monitor

import "time"

// Deadline is a wall-clock budget shared by the expansion stages of one crawl.
// The zero value never expires.
type Deadline struct {
	clock Clock
	at    time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// NewDeadline returns a deadline d from now. A non-positive d never expires.
func NewDeadline(clock Clock, d time.Duration) Deadline {
	if clock == nil {
		clock = wallClock{}
	}
	if d <= 0 {
		return Deadline{clock: clock}
	}
	return Deadline{clock: clock, at: clock.Now().Add(d)}
}

// Set reports whether the deadline has an expiry.
func (d Deadline) Set() bool {
	return !d.at.IsZero()
}

// Remaining returns the time left, or a negative value once expired.
// An unset deadline reports the largest representable duration.
func (d Deadline) Remaining() time.Duration {
	if !d.Set() {
		return time.Duration(1<<63 - 1)
	}
	return d.at.Sub(d.clock.Now())
}

// Exceeded reports whether the deadline has passed.
func (d Deadline) Exceeded() bool {
	return d.Set() && d.Remaining() <= 0
}

// Within returns the earlier of d and a new budget of limit from now.
func (d Deadline) Within(limit time.Duration) Deadline {
	if limit <= 0 {
		return d
	}
	clock := d.clock
	if clock == nil {
		clock = wallClock{}
	}
	local := clock.Now().Add(limit)
	if d.Set() && d.at.Before(local) {
		return d
	}
	return Deadline{clock: clock, at: local}
}
