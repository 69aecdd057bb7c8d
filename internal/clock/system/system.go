// Package system supplies the wall clock used outside tests.
package system

import "time"

// Clock reports wall time in UTC so persisted timestamps never carry a local
// offset.
type Clock struct{}

// New returns the wall clock.
func New() *Clock { return &Clock{} }

// Now implements monitor.Clock.
func (*Clock) Now() time.Time {
	return time.Now().UTC()
}
