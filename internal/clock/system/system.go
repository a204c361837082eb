// Package system provides the wall clock used to stamp reports.
package system

import "time"

// Clock implements crawljob.Clock with second-precision local time, matching
// the zone-less timestamps written into reports.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current local time truncated to whole seconds.
func (Clock) Now() time.Time {
	return time.Now().Truncate(time.Second)
}
