// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock reports the current time in UTC.
type Clock struct{}

// New creates a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns time.Now in UTC so stored timestamps compare consistently.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
