// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements crawler.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC, truncated to microseconds so values
// survive a round trip through Postgres TIMESTAMPTZ unchanged.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
