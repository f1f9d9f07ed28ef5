// Package clock abstracts time so polling loops and expiry windows can be
// driven deterministically in tests.
package clock

import "time"

// Clock is the subset of time functions the scanner depends on.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Real is the wall clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }
