package common

import "time"

// Clock supplies Unix timestamps to the engines.
type Clock interface {
	Now() int64
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() int64

// Now implements Clock.
func (f ClockFunc) Now() int64 { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(func() int64 { return time.Now().Unix() })
