package application

import "time"

// Clock is injected into services so tests control created/expiry timestamps.
type Clock interface {
	Now() time.Time
}

// SystemClock returns wall time in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns T.
type FixedClock struct{ T time.Time }

func (c FixedClock) Now() time.Time { return c.T }
