package core

import "time"

// Clock supplies the current time. It exists so that timing-sensitive
// paths (bid cutoff, lazy activation, expiry sweeping) are deterministic
// under test.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
