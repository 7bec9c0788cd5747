package ports

import "time"

// Timer is a cancellable one-shot callback
type Timer interface {
	// Stop reports whether the call stopped the timer before it fired.
	Stop() bool
}

// Clock abstracts time so scheduling can be driven by tests
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}
