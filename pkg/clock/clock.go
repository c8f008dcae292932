// Package clock abstracts time so the poll loop and read deadlines can be
// driven deterministically in tests.
//
// Production code uses Real(). Tests use NewFakeClock() and call Advance().
package clock

import "time"

// Clock provides the time operations used by the telemetry poller.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the time elapsed since t.
	Since(t time.Time) time.Duration

	// After waits for the duration to elapse and then sends the current time.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a Ticker that delivers the current time every d.
	NewTicker(d time.Duration) Ticker
}

// Ticker wraps time.Ticker functionality.
type Ticker interface {
	// C returns the channel on which ticks are delivered.
	C() <-chan time.Time

	// Stop turns off the ticker. After Stop, no more ticks will be sent.
	Stop()

	// Reset stops the ticker and resets it to tick with the new duration.
	Reset(d time.Duration)
}
