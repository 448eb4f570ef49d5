// Package clock lets the connection manager schedule its timers through an
// injectable source of time. Production code uses Real(); tests use Fake()
// and drive reconnect, keepalive and connect-timeout timers with Advance.
package clock

import "time"

// Clock abstracts the time operations used by the realtime client.
type Clock interface {
	Now() time.Time

	// AfterFunc calls f after d elapses. The real clock runs f on its own
	// goroutine; the fake clock runs it synchronously inside Advance.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a pending AfterFunc call.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the timer from firing. Returns false if it already fired
// or was already stopped.
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}
	return t.stopFunc()
}

type realClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{stopFunc: t.Stop}
}
