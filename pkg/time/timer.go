package pkgtime

import "time"

// NewTimer is like time.NewTimer() but also returns a stop function
// that both stops the timer and drains its channel, so it can be
// deferred safely after a select.
func NewTimer(d time.Duration) (*time.Timer, func()) {
	t := time.NewTimer(d)
	stop := func() {
		if !t.Stop() {
			select {
			case <-t.C:
			default:
			}
		}
	}
	return t, stop
}
