package pkgcontext

import "context"

// WithCancelOnAnotherContext creates a new context from parent that is
// also cancelled when other is done. Either the returned context or
// other must eventually be cancelled, otherwise the go routine created
// by this function leaks.
func WithCancelOnAnotherContext(parent, other context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-ctx.Done():
		case <-other.Done():
			cancel()
		}
	}()
	return ctx, cancel
}
