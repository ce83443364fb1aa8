// Package safego runs goroutines with panic recovery so a single failing
// conversation pump can never take down the daemon.
package safego

import (
	"context"
	"runtime/debug"

	"github.com/peregrine-desk/peregrine/pkg/logger"
)

// Go launches fn on a new goroutine and logs (instead of propagating) any
// panic, including the stack trace. The context is passed through untouched;
// it exists so call sites read naturally next to their cancellation scope.
func Go(ctx context.Context, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("[safego] goroutine panic recovered: %v\n%s", r, debug.Stack())
			}
		}()
		_ = ctx
		fn()
	}()
}
