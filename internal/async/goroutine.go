package async

import (
	"runtime/debug"
	"sync"

	"genflow/internal/infra"
)

// Go runs fn in a goroutine guarded by panic recovery. When wg is non-nil the
// goroutine is tracked so callers can drain it on shutdown.
func Go(logger *infra.Logger, wg *sync.WaitGroup, name string, fn func()) {
	if wg != nil {
		wg.Add(1)
	}
	go func() {
		if wg != nil {
			defer wg.Done()
		}
		defer Recover(logger, name)
		fn()
	}()
}

// Recover logs panic details without crashing the process.
func Recover(logger *infra.Logger, name string) {
	if r := recover(); r != nil {
		if logger == nil {
			return
		}
		logger.Error().
			Str("goroutine", name).
			Interface("panic", r).
			Bytes("stack", debug.Stack()).
			Msg("goroutine panic recovered")
	}
}
