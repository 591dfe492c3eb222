package util

import (
	"runtime/debug"

	"github.com/gaugeworks/voteproofs/internal/logging"
)

// SafeGo runs fn on a new goroutine with panic recovery. A panicking batch
// worker must not take down the process; the panic is logged with its stack.
func SafeGo(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logging.Error("goroutine panic recovered",
					"goroutine", name,
					"panic", r,
					"stack", string(debug.Stack()),
				)
			}
		}()
		fn()
	}()
}
