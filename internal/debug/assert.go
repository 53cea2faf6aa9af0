package debug

import (
	"fmt"
	"runtime"
)

// Assert panics when truth does not hold. It guards programmer errors
// (marshal output sizes, exhaustive switches, slot bookkeeping); wire input
// must never reach an assert — malformed bytes are handled as errors at the
// decode boundary.
func Assert(truth bool, msg ...string) {
	if len(msg) > 1 {
		panic("invalid assert args")
	}
	if !truth {
		msg := fmt.Sprintf("assertion failed(%s)", msg)
		// include the assertion location; with panic recovery in play it
		// would otherwise be buried in the middle of the panicking stack.
		if _, file, line, ok := runtime.Caller(1); ok {
			msg = fmt.Sprintf("%s:%d: %s", file, line, msg)
		}
		panic(msg)
	}
}
