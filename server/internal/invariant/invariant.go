// Package invariant holds assertions for conditions that can only be false
// when the scheduling logic itself is wrong. Builds using the chunkflow_debug
// tag panic on a failed check, other builds return false so that the caller
// may recover.
package invariant

import "fmt"

// Check returns cond. If cond is false and the module was built with the
// chunkflow_debug tag, Check panics with the formatted message instead.
func Check(cond bool, format string, args ...any) bool {
	if cond {
		return true
	}
	if Enabled {
		panic("invariant violated: " + fmt.Sprintf(format, args...))
	}
	return false
}
