// Package assert holds invariant checks that only run in builds tagged
// replaydebug.
package assert

import "fmt"

// IsTrue panics with a formatted error when ok is false in debug builds.
func IsTrue(ok bool, message string, args ...any) {
	if Enabled && !ok {
		panic(fmt.Errorf("invariant violated: "+message, args...))
	}
}
