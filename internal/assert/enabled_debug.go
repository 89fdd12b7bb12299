//go:build replaydebug

package assert

// Enabled reports whether invariant checks run.
const Enabled = true
