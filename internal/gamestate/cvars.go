package gamestate

import "math"

const (
	// TickRateCvar is the replicated tick rate in ticks per second.
	TickRateCvar = "net.tickrate"
	// DefaultTickRate applies until a recording sets TickRateCvar.
	DefaultTickRate = 30
)

// TickRateOf returns the tick rate stored in cvars, falling back to
// DefaultTickRate when it is missing or unusable.
func TickRateOf(cvars map[string]any) int {
	n, ok := AsInt(cvars[TickRateCvar])
	if !ok || n <= 0 {
		return DefaultTickRate
	}
	return n
}

// AsInt accepts Go integers and integral JSON numbers.
func AsInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint32:
		return int(v), true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int(v), true
	default:
		return 0, false
	}
}
