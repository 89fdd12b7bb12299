package sim

import (
	"fmt"
	"maps"

	"tick-replay/internal/gamestate"
)

// Validator rejects a config value.
type Validator func(value any) error

// Cvars stores replicated configuration values.
type Cvars struct {
	values     map[string]any
	defaults   map[string]any
	validators map[string]Validator
}

// NewCvars returns a store with the known cvars registered.
func NewCvars() *Cvars {
	c := &Cvars{
		values:     make(map[string]any),
		defaults:   make(map[string]any),
		validators: make(map[string]Validator),
	}
	c.Register(gamestate.TickRateCvar, gamestate.DefaultTickRate, positiveInt)
	return c
}

// Register declares name with a default value and an optional validator.
func (c *Cvars) Register(name string, def any, v Validator) {
	c.values[name] = def
	c.defaults[name] = def
	if v != nil {
		c.validators[name] = v
	}
}

// Get returns the value of name.
func (c *Cvars) Get(name string) (any, bool) {
	v, ok := c.values[name]
	return v, ok
}

// Snapshot returns a copy of every value.
func (c *Cvars) Snapshot() map[string]any {
	return maps.Clone(c.values)
}

// Set stores value. Unforced sets are checked by the registered validator.
// A forced nil value restores the registered default, or unsets the cvar.
func (c *Cvars) Set(name string, value any, forced bool) error {
	if value == nil && forced {
		if def, ok := c.defaults[name]; ok {
			c.values[name] = def
		} else {
			delete(c.values, name)
		}
		return nil
	}
	if v, ok := c.validators[name]; ok && !forced {
		if err := v(value); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidCvar, name, err)
		}
	}
	c.values[name] = value
	return nil
}

// TickRate returns the current tick rate.
func (c *Cvars) TickRate() int {
	return gamestate.TickRateOf(c.values)
}

// SetConfigValue implements the replay config store.
func (w *World) SetConfigValue(name string, value any, forced bool) error {
	return w.cvars.Set(name, value, forced)
}

func positiveInt(value any) error {
	n, ok := gamestate.AsInt(value)
	if !ok {
		return fmt.Errorf("expected an integer, got %T", value)
	}
	if n <= 0 {
		return fmt.Errorf("expected a positive value, got %d", n)
	}
	return nil
}
