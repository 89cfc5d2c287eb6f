// Package stopping decides when an adaptive attempt ends.
package stopping

import (
	"fmt"

	"github.com/abhisek/adaptiq/internal/ability"
)

// Reason is the terminal reason of an attempt. The empty reason means continue.
type Reason string

const (
	Continue         Reason = ""
	MaxItems         Reason = "max_items"
	PrecisionReached Reason = "precision_reached"
	PoolExhausted    Reason = "pool_exhausted"
)

// Stopped reports whether the reason ends the attempt.
func (r Reason) Stopped() bool { return r != Continue }

func (r Reason) String() string {
	if r == Continue {
		return "continue"
	}
	return string(r)
}

// Config holds the stopping thresholds.
type Config struct {
	MinItems int     `json:"min_items" mapstructure:"min-items"`
	MaxItems int     `json:"max_items" mapstructure:"max-items"`
	SETarget float64 `json:"se_target" mapstructure:"se-target"`
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		MinItems: 5,
		MaxItems: 20,
		SETarget: 0.3,
	}
}

// Validate checks the thresholds.
func (c Config) Validate() error {
	if c.MaxItems < 1 {
		return fmt.Errorf("max items must be >= 1, got %d", c.MaxItems)
	}
	if c.MinItems < 0 || c.MinItems > c.MaxItems {
		return fmt.Errorf("min items must be in [0, %d], got %d", c.MaxItems, c.MinItems)
	}
	if c.SETarget <= 0 {
		return fmt.Errorf("SE target must be > 0, got %v", c.SETarget)
	}
	return nil
}

// Decide applies the stopping rules in precedence order: the item ceiling,
// then precision (only once the minimum count is reached), then pool
// exhaustion.
func Decide(state ability.State, cfg Config, poolExhausted bool) Reason {
	switch {
	case state.Count >= cfg.MaxItems:
		return MaxItems
	case state.SE < cfg.SETarget && state.Count >= cfg.MinItems:
		return PrecisionReached
	case poolExhausted:
		return PoolExhausted
	}
	return Continue
}

// ShouldStop reports whether any rule fires.
func ShouldStop(state ability.State, cfg Config, poolExhausted bool) bool {
	return Decide(state, cfg, poolExhausted).Stopped()
}
