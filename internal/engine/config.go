package engine

import (
	"fmt"

	"github.com/abhisek/adaptiq/internal/ability"
	"github.com/abhisek/adaptiq/internal/selector"
	"github.com/abhisek/adaptiq/internal/stopping"
)

// Config bundles the settings of the components the engine drives.
type Config struct {
	Ability     ability.Config
	Stopping    stopping.Config
	Constraints selector.Constraints
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Ability:  ability.DefaultConfig(),
		Stopping: stopping.DefaultConfig(),
	}
}

// Validate checks every component configuration.
func (c Config) Validate() error {
	if err := c.Ability.Validate(); err != nil {
		return fmt.Errorf("ability: %w", err)
	}
	if err := c.Stopping.Validate(); err != nil {
		return fmt.Errorf("stopping: %w", err)
	}
	if err := c.Constraints.Validate(); err != nil {
		return fmt.Errorf("constraints: %w", err)
	}
	return nil
}
