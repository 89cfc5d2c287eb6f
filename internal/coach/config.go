package coach

import "time"

// Config holds study plan generation settings.
type Config struct {
	MaxTokens   int
	Temperature float64

	// Timeout bounds the model call. Finalization waits at most this long.
	Timeout time.Duration

	// FocusAreas caps the categories a plan concentrates on.
	FocusAreas int
}

// DefaultConfig returns the study plan defaults.
func DefaultConfig() Config {
	return Config{
		MaxTokens:   768,
		Temperature: 0.4,
		Timeout:     20 * time.Second,
		FocusAreas:  3,
	}
}
