// Package selector picks the next item to administer.
package selector

import (
	"fmt"
	"math"

	"github.com/abhisek/adaptiq/internal/ability"
	"github.com/abhisek/adaptiq/internal/irt"
	"github.com/abhisek/adaptiq/internal/itembank"
)

// tieTolerance is the relative difference below which two information
// values are considered equal.
const tieTolerance = 1e-9

// Constraints restrict the candidate pool. The zero value imposes none.
type Constraints struct {
	// CategoryMin is the number of items per category that must be given
	// before other categories are considered again.
	CategoryMin map[string]int `json:"category_min,omitempty" mapstructure:"category-min"`

	// CategoryMax caps the items drawn from one category.
	CategoryMax map[string]int `json:"category_max,omitempty" mapstructure:"category-max"`

	// MaxExposures skips items administered this many times across all
	// attempts. Zero disables the cap.
	MaxExposures int `json:"max_exposures,omitempty" mapstructure:"max-exposures"`
}

// Validate rejects negative limits and minimums above their maximum.
func (c Constraints) Validate() error {
	if c.MaxExposures < 0 {
		return fmt.Errorf("max exposures must be >= 0, got %d", c.MaxExposures)
	}
	for cat, n := range c.CategoryMin {
		if n < 0 {
			return fmt.Errorf("category %q: minimum must be >= 0, got %d", cat, n)
		}
		if limit, ok := c.CategoryMax[cat]; ok && n > limit {
			return fmt.Errorf("category %q: minimum %d exceeds maximum %d", cat, n, limit)
		}
	}
	for cat, n := range c.CategoryMax {
		if n < 0 {
			return fmt.Errorf("category %q: maximum must be >= 0, got %d", cat, n)
		}
	}
	return nil
}

// Given counts administered items per category.
type Given map[string]int

// SelectNext returns the most informative eligible item at the current
// ability, or nil when none remains.
func SelectNext(state ability.State, given Given, pool []itembank.Item, c Constraints) *itembank.Item {
	eligible := Eligible(state, given, pool, c)
	if len(eligible) == 0 {
		return nil
	}

	var (
		best     *itembank.Item
		bestInfo float64
	)
	for i := range eligible {
		it := &eligible[i]
		info := irt.Information(state.Theta, it.Params)
		if best == nil || better(info, it.ID, bestInfo, best.ID) {
			best, bestInfo = it, info
		}
	}
	out := *best
	return &out
}

// Remaining returns how many items are still eligible.
func Remaining(state ability.State, given Given, pool []itembank.Item, c Constraints) int {
	return len(Eligible(state, given, pool, c))
}

// Eligible applies the administration, parameter, exposure and content
// balancing rules. When a category with an unmet minimum still has
// candidates, only those categories are returned.
func Eligible(state ability.State, given Given, pool []itembank.Item, c Constraints) []itembank.Item {
	var candidates []itembank.Item
	for _, it := range pool {
		switch {
		case state.HasAdministered(it.ID):
			continue
		case it.Params.Validate() != nil:
			continue
		case c.MaxExposures > 0 && it.Exposures >= c.MaxExposures:
			continue
		}
		if limit, ok := c.CategoryMax[it.Category]; ok && given[it.Category] >= limit {
			continue
		}
		candidates = append(candidates, it)
	}

	if len(c.CategoryMin) == 0 {
		return candidates
	}
	var quota []itembank.Item
	for _, it := range candidates {
		if given[it.Category] < c.CategoryMin[it.Category] {
			quota = append(quota, it)
		}
	}
	if len(quota) > 0 {
		return quota
	}
	return candidates
}

func better(info float64, id string, bestInfo float64, bestID string) bool {
	scale := math.Max(math.Abs(info), math.Abs(bestInfo))
	if math.Abs(info-bestInfo) <= tieTolerance*scale {
		return id < bestID
	}
	return info > bestInfo
}
