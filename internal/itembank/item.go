// Package itembank provides read-only access to the pool of assessment items.
package itembank

import (
	"errors"
	"fmt"
	"slices"

	"github.com/go-playground/validator/v10"

	"github.com/abhisek/adaptiq/internal/irt"
)

var (
	// ErrMalformedItem indicates an item that fails structural validation.
	ErrMalformedItem = errors.New("malformed item")

	// ErrInvalidAnswer indicates an answer that references unknown options.
	ErrInvalidAnswer = errors.New("invalid answer")
)

// ItemType determines how an answer is scored.
type ItemType string

const (
	// SingleChoice has exactly one correct option.
	SingleChoice ItemType = "single_choice"
	// MultipleChoice requires the exact set of correct options.
	MultipleChoice ItemType = "multiple_choice"
	// PartialCredit awards a fraction of the key, penalizing wrong picks.
	PartialCredit ItemType = "partial_credit"
)

// DefaultPoints is the base value of an item whose options carry no points.
const DefaultPoints = 10

// Option is one selectable answer. Points is the value of a keyed option.
type Option struct {
	ID     string  `json:"id" validate:"required,max=64"`
	Text   string  `json:"text"`
	Points float64 `json:"points,omitempty" validate:"gte=0"`
}

// Item is a single question with its IRT calibration.
type Item struct {
	ID       string     `json:"id" validate:"required,max=128"`
	ToolID   string     `json:"tool_id" validate:"required,max=128"`
	Category string     `json:"category" validate:"required,max=128"`
	Audience string     `json:"audience,omitempty"`
	Type     ItemType   `json:"type" validate:"required,oneof=single_choice multiple_choice partial_credit"`
	Prompt   string     `json:"prompt,omitempty"`
	Params   irt.Params `json:"params"`
	Options  []Option   `json:"options" validate:"min=2,dive"`
	Key      []string   `json:"key" validate:"min=1,dive,required"`

	// Exposures counts administrations across all attempts. Filled by the
	// item source; not part of bank files.
	Exposures int `json:"exposures,omitempty" validate:"min=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the item structure and its IRT parameters. Parameter
// failures wrap irt.ErrInvalidParams; everything else wraps ErrMalformedItem.
func (it Item) Validate() error {
	if err := validate.Struct(it); err != nil {
		return fmt.Errorf("%w: item %q: %w", ErrMalformedItem, it.ID, err)
	}
	if err := it.Params.Validate(); err != nil {
		return fmt.Errorf("item %q: %w", it.ID, err)
	}

	seen := make(map[string]bool, len(it.Options))
	for _, o := range it.Options {
		if seen[o.ID] {
			return fmt.Errorf("%w: item %q: duplicate option %q", ErrMalformedItem, it.ID, o.ID)
		}
		seen[o.ID] = true
	}
	for _, k := range it.Key {
		if !seen[k] {
			return fmt.Errorf("%w: item %q: key %q is not an option", ErrMalformedItem, it.ID, k)
		}
	}
	if it.Type == SingleChoice && len(it.Key) != 1 {
		return fmt.Errorf("%w: item %q: single_choice needs exactly one key, got %d", ErrMalformedItem, it.ID, len(it.Key))
	}
	return nil
}

// MaxPoints returns the base points of a fully correct answer: the sum of
// the keyed options' points, or DefaultPoints when none are set.
func (it Item) MaxPoints() float64 {
	var total float64
	for _, o := range it.Options {
		if slices.Contains(it.Key, o.ID) {
			total += o.Points
		}
	}
	if total == 0 {
		return DefaultPoints
	}
	return total
}

// HasOption reports whether the option id belongs to the item.
func (it Item) HasOption(id string) bool {
	return slices.ContainsFunc(it.Options, func(o Option) bool { return o.ID == id })
}

// Score grades the selected option ids and returns a score in [0, 1].
// An empty selection scores zero.
func (it Item) Score(selected []string) (float64, error) {
	picked := make(map[string]bool, len(selected))
	for _, s := range selected {
		if !it.HasOption(s) {
			return 0, fmt.Errorf("%w: option %q not in item %q", ErrInvalidAnswer, s, it.ID)
		}
		picked[s] = true
	}

	key := make(map[string]bool, len(it.Key))
	for _, k := range it.Key {
		key[k] = true
	}
	var hits, misses int
	for s := range picked {
		if key[s] {
			hits++
		} else {
			misses++
		}
	}

	switch it.Type {
	case SingleChoice:
		if len(picked) > 1 {
			return 0, fmt.Errorf("%w: item %q accepts one option, got %d", ErrInvalidAnswer, it.ID, len(picked))
		}
		if hits == 1 {
			return 1, nil
		}
		return 0, nil
	case MultipleChoice:
		if hits == len(key) && misses == 0 {
			return 1, nil
		}
		return 0, nil
	case PartialCredit:
		s := float64(hits-misses) / float64(len(key))
		return max(0, s), nil
	}
	return 0, fmt.Errorf("%w: item %q has unknown type %q", ErrMalformedItem, it.ID, it.Type)
}

// Filter restricts the eligible pool. Empty fields match everything.
type Filter struct {
	ToolID     string   `json:"tool_id"`
	Categories []string `json:"categories,omitempty"`
	Audience   string   `json:"audience,omitempty"`
}

// Matches reports whether the item passes the filter.
func (f Filter) Matches(it Item) bool {
	if f.ToolID != "" && it.ToolID != f.ToolID {
		return false
	}
	if len(f.Categories) > 0 && !slices.Contains(f.Categories, it.Category) {
		return false
	}
	// Items without an audience are shared by all audiences.
	if f.Audience != "" && it.Audience != "" && it.Audience != f.Audience {
		return false
	}
	return true
}

// Apply returns the items that match the filter and are not excluded.
func (f Filter) Apply(items []Item, excluded []string) []Item {
	skip := make(map[string]bool, len(excluded))
	for _, id := range excluded {
		skip[id] = true
	}
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if skip[it.ID] || !f.Matches(it) {
			continue
		}
		out = append(out, it)
	}
	return out
}
