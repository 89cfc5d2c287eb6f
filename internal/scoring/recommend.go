package scoring

import (
	"cmp"
	"fmt"
	"slices"
)

// Direction is the suggested change in content difficulty.
type Direction string

const (
	Harder      Direction = "harder"
	Gradual     Direction = "gradual_increase"
	Maintain    Direction = "maintain"
	Foundations Direction = "foundations"
)

// Adjustment is a rule-based difficulty recommendation.
type Adjustment struct {
	CurrentLevel Level     `json:"current_level"`
	Direction    Direction `json:"direction"`
	Summary      string    `json:"summary"`
	Reasoning    string    `json:"reasoning"`
}

// Recommend derives a difficulty adjustment from accuracy and theta.
func Recommend(r ScoreReport) Adjustment {
	acc := r.Accuracy()
	adj := Adjustment{CurrentLevel: r.Level}

	switch {
	case acc >= 85 && r.Theta > 0.5:
		adj.Direction = Harder
		adj.Summary = "Increase to more challenging content"
		adj.Reasoning = fmt.Sprintf("High accuracy (%.1f%%) and strong ability estimate (%.2f) indicate readiness for harder material.", acc, r.Theta)
	case acc <= 50 && r.Theta < -0.5:
		adj.Direction = Foundations
		adj.Summary = "Reduce to foundational content"
		adj.Reasoning = fmt.Sprintf("Low accuracy (%.1f%%) and lower ability estimate (%.2f) suggest a review of the basics.", acc, r.Theta)
	case acc >= 70 && acc < 85:
		adj.Direction = Gradual
		adj.Summary = "Maintain current level with slight increase"
		adj.Reasoning = fmt.Sprintf("Good performance (%.1f%%) suggests readiness for gradual progression.", acc)
	default:
		adj.Direction = Maintain
		adj.Summary = "Maintain current level"
		adj.Reasoning = "Performance is appropriate for the current difficulty level."
	}
	return adj
}

// WeakestCategories returns up to n categories with the lowest percent,
// ties broken by name.
func WeakestCategories(r ScoreReport, n int) []CategoryScore {
	out := slices.Clone(r.Categories)
	slices.SortStableFunc(out, func(a, b CategoryScore) int {
		return cmp.Or(cmp.Compare(a.Percent, b.Percent), cmp.Compare(a.Category, b.Category))
	})
	if n < len(out) {
		out = out[:n]
	}
	return out
}
