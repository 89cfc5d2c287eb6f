// Package coach turns a finished assessment into study recommendations.
// A configured language model writes the plan; without one, or when the
// model fails, the rule-based adjustment from package scoring is used.
package coach

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	"github.com/abhisek/adaptiq/internal/llm"
	"github.com/abhisek/adaptiq/internal/scoring"
)

// Source tells where a plan came from.
type Source string

const (
	SourceLLM   Source = "llm"
	SourceRules Source = "rules"
)

// FocusArea is a category the learner should work on.
type FocusArea struct {
	Category string  `json:"category"`
	Percent  float64 `json:"percent"`
	Reason   string  `json:"reason"`
}

// Plan is the recommendation attached to a completed attempt.
type Plan struct {
	Source     Source             `json:"source"`
	Direction  scoring.Direction  `json:"direction"`
	Summary    string             `json:"summary"`
	FocusAreas []FocusArea        `json:"focus_areas"`
	NextSteps  []string           `json:"next_steps"`
	Adjustment scoring.Adjustment `json:"adjustment"`
}

// Coach builds study plans.
type Coach struct {
	provider llm.Provider
	cfg      Config
	logger   *slog.Logger
}

// New creates a Coach. provider may be nil.
func New(provider llm.Provider, cfg Config, logger *slog.Logger) *Coach {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coach{provider: provider, cfg: cfg, logger: logger}
}

// Plan returns recommendations for the report. It never fails: any model
// error degrades to the rule-based plan.
func (c *Coach) Plan(ctx context.Context, toolID string, report scoring.ScoreReport) Plan {
	rules := RulePlan(report, c.cfg.FocusAreas)
	if c.provider == nil {
		return rules
	}

	plan, err := c.generate(ctx, toolID, report, rules.Adjustment)
	if err != nil {
		c.logger.Warn("study plan generation failed, using rules",
			"attempt_id", report.AttemptID, "error", err)
		return rules
	}
	return plan
}

type planOutput struct {
	Summary    string `json:"summary"`
	Direction  string `json:"direction"`
	FocusAreas []struct {
		Category string `json:"category"`
		Reason   string `json:"reason"`
	} `json:"focus_areas"`
	NextSteps []string `json:"next_steps"`
}

func (c *Coach) generate(ctx context.Context, toolID string, report scoring.ScoreReport, adj scoring.Adjustment) (Plan, error) {
	ctx = llm.WithPurpose(ctx, llm.PurposeStudyPlan)
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	req := llm.Request{
		System: planSystemPrompt,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: buildPlanUserMessage(toolID, report, adj, c.cfg.FocusAreas)},
		},
		Schema:      PlanSchema,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}

	resp, err := c.provider.Generate(ctx, req)
	if err != nil {
		return Plan{}, fmt.Errorf("study plan generation: %w", err)
	}

	var out planOutput
	if err := json.Unmarshal(resp.Content, &out); err != nil {
		return Plan{}, fmt.Errorf("parse study plan response: %w", err)
	}

	plan := Plan{
		Source:     SourceLLM,
		Direction:  scoring.Direction(out.Direction),
		Summary:    out.Summary,
		NextSteps:  out.NextSteps,
		Adjustment: adj,
	}
	// Only keep categories that were actually assessed.
	for _, fa := range out.FocusAreas {
		i := slices.IndexFunc(report.Categories, func(cs scoring.CategoryScore) bool {
			return cs.Category == fa.Category
		})
		if i < 0 || slices.ContainsFunc(plan.FocusAreas, func(f FocusArea) bool { return f.Category == fa.Category }) {
			continue
		}
		plan.FocusAreas = append(plan.FocusAreas, FocusArea{
			Category: fa.Category,
			Percent:  report.Categories[i].Percent,
			Reason:   fa.Reason,
		})
		if len(plan.FocusAreas) == c.cfg.FocusAreas {
			break
		}
	}
	return plan, nil
}

// masteredPercent is the category score above which a category is not
// worth focusing on.
const masteredPercent = 80

// RulePlan derives a plan from the scoring rules alone.
func RulePlan(report scoring.ScoreReport, focusAreas int) Plan {
	adj := scoring.Recommend(report)
	plan := Plan{
		Source:     SourceRules,
		Direction:  adj.Direction,
		Summary:    adj.Summary,
		Adjustment: adj,
	}

	for _, cs := range scoring.WeakestCategories(report, focusAreas) {
		if cs.Percent >= masteredPercent {
			continue
		}
		plan.FocusAreas = append(plan.FocusAreas, FocusArea{
			Category: cs.Category,
			Percent:  cs.Percent,
			Reason:   fmt.Sprintf("%d of %d correct (%.0f%%)", cs.Correct, cs.Total, cs.Percent),
		})
	}

	switch adj.Direction {
	case scoring.Harder:
		plan.NextSteps = []string{"Move on to advanced material", "Retake the assessment at a higher level"}
	case scoring.Foundations:
		plan.NextSteps = []string{"Review the introductory material", "Practice the basics before retaking the assessment"}
	case scoring.Gradual:
		plan.NextSteps = []string{"Mix in slightly harder exercises", "Retake the assessment after some practice"}
	default:
		plan.NextSteps = []string{"Keep practicing at the current level"}
	}
	for _, fa := range plan.FocusAreas {
		plan.NextSteps = append(plan.NextSteps, "Revisit "+fa.Category)
	}
	return plan
}
