package coach

import (
	"fmt"
	"strings"

	"github.com/abhisek/adaptiq/internal/scoring"
)

const planSystemPrompt = `You are a supportive learning coach. A learner has just finished an adaptive skills assessment. Write a brief, practical study plan grounded only in the results you are given.`

func buildPlanUserMessage(toolID string, r scoring.ScoreReport, adj scoring.Adjustment, focusAreas int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Tool: %s\n", toolID)
	fmt.Fprintf(&b, "Items answered: %d (correct: %d, accuracy %.0f%%)\n", r.TotalItems, r.TotalCorrect, r.Accuracy())
	fmt.Fprintf(&b, "Ability estimate: %.2f (95%% CI %.2f to %.2f), level %s\n", r.Theta, r.CI95[0], r.CI95[1], r.Level)
	fmt.Fprintf(&b, "Assessment ended because: %s\n", r.StopReason)

	b.WriteString("\nCategories:\n")
	if len(r.Categories) == 0 {
		b.WriteString("None\n")
	}
	for _, c := range r.Categories {
		fmt.Fprintf(&b, "- %s: %d/%d correct (%.0f%%)\n", c.Category, c.Correct, c.Total, c.Percent)
	}

	fmt.Fprintf(&b, "\nRule-based suggestion: %s (%s)\n", adj.Direction, adj.Reasoning)

	fmt.Fprintf(&b, `
Instructions:
1. Summarize the result in 2-3 sentences. Be encouraging but honest.
2. Choose a direction. Prefer the rule-based suggestion unless the category breakdown clearly argues otherwise.
3. Pick up to %d of the weakest categories as focus areas, each with a one-sentence reason. Only use category names listed above.
4. List 3-5 concrete next steps.`, focusAreas)

	return b.String()
}
