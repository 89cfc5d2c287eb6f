package coach

import (
	"github.com/abhisek/adaptiq/internal/llm"
	"github.com/abhisek/adaptiq/internal/scoring"
)

// PlanSchema defines the JSON schema for study plan generation.
var PlanSchema = &llm.Schema{
	Name:        "study-plan",
	Description: "A short study plan following an adaptive assessment",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"summary": map[string]any{
				"type":        "string",
				"description": "2-3 sentence overview of the result, addressed to the learner",
			},
			"direction": map[string]any{
				"type": "string",
				"enum": []any{
					string(scoring.Harder), string(scoring.Gradual),
					string(scoring.Maintain), string(scoring.Foundations),
				},
				"description": "How the difficulty of the next material should change",
			},
			"focus_areas": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"category": map[string]any{"type": "string"},
						"reason":   map[string]any{"type": "string"},
					},
					"required":             []any{"category", "reason"},
					"additionalProperties": false,
				},
			},
			"next_steps": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "3-5 concrete actions, most important first",
			},
		},
		"required":             []any{"summary", "direction", "focus_areas", "next_steps"},
		"additionalProperties": false,
	},
}
