package consult

import "github.com/abhisek/doctorai/internal/llm"

// AnswerSchema is the JSON schema for structured answers. It is not sent as
// a strict provider schema because strict modes reject the item and numeric
// bounds; it is enforced locally and by ParseOrRepair instead.
var AnswerSchema = &llm.Schema{
	Name:        "triage-answer",
	Description: "Structured, conservative health guidance with differentials, follow-up questions and triage advice",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"answer": map[string]any{
				"type":        "string",
				"description": answerFields[0].Guidance,
			},
			"provisional_diagnosis": map[string]any{
				"type":        "string",
				"description": answerFields[1].Guidance,
			},
			"differentials": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"maxItems":    maxDifferentials,
				"description": answerFields[2].Guidance,
			},
			"followups": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"minItems":    minFollowups,
				"maxItems":    maxFollowups,
				"description": answerFields[3].Guidance,
			},
			"plan": map[string]any{
				"type":        "string",
				"description": answerFields[4].Guidance,
			},
			"triage": map[string]any{
				"type":        "string",
				"description": answerFields[5].Guidance,
			},
			"risk_flags": map[string]any{
				"type":        "string",
				"description": answerFields[6].Guidance,
			},
			"confidence": map[string]any{
				"type":        "number",
				"minimum":     0.0,
				"maximum":     1.0,
				"description": answerFields[7].Guidance,
			},
		},
		"required": []any{
			"answer", "provisional_diagnosis", "differentials", "followups",
			"plan", "triage", "risk_flags", "confidence",
		},
		"additionalProperties": false,
	},
}
