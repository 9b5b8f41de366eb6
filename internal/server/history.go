package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/abhisek/doctorai/internal/consult"
)

// historyItem accepts both {question, answer} turns and {role, content}
// chat messages.
type historyItem struct {
	Question string          `json:"question"`
	Answer   json.RawMessage `json:"answer"`
	Role     string          `json:"role"`
	Content  string          `json:"content"`
}

// ParseHistory decodes the history form field. An empty field is no
// history. Chat messages are paired user then assistant; unpaired or empty
// messages are skipped.
func ParseHistory(raw string) ([]consult.Turn, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil, nil
	}

	var items []historyItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, err
	}

	var (
		turns   []consult.Turn
		pending string
	)
	for i, item := range items {
		switch {
		case item.Question != "" || len(item.Answer) > 0:
			a, err := decodeAnswer(item.Answer)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			turns = append(turns, consult.Turn{Question: item.Question, Answer: a})
			pending = ""
		case item.Role == "user":
			pending = item.Content
		case item.Role == "assistant":
			if pending != "" && strings.TrimSpace(item.Content) != "" {
				turns = append(turns, consult.Turn{Question: pending, Answer: assistantAnswer(item.Content)})
			}
			pending = ""
		}
	}
	return turns, nil
}

// decodeAnswer accepts a structured answer object or plain answer text.
func decodeAnswer(raw json.RawMessage) (consult.Answer, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return consult.Answer{}, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return consult.Answer{}, err
		}
		return consult.Answer{Answer: s}, nil
	}
	var a consult.Answer
	if err := json.Unmarshal(raw, &a); err != nil {
		return consult.Answer{}, fmt.Errorf("answer: %w", err)
	}
	return a, nil
}

// assistantAnswer recovers answer text from an assistant message, which may
// be a serialized answer object.
func assistantAnswer(content string) consult.Answer {
	var a consult.Answer
	if strings.HasPrefix(strings.TrimSpace(content), "{") && json.Unmarshal([]byte(content), &a) == nil && a.Answer != "" {
		return a
	}
	return consult.Answer{Answer: content}
}
