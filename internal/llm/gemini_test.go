package llm

import (
	"testing"
)

func TestGeminiModelMapping(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"gemini-flash", "gemini-2.5-flash"},
		{"gemini-pro", "gemini-2.5-pro"},
		{"gemini-2.0-flash", "gemini-2.0-flash"}, // Pass-through
	}
	for _, tt := range tests {
		got := resolveModel(tt.input, geminiModels)
		if got != tt.expected {
			t.Errorf("resolveModel(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestBuildGeminiSchema(t *testing.T) {
	def := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"answer":     map[string]any{"type": "string"},
			"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			"triage":     map[string]any{"type": "string", "enum": []any{"self-care", "routine", "urgent"}},
			"followups": map[string]any{
				"type":     "array",
				"items":    map[string]any{"type": "string"},
				"minItems": 3,
				"maxItems": 5,
			},
		},
		"required": []any{"answer", "confidence"},
	}

	schema := buildGeminiSchema(def)

	if schema.Type != "OBJECT" {
		t.Fatalf("expected OBJECT type, got %s", schema.Type)
	}
	if len(schema.Properties) != 4 {
		t.Fatalf("expected 4 properties, got %d", len(schema.Properties))
	}
	if schema.Properties["answer"].Type != "STRING" {
		t.Fatalf("expected STRING for answer, got %s", schema.Properties["answer"].Type)
	}
	conf := schema.Properties["confidence"]
	if conf.Type != "NUMBER" {
		t.Fatalf("expected NUMBER for confidence, got %s", conf.Type)
	}
	if conf.Minimum == nil || *conf.Minimum != 0 || conf.Maximum == nil || *conf.Maximum != 1 {
		t.Fatalf("confidence bounds not carried: %v %v", conf.Minimum, conf.Maximum)
	}
	if len(schema.Properties["triage"].Enum) != 3 {
		t.Fatalf("expected 3 enum values, got %d", len(schema.Properties["triage"].Enum))
	}
	fu := schema.Properties["followups"]
	if fu.Type != "ARRAY" || fu.Items.Type != "STRING" {
		t.Fatalf("unexpected followups schema: %s of %s", fu.Type, fu.Items.Type)
	}
	if fu.MinItems == nil || *fu.MinItems != 3 || fu.MaxItems == nil || *fu.MaxItems != 5 {
		t.Fatalf("followups bounds not carried: %v %v", fu.MinItems, fu.MaxItems)
	}
	if len(schema.Required) != 2 {
		t.Fatalf("expected 2 required fields, got %d", len(schema.Required))
	}
}

func TestBuildGeminiContents_InlineImage(t *testing.T) {
	contents := buildGeminiContents([]Message{
		{Role: RoleUser, Content: "earlier question"},
		{Role: RoleAssistant, Content: "earlier answer"},
		{Role: RoleUser, Content: "now", Images: []Image{{MIMEType: "image/webp", Data: []byte("w")}}},
	})

	if len(contents) != 3 {
		t.Fatalf("expected 3 contents, got %d", len(contents))
	}
	if contents[1].Role != "model" {
		t.Fatalf("assistant role should map to model, got %q", contents[1].Role)
	}
	last := contents[2]
	if len(last.Parts) != 2 || last.Parts[1].InlineData == nil {
		t.Fatalf("expected text and inline image parts, got %+v", last.Parts)
	}
	if last.Parts[1].InlineData.MIMEType != "image/webp" {
		t.Fatalf("mime = %q", last.Parts[1].InlineData.MIMEType)
	}
}
