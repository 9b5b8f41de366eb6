package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/doctorai/internal/consult"
)

func TestParseHistory(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []consult.Turn
	}{
		{"empty", "", nil},
		{"null", "null", nil},
		{"empty list", "[]", nil},
		{
			name: "structured turns",
			raw:  `[{"question":"Itchy patch.","answer":{"answer":"Likely eczema.","provisional_diagnosis":"eczema","confidence":0.6}}]`,
			want: []consult.Turn{{
				Question: "Itchy patch.",
				Answer:   consult.Answer{Answer: "Likely eczema.", ProvisionalDiagnosis: "eczema", Confidence: 0.6},
			}},
		},
		{
			name: "answer as text",
			raw:  `[{"question":"Itchy patch.","answer":"Likely eczema."}]`,
			want: []consult.Turn{{Question: "Itchy patch.", Answer: consult.Answer{Answer: "Likely eczema."}}},
		},
		{
			name: "chat messages",
			raw: `[{"role":"user","content":"q1"},{"role":"assistant","content":"a1"},
				{"role":"user","content":"q2"},{"role":"assistant","content":"{\"answer\":\"a2\",\"confidence\":0.4}"}]`,
			want: []consult.Turn{
				{Question: "q1", Answer: consult.Answer{Answer: "a1"}},
				{Question: "q2", Answer: consult.Answer{Answer: "a2", Confidence: 0.4}},
			},
		},
		{
			name: "unpaired messages skipped",
			raw:  `[{"role":"assistant","content":"hello"},{"role":"user","content":"q1"},{"role":"user","content":"q2"},{"role":"assistant","content":"a2"},{"role":"system","content":"x"}]`,
			want: []consult.Turn{{Question: "q2", Answer: consult.Answer{Answer: "a2"}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseHistory(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseHistory_Invalid(t *testing.T) {
	for _, raw := range []string{
		"{not json",
		`{"role":"user"}`,
		`[{"question":"q","answer":42}]`,
		`[{"role":"user","content":{"text":"q"}}]`,
	} {
		_, err := ParseHistory(raw)
		assert.Error(t, err, raw)
	}
}
