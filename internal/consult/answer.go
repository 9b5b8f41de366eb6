package consult

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
)

// Answer is the structured reply every stage produces or is repaired into.
type Answer struct {
	Answer               string   `json:"answer"`
	ProvisionalDiagnosis string   `json:"provisional_diagnosis"`
	Differentials        []string `json:"differentials"`
	Followups            []string `json:"followups"`
	Plan                 string   `json:"plan"`
	Triage               string   `json:"triage"`
	RiskFlags            string   `json:"risk_flags"`
	Confidence           float64  `json:"confidence"`
}

// Encode returns the canonical JSON form of a. Encoding a valid answer and
// passing it to ParseOrRepair yields an equal value. A confidence JSON
// cannot represent is encoded the way ParseOrRepair would repair it.
func (a Answer) Encode() string {
	switch {
	case math.IsNaN(a.Confidence):
		a.Confidence = 0
	case a.Confidence < 0 || a.Confidence > 1:
		a.Confidence = math.Min(1, math.Max(0, a.Confidence))
	}
	if a.Differentials == nil {
		a.Differentials = []string{}
	}
	if a.Followups == nil {
		a.Followups = []string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(a); err != nil {
		// Only unsupported values fail, and confidence is the only float.
		panic("consult: encode answer: " + err.Error())
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// field describes one answer key and the guidance given to the model.
type field struct {
	Key      string
	Guidance string
}

// answerFields lists the answer keys in canonical order.
var answerFields = []field{
	{"answer", "Concise, empathetic response that summarizes the likely explanation (if any) and next steps."},
	{"provisional_diagnosis", "Single best-fit label if possible, otherwise 'unclear'."},
	{"differentials", "Up to 3 alternative possibilities, most plausible first."},
	{"followups", "3-5 targeted, closed-ended clarifying questions."},
	{"plan", "Actionable plan (home care, OTC/Rx options to ask a provider about, self-monitoring)."},
	{"triage", "When to seek urgent in-person care versus a routine consult."},
	{"risk_flags", "Red flags matched from the presentation, or 'None identified'."},
	{"confidence", "0.0-1.0 estimated confidence; be conservative."},
}

// Image is an optional photo attached to a consultation.
type Image struct {
	Data     []byte
	Filename string
	MIMEType string
}

// Turn is one prior exchange in a follow-up conversation.
type Turn struct {
	Question string `json:"question"`
	Answer   Answer `json:"answer"`
}

// Request is a single consultation.
type Request struct {
	Question string
	AgentID  string
	Image    *Image
	History  []Turn
}

// HasImage reports whether the request carries image bytes.
func (r Request) HasImage() bool {
	return r.Image != nil && len(r.Image.Data) > 0
}

// Result is the outcome of a consultation.
type Result struct {
	RequestID string   `json:"request_id"`
	AgentID   string   `json:"agent"`
	Title     string   `json:"title"`
	Draft     Answer   `json:"result"`
	Verified  Answer   `json:"verification"`
	Metadata  Metadata `json:"meta"`
}

// Metadata records how a Result was produced.
type Metadata struct {
	AnalysisModel       string       `json:"model"`
	VerificationModel   string       `json:"verifier"`
	VerificationSkipped bool         `json:"verification_skipped"`
	VerificationError   string       `json:"verification_error,omitempty"`
	DraftRepair         RepairReport `json:"draft_repair"`
	VerifiedRepair      RepairReport `json:"verified_repair"`
	Calibration         Calibration  `json:"calibration"`
	HasImage            bool         `json:"has_image"`
	HistoryTurns        int          `json:"history_turns"`
	DurationMs          int64        `json:"duration_ms"`
}
