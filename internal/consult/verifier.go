package consult

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/abhisek/doctorai/internal/llm"
)

// Verifier runs the safety and quality pass over a draft answer.
type Verifier struct {
	provider llm.Provider
	cfg      PromptConfig
}

// NewVerifier creates a Verifier backed by provider.
func NewVerifier(provider llm.Provider, cfg PromptConfig) *Verifier {
	return &Verifier{provider: provider, cfg: cfg}
}

// ModelID returns the verification model.
func (v *Verifier) ModelID() string {
	return v.provider.ModelID()
}

// Verify asks the model to correct draft and repairs its output. Invalid or
// truncated output is repaired from its content; only transport failures
// are returned, as *ProviderError.
func (v *Verifier) Verify(ctx context.Context, req Request, profile Profile, draft Answer) (Answer, RepairReport, error) {
	ctx = llm.WithPurpose(ctx, string(StageVerification))

	llmReq, err := BuildVerificationRequest(req, profile, draft, v.cfg)
	if err != nil {
		return Answer{}, RepairReport{}, fmt.Errorf("build verification prompt: %w", err)
	}

	var raw string
	resp, err := v.provider.Generate(ctx, llmReq)
	if err != nil {
		content, ok := llm.PartialContent(err)
		if !ok {
			return Answer{}, RepairReport{}, &ProviderError{Stage: StageVerification, Err: err}
		}
		raw = string(content)
	} else {
		raw = string(resp.Content)
	}

	verified, rep := ParseOrRepair(raw)

	if HasRiskFlags(draft.RiskFlags) && !HasRiskFlags(verified.RiskFlags) {
		verified.RiskFlags = draft.RiskFlags
		rep.adjust("kept draft risk_flags the verifier dropped")
	}

	var guarded bool
	verified, guarded = GuardDosing(verified)
	if guarded {
		rep.adjust("replaced explicit dosing with clinician deferral")
	}

	return verified, rep, nil
}

// doseRe matches explicit quantities such as "400 mg", "0.5mL" or
// "2 tablets twice daily". Group 1 is the unit, group 2 any frequency.
var doseRe = regexp.MustCompile(`(?i)\b\d+(?:[.,]\d+)?\s*(?:-\s*\d+(?:[.,]\d+)?\s*)?(mg|mcg|µg|g|ml|iu|units?|tablets?|tabs?|capsules?|puffs?|drops?)\b((?:\s*(?:once|twice|three times|four times|every \d+(?:\s*-\s*\d+)? hours?|per day|a day|daily|/day))*)`)

// weakUnits also measure things other than medication ("5 g in weight",
// "2 drops of blood"). They count as a dose only with a frequency or an
// administration verb earlier in the sentence.
var weakUnits = map[string]bool{
	"g": true, "unit": true, "units": true, "drop": true, "drops": true,
}

var administerRe = regexp.MustCompile(`(?i)\b(?:take|takes|taking|apply|applying|use|using|give|giving|inject|inhale|instil|instill|administer|put|dose|dosing)\b`)

const (
	doseDeferral = "a dose confirmed by your clinician or pharmacist"
	doseNotice   = "Confirm any medication and dose with a clinician or pharmacist before use."
)

// GuardDosing replaces explicit doses in the answer and plan with a
// clinician deferral. It reports whether anything was replaced.
func GuardDosing(a Answer) (Answer, bool) {
	var changed bool
	guard := func(s string) string {
		out, replaced := replaceDoses(s)
		if !replaced {
			return s
		}
		changed = true
		if !strings.Contains(out, doseNotice) {
			out = strings.TrimSpace(out) + " " + doseNotice
		}
		return out
	}
	a.Answer = guard(a.Answer)
	a.Plan = guard(a.Plan)
	return a, changed
}

func replaceDoses(s string) (string, bool) {
	var (
		b        strings.Builder
		last     int
		replaced bool
	)
	for _, m := range doseRe.FindAllStringSubmatchIndex(s, -1) {
		unit := strings.ToLower(s[m[2]:m[3]])
		hasFreq := m[5] > m[4] && strings.TrimSpace(s[m[4]:m[5]]) != ""
		if weakUnits[unit] && !hasFreq && !administerRe.MatchString(sentenceBefore(s, m[0])) {
			continue
		}
		b.WriteString(s[last:m[0]])
		b.WriteString(doseDeferral)
		last = m[1]
		replaced = true
	}
	if !replaced {
		return s, false
	}
	b.WriteString(s[last:])
	return b.String(), true
}

// sentenceBefore returns the text between the start of the sentence
// containing position i and i.
func sentenceBefore(s string, i int) string {
	start := strings.LastIndexAny(s[:i], "!?\n")
	for j := i - 1; j > start; j-- {
		// A period followed by a space ends a sentence; "0.5" does not.
		if s[j] == '.' && j+1 < len(s) && s[j+1] == ' ' {
			start = j
			break
		}
	}
	return s[start+1 : i]
}
