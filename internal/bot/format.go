package bot

import (
	"strconv"
	"strings"

	"github.com/abhisek/doctorai/internal/consult"
)

// Disclaimer closes every consultation reply.
const Disclaimer = "_Not medical advice. See a clinician if symptoms worsen or you feel unwell._"

// FormatReply renders a verified answer as Telegram Markdown.
func FormatReply(a consult.Answer) string {
	parts := []string{
		"*Likely:* " + orDash(a.ProvisionalDiagnosis),
		"*Confidence:* " + strconv.FormatFloat(a.Confidence, 'f', 2, 64),
		"*Answer:* " + orDash(a.Answer),
		"*Plan:* " + orDash(a.Plan),
		"*Triage:* " + orDash(a.Triage),
	}
	if len(a.Differentials) > 0 {
		parts = append(parts, "*Alternatives:* "+strings.Join(a.Differentials, "; "))
	}
	if len(a.Followups) > 0 {
		parts = append(parts, "*Follow-ups:* "+strings.Join(a.Followups, " | "))
	}
	if a.RiskFlags != "" {
		parts = append(parts, "*Risk flags:* "+a.RiskFlags)
	}
	parts = append(parts, Disclaimer)
	return strings.Join(parts, "\n")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
