package components

import (
	"strings"

	"charm.land/lipgloss/v2"

	"github.com/abhisek/doctorai/internal/consult"
	"github.com/abhisek/doctorai/internal/ui/theme"
)

// Disclaimer closes every rendered answer.
const Disclaimer = "Not medical advice. See a clinician if symptoms worsen or you feel unwell."

// AnswerCard renders a consultation result for the terminal.
type AnswerCard struct {
	Result *consult.Result
	Width  int
}

// NewAnswerCard creates a card for res.
func NewAnswerCard(res *consult.Result, width int) AnswerCard {
	return AnswerCard{Result: res, Width: width}
}

// View renders the verified answer inside a bordered card.
func (c AnswerCard) View() string {
	res := c.Result
	a := res.Verified
	inner := c.Width - theme.Card.GetHorizontalFrameSize()
	if inner < 20 {
		inner = 20
	}
	text := theme.Body.Width(inner)

	var sections []string
	sections = append(sections, theme.Title.Render(res.Title))
	sections = append(sections, field("Likely", orDash(a.ProvisionalDiagnosis), inner))
	sections = append(sections, text.Render(a.Answer))
	sections = append(sections, field("Plan", orDash(a.Plan), inner))
	sections = append(sections, field("Triage", orDash(a.Triage), inner))
	if len(a.Differentials) > 0 {
		sections = append(sections, field("Alternatives", strings.Join(a.Differentials, "; "), inner))
	}
	if len(a.Followups) > 0 {
		sections = append(sections, theme.Label.Render("Follow-ups")+"\n"+bullets(a.Followups, inner))
	}
	if consult.HasRiskFlags(a.RiskFlags) {
		sections = append(sections, theme.Alert.Width(inner).Render("Risk flags: "+a.RiskFlags))
	}
	sections = append(sections, NewMeter("Confidence", a.Confidence, inner).View())
	if res.Metadata.VerificationSkipped {
		sections = append(sections, theme.Notice.Width(inner).Render("Safety review unavailable; showing the guarded draft."))
	}
	sections = append(sections, theme.Hint.Width(inner).Render(Disclaimer))

	return theme.Card.Width(c.Width).Render(lipgloss.JoinVertical(lipgloss.Left, sections...))
}

func field(label, value string, width int) string {
	return theme.Body.Width(width).Render(theme.Label.Render(label+": ") + value)
}

func bullets(items []string, width int) string {
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = theme.Body.Width(width).Render("• " + it)
	}
	return strings.Join(lines, "\n")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
