package components

import (
	"fmt"
	"strings"

	"charm.land/lipgloss/v2"

	"github.com/abhisek/doctorai/internal/ui/theme"
)

// Meter displays a confidence value as a horizontal bar.
type Meter struct {
	Label string
	Value float64
	Width int
}

// NewMeter creates a meter for a value in [0, 1].
func NewMeter(label string, value float64, width int) Meter {
	return Meter{Label: label, Value: value, Width: width}
}

// View renders the meter.
func (m Meter) View() string {
	var result string

	if m.Label != "" {
		result += theme.Label.Render(m.Label) + "  "
	}

	// "  100%"
	const valueWidth = 6
	barWidth := m.Width - lipgloss.Width(result) - valueWidth
	if barWidth < 4 {
		barWidth = 4
	}

	filled := int(float64(barWidth) * m.Value)
	filled = max(0, min(filled, barWidth))

	result += theme.MeterFilled.Render(strings.Repeat(" ", filled))
	result += theme.MeterEmpty.Render(strings.Repeat(" ", barWidth-filled))
	result += theme.Hint.Render(fmt.Sprintf("  %3d%%", int(m.Value*100+0.5)))

	return result
}
