package consult

import (
	"strings"
)

// CalibrationConfig holds the confidence ceilings. A zero ceiling disables
// that rule.
type CalibrationConfig struct {
	// RiskFlagCeiling applies when risk_flags reports a detected red flag.
	RiskFlagCeiling float64

	// NoImageCeiling applies to image-relevant profiles when no image was
	// supplied.
	NoImageCeiling float64

	// LowSpecificityCeiling applies when the provisional diagnosis is
	// unclear.
	LowSpecificityCeiling float64
}

// DefaultCalibrationConfig returns the default ceilings.
func DefaultCalibrationConfig() CalibrationConfig {
	return CalibrationConfig{
		RiskFlagCeiling:       0.7,
		NoImageCeiling:        0.6,
		LowSpecificityCeiling: 0.5,
	}
}

// CalibrationInput is the evidence the calibrator weighs.
type CalibrationInput struct {
	Profile  Profile
	HasImage bool
}

// Calibration records what the calibrator did.
type Calibration struct {
	Original float64  `json:"original"`
	Final    float64  `json:"final"`
	Ceiling  float64  `json:"ceiling,omitempty"`
	Reasons  []string `json:"reasons,omitempty"`
}

// Calibrator caps confidence when evidence is thin or risk is flagged.
type Calibrator struct {
	cfg CalibrationConfig
}

// NewCalibrator creates a Calibrator.
func NewCalibrator(cfg CalibrationConfig) *Calibrator {
	return &Calibrator{cfg: cfg}
}

// Calibrate applies the lowest applicable ceiling to a.Confidence. It never
// raises confidence.
func (c *Calibrator) Calibrate(a Answer, in CalibrationInput) (Answer, Calibration) {
	cal := Calibration{Original: a.Confidence, Final: a.Confidence}

	ceiling := 1.0
	apply := func(limit float64, reason string) {
		if limit <= 0 {
			return
		}
		cal.Reasons = append(cal.Reasons, reason)
		ceiling = min(ceiling, limit)
	}

	if HasRiskFlags(a.RiskFlags) {
		apply(c.cfg.RiskFlagCeiling, "risk flags detected")
	}
	if in.Profile.ImageRelevant && !in.HasImage {
		apply(c.cfg.NoImageCeiling, "no image for image-relevant profile")
	}
	if isLowSpecificity(a.ProvisionalDiagnosis) {
		apply(c.cfg.LowSpecificityCeiling, "provisional diagnosis unclear")
	}

	if len(cal.Reasons) > 0 {
		cal.Ceiling = ceiling
	}
	if a.Confidence > ceiling {
		a.Confidence = ceiling
		cal.Final = ceiling
	}
	return a, cal
}

// riskNegations are risk_flags values meaning nothing was detected.
var riskNegations = map[string]bool{
	"none":           true,
	"no":             true,
	"-":              true,
	"absent":         true,
	"not present":    true,
	"nil identified": true,
	"n/a":            true,
	"na":             true,
	"nil":            true,
	"nothing":        true,
	"not applicable": true,
	"not identified": true,
}

// riskNegationPrefixes open negated risk_flags sentences. A bare "no " is
// not enough: "no fever but severe pain" still reports a red flag.
var riskNegationPrefixes = []string{
	"none ",
	"none,",
	"none;",
	"none:",
	"no red flag",
	"no risk",
	"no concerning",
	"no warning",
	"no alarm",
	"no immediate",
	"nothing ",
}

// HasRiskFlags reports whether a risk_flags value indicates a detected red
// flag rather than an empty or negated one.
func HasRiskFlags(flags string) bool {
	s := strings.ToLower(strings.TrimSpace(flags))
	s = strings.TrimSpace(strings.TrimRight(s, ".!"))
	if s == "" || riskNegations[s] {
		return false
	}
	for _, p := range riskNegationPrefixes {
		if strings.HasPrefix(s, p) {
			return false
		}
	}
	return true
}

func isLowSpecificity(diagnosis string) bool {
	switch strings.ToLower(strings.TrimSpace(diagnosis)) {
	case "", unclearDiagnosis, "unknown", "uncertain", "undetermined", "n/a":
		return true
	}
	return false
}
