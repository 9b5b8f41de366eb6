package consult

import (
	"errors"
	"fmt"
)

// Stage names a pipeline step that calls the model.
type Stage string

const (
	StageAnalysis     Stage = "analysis"
	StageVerification Stage = "verification"
)

// ErrEmptyQuestion is returned when a request has no question text.
var ErrEmptyQuestion = errors.New("question is required")

// ProviderError wraps a transport, auth or rate-limit failure from the
// model client. It is terminal for the analysis stage only.
type ProviderError struct {
	Stage Stage
	Err   error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
