package consult

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/abhisek/doctorai/internal/llm"
)

// Config holds pipeline settings.
type Config struct {
	Analysis     PromptConfig
	Verification PromptConfig

	// MaxHistoryTurns caps how many prior turns are replayed to the model.
	MaxHistoryTurns int

	// DefaultAgent is used when a request names no known profile.
	DefaultAgent string

	Calibration CalibrationConfig
}

// DefaultConfig returns the pipeline defaults: a deterministic-leaning
// analysis pass and a cooler verification pass.
func DefaultConfig() Config {
	return Config{
		Analysis:        PromptConfig{Temperature: 0.4, MaxTokens: 800},
		Verification:    PromptConfig{Temperature: 0.2, MaxTokens: 600},
		MaxHistoryTurns: 4,
		DefaultAgent:    AgentDermatologist,
		Calibration:     DefaultCalibrationConfig(),
	}
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithRegistry replaces the built-in profile registry.
func WithRegistry(r *Registry) Option {
	return func(s *Service) { s.registry = r }
}

// WithIDGenerator overrides request ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// Service runs the two-stage consultation pipeline. It holds no per-request
// state and is safe for concurrent use.
type Service struct {
	analyzer   llm.Provider
	verifier   *Verifier
	calibrator *Calibrator
	registry   *Registry
	cfg        Config
	logger     *zap.Logger
	newID      func() string
}

// NewService creates a Service. analyzer and verifier may be the same
// provider.
func NewService(analyzer, verifier llm.Provider, cfg Config, opts ...Option) *Service {
	s := &Service{
		analyzer:   analyzer,
		verifier:   NewVerifier(verifier, cfg.Verification),
		calibrator: NewCalibrator(cfg.Calibration),
		registry:   DefaultRegistry(cfg.DefaultAgent),
		cfg:        cfg,
		logger:     zap.NewNop(),
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the profile registry.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Analyze runs Draft → Verify → Calibrate for one request.
//
// Only analysis-stage transport failures (as *ProviderError), cancellation
// of ctx and ErrEmptyQuestion are returned. Malformed model output is
// repaired and a failed verification degrades to the calibrated draft.
func (s *Service) Analyze(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	if strings.TrimSpace(req.Question) == "" {
		return nil, ErrEmptyQuestion
	}

	requestID := s.newID()
	ctx = llm.WithRequestID(ctx, requestID)
	profile := s.registry.Resolve(req.AgentID)
	log := s.logger.With(
		zap.String("request_id", requestID),
		zap.String("agent", profile.ID),
	)

	draft, draftRep, err := s.draft(ctx, req, profile)
	if err != nil {
		return nil, err
	}
	if draftRep.Fallback {
		log.Warn("schema repair fallback", zap.String("stage", string(StageAnalysis)),
			zap.Strings("adjustments", draftRep.Adjustments))
	}

	res := &Result{
		RequestID: requestID,
		AgentID:   profile.ID,
		Title:     profile.Title,
		Draft:     draft,
		Metadata: Metadata{
			AnalysisModel:     s.analyzer.ModelID(),
			VerificationModel: s.verifier.ModelID(),
			DraftRepair:       draftRep,
			HasImage:          req.HasImage(),
			HistoryTurns:      len(recentTurns(req.History, s.cfg.MaxHistoryTurns)),
		},
	}

	calIn := CalibrationInput{Profile: profile, HasImage: req.HasImage()}

	verified, verRep, err := s.verifier.Verify(ctx, req, profile, draft)
	switch {
	case err != nil && ctx.Err() != nil:
		return nil, ctx.Err()
	case err != nil:
		log.Warn("verification skipped", zap.Error(err))
		guarded, _ := GuardDosing(draft)
		calibrated, cal := s.calibrator.Calibrate(guarded, calIn)
		res.Draft = calibrated
		res.Verified = calibrated
		res.Metadata.VerificationSkipped = true
		res.Metadata.VerificationError = err.Error()
		res.Metadata.Calibration = cal
	default:
		if verRep.Fallback {
			log.Warn("schema repair fallback", zap.String("stage", string(StageVerification)),
				zap.Strings("adjustments", verRep.Adjustments))
		}
		calibrated, cal := s.calibrator.Calibrate(verified, calIn)
		res.Verified = calibrated
		res.Metadata.VerifiedRepair = verRep
		res.Metadata.Calibration = cal
	}

	res.Metadata.DurationMs = time.Since(start).Milliseconds()
	log.Info("consultation complete",
		zap.Bool("verification_skipped", res.Metadata.VerificationSkipped),
		zap.Float64("confidence", res.Verified.Confidence),
		zap.Int64("duration_ms", res.Metadata.DurationMs),
	)
	return res, nil
}

// draft runs the analysis stage. Content-bearing failures are repaired;
// transport failures are terminal.
func (s *Service) draft(ctx context.Context, req Request, profile Profile) (Answer, RepairReport, error) {
	llmReq, err := BuildAnalysisRequest(req, profile, s.cfg.Analysis, s.cfg.MaxHistoryTurns)
	if err != nil {
		return Answer{}, RepairReport{}, fmt.Errorf("build analysis prompt: %w", err)
	}

	resp, err := s.analyzer.Generate(llm.WithPurpose(ctx, string(StageAnalysis)), llmReq)
	if err != nil {
		content, ok := llm.PartialContent(err)
		if !ok {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return Answer{}, RepairReport{}, ctxErr
			}
			return Answer{}, RepairReport{}, &ProviderError{Stage: StageAnalysis, Err: err}
		}
		a, rep := ParseOrRepair(string(content))
		return a, rep, nil
	}

	a, rep := ParseOrRepair(string(resp.Content))
	return a, rep, nil
}
