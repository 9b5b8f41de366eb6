package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abhisek/doctorai/internal/consult"
	"github.com/abhisek/doctorai/internal/llm"
	"github.com/abhisek/doctorai/internal/store"
)

// newService wires the analysis and verification providers into a
// consultation service. The returned store is nil when usage recording is
// disabled; callers close it when non-nil.
func newService(ctx context.Context, cmd *cobra.Command) (*consult.Service, *store.Store, error) {
	if _, err := llm.CompileSchema(consult.AnswerSchema); err != nil {
		return nil, nil, err
	}

	analysisCfg, verificationCfg := cfg.AnalysisLLMConfig(), cfg.VerificationLLMConfig()
	if err := analysisCfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("analysis provider: %w", err)
	}
	if err := verificationCfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("verification provider: %w", err)
	}

	st, err := openStore(cmd)
	if err != nil {
		return nil, nil, err
	}
	var events store.EventRepo = store.NopEventRepo{}
	if st != nil {
		events = st.EventRepo()
	}

	analyzer, err := llm.NewProvider(ctx, analysisCfg, events, logger)
	if err != nil {
		closeStore(st)
		return nil, nil, fmt.Errorf("analysis provider: %w", err)
	}
	verifier, err := llm.NewProvider(ctx, verificationCfg, events, logger)
	if err != nil {
		closeStore(st)
		return nil, nil, fmt.Errorf("verification provider: %w", err)
	}

	svc := consult.NewService(analyzer, verifier, cfg.ConsultConfig(), consult.WithLogger(logger))
	return svc, st, nil
}

func closeStore(st *store.Store) {
	if st != nil {
		_ = st.Close()
	}
}
