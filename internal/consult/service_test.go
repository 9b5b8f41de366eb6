package consult

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"

	"github.com/abhisek/doctorai/internal/llm"
)

func newTestService(analyzer, verifier llm.Provider, opts ...Option) *Service {
	n := 0
	opts = append([]Option{WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("req-%d", n)
	})}, opts...)
	return NewService(analyzer, verifier, DefaultConfig(), opts...)
}

func TestService_EczemaWithImage(t *testing.T) {
	draft := eczemaAnswer()
	verified := eczemaAnswer()
	verified.Answer = "This is most consistent with eczema. A clinician can confirm it."
	verified.Confidence = 0.8

	analyzer := llm.NewNamedMockProvider("gpt-4.1-mini", mockAnswer(draft))
	verifier := llm.NewNamedMockProvider("gpt-4.1", mockAnswer(verified))
	svc := newTestService(analyzer, verifier)

	res, err := svc.Analyze(context.Background(), Request{
		Question: "Itchy red patch on my elbow for two weeks.",
		AgentID:  AgentDermatologist,
		Image:    &Image{Data: pngHeader, Filename: "lesion.png"},
	})
	require.NoError(t, err)

	assert.Equal(t, "req-1", res.RequestID)
	assert.Equal(t, AgentDermatologist, res.AgentID)
	assert.Equal(t, "Dermatology Attending Physician", res.Title)
	assert.Equal(t, draft, res.Draft)
	assert.Equal(t, "eczema", res.Verified.ProvisionalDiagnosis)
	assert.Len(t, res.Verified.Followups, 4)
	assert.InDelta(t, 0.8, res.Verified.Confidence, 1e-9)

	assert.Equal(t, "gpt-4.1-mini", res.Metadata.AnalysisModel)
	assert.Equal(t, "gpt-4.1", res.Metadata.VerificationModel)
	assert.True(t, res.Metadata.HasImage)
	assert.False(t, res.Metadata.VerificationSkipped)
	assert.True(t, res.Metadata.DraftRepair.Strict)
	assert.True(t, res.Metadata.VerifiedRepair.Strict)

	for _, mock := range []*llm.MockProvider{analyzer, verifier} {
		call, ok := mock.LastCall()
		require.True(t, ok)
		last := call.Messages[len(call.Messages)-1]
		require.Len(t, last.Images, 1, mock.ModelID())
		assert.Equal(t, "image/png", last.Images[0].MIMEType)
	}
}

func TestService_RiskFlagsCapConfidence(t *testing.T) {
	a := eczemaAnswer()
	a.RiskFlags = "fever, rapidly spreading rash"
	a.Confidence = 0.9

	svc := newTestService(llm.NewMockProvider(mockAnswer(a)), llm.NewMockProvider(mockAnswer(a)))
	res, err := svc.Analyze(context.Background(), Request{
		Question: "Spreading rash and fever.",
		Image:    &Image{Data: pngHeader, Filename: "rash.png"},
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, res.Verified.Confidence, 0.7)
	assert.InDelta(t, 0.9, res.Metadata.Calibration.Original, 1e-9)
	assert.Contains(t, res.Metadata.Calibration.Reasons, "risk flags detected")
}

func TestService_VerificationFailureReturnsDraft(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	draft := eczemaAnswer()
	draft.Plan = "Apply hydrocortisone 1% cream, 2 tablets of antihistamine at night."

	svc := newTestService(
		llm.NewMockProvider(mockAnswer(draft)),
		llm.NewMockProvider(llm.MockResponse{Err: &llm.ErrProviderUnavailable{Err: errors.New("connection reset")}}),
		WithLogger(zap.New(core)),
	)
	res, err := svc.Analyze(context.Background(), Request{
		Question: "Itchy patch.",
		Image:    &Image{Data: pngHeader, Filename: "lesion.png"},
	})
	require.NoError(t, err)

	assert.True(t, res.Metadata.VerificationSkipped)
	assert.Contains(t, res.Metadata.VerificationError, "connection reset")
	if diff := cmp.Diff(res.Draft, res.Verified); diff != "" {
		t.Fatalf("verified differs from draft (-draft +verified):\n%s", diff)
	}
	assert.Contains(t, res.Verified.Plan, doseNotice)
	assert.NotContains(t, res.Verified.Plan, "2 tablets")

	entries := logs.FilterMessage("verification skipped").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "req-1", entries[0].ContextMap()["request_id"])
}

func TestService_SkippedVerificationStillCalibrated(t *testing.T) {
	draft := eczemaAnswer()
	draft.Confidence = 0.95

	svc := newTestService(llm.NewMockProvider(mockAnswer(draft)), llm.NewMockProvider())
	res, err := svc.Analyze(context.Background(), Request{Question: "Itchy patch, no photo."})
	require.NoError(t, err)

	assert.True(t, res.Metadata.VerificationSkipped)
	assert.InDelta(t, 0.6, res.Verified.Confidence, 1e-9)
	assert.Equal(t, res.Draft, res.Verified)
}

func TestService_AnalysisTransportFailure(t *testing.T) {
	verifier := llm.NewMockProvider()
	svc := newTestService(
		llm.NewMockProvider(llm.MockResponse{Err: &llm.ErrRateLimit{RetryAfter: time.Second}}),
		verifier,
	)

	res, err := svc.Analyze(context.Background(), Request{Question: "Itchy patch."})
	require.Error(t, err)
	assert.Nil(t, res)

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, StageAnalysis, pe.Stage)
	var rl *llm.ErrRateLimit
	assert.ErrorAs(t, err, &rl)
	assert.Zero(t, verifier.CallCount())
}

func TestService_MalformedDraftIsRepaired(t *testing.T) {
	analyzer := llm.NewMockProvider(llm.MockResponse{Content: []byte("```json\n{\"Answer\": \"Probably eczema.\", \"confidence\": \"1.7\"}\n```")})
	verifier := llm.NewMockProvider()
	svc := newTestService(analyzer, verifier)

	res, err := svc.Analyze(context.Background(), Request{Question: "Itchy patch."})
	require.NoError(t, err)

	requireValid(t, res.Draft)
	requireValid(t, res.Verified)
	assert.Equal(t, "Probably eczema.", res.Draft.Answer)
	assert.True(t, res.Metadata.DraftRepair.Fallback)
	assert.Equal(t, FallbackConfidence, res.Draft.Confidence)
	assert.Equal(t, 1, verifier.CallCount())
}

func TestService_UnknownAgentUsesDefault(t *testing.T) {
	svc := newTestService(llm.NewMockProvider(mockAnswer(eczemaAnswer())), llm.NewMockProvider(mockAnswer(eczemaAnswer())))
	res, err := svc.Analyze(context.Background(), Request{Question: "Rash?", AgentID: "cardiologist"})
	require.NoError(t, err)
	assert.Equal(t, AgentDermatologist, res.AgentID)
}

func TestService_EmptyQuestion(t *testing.T) {
	analyzer := llm.NewMockProvider()
	svc := newTestService(analyzer, analyzer)

	_, err := svc.Analyze(context.Background(), Request{Question: "  \n"})
	assert.ErrorIs(t, err, ErrEmptyQuestion)
	assert.Zero(t, analyzer.CallCount())
}

func TestService_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := newTestService(llm.NewMockProvider(mockAnswer(eczemaAnswer())), llm.NewMockProvider())
	_, err := svc.Analyze(ctx, Request{Question: "Rash?"})
	assert.ErrorIs(t, err, context.Canceled)

	var pe *ProviderError
	assert.False(t, errors.As(err, &pe))
}

func TestService_FollowUpChainsHistory(t *testing.T) {
	first := eczemaAnswer()
	second := eczemaAnswer()
	second.Answer = "Blistering suggests irritation; keep it clean and see a clinician."

	analyzer := llm.NewMockProvider(mockAnswer(first), mockAnswer(second))
	verifier := llm.NewMockProvider(mockAnswer(first), mockAnswer(second))
	svc := newTestService(analyzer, verifier)
	ctx := context.Background()

	res1, err := svc.Analyze(ctx, Request{Question: "Itchy patch on my elbow."})
	require.NoError(t, err)

	q2 := "It has started to blister, what now?"
	_, err = svc.Analyze(ctx, Request{
		Question: q2,
		History:  []Turn{{Question: "Itchy patch on my elbow.", Answer: res1.Verified}},
	})
	require.NoError(t, err)

	call := analyzer.Calls[1]
	require.Len(t, call.Messages, 3)
	assert.Equal(t, res1.Verified.Answer, call.Messages[1].Content)
	assert.Equal(t, q2, call.Messages[2].Content)
}

func TestService_ConcurrentRequests(t *testing.T) {
	const n = 8
	analyzer := llm.NewMockProvider()
	verifier := llm.NewMockProvider()
	for range n {
		analyzer.AddResponse(mockAnswer(eczemaAnswer()))
		verifier.AddResponse(mockAnswer(eczemaAnswer()))
	}
	svc := NewService(analyzer, verifier, DefaultConfig())

	results := make([]*Result, n)
	var g errgroup.Group
	for i := range n {
		g.Go(func() error {
			res, err := svc.Analyze(context.Background(), Request{Question: fmt.Sprintf("question %d", i)})
			results[i] = res
			return err
		})
	}
	require.NoError(t, g.Wait())

	ids := map[string]bool{}
	for _, res := range results {
		require.NotNil(t, res)
		ids[res.RequestID] = true
	}
	assert.Len(t, ids, n)
	assert.Equal(t, n, analyzer.CallCount())
	assert.Equal(t, n, verifier.CallCount())
}
