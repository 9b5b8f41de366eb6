package llm

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/abhisek/doctorai/internal/store"
)

type recordingRepo struct {
	store.NopEventRepo
	mu     sync.Mutex
	events []store.LLMRequestEventData
	err    error
}

func (r *recordingRepo) AppendLLMRequest(_ context.Context, data store.LLMRequestEventData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, data)
	return r.err
}

func TestLogging_RecordsUsageWithoutContent(t *testing.T) {
	repo := &recordingRepo{}
	core, logs := observer.New(zapcore.DebugLevel)
	mock := NewMockProvider(MockResponse{
		Content: json.RawMessage(`{"answer":"secret health detail"}`),
		Usage:   Usage{InputTokens: 12, OutputTokens: 7},
	})
	p := WithLogging(mock, "openai", repo, zap.New(core))

	ctx := WithRequestID(WithPurpose(context.Background(), "analysis"), "req-42")
	_, err := p.Generate(ctx, Request{Messages: []Message{{
		Role:    RoleUser,
		Content: "private question",
		Images:  []Image{{MIMEType: "image/png", Data: []byte("x")}},
	}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(repo.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(repo.events))
	}
	ev := repo.events[0]
	if ev.RequestID != "req-42" || ev.Purpose != "analysis" || ev.Provider != "openai" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.InputTokens != 12 || ev.OutputTokens != 7 || !ev.Success {
		t.Fatalf("unexpected usage: %+v", ev)
	}

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["images"] != int64(1) {
		t.Fatalf("images field = %v", fields["images"])
	}
	for k, v := range fields {
		if s, ok := v.(string); ok && (s == "private question" || s == "secret health detail") {
			t.Fatalf("content leaked into log field %q", k)
		}
	}
}

func TestLogging_FailureIsWarnedAndRecorded(t *testing.T) {
	repo := &recordingRepo{err: errors.New("disk full")}
	core, logs := observer.New(zapcore.InfoLevel)
	mock := NewMockProvider(MockResponse{Err: &ErrRateLimit{Err: errors.New("429")}})
	p := WithLogging(mock, "anthropic", repo, zap.New(core))

	_, err := p.Generate(context.Background(), Request{})
	var rl *ErrRateLimit
	if !errors.As(err, &rl) {
		t.Fatalf("expected ErrRateLimit, got: %v", err)
	}
	if repo.events[0].Success || repo.events[0].ErrorMessage == "" {
		t.Fatalf("failure not recorded: %+v", repo.events[0])
	}
	if logs.FilterMessage("llm request failed").Len() != 1 {
		t.Fatal("expected a failure warning")
	}
	if logs.FilterMessage("failed to record LLM request event").Len() != 1 {
		t.Fatal("expected a recording warning")
	}
}

type slowProvider struct{}

func (slowProvider) Generate(ctx context.Context, _ Request) (*Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (slowProvider) ModelID() string { return "slow" }

func TestTimeout_BoundsEachCall(t *testing.T) {
	p := WithTimeout(slowProvider{}, 10*time.Millisecond)

	start := time.Now()
	_, err := p.Generate(context.Background(), Request{})
	if time.Since(start) > time.Second {
		t.Fatal("timeout did not bound the call")
	}
	var unavail *ErrProviderUnavailable
	if !errors.As(err, &unavail) {
		t.Fatalf("expected ErrProviderUnavailable, got: %v", err)
	}
	if p.ModelID() != "slow" {
		t.Fatalf("ModelID() = %q", p.ModelID())
	}
}

func TestTimeout_DisabledReturnsInner(t *testing.T) {
	mock := NewMockProvider()
	if WithTimeout(mock, 0) != Provider(mock) {
		t.Fatal("zero timeout should return the inner provider")
	}
}

func TestNewProvider(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Provider = "mock"
	p, err := NewProvider(context.Background(), cfg, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ModelID() != "mock" {
		t.Fatalf("ModelID() = %q", p.ModelID())
	}

	cfg.Provider = "openai"
	cfg.OpenAI.APIKey = ""
	if _, err := NewProvider(context.Background(), cfg, nil, nil); err == nil {
		t.Fatal("expected error without API key")
	}

	cfg.Provider = "bogus"
	if _, err := NewProvider(context.Background(), cfg, nil, nil); err == nil {
		t.Fatal("expected error for unknown provider")
	}

	cfg.Provider = "openai"
	cfg.OpenAI.APIKey = "sk-test"
	p, err = NewProvider(context.Background(), cfg, store.NopEventRepo{}, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := p.(*RetryProvider); !ok {
		t.Fatalf("expected retry decorator outermost, got %T", p)
	}
	if p.ModelID() != "gpt-4.1-mini" {
		t.Fatalf("ModelID() = %q", p.ModelID())
	}
}

func TestLookupCost(t *testing.T) {
	c := LookupCost("gpt-4.1-mini")
	if c == nil {
		t.Fatal("expected pricing for gpt-4.1-mini")
	}
	if got := c.Cost(1_000_000, 1_000_000); math.Abs(got-2.0) > 1e-9 {
		t.Fatalf("Cost() = %v, want 2.0", got)
	}
	if LookupCost("openai/gpt-4.1-mini") == nil {
		t.Fatal("openrouter-prefixed id should resolve upstream pricing")
	}
	if LookupCost("unknown-model") != nil {
		t.Fatal("expected nil for unknown model")
	}
}
