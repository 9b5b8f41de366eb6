package cmd

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/doctorai/internal/consult"
	"github.com/abhisek/doctorai/internal/llm"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	setTestEnv(t)
	return run(t, args...)
}

func setTestEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DOCTORAI_CONFIG", "")
	t.Setenv("DOCTORAI_DB", filepath.Join(t.TempDir(), "usage.db"))
	t.Setenv("DOCTORAI_LLM_PROVIDER", "mock")
	t.Setenv("DEFAULT_AGENT", "")
	t.Setenv("DOCTORAI_DEFAULT_AGENT", "")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		askCmd.Flags().VisitAll(func(f *pflag.Flag) {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		})
	})

	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "doctorai (devel)\n", out)
}

func TestAgentsMarksDefault(t *testing.T) {
	out, err := execute(t, "agents")
	require.NoError(t, err)

	assert.Contains(t, out, consult.AgentDermatologist+" *")
	assert.Contains(t, out, "* default")
}

func TestAskWithoutModelReturnsProviderError(t *testing.T) {
	_, err := execute(t, "ask", "Itchy elbows")
	require.Error(t, err)

	var pe *consult.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, consult.StageAnalysis, pe.Stage)
	var unavailable *llm.ErrProviderUnavailable
	assert.ErrorAs(t, err, &unavailable)
}

func TestAskRequiresQuestion(t *testing.T) {
	_, err := execute(t, "ask")
	assert.Error(t, err)
}

func TestAskMissingImage(t *testing.T) {
	_, err := execute(t, "ask", "--image", filepath.Join(t.TempDir(), "missing.jpg"), "rash")
	assert.ErrorContains(t, err, "read image")
}

func TestAskRejectsProviderWithoutKey(t *testing.T) {
	setTestEnv(t)
	t.Setenv("DOCTORAI_LLM_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("DOCTORAI_OPENAI_API_KEY", "")

	_, err := run(t, "ask", "Itchy elbows")
	assert.ErrorContains(t, err, "analysis provider: OPENAI_API_KEY is required")
}
