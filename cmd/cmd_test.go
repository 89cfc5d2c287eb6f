package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/adaptiq/internal/simulate"
)

// run executes the root command in an isolated environment.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	for _, k := range []string{
		"GEMINI_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY", "OPENROUTER_API_KEY",
		"ADAPTIQ_LLM_PROVIDER", "ADAPTIQ_DB",
	} {
		t.Setenv(k, "")
	}
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append(args, "--log-level", "error"))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "adaptiq (devel)")
}

func TestSimulate_JSON(t *testing.T) {
	db := filepath.Join(t.TempDir(), "sim.db")
	out, err := run(t, "simulate", "--db", db, "--takers", "5", "--synthetic", "40", "--max-items", "6", "--json")
	require.NoError(t, err)

	var sum simulate.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, 5, sum.Attempts)
	assert.LessOrEqual(t, sum.MeanItems, 6.0)
}

func TestBankImportAndListings(t *testing.T) {
	bankFile, err := filepath.Abs(filepath.Join("..", "internal", "itembank", "testdata", "bank.json"))
	require.NoError(t, err)
	db := filepath.Join(t.TempDir(), "bank.db")

	out, err := run(t, "bank", "import", bankFile, "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "3 items for ai-awareness")

	out, err = run(t, "bank", "list", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "ai-awareness")

	out, err = run(t, "bank", "quarantine", "aw-001", "--db", db, "--reason", "ambiguous wording")
	require.NoError(t, err)
	assert.Contains(t, out, "Quarantined aw-001")

	out, err = run(t, "attempts", "list", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "No attempts found.")

	_, err = run(t, "report", "no-such-attempt", "--db", db)
	assert.Error(t, err)
}

func TestUnknownTraceExporter(t *testing.T) {
	t.Cleanup(func() { _ = rootCmd.PersistentFlags().Set("trace", "") })
	_, err := run(t, "version", "--trace", "jaeger")
	assert.Error(t, err)
}
