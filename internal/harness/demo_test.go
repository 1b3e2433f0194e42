package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarios runs the bundled scenarios end to end and compares their
// traces with the golden files.
func TestScenarios(t *testing.T) {
	tests := []string{
		"offline_then_reconnect",
		"stale_local_adopts_remote",
		"guest_account_switching",
		"account_prefers_server",
	}

	for _, name := range tests {
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
			require.NoError(t, err)
			assert.Equal(t, name, scenario.Name)
			assert.NotEmpty(t, scenario.Description)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "scenario failed: %v", result.Errors)
			assert.Empty(t, result.Errors)
		})
	}
}

func TestRunDir(t *testing.T) {
	suite, err := RunDir(filepath.Join("testdata", "scenarios"))
	require.NoError(t, err)

	assert.Equal(t, 4, suite.Total)
	assert.Equal(t, 4, suite.Passed)
	assert.Zero(t, suite.Failed)
	assert.Empty(t, suite.Failures)
}

func TestRunDir_RecordsFailures(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	write("a_ok.yaml", minimalScenario)
	write("b_broken.yaml", "name: broken\n")
	write("c_failing.yaml", `
name: failing
description: "wrong owner"
assertions:
  - type: owner
    owner: "account:9"
`)
	write("notes.txt", "ignored")

	suite, err := RunDir(dir)
	require.NoError(t, err)

	assert.Equal(t, 3, suite.Total)
	assert.Equal(t, 1, suite.Passed)
	require.Equal(t, 2, suite.Failed)
	assert.Contains(t, suite.Failures[0].Error, "failed to load scenario")
	assert.Equal(t, "failing", suite.Failures[1].Name)
	assert.Contains(t, suite.Failures[1].Error, "scenario assertions failed")
}

func TestRunDir_MissingDir(t *testing.T) {
	_, err := RunDir(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
