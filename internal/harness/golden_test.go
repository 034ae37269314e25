package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioDir = "../../testdata/scenarios"

// TestScenarios_Golden runs every scenario file and compares its snapshot
// with testdata/golden/<name>.golden.
func TestScenarios_Golden(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join(scenarioDir, "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths, "no scenario files found in %s", scenarioDir)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			assert.Equal(t, name, scenario.Name, "scenario name should match file name")

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "scenario failed:\n%s", strings.Join(result.Errors, "\n"))
		})
	}
}

func TestAssertGolden_FromResult(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join(scenarioDir, "orphan_recovery.yaml"))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, result.Errors)

	require.NoError(t, AssertGolden(t, "orphan_recovery", result))
}

func TestMarshalSnapshot_Deterministic(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join(scenarioDir, "causal_chain_out_of_order.yaml"))
	require.NoError(t, err)

	var outputs [][]byte
	for i := 0; i < 5; i++ {
		result, err := Run(scenario)
		require.NoError(t, err)
		data, err := MarshalSnapshot(&result.Snapshot)
		require.NoError(t, err)
		outputs = append(outputs, data)
	}
	for i := 1; i < len(outputs); i++ {
		assert.Equal(t, outputs[0], outputs[i], "run %d differs from run 0", i)
	}
}

func TestMarshalSnapshot_SortedKeys(t *testing.T) {
	s := Snapshot{Scenario: "keys", Mode: "one_to_one"}
	data, err := MarshalSnapshot(&s)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(string(data), `{"changes":[],"cleared":0,`),
		"keys should be sorted and empty lists rendered as []: %s", data)
	assert.True(t, strings.HasSuffix(string(data), `"scenario":"keys"}`))
}

func TestGoldenFiles_HaveScenarios(t *testing.T) {
	goldens, err := filepath.Glob("testdata/golden/*.golden")
	require.NoError(t, err)

	for _, g := range goldens {
		name := strings.TrimSuffix(filepath.Base(g), ".golden")
		_, err := os.Stat(filepath.Join(scenarioDir, name+".yaml"))
		assert.NoError(t, err, "golden %s has no scenario file", name)
	}
}
