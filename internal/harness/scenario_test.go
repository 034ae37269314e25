package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, `
name: valid
description: A valid scenario
mode: public
self: me
contacts: [me, alice]
steps:
  - op: insert
    record:
      message_id: A
      author: alice
      body:
        text: hello
    expect: [new_leaf]
assertions:
  - type: history_order
    identities: [A]
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "valid", scenario.Name)
	assert.Equal(t, "public", scenario.Mode)
	assert.Equal(t, []string{"me", "alice"}, scenario.Contacts)
	require.Len(t, scenario.Steps, 1)
	assert.Equal(t, OpInsert, scenario.Steps[0].Op)
	assert.Equal(t, "A", scenario.Steps[0].Record.MessageID)
	assert.Equal(t, "hello", scenario.Steps[0].Record.Body["text"])
	assert.Equal(t, []string{"new_leaf"}, scenario.Steps[0].Expect)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_MalformedYAML(t *testing.T) {
	path := writeScenario(t, "name: [unclosed\n")
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_UnknownFieldsRejected(t *testing.T) {
	path := writeScenario(t, `
name: typo
description: misspelled field
steps:
  - op: clear
assertion:
  - type: history_len
    count: 0
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "assertion")
}

func TestParseScenario_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    "description: d\nsteps: [{op: clear}]\nassertions: [{type: roots}]\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			yaml:    "name: n\nsteps: [{op: clear}]\nassertions: [{type: roots}]\n",
			wantErr: "description is required",
		},
		{
			name:    "missing steps",
			yaml:    "name: n\ndescription: d\nassertions: [{type: roots}]\n",
			wantErr: "steps list is required",
		},
		{
			name:    "missing assertions",
			yaml:    "name: n\ndescription: d\nsteps: [{op: clear}]\n",
			wantErr: "assertions list is required",
		},
		{
			name:    "unknown mode",
			yaml:    "name: n\ndescription: d\nmode: broadcast\nsteps: [{op: clear}]\nassertions: [{type: roots}]\n",
			wantErr: "unknown conversation mode",
		},
		{
			name:    "missing op",
			yaml:    "name: n\ndescription: d\nsteps: [{identity: A}]\nassertions: [{type: roots}]\n",
			wantErr: "steps[0]: op is required",
		},
		{
			name:    "unknown op",
			yaml:    "name: n\ndescription: d\nsteps: [{op: explode}]\nassertions: [{type: roots}]\n",
			wantErr: `unknown op "explode"`,
		},
		{
			name:    "insert without record",
			yaml:    "name: n\ndescription: d\nsteps: [{op: insert}]\nassertions: [{type: roots}]\n",
			wantErr: "record is required for insert",
		},
		{
			name:    "record without identity",
			yaml:    "name: n\ndescription: d\nsteps: [{op: insert, record: {author: a}}]\nassertions: [{type: roots}]\n",
			wantErr: "message_id or id is required",
		},
		{
			name:    "record with unknown kind",
			yaml:    "name: n\ndescription: d\nsteps: [{op: insert, record: {message_id: A, kind: fax}}]\nassertions: [{type: roots}]\n",
			wantErr: `unknown kind "fax"`,
		},
		{
			name:    "batch expect length",
			yaml:    "name: n\ndescription: d\nsteps: [{op: insert_batch, records: [{message_id: A}], expect: [new_leaf, inserted]}]\nassertions: [{type: roots}]\n",
			wantErr: "expect needs one outcome per record",
		},
		{
			name:    "unknown outcome",
			yaml:    "name: n\ndescription: d\nsteps: [{op: insert, record: {message_id: A}, expect: [appended]}]\nassertions: [{type: roots}]\n",
			wantErr: `unknown outcome "appended"`,
		},
		{
			name:    "update without patch",
			yaml:    "name: n\ndescription: d\nsteps: [{op: update}]\nassertions: [{type: roots}]\n",
			wantErr: "patch with identity is required",
		},
		{
			name:    "update with unknown status",
			yaml:    "name: n\ndescription: d\nsteps: [{op: update, patch: {identity: A, status: lost}}]\nassertions: [{type: roots}]\n",
			wantErr: `unknown status "lost"`,
		},
		{
			name:    "remove without identity",
			yaml:    "name: n\ndescription: d\nsteps: [{op: remove}]\nassertions: [{type: roots}]\n",
			wantErr: "identity is required for remove",
		},
		{
			name:    "set_visible without value",
			yaml:    "name: n\ndescription: d\nsteps: [{op: set_visible}]\nassertions: [{type: roots}]\n",
			wantErr: "visible is required",
		},
		{
			name:    "set_composing without contact",
			yaml:    "name: n\ndescription: d\nsteps: [{op: set_composing, composing: true}]\nassertions: [{type: roots}]\n",
			wantErr: "contact is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseScenario_AssertionTypes(t *testing.T) {
	base := "name: n\ndescription: d\nsteps: [{op: clear}]\nassertions:\n"

	valid := []string{
		"  - {type: history_order, identities: [A, B]}\n",
		"  - {type: roots}\n",
		"  - {type: orphans, identities: []}\n",
		"  - {type: loaded, value: false}\n",
		"  - {type: last_displayed, identity: A}\n",
		"  - {type: last_read}\n",
		"  - {type: history_len, count: 0}\n",
		"  - {type: fault_count, code: ORPHAN_INSERTION, count: 2}\n",
		"  - {type: change_count, kind: move, count: 1}\n",
		"  - {type: outcome, identity: A, outcome: orphaned}\n",
		"  - {type: load_state, token: load-1, state: pending}\n",
	}
	for _, a := range valid {
		_, err := ParseScenario([]byte(base + a))
		assert.NoError(t, err, "assertion %q should be valid", a)
	}

	invalid := map[string]string{
		"  - {identities: [A]}\n":                         "type is required",
		"  - {type: loaded}\n":                            "value is required",
		"  - {type: history_len}\n":                       "count is required",
		"  - {type: fault_count, count: -1}\n":            "count must be non-negative",
		"  - {type: outcome, outcome: new_leaf}\n":        "identity is required",
		"  - {type: outcome, identity: A, outcome: x}\n":  `unknown outcome "x"`,
		"  - {type: load_state, state: pending}\n":        "token is required",
		"  - {type: load_state, token: t, state: done}\n": `unknown load state "done"`,
		"  - {type: trace_contains}\n":                    `unknown assertion type "trace_contains"`,
	}
	for a, wantErr := range invalid {
		_, err := ParseScenario([]byte(base + a))
		if assert.Error(t, err, "assertion %q should be rejected", a) {
			assert.Contains(t, err.Error(), wantErr)
		}
	}
}

func TestRecordSpec_Defaults(t *testing.T) {
	rs := RecordSpec{ID: 7, Timestamp: 70}
	rec, err := rs.toRecord()
	require.NoError(t, err)

	assert.Equal(t, "7", rec.Identity())
	assert.Equal(t, "text", string(rec.Kind))
	assert.Equal(t, "success", string(rec.Status))
	assert.Nil(t, rec.Body)
}

func TestAssertionConstants(t *testing.T) {
	assert.Equal(t, "history_order", AssertHistoryOrder)
	assert.Equal(t, "loaded", AssertLoaded)
	assert.Equal(t, "load_state", AssertLoadState)
}

// TestLoadExampleScenarios validates the scenario files in testdata/scenarios.
// These serve as documentation and regression tests.
func TestLoadExampleScenarios(t *testing.T) {
	tests := []struct {
		file           string
		wantMode       string
		wantSteps      int
		wantAssertions int
	}{
		{"causal_chain_out_of_order.yaml", "", 3, 5},
		{"causal_chain_in_order.yaml", "", 3, 3},
		{"clear_keeps_placeholder.yaml", "", 3, 3},
		{"clear_entirely.yaml", "", 3, 2},
		{"superseded_load.yaml", "", 3, 3},
		{"orphan_recovery.yaml", "", 3, 4},
		{"legacy_timestamp_order.yaml", "legacy", 2, 3},
		{"visible_read_and_display.yaml", "", 5, 3},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			scenario, err := LoadScenario(filepath.Join(scenarioDir, tt.file))
			require.NoError(t, err, "failed to load example scenario %s", tt.file)

			assert.Equal(t, tt.wantMode, scenario.Mode)
			assert.Len(t, scenario.Steps, tt.wantSteps)
			assert.Len(t, scenario.Assertions, tt.wantAssertions)
		})
	}
}
