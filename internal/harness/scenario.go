package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/convlog/internal/ir"
)

// Scenario defines a reconciliation scenario.
// It builds one conversation, applies steps to it in order and asserts on
// the final state and on everything the conversation published.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Mode is the conversation mode. Defaults to one_to_one.
	Mode string `yaml:"mode,omitempty"`

	// Account owns the conversation. Defaults to "acct".
	Account string `yaml:"account,omitempty"`

	// Conversation is the conversation URI. Defaults to "swarm:<name>".
	Conversation string `yaml:"conversation,omitempty"`

	// Self is the account's own URI.
	Self string `yaml:"self,omitempty"`

	// Contacts seeds the participant set before the first step.
	Contacts []string `yaml:"contacts,omitempty"`

	// Steps mutate the conversation, in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final snapshot.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one operation applied to the conversation. Op selects which of
// the other fields are read.
type Step struct {
	// Op is the operation name, one of the Op* constants.
	Op string `yaml:"op"`

	// Record is the record to insert (insert).
	Record *RecordSpec `yaml:"record,omitempty"`

	// Records are inserted in one batch (insert_batch).
	Records []RecordSpec `yaml:"records,omitempty"`

	// Expect is the expected outcome of an insert, or one outcome per
	// record of an insert_batch.
	Expect []string `yaml:"expect,omitempty"`

	// Patch is the status update to apply (update).
	Patch *PatchSpec `yaml:"patch,omitempty"`

	// Identity names a record (remove, set_last_read).
	Identity string `yaml:"identity,omitempty"`

	// DeleteEntirely suppresses the placeholder (clear).
	DeleteEntirely bool `yaml:"delete_entirely,omitempty"`

	// Visible is the new visibility (set_visible).
	Visible *bool `yaml:"visible,omitempty"`

	// Mode is the new classification tag (set_mode).
	Mode string `yaml:"mode,omitempty"`

	// Contacts is the new participant set (set_contacts).
	Contacts []string `yaml:"contacts,omitempty"`

	// Contact and Composing drive a typing indicator (set_composing).
	Contact   string `yaml:"contact,omitempty"`
	Composing bool   `yaml:"composing,omitempty"`

	// Token names the load to finish (resolve_load, fail_load). Empty
	// means the current load.
	Token string `yaml:"token,omitempty"`

	// Error is the failure message (fail_load).
	Error string `yaml:"error,omitempty"`
}

// RecordSpec is the YAML form of an ir.Record.
type RecordSpec struct {
	// ID is the legacy integer id. Used when MessageID is empty.
	ID        int64          `yaml:"id,omitempty"`
	MessageID string         `yaml:"message_id,omitempty"`
	ParentID  string         `yaml:"parent_id,omitempty"`
	Timestamp int64          `yaml:"timestamp,omitempty"`
	Author    string         `yaml:"author,omitempty"`
	Contact   string         `yaml:"contact,omitempty"`
	Kind      string         `yaml:"kind,omitempty"`
	Status    string         `yaml:"status,omitempty"`
	Body      map[string]any `yaml:"body,omitempty"`
}

// PatchSpec is the YAML form of an ir.Patch.
type PatchSpec struct {
	Identity  string `yaml:"identity"`
	Timestamp int64  `yaml:"timestamp,omitempty"`
	Status    string `yaml:"status"`
}

// Step operations.
const (
	OpInsert       = "insert"
	OpInsertBatch  = "insert_batch"
	OpUpdate       = "update"
	OpRemove       = "remove"
	OpClear        = "clear"
	OpSetVisible   = "set_visible"
	OpMarkRead     = "mark_read"
	OpSetLastRead  = "set_last_read"
	OpSetMode      = "set_mode"
	OpSetContacts  = "set_contacts"
	OpSetComposing = "set_composing"
	OpBeginLoad    = "begin_load"
	OpResolveLoad  = "resolve_load"
	OpFailLoad     = "fail_load"
)

// Assertion validates the final snapshot.
type Assertion struct {
	// Type specifies the assertion type, one of the Assert* constants.
	Type string `yaml:"type"`

	// Identities is the expected list (history_order, roots, orphans).
	Identities []string `yaml:"identities,omitempty"`

	// Value is the expected flag (loaded).
	Value *bool `yaml:"value,omitempty"`

	// Identity is the expected record (last_displayed, last_read) or the
	// insert whose outcome is checked (outcome).
	Identity string `yaml:"identity,omitempty"`

	// Outcome is the expected insert outcome (outcome).
	Outcome string `yaml:"outcome,omitempty"`

	// Count is the expected number (history_len, fault_count, change_count).
	Count *int `yaml:"count,omitempty"`

	// Code narrows fault_count to one fault code.
	Code string `yaml:"code,omitempty"`

	// Kind narrows change_count to one change kind.
	Kind string `yaml:"kind,omitempty"`

	// Token and State check how a load ended (load_state).
	Token string `yaml:"token,omitempty"`
	State string `yaml:"state,omitempty"`
}

// Assertion type constants.
const (
	AssertHistoryOrder  = "history_order"
	AssertRoots         = "roots"
	AssertOrphans       = "orphans"
	AssertLoaded        = "loaded"
	AssertLastDisplayed = "last_displayed"
	AssertLastRead      = "last_read"
	AssertHistoryLen    = "history_len"
	AssertFaultCount    = "fault_count"
	AssertChangeCount   = "change_count"
	AssertOutcome       = "outcome"
	AssertLoadState     = "load_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Mode != "" {
		if _, err := ir.ParseMode(s.Mode); err != nil {
			return err
		}
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateStep validates a single step based on its op.
func validateStep(index int, s *Step) error {
	switch s.Op {
	case "":
		return fmt.Errorf("steps[%d]: op is required", index)
	case OpInsert:
		if s.Record == nil {
			return fmt.Errorf("steps[%d]: record is required for insert", index)
		}
		if len(s.Expect) > 1 {
			return fmt.Errorf("steps[%d]: insert takes at most one expected outcome", index)
		}
		if err := validateRecord(s.Record); err != nil {
			return fmt.Errorf("steps[%d].record: %w", index, err)
		}
	case OpInsertBatch:
		if len(s.Records) == 0 {
			return fmt.Errorf("steps[%d]: records list is required for insert_batch", index)
		}
		if len(s.Expect) > 0 && len(s.Expect) != len(s.Records) {
			return fmt.Errorf("steps[%d]: expect needs one outcome per record, got %d for %d",
				index, len(s.Expect), len(s.Records))
		}
		for j := range s.Records {
			if err := validateRecord(&s.Records[j]); err != nil {
				return fmt.Errorf("steps[%d].records[%d]: %w", index, j, err)
			}
		}
	case OpUpdate:
		if s.Patch == nil || s.Patch.Identity == "" {
			return fmt.Errorf("steps[%d]: patch with identity is required for update", index)
		}
		if !ir.ValidStatuses[ir.Status(s.Patch.Status)] {
			return fmt.Errorf("steps[%d].patch: unknown status %q", index, s.Patch.Status)
		}
	case OpRemove, OpSetLastRead:
		if s.Identity == "" {
			return fmt.Errorf("steps[%d]: identity is required for %s", index, s.Op)
		}
	case OpSetVisible:
		if s.Visible == nil {
			return fmt.Errorf("steps[%d]: visible is required for set_visible", index)
		}
	case OpSetMode:
		if _, err := ir.ParseMode(s.Mode); err != nil {
			return fmt.Errorf("steps[%d]: %w", index, err)
		}
	case OpSetComposing:
		if s.Contact == "" {
			return fmt.Errorf("steps[%d]: contact is required for set_composing", index)
		}
	case OpClear, OpMarkRead, OpSetContacts, OpBeginLoad, OpResolveLoad, OpFailLoad:
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, s.Op)
	}

	for _, o := range s.Expect {
		if !validOutcomes[o] {
			return fmt.Errorf("steps[%d]: unknown outcome %q", index, o)
		}
	}
	return nil
}

func validateRecord(r *RecordSpec) error {
	if r.MessageID == "" && r.ID == 0 {
		return fmt.Errorf("message_id or id is required")
	}
	if r.Kind != "" && !ir.ValidKinds[ir.Kind(r.Kind)] {
		return fmt.Errorf("unknown kind %q", r.Kind)
	}
	if r.Status != "" && !ir.ValidStatuses[ir.Status(r.Status)] {
		return fmt.Errorf("unknown status %q", r.Status)
	}
	return nil
}

var validOutcomes = map[string]bool{
	"duplicate": true,
	"new_leaf":  true,
	"inserted":  true,
	"orphaned":  true,
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertHistoryOrder, AssertRoots, AssertOrphans:
		// An empty list is a valid expectation.
	case AssertLoaded:
		if a.Value == nil {
			return fmt.Errorf("assertions[%d]: value is required for loaded", index)
		}
	case AssertLastDisplayed, AssertLastRead:
		// Empty identity asserts that no record is referenced.
	case AssertHistoryLen, AssertFaultCount, AssertChangeCount:
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for %s", index, a.Type)
		}
		if *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertOutcome:
		if a.Identity == "" {
			return fmt.Errorf("assertions[%d]: identity is required for outcome", index)
		}
		if !validOutcomes[a.Outcome] {
			return fmt.Errorf("assertions[%d]: unknown outcome %q", index, a.Outcome)
		}
	case AssertLoadState:
		if a.Token == "" {
			return fmt.Errorf("assertions[%d]: token is required for load_state", index)
		}
		switch a.State {
		case LoadPending, LoadResolved, LoadSuperseded, LoadFailed:
		default:
			return fmt.Errorf("assertions[%d]: unknown load state %q", index, a.State)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}

// toRecord converts the YAML form, applying defaults: kind text and
// status success.
func (r *RecordSpec) toRecord() (ir.Record, error) {
	rec := ir.Record{
		ID:        r.ID,
		MessageID: r.MessageID,
		ParentID:  r.ParentID,
		Timestamp: r.Timestamp,
		Author:    r.Author,
		Contact:   r.Contact,
		Kind:      ir.KindText,
		Status:    ir.StatusSuccess,
	}
	if r.Kind != "" {
		rec.Kind = ir.Kind(r.Kind)
	}
	if r.Status != "" {
		rec.Status = ir.Status(r.Status)
	}
	if len(r.Body) > 0 {
		body, err := ir.FromAny(map[string]any(r.Body))
		if err != nil {
			return ir.Record{}, fmt.Errorf("record %s body: %w", rec.Identity(), err)
		}
		rec.Body = body.(ir.IRObject)
	}
	return rec, nil
}
