package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/replica/internal/collection"
)

// Scenario defines a replication scenario.
// A scenario seeds a remote collection, drives a replicator (and its
// optimistic layer) through a list of steps and asserts on the broadcast
// trace and the final replica.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Options configure the replicator under test.
	Options Options `yaml:"options,omitempty"`

	// Seed holds the records the remote collection starts with.
	Seed []map[string]any `yaml:"seed,omitempty"`

	// Steps are executed in order. Broadcasts are recorded into the trace.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	// Supported types: trace_actions, trace_contains, trace_order,
	// trace_count, final_order, final_state
	Assertions []Assertion `yaml:"assertions"`

	// IDPrefix prefixes generated uuids ("<prefix>-1", ...). Default "uuid".
	IDPrefix string `yaml:"id_prefix,omitempty"`
}

// Options configure the replicator built for a scenario.
type Options struct {
	// Query is the replication query, feathers style.
	Query map[string]any `yaml:"query,omitempty"`

	// Publication is a filter records must satisfy to be replicated.
	Publication map[string]any `yaml:"publication,omitempty"`

	// PublicationCUE is a CUE constraint records must satisfy.
	PublicationCUE string `yaml:"publication_cue,omitempty"`

	// Sort lists sort fields, "-" prefixed for descending order.
	Sort []string `yaml:"sort,omitempty"`

	// UUID switches identity to the uuid field and enables optimistic steps.
	UUID bool `yaml:"uuid,omitempty"`

	// Paginate configures server-side paging of the remote collection.
	Paginate *PaginateOptions `yaml:"paginate,omitempty"`
}

// PaginateOptions mirrors queryir.Paginate for scenario files.
type PaginateOptions struct {
	Default int `yaml:"default"`
	Max     int `yaml:"max"`
}

// Step is one scenario action.
//
//	- do: connect
//	- do: remote.patch
//	  id: 3
//	  data: { order: 3.5 }
//	- do: fail
//	  op: patch
//	  mode: next
//	- do: patch
//	  id: uuid-1
//	  data: { order: 9 }
//	  expect: { error: NOT_FOUND }
type Step struct {
	// Do names the step kind. See the Step* constants.
	Do string `yaml:"do"`

	// ID addresses the target record: the remote id for remote.* steps,
	// the uuid for optimistic steps.
	ID any `yaml:"id,omitempty"`

	// Data is the record payload for create, update and patch steps.
	Data map[string]any `yaml:"data,omitempty"`

	// Query selects records for patch_many, remove_many and find. Its
	// $select also projects the result of create and get.
	Query map[string]any `yaml:"query,omitempty"`

	// Op is the collection operation a fail step targets.
	Op string `yaml:"op,omitempty"`

	// Mode is next, always or heal for fail steps.
	Mode string `yaml:"mode,omitempty"`

	// Sort is the new sort order for change_sort steps.
	Sort []string `yaml:"sort,omitempty"`

	// Expect validates the step outcome. If nil the step must succeed.
	Expect *StepExpect `yaml:"expect,omitempty"`
}

// StepExpect specifies the expected outcome of a step.
type StepExpect struct {
	// Error is the expected engine error code (e.g. NOT_FOUND), or
	// "remote" for an error coming from the remote collection.
	Error string `yaml:"error,omitempty"`

	// Result is a subset the returned record must contain.
	Result map[string]any `yaml:"result,omitempty"`

	// Count is the expected number of returned records (find and *_many).
	Count *int `yaml:"count,omitempty"`
}

// Step kinds.
const (
	StepConnect    = "connect"
	StepDisconnect = "disconnect"
	StepChangeSort = "change_sort"
	StepFail       = "fail"

	StepRemoteCreate = "remote.create"
	StepRemoteUpdate = "remote.update"
	StepRemotePatch  = "remote.patch"
	StepRemoteRemove = "remote.remove"

	StepCreate     = "create"
	StepUpdate     = "update"
	StepPatch      = "patch"
	StepRemove     = "remove"
	StepPatchMany  = "patch_many"
	StepRemoveMany = "remove_many"
	StepFind       = "find"
	StepGet        = "get"
)

// stepKinds lists every valid Step.Do value.
var stepKinds = []string{
	StepConnect, StepDisconnect, StepChangeSort, StepFail,
	StepRemoteCreate, StepRemoteUpdate, StepRemotePatch, StepRemoteRemove,
	StepCreate, StepUpdate, StepPatch, StepRemove, StepPatchMany, StepRemoveMany,
	StepFind, StepGet,
}

// Fail modes.
const (
	FailNext   = "next"
	FailAlways = "always"
	FailHeal   = "heal"
)

// Assertion validates the trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_actions": the full action sequence equals Actions
	// - "trace_contains": a broadcast with Action (and Source) carries Match
	// - "trace_order": Actions appear in order, not necessarily adjacent
	// - "trace_count": Action appears exactly Count times
	// - "final_order": the replica's Field values, in order, equal Values
	// - "final_state": exactly one Target record matches Where and carries Expect
	Type string `yaml:"type"`

	// Action is the broadcast action (trace_contains, trace_count).
	Action string `yaml:"action,omitempty"`

	// Source optionally restricts trace_contains and trace_count.
	Source string `yaml:"source,omitempty"`

	// Actions is the expected action sequence (trace_actions, trace_order).
	Actions []string `yaml:"actions,omitempty"`

	// Match is a subset the broadcast record must contain (trace_contains).
	Match map[string]any `yaml:"match,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// Field and Values drive final_order.
	Field  string `yaml:"field,omitempty"`
	Values []any  `yaml:"values,omitempty"`

	// Target is "replica" (default) or "remote" (final_state).
	Target string `yaml:"target,omitempty"`

	// Where selects the record; all fields must match loosely (final_state).
	Where map[string]any `yaml:"where,omitempty"`

	// Expect holds expected field values, subset match (final_state).
	// An empty Expect asserts that no record matches Where.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceActions  = "trace_actions"
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalOrder    = "final_order"
	AssertFinalState    = "final_state"
)

// Final state targets.
const (
	TargetReplica = "replica"
	TargetRemote  = "remote"
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

// ParseScenario parses scenario YAML with strict field validation.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // catches typos like "assertion:" vs "assertions:"
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// DiscoverScenarios returns the scenario files under dir (*.yaml, *.yml),
// sorted by path. dir may also name a single file.
func DiscoverScenarios(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("scenario path: %w", err)
	}
	if !info.IsDir() {
		return []string{dir}, nil
	}

	var paths []string
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step, s.Options.UUID); err != nil {
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

func validateStep(index int, step *Step, uuid bool) error {
	if step.Do == "" {
		return fmt.Errorf("steps[%d]: do is required", index)
	}
	known := false
	for _, k := range stepKinds {
		if k == step.Do {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("steps[%d]: unknown step %q", index, step.Do)
	}

	switch step.Do {
	case StepRemoteUpdate, StepRemotePatch, StepRemoteRemove, StepUpdate, StepPatch, StepRemove, StepGet:
		if step.ID == nil && (step.Expect == nil || step.Expect.Error == "") {
			return fmt.Errorf("steps[%d]: id is required for %s", index, step.Do)
		}
	case StepFail:
		if step.Mode != FailHeal && !collection.Operation(step.Op).Valid() {
			return fmt.Errorf("steps[%d]: unknown operation %q", index, step.Op)
		}
		switch step.Mode {
		case FailNext, FailAlways, FailHeal:
		default:
			return fmt.Errorf("steps[%d]: mode must be next, always or heal, got %q", index, step.Mode)
		}
	case StepChangeSort:
		if len(step.Sort) == 0 {
			return fmt.Errorf("steps[%d]: sort is required for change_sort", index)
		}
	}

	switch step.Do {
	case StepCreate, StepUpdate, StepPatch, StepRemove, StepPatchMany, StepRemoveMany, StepFind, StepGet:
		if !uuid {
			return fmt.Errorf("steps[%d]: %s requires options.uuid", index, step.Do)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceActions:
		if a.Actions == nil {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_actions", index)
		}
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalOrder:
		if a.Field == "" {
			return fmt.Errorf("assertions[%d]: field is required for final_order", index)
		}
	case AssertFinalState:
		if len(a.Where) == 0 {
			return fmt.Errorf("assertions[%d]: where is required for final_state", index)
		}
		switch a.Target {
		case "", TargetReplica, TargetRemote:
		default:
			return fmt.Errorf("assertions[%d]: target must be replica or remote, got %q", index, a.Target)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
