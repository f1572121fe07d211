package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/bufsync/internal/ir"
	"github.com/roach88/bufsync/internal/remote"
)

// Scenario is a scripted sequence of local edits, remote faults and sync
// passes, followed by assertions on the resulting state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is inline CUE declaring the types. Types not declared are
	// synced and have no lookups.
	Schema string `yaml:"schema,omitempty"`

	// PassID is returned for every sync pass. Defaults to
	// "test-pass-default".
	PassID string `yaml:"pass_id,omitempty"`

	// MaxLocalSize overrides the local content threshold for uploads.
	// Unset uses dispatch.DefaultMaxLocalSize; 0 keeps no content.
	MaxLocalSize *int64 `yaml:"max_local_size,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step is exactly one of its fields.
type Step struct {
	Record  *RecordStep  `yaml:"record,omitempty"`
	File    *FileStep    `yaml:"file,omitempty"`
	Enqueue *EnqueueStep `yaml:"enqueue,omitempty"`
	Remote  *RemoteStep  `yaml:"remote,omitempty"`
	Reset   int64        `yaml:"reset,omitempty"`
	Sync    bool         `yaml:"sync,omitempty"`
}

// RecordStep writes a local record.
type RecordStep struct {
	Type   string         `yaml:"type"`
	ID     int64          `yaml:"id"`
	Fields map[string]any `yaml:"fields"`
}

// FileStep writes file metadata and its content to the local stores.
type FileStep struct {
	ID             string         `yaml:"id"`
	AttachmentType string         `yaml:"attachment_type"`
	ListName       string         `yaml:"list_name,omitempty"`
	ParentID       int64          `yaml:"parent_id,omitempty"`
	Folder         string         `yaml:"folder,omitempty"`
	Filename       string         `yaml:"filename"`
	Content        string         `yaml:"content"`
	SnapshotType   string         `yaml:"snapshot_type,omitempty"`
	Snapshot       map[string]any `yaml:"snapshot,omitempty"`
}

// EnqueueStep appends a command to the log.
type EnqueueStep struct {
	Action string      `yaml:"action"`
	Type   string      `yaml:"type"`
	Item   int64       `yaml:"item,omitempty"`
	Params []ParamStep `yaml:"params,omitempty"`
}

// ParamStep is one command parameter.
type ParamStep struct {
	Name  string `yaml:"name"`
	Value any    `yaml:"value"`
}

// RemoteStep scripts the in-memory remote.
type RemoteStep struct {
	// NextID sets the id the next Insert of each type returns.
	NextID map[string]int64 `yaml:"next_id,omitempty"`

	// Fail queues a fault for the next call to an operation.
	Fail *FaultStep `yaml:"fail,omitempty"`
}

// FaultStep is a scripted remote failure. Statuses of 500 and above and
// 429 are transient.
type FaultStep struct {
	Op      string `yaml:"op"`
	Status  int    `yaml:"status"`
	Message string `yaml:"message,omitempty"`
}

// Assertion validates the final state of a scenario run.
type Assertion struct {
	// Type is the assertion type: trace_contains, command_state,
	// remote_calls, local_record, remote_record or file.
	Type string `yaml:"type"`

	// Event is the trace event type (for trace_contains).
	Event string `yaml:"event,omitempty"`

	// Command and State name a command and its expected state
	// (for command_state). State "absent" expects the command purged.
	Command int64  `yaml:"command,omitempty"`
	State   string `yaml:"state,omitempty"`

	// Calls is the exact remote call log (for remote_calls).
	Calls []string `yaml:"calls,omitempty"`

	// Record and ID address a record (for local_record and remote_record).
	Record string `yaml:"record,omitempty"`
	ID     int64  `yaml:"id,omitempty"`

	// File is a file id (for file).
	File string `yaml:"file,omitempty"`

	// Absent expects the record to be missing.
	Absent bool `yaml:"absent,omitempty"`

	// Expect holds the expected fields. Matching is by subset: keys not
	// listed are ignored.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertCommandState  = "command_state"
	AssertRemoteCalls   = "remote_calls"
	AssertLocalRecord   = "local_record"
	AssertRemoteRecord  = "remote_record"
	AssertFile          = "file"
)

// StateAbsent is the command_state value for a purged command.
const StateAbsent = "absent"

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

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
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
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if s.MaxLocalSize != nil && *s.MaxLocalSize < 0 {
		return fmt.Errorf("max_local_size must not be negative")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
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

func validateStep(index int, s Step) error {
	set := 0
	for _, present := range []bool{s.Record != nil, s.File != nil, s.Enqueue != nil, s.Remote != nil, s.Reset != 0, s.Sync} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one of record, file, enqueue, remote, reset or sync is required", index)
	}

	switch {
	case s.Record != nil:
		if s.Record.Type == "" || s.Record.ID == 0 {
			return fmt.Errorf("steps[%d].record: type and id are required", index)
		}
	case s.File != nil:
		if s.File.ID == "" || s.File.Filename == "" {
			return fmt.Errorf("steps[%d].file: id and filename are required", index)
		}
		switch ir.AttachmentType(s.File.AttachmentType) {
		case ir.AttachmentItem, ir.AttachmentDocLib:
		default:
			return fmt.Errorf("steps[%d].file: unknown attachment_type %q", index, s.File.AttachmentType)
		}
	case s.Enqueue != nil:
		if _, err := ir.ParseAction(s.Enqueue.Action); err != nil {
			return fmt.Errorf("steps[%d].enqueue: %w", index, err)
		}
		if s.Enqueue.Type == "" {
			return fmt.Errorf("steps[%d].enqueue: type is required", index)
		}
		for j, p := range s.Enqueue.Params {
			if p.Name == "" {
				return fmt.Errorf("steps[%d].enqueue.params[%d]: name is required", index, j)
			}
		}
	case s.Remote != nil:
		if f := s.Remote.Fail; f != nil {
			if !knownOp(f.Op) {
				return fmt.Errorf("steps[%d].remote.fail: unknown op %q", index, f.Op)
			}
			if f.Status < 400 || f.Status > 599 {
				return fmt.Errorf("steps[%d].remote.fail: status must be 4xx or 5xx", index)
			}
		}
	case s.Reset < 0:
		return fmt.Errorf("steps[%d]: reset must name a command id", index)
	}
	return nil
}

func knownOp(op string) bool {
	switch op {
	case remote.OpCreateTable, remote.OpDeleteTable, remote.OpInsert, remote.OpUpdate,
		remote.OpDeleteByID, remote.OpLike, remote.OpUnlike, remote.OpEmpty,
		remote.OpAttachFileToItem, remote.OpRemoveFileFromItem,
		remote.OpAttachFileToLibrary, remote.OpRemoveFilesFromLibrary:
		return true
	}
	return false
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertCommandState:
		if a.Command == 0 {
			return fmt.Errorf("assertions[%d]: command is required for command_state", index)
		}
		if a.State != StateAbsent && !ir.CommandState(a.State).Valid() {
			return fmt.Errorf("assertions[%d]: unknown state %q", index, a.State)
		}
	case AssertRemoteCalls:
		// An empty list asserts no remote traffic.
	case AssertLocalRecord, AssertRemoteRecord:
		if a.Record == "" || a.ID == 0 {
			return fmt.Errorf("assertions[%d]: record and id are required for %s", index, a.Type)
		}
		if !a.Absent && len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect or absent is required for %s", index, a.Type)
		}
	case AssertFile:
		if a.File == "" {
			return fmt.Errorf("assertions[%d]: file is required for file", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for file", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
