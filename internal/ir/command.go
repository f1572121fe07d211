package ir

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Action names the remote mutation a command performs.
type Action string

const (
	ActionCreateTable              Action = "CreateTable"
	ActionDeleteTable              Action = "DeleteTable"
	ActionInsert                   Action = "Insert"
	ActionUpdate                   Action = "Update"
	ActionDelete                   Action = "Delete"
	ActionLike                     Action = "Like"
	ActionUnlike                   Action = "Unlike"
	ActionEmpty                    Action = "Empty"
	ActionAttachFileToItem         Action = "AttachFileToItem"
	ActionRemoveAttachmentFromItem Action = "RemoveAttachmentFromItem"
	ActionAttachFileToLibrary      Action = "AttachFileToLibrary"
	ActionRemoveFileFromLibrary    Action = "RemoveFileFromLibrary"
)

// Actions lists every action in declaration order.
var Actions = []Action{
	ActionCreateTable,
	ActionDeleteTable,
	ActionInsert,
	ActionUpdate,
	ActionDelete,
	ActionLike,
	ActionUnlike,
	ActionEmpty,
	ActionAttachFileToItem,
	ActionRemoveAttachmentFromItem,
	ActionAttachFileToLibrary,
	ActionRemoveFileFromLibrary,
}

// Valid reports whether a is one of the declared actions.
func (a Action) Valid() bool {
	for _, known := range Actions {
		if a == known {
			return true
		}
	}
	return false
}

// ParseAction resolves an action name.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.Valid() {
		return "", fmt.Errorf("unknown action %q", s)
	}
	return a, nil
}

// CommandState is the position of a command in the retry state machine.
//
//	Pending  -> Succeeded | Delayed | Failed
//	Delayed  -> Succeeded | Delayed | Failed
//	Disabled and Failed are terminal until an operator resets them.
type CommandState string

const (
	StatePending   CommandState = "Pending"
	StateDelayed   CommandState = "Delayed"
	StateFailed    CommandState = "Failed"
	StateSucceeded CommandState = "Succeeded"
	StateDisabled  CommandState = "Disabled"
)

// RunnableStates are the states a drain pass looks at. Failed is included
// so the pass can halt on it.
var RunnableStates = []CommandState{StatePending, StateFailed, StateDelayed}

// Valid reports whether s is a declared state.
func (s CommandState) Valid() bool {
	switch s {
	case StatePending, StateDelayed, StateFailed, StateSucceeded, StateDisabled:
		return true
	}
	return false
}

// Command is one queued mutation against the remote store.
//
// Commands are never mutated except for State and, after an insert is
// reconciled, ItemID.
type Command struct {
	ID         int64        `json:"id"`
	ItemID     *int64       `json:"item_id,omitempty"`
	TypeName   string       `json:"type_name"`
	Action     Action       `json:"action"`
	State      CommandState `json:"state"`
	Created    time.Time    `json:"created"`
	Parameters Parameters   `json:"parameters,omitempty"`
}

// HasItem reports whether the command targets a specific item.
func (c Command) HasItem() bool {
	return c.ItemID != nil
}

// Item returns the target item id, or 0 when the command is type-level.
func (c Command) Item() int64 {
	if c.ItemID == nil {
		return 0
	}
	return *c.ItemID
}

// Targets reports whether the command addresses (typeName, itemID).
func (c Command) Targets(typeName string, itemID int64) bool {
	return c.TypeName == typeName && c.ItemID != nil && *c.ItemID == itemID
}

// String renders a short description for logs.
func (c Command) String() string {
	if c.ItemID != nil {
		return fmt.Sprintf("#%d %s %s/%d [%s]", c.ID, c.Action, c.TypeName, *c.ItemID, c.State)
	}
	return fmt.Sprintf("#%d %s %s [%s]", c.ID, c.Action, c.TypeName, c.State)
}

// ItemRef returns a pointer to a copy of id, for building commands.
func ItemRef(id int64) *int64 {
	return &id
}

// Param is one named command parameter.
type Param struct {
	Name  string  `json:"name"`
	Value IRValue `json:"value"`
}

// UnmarshalJSON implements json.Unmarshaler for Param.
func (p *Param) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name  string          `json:"name"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Name = raw.Name
	if len(raw.Value) == 0 {
		p.Value = IRNull{}
		return nil
	}
	v, err := UnmarshalIRValue(raw.Value)
	if err != nil {
		return fmt.Errorf("param %q: %w", raw.Name, err)
	}
	p.Value = v
	return nil
}

// MarshalJSON implements json.Marshaler for Param.
func (p Param) MarshalJSON() ([]byte, error) {
	name, err := json.Marshal(p.Name)
	if err != nil {
		return nil, err
	}
	val, err := MarshalIRValue(p.Value)
	if err != nil {
		return nil, fmt.Errorf("param %q: %w", p.Name, err)
	}
	out := make([]byte, 0, len(name)+len(val)+20)
	out = append(out, `{"name":`...)
	out = append(out, name...)
	out = append(out, `,"value":`...)
	out = append(out, val...)
	out = append(out, '}')
	return out, nil
}

// Parameters is an ordered list of named values. Names may repeat, which
// is how RemoveFileFromLibrary carries several file names.
type Parameters []Param

// P builds a Param.
func P(name string, value IRValue) Param {
	return Param{Name: name, Value: value}
}

// Get returns the first value with the given name.
func (ps Parameters) Get(name string) (IRValue, bool) {
	for _, p := range ps {
		if p.Name == name {
			return p.Value, true
		}
	}
	return nil, false
}

// First returns the first parameter value regardless of name.
func (ps Parameters) First() (IRValue, bool) {
	if len(ps) == 0 {
		return nil, false
	}
	return ps[0].Value, true
}

// All returns every value with the given name, in order.
func (ps Parameters) All(name string) []IRValue {
	var out []IRValue
	for _, p := range ps {
		if p.Name == name {
			out = append(out, p.Value)
		}
	}
	return out
}

// String returns the named parameter as a string. Integers are formatted.
func (ps Parameters) String(name string) (string, bool) {
	v, ok := ps.Get(name)
	if !ok {
		return "", false
	}
	return AsString(v)
}

// Int returns the named parameter as an integer. Numeric strings are parsed.
func (ps Parameters) Int(name string) (int64, bool) {
	v, ok := ps.Get(name)
	if !ok {
		return 0, false
	}
	return AsInt(v)
}

// AsString converts a scalar value to a string.
func AsString(v IRValue) (string, bool) {
	switch val := v.(type) {
	case IRString:
		return string(val), true
	case IRInt:
		return strconv.FormatInt(int64(val), 10), true
	}
	return "", false
}

// AsInt converts a scalar value to an integer.
func AsInt(v IRValue) (int64, bool) {
	switch val := v.(type) {
	case IRInt:
		return int64(val), true
	case IRString:
		n, err := strconv.ParseInt(string(val), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// Well-known parameter names.
const (
	ParamAttachmentID = "AttachmentId"
	ParamFilename     = "Filename"
	ParamFolder       = "Folder"
	ParamUserID       = "UserId"
)
