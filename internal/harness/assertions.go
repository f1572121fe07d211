package harness

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/bufsync/internal/ir"
	"github.com/roach88/bufsync/internal/remote/memremote"
	"github.com/roach88/bufsync/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s\n", event.Seq, event.Type, formatObject(event.Fields))
		}
	}
	return buf.String()
}

// AssertionContext provides the stores assertions read from.
type AssertionContext struct {
	Ctx    context.Context
	Store  *store.Store
	Remote *memremote.Store
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertCommandState:
			err = assertCommandState(result.Commands, assertion)
		case AssertRemoteCalls, AssertRemoteRecord:
			if actx == nil || actx.Remote == nil {
				err = fmt.Errorf("assertion[%d]: %s requires the remote", i, assertion.Type)
			} else if assertion.Type == AssertRemoteCalls {
				err = assertRemoteCalls(actx.Remote, assertion)
			} else {
				err = assertRemoteRecord(actx.Remote, assertion)
			}
		case AssertLocalRecord, AssertFile:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: %s requires database context", i, assertion.Type)
			} else if assertion.Type == AssertLocalRecord {
				err = assertLocalRecord(actx.Ctx, actx.Store, assertion)
			} else {
				err = assertFile(actx.Ctx, actx.Store, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			failures = append(failures, err.Error())
		}
	}
	return failures
}

// assertTraceContains checks that some event of the given type has all
// expected fields.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	expected, err := toObject(a.Expect)
	if err != nil {
		return fmt.Errorf("trace_contains: expect: %w", err)
	}
	for _, event := range trace {
		if event.Type == a.Event && matchFields(event.Fields, expected) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("%s event with %s", a.Event, formatObject(expected)),
		Actual:   "no matching event",
		Trace:    trace,
	}
}

func assertCommandState(commands []ir.Command, a Assertion) error {
	actual := StateAbsent
	for _, cmd := range commands {
		if cmd.ID == a.Command {
			actual = string(cmd.State)
			break
		}
	}
	if actual != a.State {
		return &AssertionError{
			Type:     AssertCommandState,
			Expected: fmt.Sprintf("command %d %s", a.Command, a.State),
			Actual:   fmt.Sprintf("command %d %s", a.Command, actual),
		}
	}
	return nil
}

func assertRemoteCalls(rs *memremote.Store, a Assertion) error {
	var actual []string
	for _, c := range rs.Calls() {
		actual = append(actual, c.String())
	}
	if strings.Join(actual, "\n") != strings.Join(a.Calls, "\n") {
		return &AssertionError{
			Type:     AssertRemoteCalls,
			Expected: "[" + strings.Join(a.Calls, "; ") + "]",
			Actual:   "[" + strings.Join(actual, "; ") + "]",
		}
	}
	return nil
}

func assertRemoteRecord(rs *memremote.Store, a Assertion) error {
	row, ok := rs.Record(a.Record, a.ID)
	return checkRecord(AssertRemoteRecord, a, row, ok)
}

func assertLocalRecord(ctx context.Context, st *store.Store, a Assertion) error {
	rec, err := st.GetRecord(ctx, a.Record, a.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("local_record: %w", err)
	}
	return checkRecord(AssertLocalRecord, a, rec.Fields, err == nil)
}

func checkRecord(kind string, a Assertion, fields ir.IRObject, found bool) error {
	ref := fmt.Sprintf("%s %d", a.Record, a.ID)
	if a.Absent {
		if found {
			return &AssertionError{Type: kind, Expected: ref + " absent", Actual: formatObject(fields)}
		}
		return nil
	}
	if !found {
		return &AssertionError{Type: kind, Expected: ref, Actual: "not found"}
	}
	expected, err := toObject(a.Expect)
	if err != nil {
		return fmt.Errorf("%s: expect: %w", kind, err)
	}
	if !matchFields(fields, expected) {
		return &AssertionError{
			Type:     kind,
			Expected: ref + " with " + formatObject(expected),
			Actual:   formatObject(fields),
		}
	}
	return nil
}

// assertFile matches expected against the file's state, list_name,
// parent_id, folder and decoded snapshot.
func assertFile(ctx context.Context, st *store.Store, a Assertion) error {
	f, err := st.GetFile(ctx, a.File)
	if errors.Is(err, store.ErrNotFound) {
		return &AssertionError{Type: AssertFile, Expected: "file " + a.File, Actual: "not found"}
	}
	if err != nil {
		return fmt.Errorf("file: %w", err)
	}

	actual := ir.IRObject{
		"state":     ir.IRString(f.State),
		"list_name": ir.IRString(f.ListName),
		"parent_id": ir.IRInt(f.ParentID),
		"folder":    ir.IRString(f.Folder),
		"snapshot":  ir.IRNull{},
	}
	if f.HasSnapshot() {
		snap, err := ir.ParseObject([]byte(f.AdditionalInformation))
		if err != nil {
			return fmt.Errorf("file %s: snapshot: %w", f.ID, err)
		}
		actual["snapshot"] = snap
	}

	expected, err := toObject(a.Expect)
	if err != nil {
		return fmt.Errorf("file: expect: %w", err)
	}
	if !matchFields(actual, expected) {
		return &AssertionError{
			Type:     AssertFile,
			Expected: "file " + a.File + " with " + formatObject(expected),
			Actual:   formatObject(actual),
		}
	}
	return nil
}

// matchFields checks that actual contains every expected key with an
// equal value. Extra keys in actual are ignored.
func matchFields(actual, expected ir.IRObject) bool {
	for key, want := range expected {
		got, ok := actual[key]
		if !ok || !ir.Equal(got, want) {
			return false
		}
	}
	return true
}

func formatObject(obj ir.IRObject) string {
	if obj == nil {
		return "{}"
	}
	data, err := ir.MarshalCanonical(obj)
	if err != nil {
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return "{" + strings.Join(keys, ",") + "}"
	}
	return string(data)
}
