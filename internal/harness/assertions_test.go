package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/bufsync/internal/ir"
	"github.com/roach88/bufsync/internal/remote/memremote"
	"github.com/roach88/bufsync/internal/store"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Seq: 1, Type: EventEnqueue, Fields: ir.IRObject{"command": ir.IRInt(1), "action": ir.IRString("Insert")}},
		{Seq: 2, Type: EventSync, Fields: ir.IRObject{"processed": ir.IRInt(1), "complete": ir.IRBool(true)}},
	}
}

func TestAssertTraceContains(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceContains(trace, Assertion{Event: EventSync}))
	assert.NoError(t, assertTraceContains(trace, Assertion{
		Event:  EventSync,
		Expect: map[string]any{"processed": 1},
	}))

	err := assertTraceContains(trace, Assertion{
		Event:  EventSync,
		Expect: map[string]any{"processed": 2},
	})
	require.Error(t, err)
	var aerr *AssertionError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, AssertTraceContains, aerr.Type)
	assert.Len(t, aerr.Trace, 2)

	// Fields of another event type do not count.
	assert.Error(t, assertTraceContains(trace, Assertion{
		Event:  EventEnqueue,
		Expect: map[string]any{"complete": true},
	}))
}

func TestAssertCommandState(t *testing.T) {
	commands := []ir.Command{
		{ID: 1, State: ir.StateDisabled},
		{ID: 2, State: ir.StateDelayed},
	}

	assert.NoError(t, assertCommandState(commands, Assertion{Command: 2, State: "Delayed"}))
	assert.NoError(t, assertCommandState(commands, Assertion{Command: 3, State: StateAbsent}))

	err := assertCommandState(commands, Assertion{Command: 1, State: "Pending"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Actual: command 1 Disabled")
}

func TestMatchFields_SubsetSemantics(t *testing.T) {
	actual := ir.IRObject{
		"title": ir.IRString("desk"),
		"qty":   ir.IRInt(2),
		"tags":  ir.IRArray{ir.IRString("a")},
	}

	tests := []struct {
		name     string
		expected ir.IRObject
		want     bool
	}{
		{"empty expect", ir.IRObject{}, true},
		{"single key", ir.IRObject{"qty": ir.IRInt(2)}, true},
		{"nested array", ir.IRObject{"tags": ir.IRArray{ir.IRString("a")}}, true},
		{"wrong value", ir.IRObject{"qty": ir.IRInt(3)}, false},
		{"wrong type", ir.IRObject{"qty": ir.IRString("2")}, false},
		{"missing key", ir.IRObject{"price": ir.IRInt(1)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchFields(actual, tt.expected))
		})
	}
}

func TestAssertRemoteCalls(t *testing.T) {
	rs := memremote.New()
	require.NoError(t, rs.CreateTable(context.Background(), "Order"))

	assert.NoError(t, assertRemoteCalls(rs, Assertion{Calls: []string{"CreateTable Order"}}))

	err := assertRemoteCalls(rs, Assertion{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Expected: []")
	assert.Contains(t, err.Error(), "Actual: [CreateTable Order]")
}

func TestAssertRemoteRecord(t *testing.T) {
	ctx := context.Background()
	rs := memremote.New()
	rs.SetNextID("Order", 8)
	_, err := rs.Insert(ctx, ir.Record{Type: "Order", ID: 1, Fields: ir.IRObject{"title": ir.IRString("desk")}})
	require.NoError(t, err)

	assert.NoError(t, assertRemoteRecord(rs, Assertion{Record: "Order", ID: 8, Expect: map[string]any{"title": "desk"}}))
	assert.NoError(t, assertRemoteRecord(rs, Assertion{Record: "Order", ID: 1, Absent: true}))
	assert.Error(t, assertRemoteRecord(rs, Assertion{Record: "Order", ID: 8, Absent: true}))
	assert.Error(t, assertRemoteRecord(rs, Assertion{Record: "Order", ID: 8, Expect: map[string]any{"title": "chair"}}))
}

func TestAssertLocalRecordAndFile(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.PutRecord(ctx, ir.Record{Type: "Order", ID: 4, Fields: ir.IRObject{"title": ir.IRString("desk")}}))
	require.NoError(t, st.PutFile(ctx, ir.FileMeta{
		ID:                    "doc-1",
		AttachmentType:        ir.AttachmentDocLib,
		ListName:              "Order",
		ParentID:              4,
		Filename:              "a.pdf",
		State:                 ir.FileServer,
		AdditionalInformation: `{"id":4}`,
	}))

	assert.NoError(t, assertLocalRecord(ctx, st, Assertion{Record: "Order", ID: 4, Expect: map[string]any{"title": "desk"}}))
	assert.NoError(t, assertLocalRecord(ctx, st, Assertion{Record: "Order", ID: 5, Absent: true}))
	assert.Error(t, assertLocalRecord(ctx, st, Assertion{Record: "Order", ID: 5, Expect: map[string]any{"title": "desk"}}))

	assert.NoError(t, assertFile(ctx, st, Assertion{File: "doc-1", Expect: map[string]any{
		"state":     "Server",
		"parent_id": 4,
		"snapshot":  map[string]any{"id": 4},
	}}))
	assert.Error(t, assertFile(ctx, st, Assertion{File: "doc-1", Expect: map[string]any{"snapshot": nil}}))
	assert.Error(t, assertFile(ctx, st, Assertion{File: "doc-2", Expect: map[string]any{"state": "Local"}}))
}

func TestEvaluateAssertions_RequiresContext(t *testing.T) {
	result := NewResult()
	failures := EvaluateAssertions(result, []Assertion{
		{Type: AssertCommandState, Command: 1, State: StateAbsent},
		{Type: AssertRemoteCalls},
		{Type: AssertLocalRecord, Record: "Order", ID: 1, Absent: true},
		{Type: "final_state"},
	}, nil)

	require.Len(t, failures, 3)
	assert.Contains(t, failures[0], "requires the remote")
	assert.Contains(t, failures[1], "requires database context")
	assert.Contains(t, failures[2], `unknown assertion type "final_state"`)
}

func TestAssertionError_ErrorFormat(t *testing.T) {
	err := &AssertionError{
		Type:     AssertCommandState,
		Expected: "command 1 Succeeded",
		Actual:   "command 1 Failed",
		Trace:    sampleTrace()[:1],
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: command_state")
	assert.Contains(t, msg, "Expected: command 1 Succeeded")
	assert.Contains(t, msg, "Actual: command 1 Failed")
	assert.Contains(t, msg, `[1] enqueue {"action":"Insert","command":1}`)
}
