package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/bufsync/internal/ir"
)

func mustParse(t *testing.T, yaml string) *Scenario {
	t.Helper()
	scenario, err := ParseScenario([]byte(yaml))
	require.NoError(t, err)
	return scenario
}

func TestRun_EmptyLog(t *testing.T) {
	scenario := mustParse(t, `
name: empty
description: "A pass over an empty log makes no remote calls"
steps:
  - sync: true
assertions:
  - type: remote_calls
`)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	require.Len(t, result.Trace, 1)

	event := result.Trace[0]
	assert.Equal(t, int64(1), event.Seq)
	assert.Equal(t, EventSync, event.Type)
	assert.Equal(t, ir.IRString("test-pass-default"), event.Fields["pass_id"])
	assert.Equal(t, ir.IRInt(0), event.Fields["pending_at_start"])
	assert.Equal(t, ir.IRBool(true), event.Fields["complete"])
	assert.Equal(t, ir.IRArray{}, event.Fields["calls"])
	assert.Empty(t, result.Commands)
}

func TestRun_LikeFollowsReconciledID(t *testing.T) {
	scenario := mustParse(t, `
name: like
description: "A Like queued before the insert addresses the remote id"
pass_id: pass-like
steps:
  - record: {type: Post, id: 3, fields: {body: hello}}
  - enqueue: {action: Insert, type: Post, item: 3}
  - enqueue:
      action: Like
      type: Post
      item: 3
      params:
        - {name: UserId, value: 7}
  - sync: true
assertions:
  - type: remote_calls
    calls:
      - "Insert Post local=3"
      - "Like Post/1 actor=7"
  - type: remote_record
    record: Post
    id: 1
    expect: {body: hello}
  - type: local_record
    record: Post
    id: 1
    expect: {body: hello}
`)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)

	require.Len(t, result.Commands, 2)
	assert.Equal(t, int64(3), result.Commands[0].Item(), "the insert keeps its local id")
	assert.Equal(t, int64(1), result.Commands[1].Item())
}

func TestRun_ItemAttachmentFollowsParent(t *testing.T) {
	scenario := mustParse(t, `
name: attachment
description: "An attachment queued with its parent is uploaded to the parent's remote id"
steps:
  - record: {type: Ticket, id: 2, fields: {title: broken}}
  - file:
      id: att-1
      attachment_type: Attachment
      list_name: Ticket
      parent_id: 2
      filename: screen.png
      content: "png-bytes"
  - remote: {next_id: {Ticket: 900}}
  - enqueue: {action: Insert, type: Ticket, item: 2}
  - enqueue:
      action: AttachFileToItem
      type: Ticket
      item: 2
      params:
        - {name: AttachmentId, value: att-1}
  - sync: true
assertions:
  - type: remote_calls
    calls:
      - "Insert Ticket local=2"
      - "AttachFileToItem Ticket/900 screen.png"
  - type: file
    file: att-1
    expect: {parent_id: 900, state: Local, list_name: Ticket, snapshot: null}
`)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestRun_AssertionFailuresReported(t *testing.T) {
	scenario := mustParse(t, `
name: failing
description: "Assertions that do not hold fail the result"
steps:
  - enqueue: {action: Empty, type: Order}
assertions:
  - type: command_state
    command: 1
    state: Succeeded
  - type: local_record
    record: Order
    id: 1
    expect: {title: desk}
`)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "command 1 Pending")
	assert.Contains(t, result.Errors[1], "not found")
}

func TestRun_StepErrorAborts(t *testing.T) {
	scenario := mustParse(t, `
name: bad_reset
description: "Resetting a pending command is an error"
steps:
  - enqueue: {action: Empty, type: Order}
  - reset: 1
`)

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "steps[1]")
	assert.Contains(t, err.Error(), "cannot be reset")
}

func TestRun_FloatsRejected(t *testing.T) {
	scenario := mustParse(t, `
name: floats
description: "Record fields cannot hold floats"
steps:
  - record: {type: Order, id: 1, fields: {price: 1.5}}
`)

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are not supported")
}

func TestRun_InvalidSchema(t *testing.T) {
	scenario := mustParse(t, `
name: bad_schema
description: "Schema errors abort the run"
schema: "types: Order: doNotSync: \"yes\""
steps:
  - sync: true
`)

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema")
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/order_reconcile.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := Snapshot(scenario.Name, first)
	require.NoError(t, err)
	b, err := Snapshot(scenario.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestResult_AddError(t *testing.T) {
	result := NewResult()
	assert.True(t, result.Pass)

	result.AddError("first")
	result.AddError("second")

	assert.False(t, result.Pass)
	assert.Equal(t, []string{"first", "second"}, result.Errors)
}

func TestResult_TraceSequence(t *testing.T) {
	result := NewResult()
	result.addTrace(EventEnqueue, ir.IRObject{"command": ir.IRInt(1)})
	result.addTrace(EventReset, ir.IRObject{"command": ir.IRInt(1)})

	require.Len(t, result.Trace, 2)
	assert.Equal(t, int64(1), result.Trace[0].Seq)
	assert.Equal(t, int64(2), result.Trace[1].Seq)
	assert.Equal(t, EventReset, result.Trace[1].Type)
}
