package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/bufsync/internal/blob"
	"github.com/roach88/bufsync/internal/dispatch"
	"github.com/roach88/bufsync/internal/engine"
	"github.com/roach88/bufsync/internal/ir"
	"github.com/roach88/bufsync/internal/queue"
	"github.com/roach88/bufsync/internal/reconcile"
	"github.com/roach88/bufsync/internal/remote"
	"github.com/roach88/bufsync/internal/remote/memremote"
	"github.com/roach88/bufsync/internal/schema"
	"github.com/roach88/bufsync/internal/store"
	"github.com/roach88/bufsync/internal/testutil"
)

// Harness holds the collaborators of one scenario run.
type Harness struct {
	store  *store.Store
	blobs  blob.Store
	remote *memremote.Store
	log    *queue.Log
	engine *engine.Engine
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs against a fresh in-memory database, in-memory blob
// store and in-memory remote, with a deterministic clock and a fixed pass
// id, so identical scenarios produce identical traces.
//
// Run returns an error when a step cannot be carried out. Assertion
// failures are reported in the Result instead.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	reg, err := schema.NewRegistry()
	if err != nil {
		return nil, err
	}
	if scenario.Schema != "" {
		reg, err = schema.Compile(scenario.Schema)
		if err != nil {
			return nil, fmt.Errorf("schema: %w", err)
		}
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer st.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	log := queue.New(st,
		queue.WithPolicy(reg),
		queue.WithClock(testutil.NewDeterministicClock()),
		queue.WithLogger(logger),
	)
	h := &Harness{
		store:  st,
		blobs:  blob.NewMemory(),
		remote: memremote.New(),
		log:    log,
	}
	maxLocal := dispatch.DefaultMaxLocalSize
	if scenario.MaxLocalSize != nil {
		maxLocal = *scenario.MaxLocalSize
	}
	d := dispatch.New(dispatch.Env{
		Local:        st,
		Blobs:        h.blobs,
		Remote:       h.remote,
		Log:          log,
		MaxLocalSize: maxLocal,
		Logger:       logger,
	})
	h.engine = engine.New(log, d, reconcile.New(reg, reconcile.WithLogger(logger)),
		engine.WithIDGenerator(testutil.NewFixedIDGenerator(scenario.PassID)),
		engine.WithLogger(logger),
	)

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.execute(ctx, step, result); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	result.Commands, err = log.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read command log: %w", err)
	}

	actx := &AssertionContext{Ctx: ctx, Store: st, Remote: h.remote}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) execute(ctx context.Context, step Step, result *Result) error {
	switch {
	case step.Record != nil:
		return h.putRecord(ctx, step.Record)
	case step.File != nil:
		return h.putFile(ctx, step.File)
	case step.Enqueue != nil:
		return h.enqueue(ctx, step.Enqueue, result)
	case step.Remote != nil:
		h.scriptRemote(step.Remote)
		return nil
	case step.Reset != 0:
		cmd, err := h.log.Reset(ctx, step.Reset)
		if err != nil {
			return err
		}
		result.addTrace(EventReset, ir.IRObject{"command": ir.IRInt(cmd.ID)})
		return nil
	case step.Sync:
		return h.sync(ctx, result)
	}
	return fmt.Errorf("empty step")
}

func (h *Harness) putRecord(ctx context.Context, rs *RecordStep) error {
	fields, err := toObject(rs.Fields)
	if err != nil {
		return fmt.Errorf("record fields: %w", err)
	}
	return h.store.PutRecord(ctx, ir.Record{Type: rs.Type, ID: rs.ID, Fields: fields})
}

func (h *Harness) putFile(ctx context.Context, fs *FileStep) error {
	meta := ir.FileMeta{
		ID:             fs.ID,
		AttachmentType: ir.AttachmentType(fs.AttachmentType),
		ListName:       fs.ListName,
		ParentID:       fs.ParentID,
		Folder:         fs.Folder,
		Filename:       fs.Filename,
		Size:           int64(len(fs.Content)),
		State:          ir.FileLocal,
		SnapshotType:   fs.SnapshotType,
	}
	if fs.Snapshot != nil {
		data, err := ir.MarshalCanonical(fs.Snapshot)
		if err != nil {
			return fmt.Errorf("file snapshot: %w", err)
		}
		meta.AdditionalInformation = string(data)
	}

	key, err := blob.FileKey(fs.ID)
	if err != nil {
		return err
	}
	if _, err := h.blobs.Put(ctx, key, strings.NewReader(fs.Content), blob.PutOptions{}); err != nil {
		return fmt.Errorf("file content: %w", err)
	}
	return h.store.PutFile(ctx, meta)
}

func (h *Harness) enqueue(ctx context.Context, es *EnqueueStep, result *Result) error {
	cmd := ir.Command{TypeName: es.Type, Action: ir.Action(es.Action)}
	if es.Item != 0 {
		cmd.ItemID = ir.ItemRef(es.Item)
	}
	for _, p := range es.Params {
		v, err := ir.FromGo(p.Value)
		if err != nil {
			return fmt.Errorf("param %s: %w", p.Name, err)
		}
		cmd.Parameters = append(cmd.Parameters, ir.P(p.Name, v))
	}

	stored, ok, err := h.log.Enqueue(ctx, cmd)
	if err != nil {
		return err
	}

	fields := ir.IRObject{
		"action":   ir.IRString(stored.Action),
		"type":     ir.IRString(stored.TypeName),
		"enqueued": ir.IRBool(ok),
	}
	if ok {
		fields["command"] = ir.IRInt(stored.ID)
	}
	if stored.HasItem() {
		fields["item"] = ir.IRInt(stored.Item())
	}
	result.addTrace(EventEnqueue, fields)
	return nil
}

func (h *Harness) scriptRemote(rs *RemoteStep) {
	for typeName, id := range rs.NextID {
		h.remote.SetNextID(typeName, id)
	}
	if f := rs.Fail; f != nil {
		h.remote.FailNext(f.Op, &remote.Error{Op: f.Op, Status: f.Status, Message: f.Message})
	}
}

// sync runs one pass and records it with the remote calls it made.
// Reconciliation faults are part of the trace; other errors abort the run.
func (h *Harness) sync(ctx context.Context, result *Result) error {
	before := len(h.remote.Calls())
	res, err := h.engine.Sync(ctx)

	var rerr *engine.RuntimeError
	if err != nil && !(errors.As(err, &rerr) && rerr.Code == engine.ErrCodeReconcileFailed) {
		return err
	}

	calls := ir.IRArray{}
	for _, c := range h.remote.Calls()[before:] {
		calls = append(calls, ir.IRString(c.String()))
	}
	fields := ir.IRObject{
		"pass_id":          ir.IRString(res.PassID),
		"pending_at_start": ir.IRInt(res.PendingAtStart),
		"processed":        ir.IRInt(res.Processed),
		"complete":         ir.IRBool(res.Complete() && err == nil),
		"calls":            calls,
	}
	if res.FailedCommand != nil {
		fields["failed_command"] = ir.IRInt(res.FailedCommand.ID)
		fields["failed_state"] = ir.IRString(res.FailedCommand.State)
	}
	if res.BlockedBy != nil {
		fields["blocked_by"] = ir.IRInt(res.BlockedBy.ID)
	}
	if rerr != nil {
		fields["fault"] = ir.IRString(rerr.Code)
	}
	result.addTrace(EventSync, fields)
	return nil
}

func toObject(m map[string]any) (ir.IRObject, error) {
	if m == nil {
		return ir.IRObject{}, nil
	}
	v, err := ir.FromGo(m)
	if err != nil {
		return nil, err
	}
	return v.(ir.IRObject), nil
}
