package dispatch

import (
	"context"
	"fmt"

	"github.com/roach88/bufsync/internal/ir"
)

// wasDeletedSince reports whether a Delete other than cmd is queued for
// cmd's item.
func wasDeletedSince(ctx context.Context, env *Env, cmd ir.Command) (bool, error) {
	if !cmd.HasItem() {
		return false, nil
	}
	deletes, err := env.Log.Find(ctx, cmd.TypeName, cmd.Item(), ir.ActionDelete)
	if err != nil {
		return false, fmt.Errorf("find deletes: %w", err)
	}
	for _, d := range deletes {
		if d.ID != cmd.ID {
			return true, nil
		}
	}
	return false, nil
}

// wasNeverInsertedRemotely reports whether an Insert for cmd's item is in
// the log. An Insert that reached the remote keeps its old item id while
// every other command moves to the new one, so a match means the item only
// ever existed locally, including Inserts skipped by wasDeletedSince.
func wasNeverInsertedRemotely(ctx context.Context, env *Env, cmd ir.Command) (bool, error) {
	if !cmd.HasItem() {
		return false, nil
	}
	inserts, err := env.Log.Find(ctx, cmd.TypeName, cmd.Item(), ir.ActionInsert)
	if err != nil {
		return false, fmt.Errorf("find inserts: %w", err)
	}
	return len(inserts) > 0, nil
}
