package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/bufsync/internal/ir"
)

const commandColumns = `id, item_id, type_name, action, state, created, parameters`

// InsertCommand persists a new command. The caller assigns the id.
func (s *Store) InsertCommand(ctx context.Context, cmd ir.Command) error {
	params, err := marshalParameters(cmd.Parameters)
	if err != nil {
		return fmt.Errorf("insert command: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO commands (`+commandColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		cmd.ID,
		nullableItem(cmd.ItemID),
		cmd.TypeName,
		string(cmd.Action),
		string(cmd.State),
		encodeTime(cmd.Created),
		params,
	)
	if err != nil {
		return fmt.Errorf("insert command %d: %w", cmd.ID, err)
	}
	return nil
}

// MaxCommandID returns the largest command id, or 0 for an empty log.
func (s *Store) MaxCommandID(ctx context.Context) (int64, error) {
	var maxID int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM commands`).Scan(&maxID); err != nil {
		return 0, fmt.Errorf("max command id: %w", err)
	}
	return maxID, nil
}

// GetCommand returns the command with the given id.
// Returns ErrNotFound if it does not exist.
func (s *Store) GetCommand(ctx context.Context, id int64) (ir.Command, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+commandColumns+` FROM commands WHERE id = ?`, id)
	cmd, err := scanCommand(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Command{}, fmt.Errorf("command %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return ir.Command{}, err
	}
	return cmd, nil
}

// UpdateCommand writes the mutable columns of a command: state and item id.
// Returns ErrNotFound if it does not exist.
func (s *Store) UpdateCommand(ctx context.Context, cmd ir.Command) error {
	return updateCommand(ctx, s.db, cmd)
}

func updateCommand(ctx context.Context, q querier, cmd ir.Command) error {
	res, err := q.ExecContext(ctx, `
		UPDATE commands SET state = ?, item_id = ? WHERE id = ?
	`, string(cmd.State), nullableItem(cmd.ItemID), cmd.ID)
	if err != nil {
		return fmt.Errorf("update command %d: %w", cmd.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update command %d: %w", cmd.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("update command %d: %w", cmd.ID, ErrNotFound)
	}
	return nil
}

// DeleteCommand removes a command. Reports whether it existed.
func (s *Store) DeleteCommand(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM commands WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete command %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete command %d: %w", id, err)
	}
	return n > 0, nil
}

// ClearCommands removes every command and returns how many were removed.
func (s *Store) ClearCommands(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM commands`)
	if err != nil {
		return 0, fmt.Errorf("clear commands: %w", err)
	}
	return res.RowsAffected()
}

// DeleteCommandsInState removes all commands in the given state.
func (s *Store) DeleteCommandsInState(ctx context.Context, state ir.CommandState) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM commands WHERE state = ?`, string(state))
	if err != nil {
		return 0, fmt.Errorf("delete %s commands: %w", state, err)
	}
	return res.RowsAffected()
}

// SetCommandStates moves every command in state from to state to.
func (s *Store) SetCommandStates(ctx context.Context, from, to ir.CommandState) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE commands SET state = ? WHERE state = ?`, string(to), string(from))
	if err != nil {
		return 0, fmt.Errorf("move %s commands to %s: %w", from, to, err)
	}
	return res.RowsAffected()
}

// ReadCommands returns every command ordered by created, then id.
// Returns an empty slice (not nil) for an empty log.
func (s *Store) ReadCommands(ctx context.Context) ([]ir.Command, error) {
	return s.queryCommands(ctx, `
		SELECT `+commandColumns+` FROM commands
		ORDER BY created ASC, id ASC
	`)
}

// FirstCommandIn returns the command with the smallest id among the given
// states, or nil when none match.
func (s *Store) FirstCommandIn(ctx context.Context, states ...ir.CommandState) (*ir.Command, error) {
	if len(states) == 0 {
		return nil, nil
	}
	args := stateArgs(states)
	row := s.db.QueryRowContext(ctx, `
		SELECT `+commandColumns+` FROM commands
		WHERE state IN (`+placeholders(len(states))+`)
		ORDER BY id ASC
		LIMIT 1
	`, args...)
	cmd, err := scanCommand(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cmd, nil
}

// CountCommands counts commands in any of the given states.
// With no states, counts every command.
func (s *Store) CountCommands(ctx context.Context, states ...ir.CommandState) (int, error) {
	query := `SELECT COUNT(*) FROM commands`
	if len(states) > 0 {
		query += ` WHERE state IN (` + placeholders(len(states)) + `)`
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, stateArgs(states)...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count commands: %w", err)
	}
	return n, nil
}

// CountCommandsByState returns the number of commands per state.
func (s *Store) CountCommandsByState(ctx context.Context) (map[ir.CommandState]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM commands GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("count commands by state: %w", err)
	}
	defer rows.Close()

	counts := make(map[ir.CommandState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan state count: %w", err)
		}
		counts[ir.CommandState(state)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state counts: %w", err)
	}
	return counts, nil
}

// FindCommands returns the commands addressing (typeName, itemID) with the
// given action, ordered by id.
func (s *Store) FindCommands(ctx context.Context, typeName string, itemID int64, action ir.Action) ([]ir.Command, error) {
	return s.queryCommands(ctx, `
		SELECT `+commandColumns+` FROM commands
		WHERE type_name = ? AND item_id = ? AND action = ?
		ORDER BY id ASC
	`, typeName, itemID, string(action))
}

// RewriteCommandItemIDs points every command on (typeName, oldID) at newID,
// except the command with id exceptID. Returns the number rewritten.
func (s *Store) RewriteCommandItemIDs(ctx context.Context, typeName string, oldID, newID, exceptID int64) (int64, error) {
	return rewriteCommandItemIDs(ctx, s.db, typeName, oldID, newID, exceptID)
}

func rewriteCommandItemIDs(ctx context.Context, q querier, typeName string, oldID, newID, exceptID int64) (int64, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE commands SET item_id = ?
		WHERE type_name = ? AND item_id = ? AND id != ?
	`, newID, typeName, oldID, exceptID)
	if err != nil {
		return 0, fmt.Errorf("rewrite command item ids %s %d->%d: %w", typeName, oldID, newID, err)
	}
	return res.RowsAffected()
}

func (s *Store) queryCommands(ctx context.Context, query string, args ...any) ([]ir.Command, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query commands: %w", err)
	}
	defer rows.Close()

	cmds := []ir.Command{}
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commands: %w", err)
	}
	return cmds, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommand(row rowScanner) (ir.Command, error) {
	var (
		cmd     ir.Command
		itemID  sql.NullInt64
		action  string
		state   string
		created int64
		params  string
	)
	if err := row.Scan(&cmd.ID, &itemID, &cmd.TypeName, &action, &state, &created, &params); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ir.Command{}, err
		}
		return ir.Command{}, fmt.Errorf("scan command: %w", err)
	}
	if itemID.Valid {
		cmd.ItemID = ir.ItemRef(itemID.Int64)
	}
	cmd.Action = ir.Action(action)
	cmd.State = ir.CommandState(state)
	cmd.Created = decodeTime(created)

	ps, err := unmarshalParameters(params)
	if err != nil {
		return ir.Command{}, fmt.Errorf("command %d: %w", cmd.ID, err)
	}
	cmd.Parameters = ps
	return cmd, nil
}

func stateArgs(states []ir.CommandState) []any {
	args := make([]any, len(states))
	for i, st := range states {
		args[i] = string(st)
	}
	return args
}
