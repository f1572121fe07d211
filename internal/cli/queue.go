package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/roach88/bufsync/internal/ir"
	"github.com/roach88/bufsync/internal/queue"
	"github.com/roach88/bufsync/internal/store"
)

// QueueList is the result of queue list.
type QueueList struct {
	Commands []ir.Command `json:"commands"`
}

// WriteText renders the log as a table.
func (l QueueList) WriteText(w io.Writer) error {
	if len(l.Commands) == 0 {
		_, err := fmt.Fprintln(w, "Command log is empty.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tACTION\tTYPE\tITEM\tPARAMS")
	for _, c := range l.Commands {
		item := "-"
		if c.HasItem() {
			item = strconv.FormatInt(c.Item(), 10)
		}
		params := "-"
		if len(c.Parameters) > 0 {
			data, err := json.Marshal(c.Parameters)
			if err != nil {
				return err
			}
			params = string(data)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", c.ID, stateLabel(c.State), c.Action, c.TypeName, item, params)
	}
	return tw.Flush()
}

// stateLabel colors a command state for terminal output.
func stateLabel(s ir.CommandState) string {
	switch s {
	case ir.StateSucceeded:
		return color.New(color.FgGreen).Sprint(s)
	case ir.StateDelayed:
		return color.New(color.FgYellow).Sprint(s)
	case ir.StateFailed:
		return color.New(color.FgRed).Sprint(s)
	case ir.StateDisabled:
		return color.New(color.FgHiBlack).Sprint(s)
	default:
		return string(s)
	}
}

// QueueStats is the result of queue stats.
type QueueStats struct {
	queue.Stats
	Runnable int `json:"runnable"`
}

// WriteText renders the per-state counts.
func (s QueueStats) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "Commands: %d total, %d runnable\n", s.Total, s.Runnable)
	for _, st := range []ir.CommandState{ir.StatePending, ir.StateDelayed, ir.StateFailed, ir.StateSucceeded, ir.StateDisabled} {
		if n := s.ByState[st]; n > 0 {
			fmt.Fprintf(w, "  %-10s %d\n", st, n)
		}
	}
	return nil
}

// QueueChange reports a mutation of the log.
type QueueChange struct {
	Operation string      `json:"operation"`
	Affected  int64       `json:"affected"`
	Command   *ir.Command `json:"command,omitempty"`
}

// WriteText renders the mutation.
func (c QueueChange) WriteText(w io.Writer) error {
	if c.Command != nil {
		_, err := fmt.Fprintf(w, "✓ %s %s\n", c.Operation, c.Command)
		return err
	}
	_, err := fmt.Fprintf(w, "✓ %s: %d command(s)\n", c.Operation, c.Affected)
	return err
}

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and repair the command log",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every command in replay order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLog(cmd, rootOpts, func(f *OutputFormatter, log *queue.Log) error {
				cmds, err := log.ReadAll(cmd.Context())
				if err != nil {
					return f.Fail(ExitCommandError, ErrCodeStorage, "failed to read command log", err)
				}
				if cmds == nil {
					cmds = []ir.Command{}
				}
				return f.Success(QueueList{Commands: cmds})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Count commands by state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLog(cmd, rootOpts, func(f *OutputFormatter, log *queue.Log) error {
				stats, err := log.Stats(cmd.Context())
				if err != nil {
					return f.Fail(ExitCommandError, ErrCodeStorage, "failed to count commands", err)
				}
				return f.Success(QueueStats{Stats: stats, Runnable: stats.Runnable()})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset <id>",
		Short: "Return a Failed or Delayed command to Pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLog(cmd, rootOpts, func(f *OutputFormatter, log *queue.Log) error {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return f.Fail(ExitCommandError, ErrCodeInvalid, "invalid command id", err)
				}
				c, err := log.Reset(cmd.Context(), id)
				switch {
				case errors.Is(err, store.ErrNotFound):
					return f.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("command %d not found", id), err)
				case errors.Is(err, queue.ErrNotResettable):
					return f.Fail(ExitCommandError, ErrCodeInvalid, fmt.Sprintf("command %d cannot be reset", id), err)
				case err != nil:
					return f.Fail(ExitCommandError, ErrCodeStorage, "failed to reset command", err)
				}
				return f.Success(QueueChange{Operation: "reset", Affected: 1, Command: &c})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "retry",
		Short: "Return every Failed command to Pending",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLog(cmd, rootOpts, func(f *OutputFormatter, log *queue.Log) error {
				n, err := log.RetryFailed(cmd.Context())
				if err != nil {
					return f.Fail(ExitCommandError, ErrCodeStorage, "failed to reset commands", err)
				}
				return f.Success(QueueChange{Operation: "retry", Affected: n})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Remove one command from the log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLog(cmd, rootOpts, func(f *OutputFormatter, log *queue.Log) error {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return f.Fail(ExitCommandError, ErrCodeInvalid, "invalid command id", err)
				}
				ok, err := log.Delete(cmd.Context(), id)
				if err != nil {
					return f.Fail(ExitCommandError, ErrCodeStorage, "failed to delete command", err)
				}
				if !ok {
					return f.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("command %d not found", id), nil)
				}
				return f.Success(QueueChange{Operation: "delete", Affected: 1})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Remove Succeeded commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLog(cmd, rootOpts, func(f *OutputFormatter, log *queue.Log) error {
				n, err := log.PurgeSucceeded(cmd.Context())
				if err != nil {
					return f.Fail(ExitCommandError, ErrCodeStorage, "failed to purge commands", err)
				}
				return f.Success(QueueChange{Operation: "purge", Affected: n})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every command from the log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLog(cmd, rootOpts, func(f *OutputFormatter, log *queue.Log) error {
				n, err := log.Clear(cmd.Context())
				if err != nil {
					return f.Fail(ExitCommandError, ErrCodeStorage, "failed to clear command log", err)
				}
				return f.Success(QueueChange{Operation: "clear", Affected: n})
			})
		},
	})

	return cmd
}

// withLog opens the app for the duration of fn.
func withLog(cmd *cobra.Command, opts *RootOptions, fn func(f *OutputFormatter, log *queue.Log) error) error {
	f := opts.formatter(cmd)
	a, err := openApp(cmd.Context(), opts, f)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(f, a.log)
}
