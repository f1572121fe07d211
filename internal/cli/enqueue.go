package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/bufsync/internal/ir"
)

// EnqueueOptions holds flags for the enqueue command.
type EnqueueOptions struct {
	*RootOptions
	Item   int64
	Params []string
}

// EnqueueResult reports an enqueue.
type EnqueueResult struct {
	Enqueued bool       `json:"enqueued"`
	Command  ir.Command `json:"command"`
}

// WriteText renders the stored command, or why nothing was stored.
func (r EnqueueResult) WriteText(w io.Writer) error {
	if !r.Enqueued {
		_, err := fmt.Fprintf(w, "Skipped: %s is marked do-not-sync\n", r.Command.TypeName)
		return err
	}
	_, err := fmt.Fprintf(w, "✓ Enqueued %s\n", r.Command)
	return err
}

// NewEnqueueCommand creates the enqueue command.
func NewEnqueueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EnqueueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "enqueue <action> <type>",
		Short: "Append a command to the log",
		Long: `Append a command to the local command log.

Parameter values are parsed as JSON when possible (42, true, "x", [1,2]);
anything else is taken as a string.

Examples:
  bufsync enqueue Insert Order --item 3
  bufsync enqueue Like Post --item 3 --param UserId=7
  bufsync enqueue CreateTable Order`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnqueue(cmd, opts, args[0], args[1])
		},
	}

	cmd.Flags().Int64Var(&opts.Item, "item", 0, "target item id")
	cmd.Flags().StringArrayVar(&opts.Params, "param", nil, "parameter name=value (repeatable)")

	return cmd
}

func runEnqueue(cmd *cobra.Command, opts *EnqueueOptions, action, typeName string) error {
	f := opts.formatter(cmd)

	act, err := ir.ParseAction(action)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalid, "invalid action", err)
	}
	params, err := parseParams(opts.Params)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalid, "invalid parameter", err)
	}

	c := ir.Command{TypeName: typeName, Action: act, Parameters: params}
	if cmd.Flags().Changed("item") {
		c.ItemID = ir.ItemRef(opts.Item)
	}

	ctx := cmd.Context()
	a, err := openApp(ctx, opts.RootOptions, f)
	if err != nil {
		return err
	}
	defer a.Close()

	stored, ok, err := a.log.Enqueue(ctx, c)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStorage, "failed to enqueue command", err)
	}
	return f.Success(EnqueueResult{Enqueued: ok, Command: stored})
}

// parseParams parses name=value pairs in order.
func parseParams(pairs []string) (ir.Parameters, error) {
	var ps ir.Parameters
	for _, pair := range pairs {
		name, value, err := splitPair(pair)
		if err != nil {
			return nil, err
		}
		ps = append(ps, ir.P(name, parseValue(value)))
	}
	return ps, nil
}

// parseFields parses name=value pairs into an object. Later pairs win.
func parseFields(pairs []string) (ir.IRObject, error) {
	obj := ir.IRObject{}
	for _, pair := range pairs {
		name, value, err := splitPair(pair)
		if err != nil {
			return nil, err
		}
		obj[name] = parseValue(value)
	}
	return obj, nil
}

func splitPair(pair string) (string, string, error) {
	name, value, ok := strings.Cut(pair, "=")
	if !ok || name == "" {
		return "", "", fmt.Errorf("expected name=value, got %q", pair)
	}
	return name, value, nil
}

// parseValue reads s as a JSON value, falling back to a plain string.
func parseValue(s string) ir.IRValue {
	if json.Valid([]byte(s)) {
		if v, err := ir.UnmarshalIRValue([]byte(s)); err == nil {
			return v
		}
	}
	return ir.IRString(s)
}
