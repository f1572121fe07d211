package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/bufsync/internal/ir"
	"github.com/roach88/bufsync/internal/schema"
)

// SchemaResult lists the declared types.
type SchemaResult struct {
	Dir   string          `json:"dir"`
	Types []ir.TypeSchema `json:"types"`
}

// WriteText renders one line per type.
func (r SchemaResult) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "✓ %s: %d type(s)\n", r.Dir, len(r.Types))
	for _, t := range r.Types {
		var notes []string
		if t.DoNotSync {
			notes = append(notes, "do-not-sync")
		}
		for _, lf := range t.Lookups {
			notes = append(notes, "lookup "+describeLookup(lf))
		}
		if len(notes) == 0 {
			fmt.Fprintf(w, "  %s\n", t.Name)
			continue
		}
		fmt.Fprintf(w, "  %s (%s)\n", t.Name, strings.Join(notes, ", "))
	}
	return nil
}

func describeLookup(lf ir.LookupField) string {
	switch {
	case lf.IsDynamic():
		return fmt.Sprintf("%s -> list in %s", lf.Name, lf.DynamicTargetField)
	case lf.StaticTarget() != "":
		return fmt.Sprintf("%s -> %s", lf.Name, lf.StaticTarget())
	default:
		return lf.Name
	}
}

// NewSchemaCommand creates the schema command group.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Work with type declarations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check [dir]",
		Short: "Validate the CUE type declarations",
		Long: `Load and validate the CUE type declarations in dir (default: the
configured schema directory).

Exit codes:
  0 - Declarations are valid
  1 - Declarations are invalid
  2 - Command error`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)

			dir := rootOpts.Schema
			if len(args) == 1 {
				dir = args[0]
			}
			if dir == "" {
				cfg, err := loadConfig(rootOpts)
				if err != nil {
					return f.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
				}
				dir = cfg.Schema
			}

			reg, err := schema.LoadDir(dir)
			if err != nil {
				return f.Fail(ExitFailure, ErrCodeSchema, "invalid schema", err)
			}
			return f.Success(SchemaResult{Dir: dir, Types: reg.Types()})
		},
	})

	return cmd
}
