package schema

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/bufsync/internal/ir"
)

// definitions constrains the shape of a schema before it is compiled.
const definitions = `
#Lookup: {
	field?:       string
	target?:      string
	virtual?:     bool
	targetField?: string
}

#Type: {
	doNotSync?: bool
	lookups?: [...#Lookup]
}

types?: [string]: #Type
`

// Error is a schema validation error with source position.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// fromValue compiles the types struct of a built CUE value.
func fromValue(v cue.Value) (*Registry, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	defs := v.Context().CompileString(definitions, cue.Filename("definitions.cue"))
	if err := defs.Err(); err != nil {
		return nil, fmt.Errorf("schema definitions: %w", err)
	}
	v = defs.Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	reg := &Registry{byName: make(map[string]int)}

	typesVal := v.LookupPath(cue.ParsePath("types"))
	if !typesVal.Exists() {
		return reg, nil
	}

	iter, err := typesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		ts, err := compileType(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		reg.add(ts)
	}
	return reg, nil
}

// compileType parses one entry of the types struct.
func compileType(name string, v cue.Value) (ir.TypeSchema, error) {
	ts := ir.TypeSchema{Name: name}

	if dns := v.LookupPath(cue.ParsePath("doNotSync")); dns.Exists() {
		b, err := dns.Bool()
		if err != nil {
			return ir.TypeSchema{}, formatCUEError(err)
		}
		ts.DoNotSync = b
	}

	lookupsVal := v.LookupPath(cue.ParsePath("lookups"))
	if !lookupsVal.Exists() {
		return ts, nil
	}

	list, err := lookupsVal.List()
	if err != nil {
		return ir.TypeSchema{}, formatCUEError(err)
	}

	seen := make(map[string]bool)
	for i := 0; list.Next(); i++ {
		path := fmt.Sprintf("types.%s.lookups[%d]", name, i)
		elem := list.Value()

		lf, err := compileLookup(elem)
		if err != nil {
			return ir.TypeSchema{}, err
		}
		if err := validateLookup(path, lf, elem.Pos()); err != nil {
			return ir.TypeSchema{}, err
		}
		if seen[lf.Name] {
			return ir.TypeSchema{}, &Error{
				Field:   path + ".field",
				Message: fmt.Sprintf("duplicate lookup field %q", lf.Name),
				Pos:     elem.Pos(),
			}
		}
		seen[lf.Name] = true
		ts.Lookups = append(ts.Lookups, lf)
	}
	return ts, nil
}

func compileLookup(v cue.Value) (ir.LookupField, error) {
	var lf ir.LookupField

	fields := map[string]*string{
		"field":       &lf.Name,
		"target":      &lf.TargetList,
		"targetField": &lf.DynamicTargetField,
	}
	for key, dst := range fields {
		fv := v.LookupPath(cue.ParsePath(key))
		if !fv.Exists() {
			continue
		}
		s, err := fv.String()
		if err != nil {
			return ir.LookupField{}, formatCUEError(err)
		}
		*dst = s
	}

	if vv := v.LookupPath(cue.ParsePath("virtual")); vv.Exists() {
		b, err := vv.Bool()
		if err != nil {
			return ir.LookupField{}, formatCUEError(err)
		}
		lf.Virtual = b
	}
	return lf, nil
}

// validateLookup checks one lookup descriptor.
func validateLookup(path string, lf ir.LookupField, pos token.Pos) error {
	switch {
	case lf.Name == "":
		return &Error{Field: path + ".field", Message: "field name is required", Pos: pos}
	case lf.DynamicTargetField != "" && !lf.Virtual:
		return &Error{Field: path + ".targetField", Message: "targetField requires virtual: true", Pos: pos}
	case lf.Virtual && lf.TargetList == "" && lf.DynamicTargetField == "":
		return &Error{Field: path + ".target", Message: "virtual lookup needs target or targetField", Pos: pos}
	}
	return nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &Error{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
