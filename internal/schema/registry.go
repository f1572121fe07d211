package schema

import (
	"fmt"

	"cuelang.org/go/cue/token"

	"github.com/roach88/bufsync/internal/ir"
)

// Registry holds compiled type declarations in declaration order.
// A nil Registry is valid and declares nothing.
type Registry struct {
	types  []ir.TypeSchema
	byName map[string]int
}

// NewRegistry builds a registry from already-compiled declarations.
// Lookups are validated the same way as CUE sources.
func NewRegistry(types ...ir.TypeSchema) (*Registry, error) {
	reg := &Registry{byName: make(map[string]int, len(types))}
	for _, ts := range types {
		if ts.Name == "" {
			return nil, &Error{Field: "types", Message: "type name is required"}
		}
		if _, dup := reg.byName[ts.Name]; dup {
			return nil, &Error{Field: "types." + ts.Name, Message: "duplicate type"}
		}
		seen := make(map[string]bool)
		for i, lf := range ts.Lookups {
			path := fmt.Sprintf("types.%s.lookups[%d]", ts.Name, i)
			if err := validateLookup(path, lf, token.NoPos); err != nil {
				return nil, err
			}
			if seen[lf.Name] {
				return nil, &Error{Field: path + ".field", Message: fmt.Sprintf("duplicate lookup field %q", lf.Name)}
			}
			seen[lf.Name] = true
		}
		reg.add(ts)
	}
	return reg, nil
}

func (r *Registry) add(ts ir.TypeSchema) {
	r.byName[ts.Name] = len(r.types)
	r.types = append(r.types, ts)
}

// Types returns every declared type in declaration order.
func (r *Registry) Types() []ir.TypeSchema {
	if r == nil {
		return nil
	}
	out := make([]ir.TypeSchema, len(r.types))
	copy(out, r.types)
	return out
}

// Lookup returns the declaration for name.
func (r *Registry) Lookup(name string) (ir.TypeSchema, bool) {
	if r == nil {
		return ir.TypeSchema{}, false
	}
	i, ok := r.byName[name]
	if !ok {
		return ir.TypeSchema{}, false
	}
	return r.types[i], true
}

// DoNotSync reports whether commands for name are never queued.
// Undeclared types are synced.
func (r *Registry) DoNotSync(name string) bool {
	ts, ok := r.Lookup(name)
	return ok && ts.DoNotSync
}

// LookupFields returns the lookup descriptors of name, or nil when the
// type is undeclared.
func (r *Registry) LookupFields(name string) []ir.LookupField {
	ts, ok := r.Lookup(name)
	if !ok {
		return nil
	}
	return ts.Lookups
}
