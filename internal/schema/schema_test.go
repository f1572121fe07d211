package schema

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/bufsync/internal/ir"
)

const orderSchema = `
types: {
	Customer: {}
	Order: {
		lookups: [
			{field: "customerId", target: "Customer"},
		]
	}
	LineItem: {
		lookups: [
			{field: "orderId", target: "Order"},
			{field: "Order"},
			{field: "parentId", virtual: true, targetField: "parentType"},
			{field: "mainOrder", virtual: true, target: "Order"},
		]
	}
	Draft: doNotSync: true
}
`

func TestCompile_DeclarationOrder(t *testing.T) {
	reg, err := Compile(orderSchema)
	require.NoError(t, err)

	var names []string
	for _, ts := range reg.Types() {
		names = append(names, ts.Name)
	}
	assert.Equal(t, []string{"Customer", "Order", "LineItem", "Draft"}, names)
}

func TestCompile_Lookups(t *testing.T) {
	reg, err := Compile(orderSchema)
	require.NoError(t, err)

	lookups := reg.LookupFields("LineItem")
	require.Len(t, lookups, 4)

	assert.Equal(t, ir.LookupField{Name: "orderId", TargetList: "Order"}, lookups[0])
	assert.Equal(t, "Order", lookups[1].StaticTarget(), "field name is the target when none is given")
	assert.True(t, lookups[2].IsDynamic())
	assert.Equal(t, "parentType", lookups[2].DynamicTargetField)
	assert.Equal(t, ir.LookupField{Name: "mainOrder", Virtual: true, TargetList: "Order"}, lookups[3])
}

func TestRegistry_DoNotSync(t *testing.T) {
	reg, err := Compile(orderSchema)
	require.NoError(t, err)

	assert.True(t, reg.DoNotSync("Draft"))
	assert.False(t, reg.DoNotSync("Order"))
	assert.False(t, reg.DoNotSync("Undeclared"), "undeclared types are synced")
	assert.Nil(t, reg.LookupFields("Undeclared"))
}

func TestRegistry_Nil(t *testing.T) {
	var reg *Registry

	assert.Empty(t, reg.Types())
	assert.False(t, reg.DoNotSync("Order"))
	assert.Nil(t, reg.LookupFields("Order"))
	_, ok := reg.Lookup("Order")
	assert.False(t, ok)
}

func TestCompile_NoTypes(t *testing.T) {
	reg, err := Compile(`other: 1`)
	require.NoError(t, err)
	assert.Empty(t, reg.Types())
}

func TestCompile_ValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{
			name:  "missing field name",
			src:   `types: Order: lookups: [{target: "Customer"}]`,
			field: "types.Order.lookups[0].field",
		},
		{
			name:  "targetField without virtual",
			src:   `types: Order: lookups: [{field: "parentId", targetField: "parentType"}]`,
			field: "types.Order.lookups[0].targetField",
		},
		{
			name:  "virtual without target",
			src:   `types: Order: lookups: [{field: "parentId", virtual: true}]`,
			field: "types.Order.lookups[0].target",
		},
		{
			name:  "duplicate field",
			src:   `types: Order: lookups: [{field: "customerId"}, {field: "customerId", target: "Customer"}]`,
			field: "types.Order.lookups[1].field",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.src)
			require.Error(t, err)

			var schemaErr *Error
			require.True(t, errors.As(err, &schemaErr), "expected *Error, got %T", err)
			assert.Equal(t, tt.field, schemaErr.Field)
			assert.True(t, schemaErr.Pos.IsValid())
		})
	}
}

func TestCompile_RejectsUnknownKeys(t *testing.T) {
	_, err := Compile(`types: Order: lookups: [{field: "customerId", tagret: "Customer"}]`)
	assert.Error(t, err)
}

func TestCompile_RejectsWrongKinds(t *testing.T) {
	_, err := Compile(`types: Order: doNotSync: "yes"`)
	assert.Error(t, err)
}

func TestCompile_SyntaxError(t *testing.T) {
	_, err := Compile(`types: {`)
	assert.Error(t, err)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orders.cue"), []byte(`
types: Order: lookups: [{field: "customerId", target: "Customer"}]
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "drafts.cue"), []byte(`
types: Draft: doNotSync: true
`), 0o644))

	reg, err := LoadDir(dir)
	require.NoError(t, err)

	_, ok := reg.Lookup("Order")
	assert.True(t, ok)
	assert.True(t, reg.DoNotSync("Draft"))
}

func TestLoadDir_Errors(t *testing.T) {
	_, err := LoadDir(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	_, err = LoadDir(t.TempDir())
	assert.ErrorContains(t, err, "no CUE files")
}

func TestNewRegistry(t *testing.T) {
	reg, err := NewRegistry(
		ir.TypeSchema{Name: "Order"},
		ir.TypeSchema{Name: "LineItem", Lookups: []ir.LookupField{{Name: "orderId", TargetList: "Order"}}},
	)
	require.NoError(t, err)
	assert.Len(t, reg.Types(), 2)

	_, err = NewRegistry(ir.TypeSchema{Name: "Order"}, ir.TypeSchema{Name: "Order"})
	assert.Error(t, err)

	_, err = NewRegistry(ir.TypeSchema{Name: "Order", Lookups: []ir.LookupField{{Name: "x", Virtual: true}}})
	var schemaErr *Error
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, "types.Order.lookups[0].target", schemaErr.Field)
}
