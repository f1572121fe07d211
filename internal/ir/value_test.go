package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIRObjectSortedKeysRFC8785Order(t *testing.T) {
	// U+FB01 sorts before U+1F600 in UTF-8 but after it in UTF-16,
	// because the emoji encodes as a surrogate pair starting at 0xD83D.
	obj := IRObject{"\U0001F600": IRInt(1), "\ufb01": IRInt(2)}
	assert.Equal(t, []string{"\U0001F600", "\ufb01"}, obj.SortedKeys())
}

func TestIRObjectUnmarshal(t *testing.T) {
	var obj IRObject
	err := json.Unmarshal([]byte(`{"id":7,"name":"x","ref":{"id":3},"tags":[1,"a"],"gone":null,"ok":true}`), &obj)
	require.NoError(t, err)

	assert.Equal(t, IRInt(7), obj["id"])
	assert.Equal(t, IRString("x"), obj["name"])
	assert.Equal(t, IRObject{"id": IRInt(3)}, obj["ref"])
	assert.Equal(t, IRArray{IRInt(1), IRString("a")}, obj["tags"])
	assert.Equal(t, IRNull{}, obj["gone"])
	assert.Equal(t, IRBool(true), obj["ok"])
}

func TestIRObjectUnmarshalRejectsFloats(t *testing.T) {
	var obj IRObject
	err := json.Unmarshal([]byte(`{"price":1.25}`), &obj)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "price")
}

func TestIRObjectMarshalSorted(t *testing.T) {
	obj := IRObject{"b": IRInt(1), "a": IRNull{}, "c": IRArray{IRString("x")}}
	data, err := json.Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":null,"b":1,"c":["x"]}`, string(data))
}

func TestParseObject_Empty(t *testing.T) {
	obj, err := ParseObject(nil)
	require.NoError(t, err)
	assert.Empty(t, obj)

	obj, err = ParseObject([]byte("  "))
	require.NoError(t, err)
	assert.Empty(t, obj)
}

func TestFromGo_YAMLShapes(t *testing.T) {
	v, err := FromGo(map[string]any{
		"n":    5,
		"list": []any{"a", 2},
		"nil":  nil,
	})
	require.NoError(t, err)
	assert.Equal(t, IRObject{
		"n":    IRInt(5),
		"list": IRArray{IRString("a"), IRInt(2)},
		"nil":  IRNull{},
	}, v)

	_, err = FromGo(map[string]any{"f": 0.5})
	require.Error(t, err)
}

func TestEqual(t *testing.T) {
	a := IRObject{"id": IRInt(1), "refs": IRArray{IRObject{"id": IRInt(2)}}}
	b := a.Clone()
	assert.True(t, Equal(a, b))

	b["refs"].(IRArray)[0].(IRObject)["id"] = IRInt(3)
	assert.False(t, Equal(a, b), "clone must be deep")
	assert.Equal(t, IRInt(2), a["refs"].(IRArray)[0].(IRObject)["id"])

	assert.True(t, Equal(nil, IRNull{}))
	assert.False(t, Equal(IRInt(1), IRString("1")))
}

func TestIRObjectUnmarshal_NullAndWrongKind(t *testing.T) {
	obj := IRObject{"keep": IRInt(1)}
	require.NoError(t, json.Unmarshal([]byte(`null`), &obj))
	assert.Equal(t, IRObject{"keep": IRInt(1)}, obj)

	err := json.Unmarshal([]byte(`[1,2]`), &obj)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected JSON object")
}

func TestUnmarshalIRValue_RejectsTrailingData(t *testing.T) {
	_, err := UnmarshalIRValue([]byte(`1 2`))
	require.Error(t, err)

	v, err := UnmarshalIRValue([]byte(` [1, {"a": "b"}] `))
	require.NoError(t, err)
	assert.Equal(t, IRArray{IRInt(1), IRObject{"a": IRString("b")}}, v)
}
