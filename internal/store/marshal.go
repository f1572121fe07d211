package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/bufsync/internal/ir"
)

// marshalFields converts a record's fields to JSON TEXT with sorted keys.
func marshalFields(fields ir.IRObject) (string, error) {
	if fields == nil {
		return "{}", nil
	}
	data, err := fields.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("marshal fields: %w", err)
	}
	return string(data), nil
}

// unmarshalFields parses JSON TEXT into an IRObject.
func unmarshalFields(data string) (ir.IRObject, error) {
	obj, err := ir.ParseObject([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	return obj, nil
}

// marshalParameters converts command parameters to JSON TEXT.
// Order is preserved; an empty list is stored as [].
func marshalParameters(ps ir.Parameters) (string, error) {
	if len(ps) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(ps)
	if err != nil {
		return "", fmt.Errorf("marshal parameters: %w", err)
	}
	return string(data), nil
}

// unmarshalParameters parses JSON TEXT into Parameters.
func unmarshalParameters(data string) (ir.Parameters, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var ps ir.Parameters
	if err := json.Unmarshal([]byte(data), &ps); err != nil {
		return nil, fmt.Errorf("unmarshal parameters: %w", err)
	}
	return ps, nil
}

func nullableItem(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

func encodeTime(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func decodeTime(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
