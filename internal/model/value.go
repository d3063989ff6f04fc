package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Value is a sealed interface for tracked field values.
// Only Null, String, Int, and Bool implement it.
//
// Floats are deliberately absent: every field the ledger tracks is a code,
// an address, an identifier, a counter, or a microsecond timestamp.
type Value interface {
	value() // Sealed
}

// Null is an explicitly cleared field.
type Null struct{}

func (Null) value() {}

// String is a string field value.
type String string

func (String) value() {}

// Int is an integer field value. Timestamp-typed fields hold microseconds.
type Int int64

func (Int) value() {}

// Bool is a boolean field value.
type Bool bool

func (Bool) value() {}

// Kind names the type of a value: "null", "string", "int", or "bool".
func Kind(v Value) string {
	switch v.(type) {
	case Null:
		return "null"
	case String:
		return "string"
	case Int:
		return "int"
	case Bool:
		return "bool"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// FromAny converts a decoded Go value (YAML, JSON with UseNumber, literals)
// into a Value. Floats and nested structures are rejected.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint32:
		return Int(val), nil
	case json.Number:
		s := string(val)
		if strings.ContainsAny(s, ".eE") {
			return nil, fmt.Errorf("floats are not allowed: %s", s)
		}
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("number out of int64 range: %s", s)
		}
		return Int(n), nil
	case float32, float64:
		return nil, fmt.Errorf("floats are not allowed: %v", val)
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// MarshalValue encodes a single value as JSON.
func MarshalValue(v Value) ([]byte, error) {
	switch val := v.(type) {
	case Null:
		return []byte("null"), nil
	case String:
		return json.Marshal(string(val))
	case Int:
		return json.Marshal(int64(val))
	case Bool:
		return json.Marshal(bool(val))
	default:
		return nil, fmt.Errorf("unknown value type: %T", v)
	}
}

// UnmarshalValue decodes a single JSON scalar into a Value.
// null becomes Null; numbers must be integers.
func UnmarshalValue(data []byte) (Value, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty JSON value")
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return String(s), nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return Bool(b), nil
	case 'n':
		return Null{}, nil
	case '[', '{':
		return nil, fmt.Errorf("nested values are not allowed: %s", string(data))
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, err
		}
		return FromAny(n)
	}
}

// Format renders a value for human-readable output.
func Format(v Value) string {
	switch val := v.(type) {
	case Null:
		return "null"
	case String:
		return string(val)
	case Int:
		return fmt.Sprintf("%d", int64(val))
	case Bool:
		return fmt.Sprintf("%t", bool(val))
	default:
		return fmt.Sprintf("%v", v)
	}
}
