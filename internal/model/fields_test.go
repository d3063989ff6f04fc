package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueSealed(t *testing.T) {
	var _ Value = Null{}
	var _ Value = String("I")
	var _ Value = Int(42)
	var _ Value = Bool(true)
}

func TestFieldsSortedKeys(t *testing.T) {
	f := Fields{
		"State":       String("A"),
		"BootImageId": String("img"),
		"IpAddr":      String("10.0.0.1"),
		"a":           Int(1),
	}

	assert.Equal(t, []string{"BootImageId", "IpAddr", "State", "a"}, f.SortedKeys())
}

func TestFieldsSortedKeys_UTF16Order(t *testing.T) {
	// U+FF61 is a single UTF-16 unit; U+1F600 is a surrogate pair starting 0xD83D.
	// UTF-8 byte order would put the emoji last.
	f := Fields{"\uff61": Int(1), "\U0001F600": Int(2)}

	assert.Equal(t, []string{"\U0001F600", "\uff61"}, f.SortedKeys())
}

func TestFieldsOverlay_DoesNotMutateInputs(t *testing.T) {
	base := Fields{"State": String("B"), "IpAddr": String("10.0.0.1")}
	changes := Fields{"State": String("A"), "Owner": String("W")}

	merged := base.Overlay(changes)

	assert.Equal(t, Fields{
		"State":  String("A"),
		"IpAddr": String("10.0.0.1"),
		"Owner":  String("W"),
	}, merged)
	assert.Equal(t, String("B"), base["State"])
	assert.Len(t, changes, 2)
}

func TestFieldsEqualAndContains(t *testing.T) {
	a := Fields{"State": String("A"), "SequenceNumber": Int(3)}
	b := Fields{"State": String("A"), "SequenceNumber": Int(3)}
	c := Fields{"State": String("A"), "SequenceNumber": Int(4)}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.True(t, a.Contains(Fields{"State": String("A")}))
	assert.False(t, a.Contains(Fields{"Owner": String("A")}))
	assert.True(t, a.Contains(nil))
}

func TestFieldsGet_MissingIsNull(t *testing.T) {
	f := Fields{"State": String("A")}

	assert.Equal(t, String("A"), f.Get("State"))
	assert.Equal(t, Null{}, f.Get("Owner"))
}

func TestFieldsJSON(t *testing.T) {
	f := Fields{
		"State":          String("A"),
		"SequenceNumber": Int(9007199254740993),
		"Owner":          Null{},
		"Enabled":        Bool(true),
	}

	data, err := json.Marshal(f)
	require.NoError(t, err)
	assert.Equal(t, `{"Enabled":true,"Owner":null,"SequenceNumber":9007199254740993,"State":"A"}`, string(data))

	var back Fields
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, f.Equal(back), "large ints must survive without float rounding")
}

func TestFieldsUnmarshalJSON_RejectsFloatsAndNesting(t *testing.T) {
	var f Fields

	err := json.Unmarshal([]byte(`{"Load":1.5}`), &f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are not allowed")

	err = json.Unmarshal([]byte(`{"Nested":{"a":1}}`), &f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nested values")
}

func TestFieldsFromMap(t *testing.T) {
	f, err := FieldsFromMap(map[string]any{
		"State":          "A",
		"SequenceNumber": 7,
		"Owner":          nil,
		"Enabled":        false,
	})
	require.NoError(t, err)
	assert.Equal(t, Fields{
		"State":          String("A"),
		"SequenceNumber": Int(7),
		"Owner":          Null{},
		"Enabled":        Bool(false),
	}, f)

	_, err = FieldsFromMap(map[string]any{"Load": 0.5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `field "Load"`)
}

func TestKindAndFormat(t *testing.T) {
	assert.Equal(t, "null", Kind(Null{}))
	assert.Equal(t, "string", Kind(String("x")))
	assert.Equal(t, "int", Kind(Int(1)))
	assert.Equal(t, "bool", Kind(Bool(false)))

	assert.Equal(t, "x", Format(String("x")))
	assert.Equal(t, "12", Format(Int(12)))
	assert.Equal(t, "null", Format(Null{}))
}
