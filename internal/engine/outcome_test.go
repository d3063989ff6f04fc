package engine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcome_StringRoundTrip(t *testing.T) {
	for _, o := range Outcomes {
		parsed, err := ParseOutcome(o.String())
		require.NoError(t, err)
		assert.Equal(t, o, parsed)
	}
}

func TestOutcome_Unknown(t *testing.T) {
	assert.Equal(t, "outcome(0)", Outcome(0).String())

	_, err := ParseOutcome("sideways")
	assert.Error(t, err)
}

func TestOutcome_Wrote(t *testing.T) {
	assert.True(t, InOrder.Wrote())
	assert.True(t, OutOfOrder.Wrote())
	assert.False(t, IgnoredNoBaseline.Wrote())
	assert.False(t, IgnoredByPolicy.Wrote())
	assert.False(t, IgnoredDuplicate.Wrote())
}

func TestResult_JSON(t *testing.T) {
	res := Result{Outcome: OutOfOrder, Requested: 120, Timestamp: 121, CorrelationID: "cid-1"}

	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"outcome":"out_of_order","requested":120,"timestamp":121,"correlation_id":"cid-1"}`, string(data))

	var back Result
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, res, back)
	assert.True(t, back.Bumped())
}

func TestResult_BumpedOnlyWhenWritten(t *testing.T) {
	assert.False(t, Result{Outcome: IgnoredDuplicate, Requested: 200, Timestamp: 201}.Bumped())
	assert.False(t, Result{Outcome: InOrder, Requested: 200, Timestamp: 200}.Bumped())
}
