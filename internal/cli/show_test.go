package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nodeledger/internal/model"
)

func TestShow(t *testing.T) {
	l := newTestLedger(t)
	l.registerNode("X", "100", nodeFields)
	require.NoError(t, applyState(l, "150", "A", "7").err)

	res := l.run("show", "ComputeNode/X")
	require.NoError(t, res.err)
	assert.Equal(t,
		"ComputeNode/X\n  ts=150 adapter=ONLINE_TIER work_item=7 fields={\"HostName\":\"x01\",\"IpAddr\":\"10.0.0.5\",\"State\":\"A\"}\n",
		res.stdout)
}

func TestShow_NotFound(t *testing.T) {
	l := newTestLedger(t)

	res := l.run("show", "ComputeNode/missing", "--format", "json")
	require.Error(t, res.err)
	assert.Equal(t, ExitFailure, res.code())

	env := decodeEnvelope(t, res.stdout)
	require.NotNil(t, env.Error)
	assert.Equal(t, ErrCodeNotFound, env.Error.Code)
}

func TestShow_All(t *testing.T) {
	l := newTestLedger(t)
	l.registerNode("A", "100", nodeFields)
	l.registerNode("B", "100", nodeFields)

	res := l.run("show", "--format", "json")
	require.NoError(t, res.err)

	var records []model.Record
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, res.stdout).Data, &records))
	require.Len(t, records, 2)
	assert.Equal(t, "A", records[0].Key.ID)
	assert.Equal(t, "B", records[1].Key.ID)

	res = l.run("show")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "2 resource(s)")
	assert.Contains(t, res.stdout, "work_item=none")
}

func TestHistory(t *testing.T) {
	l := newTestLedger(t)
	l.registerNode("X", "100", nodeFields)
	require.NoError(t, applyState(l, "200", "A", "1").err)
	require.NoError(t, applyState(l, "150", "D", "2").err)

	res := l.run("history", "ComputeNode/X", "--format", "json")
	require.NoError(t, res.err)

	var history []model.Record
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, res.stdout).Data, &history))
	require.Len(t, history, 3)
	assert.Equal(t, model.Micros(100), history[0].LastChgTimestamp)
	assert.Equal(t, model.Micros(150), history[1].LastChgTimestamp)
	assert.Equal(t, model.String("D"), history[1].Fields["State"])
	assert.Equal(t, model.Micros(200), history[2].LastChgTimestamp)

	res = l.run("history", "ComputeNode/X")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "3 entries")
}

func TestHistory_At(t *testing.T) {
	l := newTestLedger(t)
	l.registerNode("X", "100", nodeFields)
	require.NoError(t, applyState(l, "200", "A", "1").err)

	tests := []struct {
		at     string
		wantTS model.Micros
	}{
		{at: "100", wantTS: 100},
		{at: "199", wantTS: 100},
		{at: "200", wantTS: 200},
		{at: "999", wantTS: 200},
	}
	for _, tt := range tests {
		t.Run(tt.at, func(t *testing.T) {
			res := l.run("history", "ComputeNode/X", "--at", tt.at, "--format", "json")
			require.NoError(t, res.err)
			var entry model.Record
			require.NoError(t, json.Unmarshal(decodeEnvelope(t, res.stdout).Data, &entry))
			assert.Equal(t, tt.wantTS, entry.LastChgTimestamp)
		})
	}

	res := l.run("history", "ComputeNode/X", "--at", "99")
	require.Error(t, res.err)
	assert.Equal(t, ExitFailure, res.code())
	assert.Contains(t, res.stdout, "has no history at or before 99")
}

func TestHistory_Empty(t *testing.T) {
	l := newTestLedger(t)
	res := l.run("register", "ComputeNode/X", "--ts", "100")
	require.NoError(t, res.err)

	res = l.run("history", "ComputeNode/X")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "0 entries")
}
