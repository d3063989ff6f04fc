package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify_AllResources(t *testing.T) {
	l := newTestLedger(t)
	l.registerNode("X", "100", nodeFields)
	l.registerNode("B", "100", nodeFields)
	require.NoError(t, applyState(l, "200", "A", "1").err)
	require.NoError(t, l.run("register", "Accelerator/R0-CH0-N1/A0", "--ts", "100").err)

	res := l.run("verify")
	require.NoError(t, res.err, res.stdout)
	assert.Contains(t, res.stdout, "ok   ComputeNode/B (1 history entries)")
	assert.Contains(t, res.stdout, "ok   ComputeNode/X (2 history entries)")
	assert.Contains(t, res.stdout, "ok   Accelerator/R0-CH0-N1/A0 (0 history entries)")
	assert.Contains(t, res.stdout, "Verify Summary: 3 checked, 0 failed")

	res = l.run("verify", "--type", "Accelerator", "--format", "json")
	require.NoError(t, res.err)
	var result VerifyResult
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, res.stdout).Data, &result))
	assert.Equal(t, 1, result.Checked)
	require.Len(t, result.Reports, 1)
	assert.Equal(t, "R0-CH0-N1/A0", result.Reports[0].Key.ID)
	assert.Empty(t, result.Reports[0].Violations)
}

func TestVerify_NamedResources(t *testing.T) {
	l := newTestLedger(t)
	l.registerNode("X", "100", nodeFields)

	res := l.run("verify", "ComputeNode/X", "ComputeNode/ghost", "--format", "json")
	require.Error(t, res.err)
	assert.Equal(t, ExitFailure, res.code())

	env := decodeEnvelope(t, res.stdout)
	assert.Equal(t, "error", env.Status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "E_VERIFY_FAILED", env.Error.Code)

	var result VerifyResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, 2, result.Checked)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, []string{"not registered"}, result.Reports[1].Violations)
}

func TestVerify_BadKey(t *testing.T) {
	l := newTestLedger(t)
	res := l.run("verify", "nokey")
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, res.code())
}
