package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type cliResult struct {
	stdout string
	stderr string
	err    error
}

func (r cliResult) code() int { return GetExitCode(r.err) }

// runCLI executes the root command with args and stdin.
func runCLI(t *testing.T, stdin string, args ...string) cliResult {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return cliResult{stdout: out.String(), stderr: errOut.String(), err: err}
}

// testLedger is a SQLite ledger file shared by consecutive invocations.
type testLedger struct {
	t    *testing.T
	path string
}

func newTestLedger(t *testing.T) *testLedger {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	return &testLedger{t: t, path: filepath.Join(t.TempDir(), "ledger.db")}
}

func (l *testLedger) run(args ...string) cliResult {
	l.t.Helper()
	return l.runIn("", args...)
}

func (l *testLedger) runIn(stdin string, args ...string) cliResult {
	l.t.Helper()
	return runCLI(l.t, stdin, append(args, "--driver", "sqlite", "--db", l.path)...)
}

// registerNode registers ComputeNode/<id> at ts with a seed history entry.
func (l *testLedger) registerNode(id string, ts string, fields string) {
	l.t.Helper()
	res := l.run("register", "ComputeNode/"+id, "--ts", ts, "--fields", fields, "--seed")
	require.NoError(l.t, res.err, res.stdout)
}

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *CLIError       `json:"error"`
}

func decodeEnvelope(t *testing.T, out string) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal([]byte(out), &env), out)
	return env
}
