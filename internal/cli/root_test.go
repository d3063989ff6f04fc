package cli

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nodeledger/internal/config"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "nodeledger", cmd.Use)
	assert.Contains(t, cmd.Long, "timestamped history")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"register"}, {"apply"}, {"show"}, {"history"}, {"ingest"}, {"verify"},
		{"types", "list"}, {"types", "compile"}, {"proc", "save-ip-addr"}, {"test"},
	}

	for _, path := range commands {
		t.Run(path[len(path)-1], func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err)
			require.NotNil(t, subCmd)
			assert.Equal(t, path[len(path)-1], subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	for _, name := range []string{"config", "driver", "db"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestInvalidFormat(t *testing.T) {
	res := runCLI(t, "", "types", "list", "--format", "yaml")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), `invalid format "yaml"`)
	assert.Equal(t, ExitCommandError, res.code())
}

func TestUnknownDriver(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	res := runCLI(t, "", "show", "--driver", "oracle")
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, res.code())
	assert.Contains(t, res.err.Error(), `unknown storage.driver "oracle"`)
}

func TestConfigFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "from-config.db")
	cfg := "storage:\n  driver: sqlite\n  sqlite_path: " + dbPath + "\nlog:\n  level: warn\n"
	cfgPath := filepath.Join(dir, "nodeledger.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	res := runCLI(t, "", "register", "ComputeNode/X", "--ts", "100", "--config", cfgPath)
	require.NoError(t, res.err, res.stdout)

	_, err := os.Stat(dbPath)
	assert.NoError(t, err, "the configured sqlite path should have been created")
}

func TestMissingConfigFile(t *testing.T) {
	res := runCLI(t, "", "show", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, res.code())
	assert.Contains(t, res.err.Error(), "failed to load configuration")
}

func TestDBFlag_PostgresDSN(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	opts := &RootOptions{viper: config.New()}
	cmd := newRootCommand(opts)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"types", "list", "--driver", "postgres", "--db", "postgres://ledger@db:5432/nodeledger"})

	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Equal(t, config.DriverPostgres, opts.Config.Storage.Driver)
	assert.Equal(t, "postgres://ledger@db:5432/nodeledger", opts.Config.Storage.PostgresDSN)
}

func TestDBFlag_SQLitePath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "flag.db")
	opts := &RootOptions{viper: config.New()}
	cmd := newRootCommand(opts)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"types", "list", "--db", path})

	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Equal(t, config.DriverSQLite, opts.Config.Storage.Driver)
	assert.Equal(t, path, opts.Config.Storage.SQLitePath)
}

func TestDBFlag_RejectedForMemory(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	res := runCLI(t, "", "show", "--driver", "memory", "--db", "ledger.db")
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, res.code())
	assert.Contains(t, res.err.Error(), "memory driver does not take a database location")
}

func TestEnvironmentDriver(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("NODELEDGER_STORAGE_DRIVER", "memory")

	res := runCLI(t, "", "show", "--format", "json")
	require.NoError(t, res.err)
	env := decodeEnvelope(t, res.stdout)
	assert.Equal(t, "ok", env.Status)
	assert.Nil(t, env.Error)
}

func TestVerboseLogsToStderr(t *testing.T) {
	l := newTestLedger(t)
	res := l.run("register", "ComputeNode/X", "--ts", "100", "--verbose")
	require.NoError(t, res.err)
	assert.Contains(t, res.stderr, "level=DEBUG")
	assert.Contains(t, res.stderr, "resource registered")
	assert.NotContains(t, res.stdout, "level=")
}
