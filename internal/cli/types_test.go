package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypesList(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	res := runCLI(t, "", "types", "list", "--driver", "memory")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Accelerator - Accelerator keyed by node location and accelerator location")
	assert.Contains(t, res.stdout, "  phases: boot_image ip_assigned\n")

	res = runCLI(t, "", "types", "list", "--driver", "memory", "--format", "json")
	require.NoError(t, res.err)
	var infos []TypeInfo
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, res.stdout).Data, &infos))
	require.Len(t, infos, 2)
	assert.Equal(t, "Accelerator", infos[0].Name)
	assert.Equal(t, "ComputeNode", infos[1].Name)
	assert.Equal(t, "string", infos[1].Fields["IpAddr"])
	assert.Equal(t, []string{"IpAddr"}, infos[1].Phases["ip_assigned"].Require)
}

func TestTypesList_ConfiguredDir(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("NODELEDGER_ENGINE_TYPES_DIR", "../resource/testdata/types")

	res := runCLI(t, "", "types", "list", "--driver", "memory", "--format", "json")
	require.NoError(t, res.err)
	var infos []TypeInfo
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, res.stdout).Data, &infos))

	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	assert.Equal(t, []string{"Accelerator", "ComputeNode", "Switch"}, names)
	assert.Equal(t, "string", infos[0].Fields["Model"], "declared types replace built-ins")
}

func TestTypesCompile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	res := runCLI(t, "", "types", "compile", "../resource/testdata/types", "--driver", "memory")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Compiled 2 resource type(s)")
	assert.Contains(t, res.stdout, "Switch - Management switch")
	assert.Contains(t, res.stdout, "phases: firmware_update")
}

func TestTypesCompile_Invalid(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	bad := "package types\n\nresource: Rack: fields: Height: \"float\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rack.cue"), []byte(bad), 0o644))

	res := runCLI(t, "", "types", "compile", dir, "--driver", "memory")
	require.Error(t, res.err)
	assert.NotEqual(t, ExitSuccess, res.code())
	assert.Contains(t, res.stdout, "Error [")
}

func TestTypesCompile_MissingDir(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	res := runCLI(t, "", "types", "compile", filepath.Join(t.TempDir(), "absent"), "--driver", "memory")
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, res.code())
}
