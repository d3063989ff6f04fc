package resource

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nodeledger/internal/model"
)

func builtinByName(t *testing.T) map[string]*Descriptor {
	t.Helper()
	types, err := Builtin()
	require.NoError(t, err)
	out := make(map[string]*Descriptor, len(types))
	for _, d := range types {
		out[d.Name()] = d
	}
	return out
}

func TestBuiltin_ComputeNode(t *testing.T) {
	node := builtinByName(t)["ComputeNode"]
	require.NotNil(t, node)

	assert.Len(t, node.Fields, 16)
	assert.Equal(t, KindInt, node.Fields["SequenceNumber"])
	assert.Equal(t, KindTimestamp, node.Fields["InventoryTimestamp"])
	assert.Equal(t, KindTimestamp, node.Fields["ProofOfLifeTimestamp"])
	assert.Equal(t, KindString, node.Fields["BootImageId"])

	assert.Equal(t, []string{"boot_image", "ip_assigned"}, node.PhaseNames())

	ip := node.Phases["ip_assigned"]
	assert.Equal(t, []string{"IpAddr"}, ip.Require)
	assert.Equal(t, []model.Value{model.String("K"), model.String("A")}, ip.IgnoreWhen["State"])
	assert.Equal(t, model.Fields{"State": model.String("I")}, ip.Sets)

	boot := node.Phases["boot_image"]
	assert.Empty(t, boot.Require)
	assert.Empty(t, boot.IgnoreWhen)
	assert.Empty(t, boot.Sets)
}

func TestBuiltin_Accelerator(t *testing.T) {
	acc := builtinByName(t)["Accelerator"]
	require.NotNil(t, acc)

	assert.Equal(t, map[string]Kind{
		"State":   KindString,
		"BusAddr": KindString,
		"Slot":    KindString,
	}, acc.Fields)
	assert.Equal(t, []string{"state_bus_addr"}, acc.PhaseNames())
}

func TestCompileSource_RejectsUnknownKind(t *testing.T) {
	_, err := CompileSource("bad.cue", `
resource: Widget: fields: Size: "float"
`)
	assert.Error(t, err)
}

func TestCompileSource_RejectsUndeclaredPhaseField(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "require",
			src:  `resource: W: {fields: A: "string", phases: p: require: ["B"]}`,
			want: `W.phases.p.require: undeclared field "B"`,
		},
		{
			name: "ignore_when",
			src:  `resource: W: {fields: A: "string", phases: p: ignore_when: B: ["x"]}`,
			want: `W.phases.p.ignore_when: undeclared field "B"`,
		},
		{
			name: "sets",
			src:  `resource: W: {fields: A: "string", phases: p: sets: B: "x"}`,
			want: `W.phases.p.sets: undeclared field "B"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileSource("w.cue", tt.src)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCompileSource_RejectsWronglyTypedSets(t *testing.T) {
	_, err := CompileSource("w.cue", `resource: W: {fields: A: "int", phases: p: sets: A: "x"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected int, got string")
}

func TestCompileSource_RejectsUnknownAttribute(t *testing.T) {
	_, err := CompileSource("w.cue", `resource: W: {fields: A: "string", owner: "ops"}`)
	assert.Error(t, err, "declarations are closed")
}

func TestCompileSource_RequiresResources(t *testing.T) {
	_, err := CompileSource("empty.cue", `other: 1`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no resource types declared")
}

func TestCompileSource_NullInIgnoreWhen(t *testing.T) {
	types, err := CompileSource("w.cue", `resource: W: {fields: Owner: "string", phases: claim: ignore_when: Owner: [null]}`)
	require.NoError(t, err)
	require.Len(t, types, 1)
	assert.Equal(t, []model.Value{model.Null{}}, types[0].Phases["claim"].IgnoreWhen["Owner"])
}

func TestLoadDir(t *testing.T) {
	types, err := LoadDir(filepath.Join("testdata", "types"))
	require.NoError(t, err)

	byName := map[string]*Descriptor{}
	for _, d := range types {
		byName[d.Name()] = d
	}
	require.Contains(t, byName, "Switch")
	require.Contains(t, byName, "Accelerator")

	sw := byName["Switch"]
	assert.Equal(t, "Management switch", sw.Description)
	assert.Equal(t, KindBool, sw.Fields["Managed"])
	assert.Equal(t, []model.Value{model.Bool(false)}, sw.Phases["firmware_update"].IgnoreWhen["Managed"])
	assert.Contains(t, byName["Accelerator"].Fields, "Model")
}

func TestLoadDir_Missing(t *testing.T) {
	_, err := LoadDir(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestLoadDir_NoFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("x"), 0o644))

	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no CUE files")
}

func TestLoadDir_NotADirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.cue")
	require.NoError(t, os.WriteFile(path, []byte("package x\n"), 0o644))

	_, err := LoadDir(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
}
