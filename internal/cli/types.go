package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/nodeledger/internal/model"
	"github.com/roach88/nodeledger/internal/resource"
)

// TypeInfo describes one resource type for output.
type TypeInfo struct {
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Fields      map[string]string    `json:"fields"`
	Phases      map[string]PhaseInfo `json:"phases,omitempty"`
}

// PhaseInfo describes one lifecycle phase for output.
type PhaseInfo struct {
	Description string                       `json:"description,omitempty"`
	Require     []string                     `json:"require,omitempty"`
	IgnoreWhen  map[string][]json.RawMessage `json:"ignore_when,omitempty"`
	Sets        model.Fields                 `json:"sets,omitempty"`
}

// NewTypesCommand creates the types command and its subcommands.
func NewTypesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "types",
		Short: "Inspect resource type declarations",
		Long: `Inspect the resource types the engine knows: the built-in types plus
any declared in engine.types_dir.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the resource types in effect",
		Long: `List the resource types in effect, with their fields and phases.

Examples:
  nodeledger types list
  nodeledger types list --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTypesList(rootOpts, cmd)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "compile <types-dir>",
		Short: "Compile and check resource type declarations",
		Long: `Compile the CUE resource declarations in a directory and report
errors with their source positions.

Exit codes:
  0 - All declarations compiled
  1 - A declaration is invalid
  2 - Command error (directory not found, etc.)

Examples:
  nodeledger types compile ./types`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTypesCompile(rootOpts, args[0], cmd)
		},
	})

	return cmd
}

func runTypesList(opts *RootOptions, cmd *cobra.Command) error {
	types, err := resource.DefaultRegistry(opts.Config.Engine.TypesDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load resource types", err)
	}

	infos := make([]TypeInfo, 0, len(types.Names()))
	for _, name := range types.Names() {
		t, _ := types.Lookup(name)
		if d, ok := t.(*resource.Descriptor); ok {
			infos = append(infos, describeType(d))
			continue
		}
		infos = append(infos, TypeInfo{Name: name, Fields: map[string]string{}})
	}
	return opts.formatter(cmd.OutOrStdout()).Success(infos, formatTypes(infos))
}

func runTypesCompile(opts *RootOptions, dir string, cmd *cobra.Command) error {
	out := opts.formatter(cmd.OutOrStdout())

	descriptors, err := resource.LoadDir(dir)
	if err != nil {
		var compileErr *resource.CompileError
		if errors.As(err, &compileErr) {
			_ = out.Error(ErrCodeCompile, err.Error(), map[string]string{"field": compileErr.Field})
			return WrapExitError(ExitFailure, "invalid resource declaration", err)
		}
		_ = out.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to compile types", err)
	}

	infos := make([]TypeInfo, 0, len(descriptors))
	for _, d := range descriptors {
		infos = append(infos, describeType(d))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	opts.Logger.Debug("types compiled", "dir", dir, "count", len(infos))
	return out.Success(infos, fmt.Sprintf("Compiled %d resource type(s) from %s\n%s", len(infos), dir, formatTypes(infos)))
}

func describeType(d *resource.Descriptor) TypeInfo {
	info := TypeInfo{
		Name:        d.TypeName,
		Description: d.Description,
		Fields:      make(map[string]string, len(d.Fields)),
	}
	for name, kind := range d.Fields {
		info.Fields[name] = string(kind)
	}
	if len(d.Phases) > 0 {
		info.Phases = make(map[string]PhaseInfo, len(d.Phases))
		for name, p := range d.Phases {
			info.Phases[name] = PhaseInfo{
				Description: p.Description,
				Require:     p.Require,
				IgnoreWhen:  encodeValues(p.IgnoreWhen),
				Sets:        p.Sets,
			}
		}
	}
	return info
}

func encodeValues(m map[string][]model.Value) map[string][]json.RawMessage {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string][]json.RawMessage, len(m))
	for field, values := range m {
		for _, v := range values {
			raw, err := model.MarshalValue(v)
			if err != nil {
				continue
			}
			out[field] = append(out[field], raw)
		}
	}
	return out
}

func formatTypes(infos []TypeInfo) string {
	var b strings.Builder
	for _, t := range infos {
		fmt.Fprintf(&b, "%s", t.Name)
		if t.Description != "" {
			fmt.Fprintf(&b, " - %s", t.Description)
		}
		b.WriteString("\n")

		fields := make([]string, 0, len(t.Fields))
		for name, kind := range t.Fields {
			fields = append(fields, name+":"+kind)
		}
		sort.Strings(fields)
		fmt.Fprintf(&b, "  fields: %s\n", strings.Join(fields, " "))

		phases := make([]string, 0, len(t.Phases))
		for name := range t.Phases {
			phases = append(phases, name)
		}
		sort.Strings(phases)
		if len(phases) > 0 {
			fmt.Fprintf(&b, "  phases: %s\n", strings.Join(phases, " "))
		}
	}
	return b.String()
}
