package resource

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/nodeledger/internal/model"
)

//go:embed schema.cue
var schemaCUE string

//go:embed builtin.cue
var builtinCUE string

// CompileError reports an invalid resource type declaration.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Builtin compiles the resource types that ship with the binary.
func Builtin() ([]*Descriptor, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(builtinCUE, cue.Filename("builtin.cue"))
	return compileRoot(ctx, v)
}

// CompileSource compiles declarations from CUE source text.
func CompileSource(filename, src string) ([]*Descriptor, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	return compileRoot(ctx, v)
}

// LoadDir compiles every resource declaration in the CUE package at dir.
func LoadDir(dir string) ([]*Descriptor, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("types directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}

	files, err := findCUEFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no CUE files found in %s", dir)
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("loading CUE files: %w", formatCUEError(inst.Err))
	}

	return compileRoot(ctx, ctx.BuildInstance(inst))
}

// compileRoot checks v against the declaration schema and compiles every
// entry under resource.
func compileRoot(ctx *cue.Context, v cue.Value) ([]*Descriptor, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	v = schema.Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	resources := v.LookupPath(cue.ParsePath("resource"))
	if !resources.Exists() {
		return nil, &CompileError{Field: "resource", Message: "no resource types declared", Pos: v.Pos()}
	}

	iter, err := resources.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []*Descriptor
	for iter.Next() {
		d, err := Compile(iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, &CompileError{Field: "resource", Message: "no resource types declared", Pos: resources.Pos()}
	}
	return out, nil
}

// Compile parses one resource declaration. The type name is the last
// selector of v's path:
//
//	desc, err := Compile(root.LookupPath(cue.ParsePath("resource.ComputeNode")))
func Compile(v cue.Value) (*Descriptor, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	d := &Descriptor{
		Fields: make(map[string]Kind),
		Phases: make(map[string]Phase),
	}
	if sels := v.Path().Selectors(); len(sels) > 0 {
		d.TypeName = sels[len(sels)-1].Unquoted()
	}
	if d.TypeName == "" {
		return nil, &CompileError{Field: "resource", Message: "type name is required", Pos: v.Pos()}
	}

	if desc := v.LookupPath(cue.ParsePath("description")); desc.Exists() {
		s, err := desc.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		d.Description = s
	}

	if err := parseFields(v, d); err != nil {
		return nil, err
	}
	if err := parsePhases(v, d); err != nil {
		return nil, err
	}
	return d, nil
}

func parseFields(v cue.Value, d *Descriptor) error {
	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if !fieldsVal.Exists() {
		return &CompileError{Field: d.TypeName + ".fields", Message: "fields are required", Pos: v.Pos()}
	}
	iter, err := fieldsVal.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		kind, err := iter.Value().String()
		if err != nil {
			return formatCUEError(err)
		}
		switch Kind(kind) {
		case KindString, KindInt, KindBool, KindTimestamp:
			d.Fields[iter.Label()] = Kind(kind)
		default:
			return &CompileError{
				Field:   d.TypeName + ".fields." + iter.Label(),
				Message: fmt.Sprintf("unknown kind %q", kind),
				Pos:     iter.Value().Pos(),
			}
		}
	}
	if len(d.Fields) == 0 {
		return &CompileError{Field: d.TypeName + ".fields", Message: "at least one field is required", Pos: fieldsVal.Pos()}
	}
	return nil
}

func parsePhases(v cue.Value, d *Descriptor) error {
	phasesVal := v.LookupPath(cue.ParsePath("phases"))
	if !phasesVal.Exists() {
		return nil
	}
	iter, err := phasesVal.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		phase, err := parsePhase(d, iter.Label(), iter.Value())
		if err != nil {
			return err
		}
		d.Phases[phase.Name] = phase
	}
	return nil
}

func parsePhase(d *Descriptor, name string, v cue.Value) (Phase, error) {
	phase := Phase{Name: name, IgnoreWhen: map[string][]model.Value{}, Sets: model.Fields{}}
	where := d.TypeName + ".phases." + name

	if desc := v.LookupPath(cue.ParsePath("description")); desc.Exists() {
		s, err := desc.String()
		if err != nil {
			return phase, formatCUEError(err)
		}
		phase.Description = s
	}

	if req := v.LookupPath(cue.ParsePath("require")); req.Exists() {
		list, err := req.List()
		if err != nil {
			return phase, formatCUEError(err)
		}
		for list.Next() {
			field, err := list.Value().String()
			if err != nil {
				return phase, formatCUEError(err)
			}
			if _, ok := d.Fields[field]; !ok {
				return phase, &CompileError{Field: where + ".require", Message: fmt.Sprintf("undeclared field %q", field), Pos: list.Value().Pos()}
			}
			phase.Require = append(phase.Require, field)
		}
	}

	if ign := v.LookupPath(cue.ParsePath("ignore_when")); ign.Exists() {
		fields, err := ign.Fields()
		if err != nil {
			return phase, formatCUEError(err)
		}
		for fields.Next() {
			field := fields.Label()
			if _, ok := d.Fields[field]; !ok {
				return phase, &CompileError{Field: where + ".ignore_when", Message: fmt.Sprintf("undeclared field %q", field), Pos: fields.Value().Pos()}
			}
			list, err := fields.Value().List()
			if err != nil {
				return phase, formatCUEError(err)
			}
			for list.Next() {
				val, err := scalar(list.Value(), where+".ignore_when."+field)
				if err != nil {
					return phase, err
				}
				phase.IgnoreWhen[field] = append(phase.IgnoreWhen[field], val)
			}
		}
	}

	if sets := v.LookupPath(cue.ParsePath("sets")); sets.Exists() {
		fields, err := sets.Fields()
		if err != nil {
			return phase, formatCUEError(err)
		}
		for fields.Next() {
			field := fields.Label()
			kind, ok := d.Fields[field]
			if !ok {
				return phase, &CompileError{Field: where + ".sets", Message: fmt.Sprintf("undeclared field %q", field), Pos: fields.Value().Pos()}
			}
			val, err := scalar(fields.Value(), where+".sets."+field)
			if err != nil {
				return phase, err
			}
			if !kind.Accepts(val) {
				return phase, &CompileError{
					Field:   where + ".sets." + field,
					Message: fmt.Sprintf("expected %s, got %s", kind, model.Kind(val)),
					Pos:     fields.Value().Pos(),
				}
			}
			phase.Sets[field] = val
		}
	}

	return phase, nil
}

// scalar converts a concrete CUE scalar to a field value.
func scalar(v cue.Value, where string) (model.Value, error) {
	switch v.Kind() {
	case cue.NullKind:
		return model.Null{}, nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return model.String(s), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return model.Int(n), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return model.Bool(b), nil
	}
	return nil, &CompileError{Field: where, Message: fmt.Sprintf("unsupported value kind %s", v.Kind()), Pos: v.Pos()}
}

func findCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
