package cli

import (
	"fmt"

	"github.com/roach88/nodeledger/internal/model"
	"github.com/roach88/nodeledger/internal/resource"
)

// fieldChecker is implemented by types that declare a field schema.
type fieldChecker interface {
	CheckFields(model.Fields) error
}

// validateRecord checks a record about to be registered: the type must
// be known, the fields must fit its schema, and provenance must be set.
func validateRecord(types *resource.Registry, rec model.Record) error {
	if err := rec.Key.Validate(); err != nil {
		return err
	}
	typ, ok := types.Lookup(rec.Key.Type)
	if !ok {
		return fmt.Errorf("unknown resource type %q (known: %v)", rec.Key.Type, types.Names())
	}
	if rec.LastChgTimestamp <= 0 {
		return fmt.Errorf("timestamp must be positive, got %d", rec.LastChgTimestamp)
	}
	if rec.LastChgAdapterType == "" {
		return fmt.Errorf("adapter is required")
	}
	if checker, ok := typ.(fieldChecker); ok {
		if err := checker.CheckFields(rec.Fields); err != nil {
			return err
		}
	}
	return nil
}
