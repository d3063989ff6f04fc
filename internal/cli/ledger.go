package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/nodeledger/internal/config"
	"github.com/roach88/nodeledger/internal/engine"
	"github.com/roach88/nodeledger/internal/model"
	"github.com/roach88/nodeledger/internal/resource"
	"github.com/roach88/nodeledger/internal/store"
	"github.com/roach88/nodeledger/internal/store/memstore"
	"github.com/roach88/nodeledger/internal/store/pgstore"
)

// OpenLedger opens the configured storage backend.
func OpenLedger(ctx context.Context, cfg config.Storage) (store.Ledger, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		st, err := store.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.DriverPostgres:
		st, err := pgstore.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.DriverMemory:
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// session is everything a ledger command needs: storage, resource types
// and an engine over them.
type session struct {
	ledger  store.Ledger
	types   *resource.Registry
	engine  *engine.Engine
	metrics *prometheus.Registry
}

func (o *RootOptions) openSession(ctx context.Context) (*session, error) {
	types, err := resource.DefaultRegistry(o.Config.Engine.TypesDir)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load resource types", err)
	}

	o.Logger.Debug("opening ledger", "driver", o.Config.Storage.Driver)
	ledger, err := OpenLedger(ctx, o.Config.Storage)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open ledger", err)
	}

	reg := prometheus.NewRegistry()
	eng := engine.New(ledger, types,
		engine.WithLogger(o.Logger),
		engine.WithMetrics(engine.NewMetrics(reg)),
		engine.WithDuplicateSuppression(o.Config.Engine.SuppressDuplicates),
	)
	return &session{ledger: ledger, types: types, engine: eng, metrics: reg}, nil
}

func (s *session) close(o *RootOptions) {
	if err := s.ledger.Close(); err != nil {
		o.Logger.Error("error closing ledger", "error", err)
	}
}

func (o *RootOptions) formatter(w io.Writer) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: w}
}

// parseKey splits "Type/ID" at the first slash; accelerator ids contain
// slashes of their own.
func parseKey(s string) (model.Key, error) {
	typ, id, ok := strings.Cut(s, "/")
	key := model.Key{Type: typ, ID: id}
	if !ok {
		return key, fmt.Errorf("resource %q: want Type/ID", s)
	}
	if err := key.Validate(); err != nil {
		return key, fmt.Errorf("resource %q: %w", s, err)
	}
	return key, nil
}

// parseFields decodes a flat JSON object flag value.
func parseFields(flag, value string) (model.Fields, error) {
	if value == "" {
		return nil, nil
	}
	var f model.Fields
	if err := json.Unmarshal([]byte(value), &f); err != nil {
		return nil, fmt.Errorf("invalid --%s JSON: %w", flag, err)
	}
	return f, nil
}

// formatRecord renders a record on one line for text output.
func formatRecord(r model.Record) string {
	fields, err := json.Marshal(r.Fields)
	if err != nil {
		fields = []byte(err.Error())
	}
	return fmt.Sprintf("ts=%d adapter=%s work_item=%s fields=%s",
		r.LastChgTimestamp, r.LastChgAdapterType, workItem(r.LastChgWorkItemID), fields)
}

func workItem(id int64) string {
	if id == model.NoWorkItem {
		return "none"
	}
	return strconv.FormatInt(id, 10)
}
