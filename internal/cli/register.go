package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/nodeledger/internal/model"
	"github.com/roach88/nodeledger/internal/store"
)

// RegisterOptions holds flags for the register command.
type RegisterOptions struct {
	*RootOptions
	Timestamp int64
	Fields    string
	Adapter   string
	WorkItem  int64
	Seed      bool
}

// NewRegisterCommand creates the register command.
func NewRegisterCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RegisterOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "register <Type/ID>",
		Short: "Create the active record for a new resource",
		Long: `Create the active record for a resource that is not yet tracked.

Events for a resource are rejected with UNKNOWN_RESOURCE until it is
registered. With --seed the registration is also recorded as the first
history entry, so events older than any later change have a baseline.

Examples:
  nodeledger register ComputeNode/R0-CH0-N1 --ts 1700000000000000 \
    --fields '{"State":"B","IpAddr":"10.0.0.5"}' --seed
  nodeledger register Accelerator/R0-CH0-N1/A0 --ts 1700000000000000 \
    --fields '{"State":"M","Slot":"2"}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegister(opts, args[0], cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.Timestamp, "ts", 0, "timestamp of the registered state, microseconds since the epoch (required)")
	_ = cmd.MarkFlagRequired("ts")
	cmd.Flags().StringVar(&opts.Fields, "fields", "{}", "field values as a flat JSON object")
	cmd.Flags().StringVar(&opts.Adapter, "adapter", "PROVISIONER", "adapter type recorded as the source")
	cmd.Flags().Int64Var(&opts.WorkItem, "work-item", model.NoWorkItem, "work item id recorded as the source")
	cmd.Flags().BoolVar(&opts.Seed, "seed", false, "also record the registration as a history entry")

	return cmd
}

func runRegister(opts *RegisterOptions, resource string, cmd *cobra.Command) error {
	out := opts.formatter(cmd.OutOrStdout())

	key, err := parseKey(resource)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid resource", err)
	}
	fields, err := parseFields("fields", opts.Fields)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid fields", err)
	}

	s, err := opts.openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.close(opts.RootOptions)

	rec := model.Record{
		Key:                key,
		Fields:             fields,
		LastChgTimestamp:   model.Micros(opts.Timestamp),
		DbUpdatedTimestamp: model.FromTime(time.Now()),
		LastChgAdapterType: opts.Adapter,
		LastChgWorkItemID:  opts.WorkItem,
	}
	if err := validateRecord(s.types, rec); err != nil {
		_ = out.Error(ErrCodeInvalid, err.Error(), nil)
		return WrapExitError(ExitFailure, "invalid registration", err)
	}

	if err := s.ledger.Register(cmd.Context(), rec, opts.Seed); err != nil {
		if errors.Is(err, store.ErrAlreadyRegistered) {
			_ = out.Error(ErrCodeExists, fmt.Sprintf("%s is already registered", key), nil)
			return WrapExitError(ExitFailure, "already registered", err)
		}
		return WrapExitError(ExitCommandError, "failed to register", err)
	}

	opts.Logger.Info("resource registered", "resource", key.String(), "timestamp", opts.Timestamp, "seed", opts.Seed)
	return out.Success(rec, fmt.Sprintf("Registered %s\n  %s\n", key, formatRecord(rec)))
}
