package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/nodeledger/internal/engine"
	"github.com/roach88/nodeledger/internal/model"
	"github.com/roach88/nodeledger/internal/procedure"
)

// ProcedureOptions holds the flags shared by the procedure subcommands.
type ProcedureOptions struct {
	*RootOptions
	Timestamp int64
	Adapter   string
	WorkItem  int64
}

// ProcedureResult is the output of a procedure call: the engine result
// plus the return code older adapters expect.
type ProcedureResult struct {
	engine.Result
	Code int64 `json:"code"`
}

// NewProcedureCommand creates the proc command and its subcommands.
func NewProcedureCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProcedureOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "proc",
		Short: "Call a typed adapter procedure",
		Long: `Call one of the typed procedures adapters use instead of generic
events. Each prints the outcome and its legacy return code
(0 in order, 1 history only, -1 ignored).`,
	}

	cmd.PersistentFlags().Int64Var(&opts.Timestamp, "ts", 0, "change timestamp, microseconds since the epoch (required)")
	cmd.PersistentFlags().StringVar(&opts.Adapter, "adapter", "", "adapter type reporting the change (required)")
	cmd.PersistentFlags().Int64Var(&opts.WorkItem, "work-item", model.NoWorkItem, "work item id of the change")
	_ = cmd.MarkPersistentFlagRequired("ts")
	_ = cmd.MarkPersistentFlagRequired("adapter")

	cmd.AddCommand(&cobra.Command{
		Use:           "save-ip-addr <lctn> <ip>",
		Short:         "Record a DHCP address assignment",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			key := model.Key{Type: procedure.ComputeNode, ID: args[0]}
			return runProcedure(opts, cmd, key, func(s *session, call procedure.Call) (engine.Result, error) {
				return procedure.SaveIPAddr(cmd.Context(), s.engine, args[0], args[1], call)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "save-boot-image <lctn> <boot-image-id>",
		Short:         "Record the boot image a node will use",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			key := model.Key{Type: procedure.ComputeNode, ID: args[0]}
			return runProcedure(opts, cmd, key, func(s *session, call procedure.Call) (engine.Result, error) {
				return procedure.SaveBootImageInfo(cmd.Context(), s.engine, args[0], args[1], call)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "set-accelerator <node-lctn> <lctn> <state> <bus-addr>",
		Short:         "Record an accelerator's state and bus address",
		Args:          cobra.ExactArgs(4),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			key := model.Key{Type: procedure.Accelerator, ID: model.CompositeID(args[0], args[1])}
			return runProcedure(opts, cmd, key, func(s *session, call procedure.Call) (engine.Result, error) {
				return procedure.SetAcceleratorStateBusAddr(cmd.Context(), s.engine, args[0], args[1], args[2], args[3], call)
			})
		},
	})

	return cmd
}

func runProcedure(opts *ProcedureOptions, cmd *cobra.Command, key model.Key, call func(*session, procedure.Call) (engine.Result, error)) error {
	s, err := opts.openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.close(opts.RootOptions)

	res, err := call(s, procedure.Call{
		Timestamp:   model.Micros(opts.Timestamp),
		AdapterType: opts.Adapter,
		WorkItemID:  opts.WorkItem,
	})
	out := opts.formatter(cmd.OutOrStdout())
	if err != nil {
		return out.reportEngineError(err)
	}

	code := procedure.LegacyCode(res.Outcome)
	text := fmt.Sprintf("code %d: %s", code, formatResult(key, res))
	return out.Success(ProcedureResult{Result: res, Code: code}, text)
}
