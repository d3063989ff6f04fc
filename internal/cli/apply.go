package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/nodeledger/internal/engine"
	"github.com/roach88/nodeledger/internal/model"
)

// ApplyOptions holds flags for the apply command.
type ApplyOptions struct {
	*RootOptions
	Timestamp int64
	Changes   string
	Expect    string
	Adapter   string
	WorkItem  int64
	Phase     string
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ApplyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "apply <Type/ID>",
		Short: "Apply one change event to a resource",
		Long: `Apply one change event to a registered resource.

A newer event replaces the active record. An older event is merged onto
the history entry before it and recorded in history only. An event whose
timestamp is taken is recorded at the next free microsecond.

Exit codes:
  0 - Event applied or ignored
  1 - Event rejected (validation failure, unknown resource or type)
  2 - Command error

Examples:
  nodeledger apply ComputeNode/R0-CH0-N1 --ts 1700000000000123 \
    --adapter ONLINE_TIER --work-item 7 --changes '{"State":"A"}'
  nodeledger apply ComputeNode/R0-CH0-N1 --ts 1700000000000456 \
    --adapter DHCP --phase ip_assigned \
    --changes '{"IpAddr":"10.0.0.5"}' --expect '{"IpAddr":"10.0.0.5"}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(opts, args[0], cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.Timestamp, "ts", 0, "event timestamp, microseconds since the epoch (required)")
	_ = cmd.MarkFlagRequired("ts")
	cmd.Flags().StringVar(&opts.Changes, "changes", "", "changed field values as a flat JSON object (required)")
	_ = cmd.MarkFlagRequired("changes")
	cmd.Flags().StringVar(&opts.Expect, "expect", "", "field values the active record must hold, as JSON")
	cmd.Flags().StringVar(&opts.Adapter, "adapter", "", "adapter type reporting the change (required)")
	_ = cmd.MarkFlagRequired("adapter")
	cmd.Flags().Int64Var(&opts.WorkItem, "work-item", model.NoWorkItem, "work item id of the change")
	cmd.Flags().StringVar(&opts.Phase, "phase", "", "lifecycle phase of the change")

	return cmd
}

func runApply(opts *ApplyOptions, resource string, cmd *cobra.Command) error {
	key, err := parseKey(resource)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid resource", err)
	}
	changes, err := parseFields("changes", opts.Changes)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid changes", err)
	}
	expect, err := parseFields("expect", opts.Expect)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid expect", err)
	}

	s, err := opts.openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.close(opts.RootOptions)

	res, err := s.engine.Invoke(cmd.Context(), model.Event{
		Key:         key,
		Changes:     changes,
		Expect:      expect,
		Timestamp:   model.Micros(opts.Timestamp),
		AdapterType: opts.Adapter,
		WorkItemID:  opts.WorkItem,
		Phase:       opts.Phase,
	})
	out := opts.formatter(cmd.OutOrStdout())
	if err != nil {
		return out.reportEngineError(err)
	}
	return out.Success(res, formatResult(key, res))
}

// formatResult renders an engine result for text output.
func formatResult(key model.Key, res engine.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", key, res.Outcome)
	if res.Outcome.Wrote() {
		fmt.Fprintf(&b, " at %d", res.Timestamp)
		if res.Bumped() {
			fmt.Fprintf(&b, " (requested %d)", res.Requested)
		}
	}
	fmt.Fprintf(&b, "\n  correlation_id: %s\n", res.CorrelationID)
	if res.Active != nil {
		fmt.Fprintf(&b, "  active: %s\n", formatRecord(*res.Active))
	} else if res.Entry != nil {
		fmt.Fprintf(&b, "  entry:  %s\n", formatRecord(*res.Entry))
	}
	return b.String()
}
