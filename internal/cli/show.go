package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/nodeledger/internal/model"
	"github.com/roach88/nodeledger/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	At int64 // 0 means the full history
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [Type/ID]",
		Short: "Show active records",
		Long: `Show the active record of one resource, or of every resource when no
resource is named.

Examples:
  nodeledger show ComputeNode/R0-CH0-N1
  nodeledger show --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runShowAll(rootOpts, cmd)
			}
			return runShow(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runShow(opts *RootOptions, resource string, cmd *cobra.Command) error {
	key, err := parseKey(resource)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid resource", err)
	}

	s, err := opts.openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.close(opts)

	out := opts.formatter(cmd.OutOrStdout())
	active, err := s.ledger.Active(cmd.Context(), key)
	if errors.Is(err, store.ErrNotFound) {
		_ = out.Error(ErrCodeNotFound, fmt.Sprintf("%s is not registered", key), nil)
		return WrapExitError(ExitFailure, "not found", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read active record", err)
	}
	return out.Success(active, fmt.Sprintf("%s\n  %s\n", key, formatRecord(active)))
}

func runShowAll(opts *RootOptions, cmd *cobra.Command) error {
	s, err := opts.openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.close(opts)

	records, err := s.ledger.ListActive(cmd.Context(), "")
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list active records", err)
	}

	var b strings.Builder
	for _, r := range records {
		fmt.Fprintf(&b, "%s\n  %s\n", r.Key, formatRecord(r))
	}
	fmt.Fprintf(&b, "%d resource(s)\n", len(records))
	if records == nil {
		records = []model.Record{}
	}
	return opts.formatter(cmd.OutOrStdout()).Success(records, b.String())
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history <Type/ID>",
		Short: "Show the history of a resource",
		Long: `Show the timestamped history of a resource, oldest first.

With --at, show only the state in effect at that time: the newest entry
at or before it.

Examples:
  nodeledger history ComputeNode/R0-CH0-N1
  nodeledger history ComputeNode/R0-CH0-N1 --at 1700000000000200`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, args[0], cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.At, "at", 0, "show the entry in effect at this timestamp")

	return cmd
}

func runHistory(opts *HistoryOptions, resource string, cmd *cobra.Command) error {
	key, err := parseKey(resource)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid resource", err)
	}

	s, err := opts.openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.close(opts.RootOptions)

	out := opts.formatter(cmd.OutOrStdout())

	if opts.At != 0 {
		entry, err := s.ledger.HistoryAsOf(cmd.Context(), key, model.Micros(opts.At))
		if errors.Is(err, store.ErrNotFound) {
			_ = out.Error(ErrCodeNotFound, fmt.Sprintf("%s has no history at or before %d", key, opts.At), nil)
			return WrapExitError(ExitFailure, "not found", err)
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read history", err)
		}
		return out.Success(entry, fmt.Sprintf("%s as of %d\n  %s\n", key, opts.At, formatRecord(entry)))
	}

	history, err := s.ledger.History(cmd.Context(), key)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read history", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", key)
	for _, r := range history {
		fmt.Fprintf(&b, "  %s\n", formatRecord(r))
	}
	fmt.Fprintf(&b, "%d entr%s\n", len(history), plural(len(history), "y", "ies"))
	if history == nil {
		history = []model.Record{}
	}
	return out.Success(history, b.String())
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
