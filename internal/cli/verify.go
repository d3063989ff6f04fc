package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/nodeledger/internal/engine"
	"github.com/roach88/nodeledger/internal/model"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Type string // restricts the all-resources check to one type
}

// VerifyResult holds the verify output.
type VerifyResult struct {
	Reports []engine.Report `json:"reports"`
	Checked int             `json:"checked"`
	Failed  int             `json:"failed"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify [Type/ID...]",
		Short: "Check the ledger's invariants",
		Long: `Check the persisted state of resources: history timestamps strictly
increase, no history entry is newer than the active record, and the
active record matches the history entry at its timestamp.

Without arguments every registered resource is checked.

Exit codes:
  0 - No violations
  1 - One or more resources have violations
  2 - Command error

Examples:
  nodeledger verify
  nodeledger verify --type Accelerator
  nodeledger verify ComputeNode/R0-CH0-N1 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Type, "type", "", "only check resources of this type")

	return cmd
}

func runVerify(opts *VerifyOptions, args []string, cmd *cobra.Command) error {
	keys := make([]model.Key, 0, len(args))
	for _, a := range args {
		key, err := parseKey(a)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid resource", err)
		}
		keys = append(keys, key)
	}

	s, err := opts.openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.close(opts.RootOptions)

	if len(keys) == 0 {
		records, err := s.ledger.ListActive(cmd.Context(), opts.Type)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list resources", err)
		}
		for _, r := range records {
			keys = append(keys, r.Key)
		}
	}

	out := opts.formatter(cmd.OutOrStdout())
	result := VerifyResult{Reports: make([]engine.Report, 0, len(keys))}
	for _, key := range keys {
		report, err := engine.Verify(cmd.Context(), s.ledger, key)
		if engine.IsUnknownResource(err) {
			report.Violations = append(report.Violations, "not registered")
		} else if err != nil {
			return WrapExitError(ExitCommandError, "failed to verify "+key.String(), err)
		}
		result.Reports = append(result.Reports, report)
		result.Checked++
		if !report.OK() {
			result.Failed++
		}
	}

	var b strings.Builder
	for _, r := range result.Reports {
		if r.OK() {
			fmt.Fprintf(&b, "ok   %s (%d history entries)\n", r.Key, r.HistoryEntries)
			continue
		}
		fmt.Fprintf(&b, "FAIL %s\n", r.Key)
		for _, v := range r.Violations {
			fmt.Fprintf(&b, "  %s\n", v)
		}
	}
	fmt.Fprintf(&b, "\nVerify Summary: %d checked, %d failed\n", result.Checked, result.Failed)

	if result.Failed > 0 {
		msg := fmt.Sprintf("%d resource(s) failed verification", result.Failed)
		_ = out.Fail(result, b.String(), "E_VERIFY_FAILED", msg)
		return NewExitError(ExitFailure, msg)
	}
	return out.Success(result, b.String())
}
