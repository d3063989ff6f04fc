package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/roach88/nodeledger/internal/ingest"
)

// IngestOptions holds flags for the ingest command.
type IngestOptions struct {
	*RootOptions
	Workers  int
	FailFast bool
	Metrics  bool
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Apply a stream of JSON events",
		Long: `Apply newline-delimited JSON events from a file, or from stdin when no
file is given or the file is "-".

Events for the same resource are applied in input order; different
resources are applied concurrently by up to --workers workers
(default: ingest.workers from the configuration).

Exit codes:
  0 - Every event was applied or ignored
  1 - One or more lines were rejected
  2 - Command error

Examples:
  nodeledger ingest events.jsonl
  tail -f adapter.log | nodeledger ingest --workers 16
  nodeledger ingest events.jsonl --fail-fast --metrics`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			return runIngest(opts, path, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "resources applied concurrently (0 = configured default)")
	cmd.Flags().BoolVar(&opts.FailFast, "fail-fast", false, "stop at the first rejected line")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "write engine metrics to stderr when done")

	return cmd
}

func runIngest(opts *IngestOptions, path string, cmd *cobra.Command) error {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open input", err)
		}
		defer f.Close()
		r = f
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = opts.Config.Ingest.Workers
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := opts.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close(opts.RootOptions)

	opts.Logger.Info("ingest starting", "input", path, "workers", workers)
	summary, runErr := ingest.Run(ctx, s.engine, r, ingest.Options{
		Workers:  workers,
		FailFast: opts.FailFast,
		Logger:   opts.Logger,
	})

	if opts.Metrics {
		if err := writeMetrics(cmd.ErrOrStderr(), s.metrics); err != nil {
			opts.Logger.Error("failed to write metrics", "error", err)
		}
	}

	out := opts.formatter(cmd.OutOrStdout())
	text := formatSummary(summary)

	var lineErr *ingest.LineError
	if runErr != nil && !errors.As(runErr, &lineErr) {
		_ = out.Fail(summary, text, ErrCodeGeneric, runErr.Error())
		return WrapExitError(ExitCommandError, "ingest failed", runErr)
	}
	if summary.Failed() {
		msg := fmt.Sprintf("%d line(s) rejected", len(summary.Errors))
		_ = out.Fail(summary, text, "E_INGEST_FAILED", msg)
		return NewExitError(ExitFailure, msg)
	}
	return out.Success(summary, text)
}

// writeMetrics dumps every collected family in the Prometheus text format.
func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

func formatSummary(s ingest.Summary) string {
	var b strings.Builder
	names := make([]string, 0, len(s.Outcomes))
	for name := range s.Outcomes {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(&b, "Ingest Summary: %d events, %d rejected, %d bumped\n", s.Events, len(s.Errors), s.Bumped)
	for _, name := range names {
		fmt.Fprintf(&b, "  %-20s %d\n", name, s.Outcomes[name])
	}
	for _, e := range s.Errors {
		fmt.Fprintf(&b, "  %s\n", e)
	}
	return b.String()
}
