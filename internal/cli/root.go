package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/roach88/nodeledger/internal/config"
)

// RootOptions holds global flags for all commands, plus the configuration
// they resolve to.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigFile string
	Driver     string
	DB         string // sqlite path or postgres DSN, depending on the driver; rejected for memory

	viper  *viper.Viper
	Config config.Config
	Logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the nodeledger CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{viper: config.New()})
}

func newRootCommand(opts *RootOptions) *cobra.Command {

	cmd := &cobra.Command{
		Use:   "nodeledger",
		Short: "nodeledger - temporal state ledger for cluster resources",
		Long: `Track the state of cluster resources as an active record plus a
timestamped history, applying change events that may arrive late,
out of order, or with colliding timestamps.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return opts.load(cmd)
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "config file (default ./nodeledger.yaml or ~/.config/nodeledger/nodeledger.yaml)")
	cmd.PersistentFlags().StringVar(&opts.Driver, "driver", "", "storage driver (sqlite|postgres|memory)")
	cmd.PersistentFlags().StringVar(&opts.DB, "db", "", "sqlite database path or postgres DSN (not valid with the memory driver)")

	cmd.AddCommand(NewRegisterCommand(opts))
	cmd.AddCommand(NewApplyCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewIngestCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewTypesCommand(opts))
	cmd.AddCommand(NewProcedureCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// load resolves the configuration and installs the process logger.
// Flags override the config file and the environment.
func (o *RootOptions) load(cmd *cobra.Command) error {
	if f := cmd.Flags().Lookup("driver"); f != nil {
		if err := o.viper.BindPFlag("storage.driver", f); err != nil {
			return WrapExitError(ExitCommandError, "failed to bind --driver", err)
		}
	}

	if err := config.Read(o.viper, o.ConfigFile); err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if err := config.BindLocation(o.viper, o.DB); err != nil {
		return WrapExitError(ExitCommandError, "invalid --db", err)
	}
	cfg, err := config.Decode(o.viper)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	o.Config = cfg

	level := cfg.SlogLevel()
	if o.Verbose {
		level = slog.LevelDebug
	}
	o.Logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(o.Logger)
	return nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
