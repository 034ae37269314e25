package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/convlog/internal/config"
	"github.com/roach88/convlog/internal/history"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	// Config is loaded before any subcommand runs. Default() when no
	// --config is given.
	Config config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the convlog CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{Config: config.Default()}

	cmd := &cobra.Command{
		Use:   "convlog",
		Short: "convlog - conversation history reconciliation",
		Long: `Reconcile conversation records that arrive out of order, duplicated or
with missing ancestors into one linear, render-ready history.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if opts.ConfigPath != "" {
				cfg, err := config.Load(opts.ConfigPath)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to load config", err)
				}
				opts.Config = cfg
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "configuration file (.yaml or .cue)")

	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))

	return cmd
}

// logger builds the diagnostic logger. Logs always go to w (stderr) so
// they never corrupt JSON output.
func (o *RootOptions) logger(w io.Writer) *slog.Logger {
	return config.NewLogger(o.Config.Log, w, o.Verbose)
}

// conversationOptions maps configuration onto conversation options.
func (o *RootOptions) conversationOptions() []history.Option {
	opts := []history.Option{
		history.WithSubscriberBuffer(o.Config.SubscriberBuffer),
		history.WithMaxAncestorWalk(o.Config.MaxAncestorWalk),
	}
	if o.Config.Self != "" {
		opts = append(opts, history.WithSelf(o.Config.Self))
	}
	return opts
}
