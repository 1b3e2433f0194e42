package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/treesync/internal/config"
	"github.com/roach88/treesync/internal/engine"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	DBPath     string
	RemoteURL  string

	// Config is loaded before any subcommand runs, with flag overrides applied.
	Config config.Config

	// Test hooks. Nil selects the real clock and random ids.
	now      func() time.Time
	guestIDs func() string
	habitIDs engine.IDGenerator
	logOut   io.Writer
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the treesync CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "treesync",
		Short: "treesync - habit progress that follows you between devices",
		Long: `treesync keeps a habit tracker's progress in step between this device
and the progress server, for guests and signed-in accounts alike.

Every command loads the active owner's progress, reconciles the local and
server copies, applies the change and writes it back to both.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				err := fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
				opts.Format = "text"
				return usage(opts.formatter(cmd), err)
			}
			setupLogging(opts)
			if err := loadConfig(opts, cmd); err != nil {
				return report(opts.formatter(cmd), err)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default ~/.config/treesync/config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "local progress database (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.RemoteURL, "remote", "", "progress server URL (overrides config)")

	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewSaveCommand(opts))
	cmd.AddCommand(NewResetCommand(opts))
	cmd.AddCommand(NewRolloverCommand(opts))
	cmd.AddCommand(NewHabitCommand(opts))
	cmd.AddCommand(NewOwnersCommand(opts))
	cmd.AddCommand(NewLoginCommand(opts))
	cmd.AddCommand(NewRegisterCommand(opts))
	cmd.AddCommand(NewResetPasswordCommand(opts))
	cmd.AddCommand(NewLogoutCommand(opts))
	cmd.AddCommand(NewWhoamiCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// setupLogging sends slog output to stderr, at debug level with --verbose.
func setupLogging(opts *RootOptions) {
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	w := opts.logOut
	if w == nil {
		w = os.Stderr
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

func loadConfig(opts *RootOptions, cmd *cobra.Command) error {
	path := opts.ConfigPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return WrapExitError(ExitCommandError, "locate config", err)
		}
		path = p
		opts.ConfigPath = p
	}

	cfg, err := config.Load(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "load config", err)
	}
	if opts.DBPath != "" {
		cfg.DBPath = opts.DBPath
	}
	if opts.RemoteURL != "" {
		cfg.RemoteURL = opts.RemoteURL
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid settings", err)
	}
	opts.Config = cfg
	slog.Debug("config loaded", "path", path, "db", cfg.DBPath, "remote", cfg.RemoteURL)
	return nil
}

func (o *RootOptions) clock() func() time.Time {
	if o.now != nil {
		return o.now
	}
	return time.Now
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   o.Verbose,
	}
}
