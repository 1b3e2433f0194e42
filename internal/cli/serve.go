package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/treesync/internal/devserver"
	"github.com/roach88/treesync/internal/store"
)

// EnvJWTSecret supplies the token signing secret when neither the flag nor
// the config file does.
const EnvJWTSecret = "TREESYNC_JWT_SECRET"

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr     string
	Database string
	Secret   string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a local progress and account server",
		Long: `Run the progress server the sync client talks to: per-owner progress
documents plus account registration, login, guest linking and password reset.

Accounts and progress are kept in a SQLite database. Confirmation codes are
written to the log instead of being emailed.

Example:
  treesync serve --addr :8080 --secret dev-secret`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&opts.Database, "server-db", "", "server database path (overrides config)")
	cmd.Flags().StringVar(&opts.Secret, "secret", "", "token signing secret (default $"+EnvJWTSecret+" or config)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	cfg := opts.Config.Server
	if opts.Addr != "" {
		cfg.Addr = opts.Addr
	}
	if opts.Database != "" {
		cfg.DBPath = opts.Database
	}
	secret := opts.Secret
	if secret == "" {
		secret = os.Getenv(EnvJWTSecret)
	}
	if secret == "" {
		secret = cfg.JWTSecret
	}
	if secret == "" {
		return usage(f, errors.New("a token signing secret is required: pass --secret, set "+EnvJWTSecret+" or server.jwt_secret"))
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return report(f, WrapExitError(ExitCommandError, "failed to create database directory", err))
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return report(f, WrapExitError(ExitCommandError, "failed to open database", err))
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	var srvOpts []devserver.Option
	if cfg.TokenTTL > 0 {
		srvOpts = append(srvOpts, devserver.WithTokenTTL(cfg.TokenTTL))
	}
	srv, err := devserver.New(st, secret, srvOpts...)
	if err != nil {
		return report(f, WrapExitError(ExitCommandError, "failed to create server", err))
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	f.VerboseLog("serving on %s (db %s)", cfg.Addr, cfg.DBPath)
	if err := srv.ListenAndServe(ctx, cfg.Addr); err != nil {
		return report(f, err)
	}
	return nil
}
