package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/treesync/internal/config"
)

// ConfigView is the JSON shape of the effective configuration.
type ConfigView struct {
	Path           string `json:"path"`
	DBPath         string `json:"dbPath"`
	RemoteURL      string `json:"remoteUrl"`
	RemoteTimeout  string `json:"remoteTimeout"`
	ResyncInterval string `json:"resyncInterval"`
	ServerAddr     string `json:"serverAddr"`
	ServerDBPath   string `json:"serverDbPath"`
	TokenTTL       string `json:"tokenTtl"`
}

// NewConfigCommand creates the config command group.
func NewConfigCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create the configuration file",
	}
	cmd.AddCommand(newConfigShowCommand(opts))
	cmd.AddCommand(newConfigInitCommand(opts))
	return cmd
}

// redacted returns cfg with the signing secret masked.
func redacted(cfg config.Config) config.Config {
	if cfg.Server.JWTSecret != "" {
		cfg.Server.JWTSecret = "********"
	}
	return cfg
}

func newConfigShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			cfg := redacted(opts.Config)
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return report(f, err)
			}
			view := ConfigView{
				Path:           opts.ConfigPath,
				DBPath:         cfg.DBPath,
				RemoteURL:      cfg.RemoteURL,
				RemoteTimeout:  cfg.RemoteTimeout.String(),
				ResyncInterval: cfg.ResyncInterval.String(),
				ServerAddr:     cfg.Server.Addr,
				ServerDBPath:   cfg.Server.DBPath,
				TokenTTL:       cfg.Server.TokenTTL.String(),
			}
			return f.Render(view, func(w io.Writer) {
				fmt.Fprintf(w, "# %s\n", opts.ConfigPath)
				w.Write(data)
			})
		},
	}
}

func newConfigInitCommand(opts *RootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			path := opts.ConfigPath
			if _, err := os.Stat(path); err == nil && !force {
				return usage(f, fmt.Errorf("%s already exists; pass --force to overwrite", path))
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return report(f, err)
			}

			if err := config.Write(path, config.Default(filepath.Dir(path))); err != nil {
				return report(f, err)
			}
			return f.Render(map[string]string{"path": path}, func(w io.Writer) {
				fmt.Fprintf(w, "Wrote %s.\n", path)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
