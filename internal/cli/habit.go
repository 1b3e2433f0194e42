package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/treesync/internal/progress"
)

// HabitResult is the JSON shape of a habit command's output.
type HabitResult struct {
	Kind  progress.Kind  `json:"kind"`
	ID    string         `json:"id"`
	Name  string         `json:"name,omitempty"`
	Level progress.Level `json:"level,omitempty"`
	Value int            `json:"value,omitempty"`
}

// NewHabitCommand creates the habit command group.
func NewHabitCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "habit",
		Short: "Add, change and check off habits",
		Long: `Manage the active owner's habits. KIND is "good" or "bad"; habits are
addressed by the id printed when they are added and shown by status.`,
	}
	cmd.AddCommand(newHabitAddCommand(opts))
	cmd.AddCommand(newHabitRenameCommand(opts))
	cmd.AddCommand(newHabitUpgradeCommand(opts))
	cmd.AddCommand(newHabitDeleteCommand(opts))
	cmd.AddCommand(newHabitCheckCommand(opts))
	return cmd
}

func parseKind(s string) (progress.Kind, error) {
	k := progress.Kind(strings.ToLower(s))
	if !k.Valid() {
		return "", fmt.Errorf("invalid habit kind %q: must be good or bad", s)
	}
	return k, nil
}

func newHabitAddCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add KIND NAME...",
		Short: "Add a habit",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			kind, err := parseKind(args[0])
			if err != nil {
				return usage(f, err)
			}
			name := strings.Join(args[1:], " ")

			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return report(f, err)
			}
			defer a.Close()

			id, err := a.engine.AddHabit(cmd.Context(), kind, name)
			if err != nil {
				return report(f, err)
			}
			return f.Render(HabitResult{Kind: kind, ID: id, Name: name}, func(w io.Writer) {
				fmt.Fprintf(w, "Added %s habit %q (%s).\n", kind, name, id)
			})
		},
	}
}

func newHabitRenameCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rename KIND ID NAME...",
		Short: "Rename a habit, keeping its id and today's check",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			kind, err := parseKind(args[0])
			if err != nil {
				return usage(f, err)
			}
			id, name := args[1], strings.Join(args[2:], " ")

			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return report(f, err)
			}
			defer a.Close()

			if err := a.engine.RenameHabit(cmd.Context(), kind, id, name); err != nil {
				return report(f, err)
			}
			return f.Render(HabitResult{Kind: kind, ID: id, Name: name}, func(w io.Writer) {
				fmt.Fprintf(w, "Renamed %s habit %s to %q.\n", kind, id, name)
			})
		},
	}
}

func newHabitUpgradeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade KIND ID LEVEL",
		Short: "Raise one of a habit's levels",
		Long: `Raise a habit level by one. Good habits have "exp" and "gold" levels,
bad habits "decay" and "expLoss".`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			kind, err := parseKind(args[0])
			if err != nil {
				return usage(f, err)
			}
			id, level := args[1], progress.Level(args[2])

			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return report(f, err)
			}
			defer a.Close()

			n, err := a.engine.UpgradeHabit(cmd.Context(), kind, id, level)
			if err != nil {
				return report(f, err)
			}
			return f.Render(HabitResult{Kind: kind, ID: id, Level: level, Value: n}, func(w io.Writer) {
				fmt.Fprintf(w, "Upgraded %s of %s habit %s to %d.\n", level, kind, id, n)
			})
		},
	}
}

func newHabitDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "delete KIND ID",
		Aliases: []string{"rm"},
		Short:   "Delete a habit",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			kind, err := parseKind(args[0])
			if err != nil {
				return usage(f, err)
			}
			id := args[1]

			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return report(f, err)
			}
			defer a.Close()

			if err := a.engine.DeleteHabit(cmd.Context(), kind, id); err != nil {
				return report(f, err)
			}
			return f.Render(HabitResult{Kind: kind, ID: id}, func(w io.Writer) {
				fmt.Fprintf(w, "Deleted %s habit %s.\n", kind, id)
			})
		},
	}
}

func newHabitCheckCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check KIND ID",
		Short: "Check off a habit for today",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			kind, err := parseKind(args[0])
			if err != nil {
				return usage(f, err)
			}
			id := args[1]

			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return report(f, err)
			}
			defer a.Close()

			if err := a.engine.CheckHabit(cmd.Context(), kind, id); err != nil {
				return report(f, err)
			}
			return f.Render(HabitResult{Kind: kind, ID: id}, func(w io.Writer) {
				fmt.Fprintf(w, "Checked %s habit %s for today.\n", kind, id)
			})
		},
	}
}
