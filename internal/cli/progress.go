package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/treesync/internal/engine"
	"github.com/roach88/treesync/internal/progress"
)

// StatusView is the JSON shape of a progress snapshot.
type StatusView struct {
	Owner    string             `json:"owner"`
	State    string             `json:"state"`
	Progress *progress.Document `json:"progress"`
}

func statusView(s engine.Snapshot) StatusView {
	return StatusView{
		Owner:    s.Owner.String(),
		State:    s.State.String(),
		Progress: s.Doc,
	}
}

// renderStatus prints a snapshot for humans.
func renderStatus(w io.Writer, s engine.Snapshot) {
	fmt.Fprintf(w, "Owner: %s (%s)\n", s.Owner, s.State)
	if s.Doc == nil {
		fmt.Fprintln(w, "No progress loaded.")
		return
	}
	d := s.Doc
	last := d.LastOpenDate
	if last == "" {
		last = "never"
	}
	fmt.Fprintf(w, "Coins: %d  Gems: %d  Exp: %d/%d  Decay: %d  Tree stage: %d\n",
		d.Coins, d.Gems, d.Exp, d.ExpToLevel, d.Decay, d.TreeStage)
	fmt.Fprintf(w, "Last open: %s\n", last)

	fmt.Fprintf(w, "\nGood habits (%d of %d slots):\n", len(d.GoodHabits), d.MaxGoodHabits)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, h := range d.GoodHabits {
		fmt.Fprintf(tw, "  %s\t%s\t%s\texp %d\tgold %d\n",
			checkMark(progress.IsChecked(*d, progress.KindGood, h.ID)), h.ID, h.Name, h.ExpLevel, h.GoldLevel)
	}
	if len(d.GoodHabits) == 0 {
		fmt.Fprintln(tw, "  (none)")
	}
	tw.Flush()

	fmt.Fprintf(w, "\nBad habits (%d):\n", len(d.BadHabits))
	for _, h := range d.BadHabits {
		fmt.Fprintf(tw, "  %s\t%s\t%s\tdecay %d\texp loss %d\n",
			checkMark(progress.IsChecked(*d, progress.KindBad, h.ID)), h.ID, h.Name, h.DecayLevel, h.ExpLossLevel)
	}
	if len(d.BadHabits) == 0 {
		fmt.Fprintln(tw, "  (none)")
	}
	tw.Flush()
}

func checkMark(checked bool) string {
	if checked {
		return "[x]"
	}
	return "[ ]"
}

// NewStatusCommand creates the status command.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the active owner's progress",
		Long: `Load the active owner's progress, reconcile it with the server copy
and print it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return report(f, err)
			}
			defer a.Close()

			s := a.engine.Snapshot()
			return f.Render(statusView(s), func(w io.Writer) { renderStatus(w, s) })
		},
	}
}

// SyncResult is the JSON shape of the sync command's output.
type SyncResult struct {
	StatusView
	Remote string `json:"remote"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Reconcile local and server progress",
		Long: `Reconcile this device's progress with the server copy and push the
result. An unreachable server is not an error: progress stays on this
device and is pushed by the next successful sync.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return report(f, err)
			}
			defer a.Close()

			remoteStatus := "acked"
			var saveErr *engine.SaveError
			if err := a.engine.Save(cmd.Context()); err != nil {
				if !errors.As(err, &saveErr) {
					return report(f, err)
				}
				remoteStatus = saveErr.Remote.String()
				f.VerboseLog("sync incomplete: %v", err)
			}

			s := a.engine.Snapshot()
			res := SyncResult{StatusView: statusView(s), Remote: remoteStatus}
			return f.Render(res, func(w io.Writer) {
				if remoteStatus == "acked" {
					fmt.Fprintf(w, "Synced %s with the server.\n", s.Owner)
				} else {
					fmt.Fprintf(w, "Server %s; progress for %s kept on this device.\n", remoteStatus, s.Owner)
				}
			})
		},
	}
}

// NewSaveCommand creates the save command.
func NewSaveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "save",
		Short: "Write progress to this device and the server",
		Long: `Write the active owner's progress to local storage and the server,
failing if either could not be written.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return report(f, err)
			}
			defer a.Close()

			if err := a.engine.Save(cmd.Context()); err != nil {
				return report(f, err)
			}
			s := a.engine.Snapshot()
			return f.Render(statusView(s), func(w io.Writer) {
				fmt.Fprintf(w, "Saved progress for %s.\n", s.Owner)
			})
		},
	}
}

// NewResetCommand creates the reset command.
func NewResetCommand(opts *RootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Replace the active owner's progress with defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			if !yes {
				return usage(f, errors.New("reset erases all progress; pass --yes to confirm"))
			}
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return report(f, err)
			}
			defer a.Close()

			if err := a.engine.Reset(cmd.Context()); err != nil {
				return report(f, err)
			}
			s := a.engine.Snapshot()
			return f.Render(statusView(s), func(w io.Writer) {
				fmt.Fprintf(w, "Progress for %s reset to defaults.\n", s.Owner)
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}

// RolloverResult is the JSON shape of the rollover command's output.
type RolloverResult struct {
	Date   string `json:"date"`
	Rolled bool   `json:"rolled"`
}

// NewRolloverCommand creates the rollover command.
func NewRolloverCommand(opts *RootOptions) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "rollover",
		Short: "Start a new day, clearing today's checks",
		Long: `Start a new day. If progress was last opened on an earlier date, the
day's habit checks are cleared and the date advanced. Running it again on
the same day changes nothing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			if date == "" {
				date = progress.DateOf(opts.clock()())
			}
			if err := progress.ValidateDate(date); err != nil {
				return usage(f, err)
			}
			a, err := loadApp(cmd.Context(), opts)
			if err != nil {
				return report(f, err)
			}
			defer a.Close()

			rolled, err := a.engine.Rollover(cmd.Context(), date)
			if err != nil {
				return report(f, err)
			}
			return f.Render(RolloverResult{Date: date, Rolled: rolled}, func(w io.Writer) {
				if rolled {
					fmt.Fprintf(w, "New day %s: checks cleared.\n", date)
				} else {
					fmt.Fprintf(w, "Already on %s; nothing to do.\n", date)
				}
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day to roll over to, YYYY-MM-DD (default today)")
	return cmd
}
