package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/treesync/internal/identity"
	"github.com/roach88/treesync/internal/store"
)

// OwnerEntry is one row of the owners command's output.
type OwnerEntry struct {
	OwnerID   string `json:"ownerId"`
	UpdatedAt int64  `json:"updatedAt"`
	Active    bool   `json:"active"`
}

// NewOwnersCommand creates the owners command.
func NewOwnersCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "owners",
		Short: "List owners with progress stored on this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			st := openStore(opts.Config.DBPath)
			if st == nil {
				return report(f, store.ErrUnavailable)
			}
			defer st.Close()

			active := identity.NewResolver(cmd.Context(), st, identity.WithNow(opts.clock())).Current(cmd.Context())
			summaries, err := store.NewProgress(st).Owners(cmd.Context())
			if err != nil {
				return report(f, err)
			}

			entries := make([]OwnerEntry, 0, len(summaries))
			for _, s := range summaries {
				entries = append(entries, OwnerEntry{
					OwnerID:   s.OwnerID,
					UpdatedAt: s.UpdatedAt,
					Active:    s.OwnerID == active.ID,
				})
			}
			return f.Render(entries, func(w io.Writer) {
				if len(entries) == 0 {
					fmt.Fprintln(w, "No progress stored on this device.")
					return
				}
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "\tOWNER\tUPDATED")
				for _, e := range entries {
					mark := ""
					if e.Active {
						mark = "*"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\n", mark, e.OwnerID, formatStamp(e.UpdatedAt))
				}
				tw.Flush()
			})
		},
	}
}

func formatStamp(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
