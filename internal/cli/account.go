package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/treesync/internal/identity"
	"github.com/roach88/treesync/internal/store"
)

// AccountResult is the JSON shape of the account commands' output.
type AccountResult struct {
	Owner     string `json:"owner"`
	AccountID string `json:"accountId,omitempty"`
	Username  string `json:"username,omitempty"`
	GuestID   string `json:"guestId"`
}

// switchTo waits for the engine to load owner, then prints the result.
func switchTo(ctx context.Context, f *OutputFormatter, a *app, owner identity.Owner, s identity.Session, message string) error {
	wctx, cancel := context.WithTimeout(ctx, 2*a.timeout+time.Second)
	defer cancel()
	if _, err := a.waitOwner(wctx, owner); err != nil {
		return report(f, err)
	}
	res := AccountResult{
		Owner:     owner.String(),
		AccountID: s.AccountID,
		Username:  s.Username,
		GuestID:   a.ids.GuestID(),
	}
	return f.Render(res, func(w io.Writer) { fmt.Fprintln(w, message) })
}

func requirePassword(f *OutputFormatter, password string) error {
	if password == "" {
		return usage(f, errors.New("--password is required"))
	}
	return nil
}

func displayName(s identity.Session) string {
	if s.Username != "" {
		return s.Username
	}
	return "account " + s.AccountID
}

// NewLoginCommand creates the login command.
func NewLoginCommand(opts *RootOptions) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login USERNAME_OR_EMAIL",
		Short: "Sign in and carry this device's guest progress over",
		Long: `Sign in to an existing account. The device's guest id is linked to the
account; if the account has no progress yet it starts from the guest's.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			if err := requirePassword(f, password); err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return report(f, err)
			}
			defer a.Close()

			s, err := a.ids.LoginAndLink(cmd.Context(), a.auth, args[0], password)
			if err != nil {
				return report(f, err)
			}
			return switchTo(cmd.Context(), f, a, identity.Account(s.AccountID), s,
				fmt.Sprintf("Signed in as %s.", displayName(s)))
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "account password")
	return cmd
}

// NewRegisterCommand creates the register command.
func NewRegisterCommand(opts *RootOptions) *cobra.Command {
	var password string
	var verify bool
	cmd := &cobra.Command{
		Use:   "register USERNAME EMAIL",
		Short: "Create an account and sign in to it",
		Long: `Create an account, sign in and carry this device's guest progress over.

With --verify-email a confirmation code is sent to EMAIL instead; finish
with "treesync register verify".`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			if err := requirePassword(f, password); err != nil {
				return err
			}
			username, email := args[0], args[1]
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return report(f, err)
			}
			defer a.Close()

			if verify {
				if err := a.auth.RegisterInit(cmd.Context(), username, email, password); err != nil {
					return report(f, err)
				}
				return f.Render(map[string]string{"status": "CODE_SENT", "email": email}, func(w io.Writer) {
					fmt.Fprintf(w, "Confirmation code sent to %s.\n", email)
				})
			}

			s, err := a.ids.RegisterAndLink(cmd.Context(), a.auth, username, email, password)
			if err != nil {
				return report(f, err)
			}
			return switchTo(cmd.Context(), f, a, identity.Account(s.AccountID), s,
				fmt.Sprintf("Registered and signed in as %s.", displayName(s)))
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().BoolVar(&verify, "verify-email", false, "confirm the email address with a code before creating the account")
	cmd.AddCommand(newVerifyEmailCommand(opts))
	return cmd
}

func newVerifyEmailCommand(opts *RootOptions) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "verify EMAIL CODE",
		Short: "Finish a registration started with --verify-email",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			if username == "" {
				return usage(f, errors.New("--username is required"))
			}
			if err := requirePassword(f, password); err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return report(f, err)
			}
			defer a.Close()

			if err := a.auth.VerifyRegistration(cmd.Context(), args[0], args[1]); err != nil {
				return report(f, err)
			}
			s, err := a.ids.LoginAndLink(cmd.Context(), a.auth, username, password)
			if err != nil {
				return report(f, err)
			}
			return switchTo(cmd.Context(), f, a, identity.Account(s.AccountID), s,
				fmt.Sprintf("Email confirmed; signed in as %s.", displayName(s)))
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "username chosen at registration")
	cmd.Flags().StringVar(&password, "password", "", "password chosen at registration")
	return cmd
}

// NewResetPasswordCommand creates the reset-password command.
func NewResetPasswordCommand(opts *RootOptions) *cobra.Command {
	var code, newPassword, newUsername string
	cmd := &cobra.Command{
		Use:   "reset-password USERNAME_OR_EMAIL",
		Short: "Reset a forgotten password",
		Long: `Without --code, send a reset code to the account's email address.
With --code, confirm the reset (the argument must then be the email the code
was sent to), optionally changing the username, and sign in.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return report(f, err)
			}
			defer a.Close()

			if code == "" {
				email, err := a.auth.ResetInit(cmd.Context(), args[0])
				if err != nil {
					return report(f, err)
				}
				return f.Render(map[string]string{"status": "CODE_SENT", "email": email}, func(w io.Writer) {
					fmt.Fprintf(w, "Reset code sent to %s.\n", email)
				})
			}

			s, err := a.auth.ResetConfirm(cmd.Context(), args[0], code, newPassword, newUsername)
			if err != nil {
				return report(f, err)
			}
			if err := a.ids.Login(cmd.Context(), s); err != nil {
				return report(f, err)
			}
			return switchTo(cmd.Context(), f, a, identity.Account(s.AccountID), s,
				fmt.Sprintf("Account updated; signed in as %s.", displayName(s)))
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "reset code from the email")
	cmd.Flags().StringVar(&newPassword, "new-password", "", "new password (blank keeps the current one)")
	cmd.Flags().StringVar(&newUsername, "new-username", "", "new username (blank keeps the current one)")
	return cmd
}

// NewLogoutCommand creates the logout command.
func NewLogoutCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and return to this device's guest progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			a, err := openApp(cmd.Context(), opts)
			if err != nil {
				return report(f, err)
			}
			defer a.Close()

			a.ids.Logout(cmd.Context())
			guest := identity.Guest(a.ids.GuestID())
			return switchTo(cmd.Context(), f, a, guest, identity.Session{},
				fmt.Sprintf("Signed out; now playing as guest %s.", guest.ID))
		},
	}
}

// NewWhoamiCommand creates the whoami command.
func NewWhoamiCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the active owner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			st := openStore(opts.Config.DBPath)
			if st == nil {
				return report(f, store.ErrUnavailable)
			}
			defer st.Close()

			var idOpts []identity.Option
			idOpts = append(idOpts, identity.WithNow(opts.clock()))
			if opts.guestIDs != nil {
				idOpts = append(idOpts, identity.WithGuestIDGenerator(opts.guestIDs))
			}
			ids := identity.NewResolver(cmd.Context(), st, idOpts...)
			owner := ids.Current(cmd.Context())
			s, _ := ids.Session()

			res := AccountResult{
				Owner:     owner.String(),
				AccountID: s.AccountID,
				Username:  s.Username,
				GuestID:   ids.GuestID(),
			}
			return f.Render(res, func(w io.Writer) {
				if owner.IsAccount() {
					fmt.Fprintf(w, "Signed in as %s (guest %s on this device).\n", displayName(s), res.GuestID)
				} else {
					fmt.Fprintf(w, "Guest %s (not signed in).\n", res.GuestID)
				}
			})
		},
	}
}
