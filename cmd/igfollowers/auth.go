package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"igfollowers/pkg/auth"
	"igfollowers/pkg/instagram"
	"igfollowers/pkg/logger"
	"igfollowers/pkg/ui"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newAuthCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage login accounts and their sessions",
		Long: `Manage the accounts the scraper logs in with.

Passwords are kept in the system keyring when one is available, otherwise
in an encrypted file in the config directory.`,
	}
	cmd.AddCommand(
		newLoginCmd(root),
		newLogoutCmd(root),
		newAuthListCmd(root),
		newSessionsCmd(root),
		newResetCmd(root),
	)
	return cmd
}

func newLoginCmd(root *rootOptions) *cobra.Command {
	var verify bool

	cmd := &cobra.Command{
		Use:   "login [username]",
		Short: "Store a login account",
		Long: `Store the username and password of a login account. With --verify the
account logs in first, resolving a login challenge if one is raised, and
its session is cached for the next scrape.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := root.printer(cmd)
			in := bufio.NewReader(cmd.InOrStdin())

			username := ""
			if len(args) == 1 {
				username = args[0]
			} else {
				fmt.Fprint(cmd.OutOrStdout(), "Username: ")
				line, err := in.ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return err
				}
				username = line
			}
			username = instagram.SanitizeUsername(username)
			if !instagram.IsValidUsername(username) {
				return fmt.Errorf("invalid username: %q", username)
			}

			fmt.Fprint(cmd.OutOrStdout(), "Password: ")
			password, err := readPassword(cmd, in)
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			if password == "" {
				return errors.New("password is required")
			}

			creds, err := auth.NewManager("")
			if err != nil {
				return err
			}

			account := &auth.Account{Username: username, Password: password, LastModified: time.Now()}
			if verify {
				cfg, err := root.load(nil)
				if err != nil {
					return err
				}
				app, err := newApp(cmd.Context(), cfg, logger.GetLogger(), appDeps{credentials: creds, offline: true})
				if err != nil {
					return err
				}
				defer app.Close()

				proxy, _ := app.Proxies.Next()
				if _, err := app.Sessions.CreateSession(cmd.Context(), username, password, proxy); err != nil {
					return err
				}
				account.Proxy = proxy
				account.LastLogin = time.Now()
				p.Success("Logged in as " + username)
			}

			if err := creds.Store(account); err != nil {
				return fmt.Errorf("failed to store account: %w", err)
			}
			p.Success("Stored account " + username)
			return nil
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "log in before storing the account")
	return cmd
}

// readPassword reads without echo from a terminal, otherwise one line
func readPassword(cmd *cobra.Command, in *bufio.Reader) (string, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.OutOrStdout())
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return strings.TrimRight(line, "\r\n"), nil
}

func newLogoutCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout <username>",
		Short: "Remove a login account and its cached session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username := instagram.SanitizeUsername(args[0])
			cfg, err := root.load(nil)
			if err != nil {
				return err
			}
			creds, err := auth.NewManager("")
			if err != nil {
				return err
			}
			if err := creds.Delete(username); err != nil {
				return fmt.Errorf("failed to remove account: %w", err)
			}

			app, err := newApp(cmd.Context(), cfg, logger.GetLogger(), appDeps{credentials: creds, offline: true})
			if err != nil {
				return err
			}
			defer app.Close()
			if err := app.Sessions.Remove(cmd.Context(), username); err != nil {
				return fmt.Errorf("failed to remove session: %w", err)
			}

			root.printer(cmd).Success("Removed " + username)
			return nil
		},
	}
}

func newAuthListCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored login accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := auth.NewManager("")
			if err != nil {
				return err
			}
			accounts, err := creds.List()
			if err != nil {
				return err
			}
			root.printer(cmd).Accounts(accounts)
			return nil
		},
	}
}

func newSessionsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "Check the cached sessions",
		Long: `Restore every cached session, checking that each is still logged in, and
print its challenge and request counters.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessions(cmd, root, func(app *App, p *ui.Printer) error {
				p.Sessions(app.Sessions.List(), app.Sessions.Stats(cmd.Context()))
				return nil
			})
		},
	}
}

func newResetCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <username>",
		Short: "Clear the challenge count of a cached session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username := instagram.SanitizeUsername(args[0])
			return withSessions(cmd, root, func(app *App, p *ui.Printer) error {
				if _, ok := app.Sessions.Get(username); !ok {
					return fmt.Errorf("no cached session for %s", username)
				}
				app.Sessions.ClearChallenges(username)
				if err := app.Sessions.Persist(cmd.Context(), username); err != nil {
					return err
				}
				p.Success("Cleared challenges for " + username)
				return nil
			})
		},
	}
}

func withSessions(cmd *cobra.Command, root *rootOptions, fn func(app *App, p *ui.Printer) error) error {
	cfg, err := root.load(nil)
	if err != nil {
		return err
	}
	app, err := newApp(cmd.Context(), cfg, logger.GetLogger(), appDeps{})
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app, root.printer(cmd))
}
