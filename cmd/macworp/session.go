package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/macworp/macworp-client/pkg/client"
	"github.com/macworp/macworp-client/pkg/session"
)

type loginFlags struct {
	ProviderType string
	Provider     string
	LoginID      string
}

func newLoginCmd(a *app) *cobra.Command {
	flags := &loginFlags{}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with a credentials provider",
		Long: `Log in to the backend with login id and password and store the session.

Examples:
  # Interactive login (prompts for the password)
  macworp login --login-id alice

  # Scripted login, password on stdin
  echo "$PASSWORD" | macworp login --login-id alice --provider-type database --provider default`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogin(cmd, a, flags)
		},
	}

	cmd.Flags().StringVar(&flags.ProviderType, "provider-type", "database", "login provider type")
	cmd.Flags().StringVar(&flags.Provider, "provider", "default", "login provider name")
	cmd.Flags().StringVar(&flags.LoginID, "login-id", "", "login id")

	return cmd
}

func runLogin(cmd *cobra.Command, a *app, flags *loginFlags) error {
	reader := bufio.NewReader(a.in)

	loginID := flags.LoginID
	if loginID == "" {
		fmt.Fprint(a.errOut, "Login ID: ")
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("failed to read login id: %w", err)
		}
		loginID = strings.TrimSpace(line)
	}

	password, err := readPassword(a, reader)
	if err != nil {
		return err
	}

	if err := a.client.Login(cmd.Context(), flags.ProviderType, flags.Provider, loginID, password); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Logged in as %s\n", loginID)
	return nil
}

// readPassword prompts without echo on a terminal and reads a line
// otherwise.
func readPassword(a *app, reader *bufio.Reader) (string, error) {
	if f, ok := a.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(a.errOut, "Password: ")
		pw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(a.errOut)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(pw), nil
	}

	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.client.Logout(); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Logged out")
			return nil
		},
	}
}

type providerEntry struct {
	Type        string `yaml:"type"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

func newProvidersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List the login providers of the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			providers, err := a.client.LoginProviders(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get login providers: %w", err)
			}

			var entries []providerEntry
			for typ, named := range providers {
				for name, desc := range named {
					entries = append(entries, providerEntry{Type: typ, Name: name, Description: desc})
				}
			}
			sort.Slice(entries, func(i, j int) bool {
				if entries[i].Type != entries[j].Type {
					return entries[i].Type < entries[j].Type
				}
				return entries[i].Name < entries[j].Name
			})

			return a.print(entries, func(w io.Writer) {
				for _, e := range entries {
					fmt.Fprintf(w, "%-10s %-12s %s\n", e.Type, e.Name, e.Description)
				}
			})
		},
	}
}

type whoamiInfo struct {
	Server    string    `yaml:"server"`
	Session   string    `yaml:"session"`
	Subject   string    `yaml:"subject,omitempty"`
	ExpiresAt time.Time `yaml:"expires_at,omitempty"`
	Expired   bool      `yaml:"expired,omitempty"`
	File      string    `yaml:"session_file"`
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current session",
		Long: `Show the current session. The backend is asked whether the session is
still valid; a refreshed token is stored.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, ok := a.store.Get(); !ok {
				return errLoginRequired
			}

			outcome, err := a.client.ValidateLogin(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to check session: %w", err)
			}
			if !outcome.Authenticated() {
				return errLoginRequired
			}

			token, _ := a.store.Get()
			info := whoamiInfo{
				Server:  a.client.BaseURL(),
				Session: outcome.String(),
				File:    a.store.Path(),
			}
			if claims, err := session.ParseClaims(token); err == nil {
				info.Subject = claims.Subject
				info.ExpiresAt = claims.ExpiresAt
				// Informational only, the backend decided above.
				info.Expired = claims.IsExpired(0)
			}

			return a.print(info, func(w io.Writer) {
				fmt.Fprintf(w, "Server:  %s\n", info.Server)
				fmt.Fprintf(w, "Session: %s\n", info.Session)
				if info.Subject != "" {
					fmt.Fprintf(w, "User:    %s\n", info.Subject)
				}
				switch {
				case info.Expired:
					fmt.Fprintf(w, "Expired: %s\n", humanize.Time(info.ExpiresAt))
				case !info.ExpiresAt.IsZero():
					fmt.Fprintf(w, "Expires: %s\n", humanize.Time(info.ExpiresAt))
				}
			})
		},
	}
}

func newPingCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the backend is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start := time.Now()
			if err := a.client.Ping(cmd.Context()); err != nil {
				if ae, ok := client.AsAPIError(err); ok {
					return fmt.Errorf("backend answered: %s", ae.Title())
				}
				return fmt.Errorf("backend unreachable: %w", err)
			}
			fmt.Fprintf(a.out, "%s reachable (%s)\n", a.client.BaseURL(), time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}
