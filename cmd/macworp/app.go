package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/macworp/macworp-client/internal/config"
	"github.com/macworp/macworp-client/internal/guard"
	"github.com/macworp/macworp-client/internal/logging"
	"github.com/macworp/macworp-client/pkg/client"
	"github.com/macworp/macworp-client/pkg/errlog"
	"github.com/macworp/macworp-client/pkg/retrieval"
	"github.com/macworp/macworp-client/pkg/session"
)

// errLoginRequired is returned when a command needs a session and the
// guard sent the user to the login.
var errLoginRequired = errors.New("not logged in, run 'macworp login' first")

// app carries the process wide dependencies of every command.
type app struct {
	in          io.Reader
	out         io.Writer
	errOut      io.Writer
	fs          afero.Fs
	interactive bool

	// Flags
	output   string
	logLevel string
	envFiles []string

	cfg       *config.Config
	store     *session.Store
	client    *client.Client
	errs      *errlog.Log
	guard     *guard.Guard
	retriever *retrieval.Retriever
}

// setup loads configuration and wires the dependencies. It runs before
// every command.
func (a *app) setup() error {
	cfg, err := config.Load(a.envFiles...)
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	a.cfg = cfg

	level := cfg.LogLevel
	if a.logLevel != "" {
		level = a.logLevel
	}
	if err := logging.Init(logging.Config{Level: level, Format: cfg.LogFormat}); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	switch a.output {
	case "text", "yaml":
	default:
		return fmt.Errorf("unknown output format %q, want text or yaml", a.output)
	}

	a.store = session.NewStore(a.fs, cfg.SessionFile, cfg.BackendURL)
	if err := a.store.Load(); err != nil {
		logging.Warn("ignoring unreadable session", zap.Error(err))
	}

	a.client = client.New(client.Config{
		BaseURL:            cfg.BackendURL,
		Timeout:            cfg.RequestTimeout(),
		InsecureSkipVerify: cfg.SkipCertVerification,
	}, a.store)
	a.errs = errlog.New()
	a.guard = guard.New(a.client, a.store, a.interactive)
	a.retriever = retrieval.New(a.client, cfg.RenderMaxFileSize, a.errs)

	logging.Debug("configuration loaded",
		zap.String("backend", cfg.BackendURL),
		zap.String("session_file", a.store.Path()),
		zap.Bool("interactive", a.interactive))
	return nil
}

// requireSession runs the route guard for a command that needs a session.
func (a *app) requireSession(ctx context.Context, route string) error {
	if a.guard.Check(ctx, route) == guard.RedirectLogin {
		return errLoginRequired
	}
	if _, ok := a.store.Get(); !ok {
		return errLoginRequired
	}
	return nil
}

// print writes v as YAML, or calls text for the text format.
func (a *app) print(v interface{}, text func(w io.Writer)) error {
	if a.output == "yaml" {
		enc := yaml.NewEncoder(a.out)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	}
	text(a.out)
	return nil
}

// flushErrors prints the errors surfaced while the command ran.
func (a *app) flushErrors() {
	if a.errs == nil {
		return
	}
	for _, e := range a.errs.List() {
		fmt.Fprintf(a.errOut, "%s (%s)\n", e.Title, e.Date.Local().Format("2006-01-02 15:04:05"))
		if e.Description != "" {
			fmt.Fprintf(a.errOut, "  %s\n", e.Description)
		}
	}
}

func projectArg(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid project id %q", s)
	}
	return id, nil
}

func newRootCmd(a *app) *cobra.Command {
	cobra.EnableCommandSorting = false
	root := &cobra.Command{
		Use:   "macworp",
		Short: "Command line client for the MAcWorP workflow platform",
		Long: `macworp logs in to a MAcWorP backend, browses project work directories and
retrieves result files. Configuration is read from MACWORP_* environment
variables and an optional .env file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
	}
	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	root.PersistentFlags().StringVar(&a.output, "output", "text", "output format: text or yaml")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level, overrides MACWORP_LOG_LEVEL")
	root.PersistentFlags().StringSliceVar(&a.envFiles, "env-file", []string{".env"}, "dotenv files to load")

	root.AddCommand(newLoginCmd(a))
	root.AddCommand(newLogoutCmd(a))
	root.AddCommand(newProvidersCmd(a))
	root.AddCommand(newWhoamiCmd(a))
	root.AddCommand(newLsCmd(a))
	root.AddCommand(newCatCmd(a))
	root.AddCommand(newURLCmd(a))
	root.AddCommand(newDownloadCmd(a))
	root.AddCommand(newWatchCmd(a))
	root.AddCommand(newServeCmd(a))
	root.AddCommand(newPingCmd(a))
	return root
}
