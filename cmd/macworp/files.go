package main

import (
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/cheggaaa/pb/v3"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/macworp/macworp-client/internal/logging"
	"github.com/macworp/macworp-client/pkg/browser"
	"github.com/macworp/macworp-client/pkg/client"
	"github.com/macworp/macworp-client/pkg/protocol"
	"github.com/macworp/macworp-client/pkg/retrieval"
	"go.uber.org/zap"
)

func newLsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ls PROJECT [DIR]",
		Short: "List a directory of a project",
		Long: `List the folders and files of a project work directory. A directory that
no longer exists is replaced by its nearest existing parent.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := projectArg(args[0])
			if err != nil {
				return err
			}
			if err := a.requireSession(cmd.Context(), "/projects/"+args[0]+"/files"); err != nil {
				return err
			}

			nav := browser.NewNavigator(a.client, projectID, a.errs)
			if len(args) == 2 {
				nav.MoveTo(args[1])
			}
			if err := nav.Refresh(cmd.Context()); err != nil {
				return loginHint(err)
			}

			folders, files := nav.Listing()
			listing := protocol.DirectoryListing{Path: nav.Dir(), Folders: folders, Files: files}
			return a.print(listing, func(w io.Writer) {
				fmt.Fprintf(w, "%s:\n", listing.Path)
				for _, f := range listing.Folders {
					fmt.Fprintf(w, "  %s/\n", f)
				}
				for _, f := range listing.Files {
					fmt.Fprintf(w, "  %s\n", f)
				}
			})
		},
	}
}

type renderFlags struct {
	Metadata bool
	Table    bool
}

func newCatCmd(a *app) *cobra.Command {
	flags := &renderFlags{}

	cmd := &cobra.Command{
		Use:   "cat PROJECT PATH",
		Short: "Print a result file",
		Long: `Print a result file for display. Files at or above the render size limit
(MACWORP_RENDER_MAX_FILE_SIZE) are refused; use download for those.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := projectArg(args[0])
			if err != nil {
				return err
			}
			if err := a.requireSession(cmd.Context(), "/projects/"+args[0]+"/render"); err != nil {
				return err
			}

			tr := retrieval.NewTracker()
			res, err := a.retriever.RetrieveForRender(cmd.Context(), tr, projectID, args[1], retrieval.Options{
				WithMetadata: flags.Metadata,
				Table:        flags.Table,
			})
			if err != nil {
				return retrievalError(tr, err)
			}
			defer res.Body.Close()

			if flags.Metadata {
				fmt.Fprintf(a.errOut, "# %s\n", res.Header)
				if res.Description != "" {
					fmt.Fprintf(a.errOut, "# %s\n", res.Description)
				}
			}
			_, err = io.Copy(a.out, res.Body)
			return err
		},
	}

	cmd.Flags().BoolVar(&flags.Metadata, "metadata", false, "show the result header and description")
	cmd.Flags().BoolVar(&flags.Table, "table", false, "ask for tabular files as JSON")
	return cmd
}

type urlInfo struct {
	URL         string `yaml:"url"`
	Header      string `yaml:"header"`
	Description string `yaml:"description"`
}

func newURLCmd(a *app) *cobra.Command {
	flags := &renderFlags{}

	cmd := &cobra.Command{
		Use:   "url PROJECT PATH",
		Short: "Print a single-use display URL of a result file",
		Long: `Print an authenticated URL for displaying a result file. The URL carries a
one-time token and can be opened exactly once.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := projectArg(args[0])
			if err != nil {
				return err
			}
			if err := a.requireSession(cmd.Context(), "/projects/"+args[0]+"/url"); err != nil {
				return err
			}

			tr := retrieval.NewTracker()
			res, err := a.retriever.ResolveURLForRender(cmd.Context(), tr, projectID, args[1], retrieval.Options{
				WithMetadata: flags.Metadata,
				Table:        flags.Table,
			})
			if err != nil {
				return retrievalError(tr, err)
			}

			info := urlInfo{URL: res.URL, Header: res.Header, Description: res.Description}
			return a.print(info, func(w io.Writer) {
				fmt.Fprintln(w, info.URL)
			})
		},
	}

	cmd.Flags().BoolVar(&flags.Metadata, "metadata", false, "resolve the result header and description")
	cmd.Flags().BoolVar(&flags.Table, "table", false, "ask for tabular files as JSON")
	return cmd
}

type downloadFlags struct {
	File     string
	Progress bool
}

func newDownloadCmd(a *app) *cobra.Command {
	flags := &downloadFlags{}

	cmd := &cobra.Command{
		Use:   "download PROJECT PATH",
		Short: "Download a result file",
		Long: `Download a result file as attachment. There is no size limit.

Examples:
  macworp download 12 /results/multiqc_report.html
  macworp download 12 /results/aligned.bam -f sample1.bam`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := projectArg(args[0])
			if err != nil {
				return err
			}
			if err := a.requireSession(cmd.Context(), "/projects/"+args[0]+"/download"); err != nil {
				return err
			}

			dest := flags.File
			if dest == "" {
				dest = path.Base(browser.Normalize(args[1]))
			}

			tr := retrieval.NewTracker()
			res, err := a.retriever.Download(cmd.Context(), tr, projectID, args[1])
			if err != nil {
				return retrievalError(tr, err)
			}
			defer res.Body.Close()

			f, err := a.fs.Create(dest)
			if err != nil {
				return fmt.Errorf("create %s: %w", dest, err)
			}

			var body io.Reader = res.Body
			var bar *pb.ProgressBar
			if flags.Progress && res.Size > 0 {
				bar = pb.New64(res.Size)
				bar.Set(pb.Bytes, true)
				bar.SetWriter(a.errOut)
				bar.Start()
				body = bar.NewProxyReader(res.Body)
			}

			n, err := io.Copy(f, body)
			if bar != nil {
				bar.Finish()
			}
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				// Never leave a partial result behind.
				if rerr := a.fs.Remove(dest); rerr != nil {
					logging.Warn("failed to remove partial download", zap.String("file", dest), zap.Error(rerr))
				}
				return fmt.Errorf("write %s: %w", dest, err)
			}

			logging.Debug("download finished", zap.String("path", args[1]), zap.Int64("bytes", n))
			fmt.Fprintf(a.out, "Saved %s (%s)\n", dest, humanize.Bytes(uint64(n)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&flags.File, "file", "f", "", "destination file, defaults to the file name")
	cmd.Flags().BoolVar(&flags.Progress, "progress", true, "show a progress bar")
	return cmd
}

// retrievalError turns a failed retrieval into the message shown to the
// user.
func retrievalError(tr *retrieval.Tracker, err error) error {
	switch status := tr.Status(); status {
	case retrieval.StatusNotFound, retrieval.StatusTooLarge:
		return errors.New(status.Message())
	}
	return loginHint(err)
}

func loginHint(err error) error {
	if errors.Is(err, client.ErrAuthExpired) || errors.Is(err, client.ErrNotLoggedIn) {
		return errLoginRequired
	}
	return err
}
