package retrieval

import (
	"bufio"
	"context"
	"errors"
	"io"

	"github.com/gabriel-vasile/mimetype"
	"github.com/macworp/macworp-client/internal/logging"
	"github.com/macworp/macworp-client/internal/metrics"
	"github.com/macworp/macworp-client/pkg/client"
	"github.com/macworp/macworp-client/pkg/protocol"
	"go.uber.org/zap"
)

var (
	// ErrSuperseded is returned to an attempt that was replaced by a newer
	// one on the same tracker. Its result is discarded.
	ErrSuperseded = errors.New("retrieval superseded")
	// ErrUnchanged is returned by OnPathChange when the path is already
	// being fetched or has been fetched.
	ErrUnchanged = errors.New("path unchanged")
)

// sniffLen is how much of a body is inspected to detect its content type.
const sniffLen = 3072

// URLMinter turns a project path into a single-use download URL.
type URLMinter interface {
	MintDownloadURL(ctx context.Context, projectID int, path string, opts client.DownloadOptions) (string, error)
}

// Fetcher opens a download URL.
type Fetcher interface {
	Fetch(ctx context.Context, downloadURL string) (*client.Download, error)
}

// MetadataFetcher returns the header/description pair of a project file.
type MetadataFetcher interface {
	Metadata(ctx context.Context, projectID int, path string) (*protocol.MetadataResponse, error)
}

// Backend is everything a retrieval needs. *client.Client satisfies it.
type Backend interface {
	SizeFetcher
	URLMinter
	Fetcher
	MetadataFetcher
}

// Surfacer receives failures that should be shown to the user.
type Surfacer interface {
	Surface(err error)
}

// Options select what a render retrieval asks for.
type Options struct {
	WithMetadata bool
	Table        bool
}

// Result is a successful retrieval.
type Result struct {
	AttemptID string
	Path      string
	Status    Status

	// URL is the authenticated download URL. It is single-use and is
	// already spent unless the result came from ResolveURLForRender.
	URL string

	// Body is nil for ResolveURLForRender. The caller closes it.
	Body         io.ReadCloser
	ContentType  string
	DeclaredType string
	Size         int64

	Header      string
	Description string
}

// Retriever runs retrieval attempts against a backend.
type Retriever struct {
	backend Backend
	gate    *Gate
	errs    Surfacer
}

// New creates a retriever. Files of maxRenderSize bytes or more are not
// rendered. errs may be nil.
func New(backend Backend, maxRenderSize int64, errs Surfacer) *Retriever {
	return &Retriever{
		backend: backend,
		gate:    &Gate{Sizes: backend, Max: maxRenderSize},
		errs:    errs,
	}
}

// RetrieveForRender fetches path for inline display.
//
// The size gate runs first; a file at or above the limit ends in
// filesize_too_large and nothing is minted or downloaded. A 404 on the
// download ends in not_found, any other failure in error. With metadata
// requested, the MMD-* response headers are used when present, otherwise
// the metadata endpoint is asked; its 404 leaves header = path and an
// empty description.
func (r *Retriever) RetrieveForRender(ctx context.Context, tr *Tracker, projectID int, path string, opts Options) (*Result, error) {
	a := tr.Begin(path)
	log := logging.WithContext(ctx).With(zap.String("attempt", a.ID), zap.String("path", path))
	log.Debug("render retrieval started")

	size, err := r.gate.Check(ctx, projectID, path)
	if errors.Is(err, ErrFileTooLarge) {
		if !r.finish(a, "render", StatusTooLarge) {
			return nil, ErrSuperseded
		}
		log.Debug("render retrieval refused", zap.Int64("size", size))
		return nil, err
	}
	if err != nil {
		// The size endpoint answering 404 is not a missing result.
		return nil, r.fail(a, "render", err, false)
	}

	downloadURL, err := r.backend.MintDownloadURL(ctx, projectID, path, client.DownloadOptions{
		Inline:       true,
		WithMetadata: opts.WithMetadata,
		Table:        opts.Table,
	})
	if err != nil {
		return nil, r.fail(a, "render", err, true)
	}

	dl, err := r.backend.Fetch(ctx, downloadURL)
	if err != nil {
		return nil, r.fail(a, "render", err, true)
	}

	res, err := r.result(a, downloadURL, dl, size)
	if err != nil {
		return nil, err
	}

	if opts.WithMetadata {
		res.Header, res.Description = r.metadata(ctx, a, projectID, dl)
		a.SetMetadata(res.Header, res.Description)
	}

	if !r.finish(a, "render", StatusFinished) {
		res.Body.Close()
		return nil, ErrSuperseded
	}
	log.Debug("render retrieval finished", zap.String("content_type", res.ContentType))
	return res, nil
}

// ResolveURLForRender runs gate, mint and metadata like RetrieveForRender
// but returns the inline URL instead of downloading it, for viewers that
// load the URL themselves.
func (r *Retriever) ResolveURLForRender(ctx context.Context, tr *Tracker, projectID int, path string, opts Options) (*Result, error) {
	a := tr.Begin(path)

	size, err := r.gate.Check(ctx, projectID, path)
	if errors.Is(err, ErrFileTooLarge) {
		if !r.finish(a, "resolve", StatusTooLarge) {
			return nil, ErrSuperseded
		}
		return nil, err
	}
	if err != nil {
		return nil, r.fail(a, "resolve", err, false)
	}

	downloadURL, err := r.backend.MintDownloadURL(ctx, projectID, path, client.DownloadOptions{
		Inline: true,
		Table:  opts.Table,
	})
	if err != nil {
		return nil, r.fail(a, "resolve", err, true)
	}

	res := &Result{
		AttemptID: a.ID,
		Path:      path,
		Status:    StatusFinished,
		URL:       downloadURL,
		Size:      size,
		Header:    path,
	}
	if opts.WithMetadata {
		res.Header, res.Description = r.metadata(ctx, a, projectID, nil)
		a.SetMetadata(res.Header, res.Description)
	}

	if !r.finish(a, "resolve", StatusFinished) {
		return nil, ErrSuperseded
	}
	return res, nil
}

// Download fetches path as an attachment. There is no size gate and no
// metadata in this mode.
func (r *Retriever) Download(ctx context.Context, tr *Tracker, projectID int, path string) (*Result, error) {
	a := tr.Begin(path)

	downloadURL, err := r.backend.MintDownloadURL(ctx, projectID, path, client.DownloadOptions{})
	if err != nil {
		return nil, r.fail(a, "download", err, true)
	}
	dl, err := r.backend.Fetch(ctx, downloadURL)
	if err != nil {
		return nil, r.fail(a, "download", err, true)
	}

	res, err := r.result(a, downloadURL, dl, -1)
	if err != nil {
		return nil, err
	}
	if !r.finish(a, "download", StatusFinished) {
		res.Body.Close()
		return nil, ErrSuperseded
	}
	return res, nil
}

// OnPathChange starts a render retrieval when path differs from the one
// the tracker holds, or when the last attempt for it ended without a
// result. Otherwise it returns ErrUnchanged and contacts nothing.
func (r *Retriever) OnPathChange(ctx context.Context, tr *Tracker, projectID int, path string, opts Options) (*Result, error) {
	snap := tr.Snapshot()
	if snap.Path == path && (snap.Status == StatusFetching || snap.Status == StatusFinished) {
		return nil, ErrUnchanged
	}
	return r.RetrieveForRender(ctx, tr, projectID, path, opts)
}

// result wraps an open download. The body is sniffed for its content type
// without consuming it.
func (r *Retriever) result(a *Attempt, downloadURL string, dl *client.Download, size int64) (*Result, error) {
	if !a.Current() {
		dl.Body.Close()
		return nil, ErrSuperseded
	}

	br := bufio.NewReaderSize(dl.Body, sniffLen)
	head, _ := br.Peek(sniffLen)
	mime := mimetype.Detect(head)

	if size < 0 {
		size = dl.ContentLength
	}
	return &Result{
		AttemptID:    a.ID,
		Path:         a.Path,
		Status:       StatusFinished,
		URL:          downloadURL,
		Body:         &countingBody{r: br, c: dl.Body},
		ContentType:  mime.String(),
		DeclaredType: dl.ContentType,
		Size:         size,
		Header:       a.Path,
	}, nil
}

// metadata resolves header and description for a finished download. dl
// may be nil when nothing was downloaded.
func (r *Retriever) metadata(ctx context.Context, a *Attempt, projectID int, dl *client.Download) (string, string) {
	if dl != nil && dl.HasMetadata {
		header := dl.Header
		if header == "" {
			header = a.Path
		}
		return header, dl.Description
	}

	md, err := r.backend.Metadata(ctx, projectID, a.Path)
	switch {
	case err == nil:
		header := md.Header
		if header == "" {
			header = a.Path
		}
		return header, md.Description
	case client.IsNotFound(err):
		return a.Path, ""
	default:
		if a.Current() {
			r.surface(err)
		}
		return a.Path, ""
	}
}

// fail ends a with not_found or error. A 404 counts as not_found only when
// notFound is set. Auth failures are returned without being surfaced; the
// caller sends the user to the login.
func (r *Retriever) fail(a *Attempt, mode string, err error, notFound bool) error {
	if notFound && client.IsNotFound(err) {
		if !r.finish(a, mode, StatusNotFound) {
			return ErrSuperseded
		}
		return err
	}

	if !r.finish(a, mode, StatusError) {
		return ErrSuperseded
	}
	if errors.Is(err, client.ErrAuthExpired) || errors.Is(err, client.ErrNotLoggedIn) {
		return err
	}
	r.surface(err)
	return err
}

func (r *Retriever) finish(a *Attempt, mode string, s Status) bool {
	if !a.Finish(s) {
		return false
	}
	metrics.RecordRetrieval(mode, string(s))
	return true
}

func (r *Retriever) surface(err error) {
	if r.errs != nil {
		r.errs.Surface(err)
	}
}

// countingBody reports the bytes read from a download when closed.
type countingBody struct {
	r io.Reader
	c io.Closer
	n int64
}

func (b *countingBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	b.n += int64(n)
	return n, err
}

func (b *countingBody) Close() error {
	metrics.AddBytesDownloaded(b.n)
	b.n = 0
	return b.c.Close()
}
