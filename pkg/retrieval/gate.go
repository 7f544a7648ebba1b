package retrieval

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

// ErrFileTooLarge is returned when a file is at or above the render limit.
var ErrFileTooLarge = errors.New("file too large to render")

// SizeFetcher returns the declared size of a project file.
type SizeFetcher interface {
	FileSize(ctx context.Context, projectID int, path string) (int64, error)
}

// Gate refuses files at or above Max bytes. A Max of zero or less disables
// the check without contacting the backend.
type Gate struct {
	Sizes SizeFetcher
	Max   int64
}

// Check returns the size of path, or an error matching ErrFileTooLarge if
// it may not be rendered. Backend failures are returned as they are.
func (g *Gate) Check(ctx context.Context, projectID int, path string) (int64, error) {
	if g.Max <= 0 {
		return -1, nil
	}
	size, err := g.Sizes.FileSize(ctx, projectID, path)
	if err != nil {
		return 0, err
	}
	if size >= g.Max {
		return size, fmt.Errorf("%w: %s is %s, limit is %s", ErrFileTooLarge,
			path, humanize.Bytes(uint64(size)), humanize.Bytes(uint64(g.Max)))
	}
	return size, nil
}
