package browser

import (
	"context"
	"errors"
	"sync"

	"github.com/macworp/macworp-client/internal/logging"
	"github.com/macworp/macworp-client/pkg/client"
	"github.com/macworp/macworp-client/pkg/events"
	"github.com/macworp/macworp-client/pkg/protocol"
	"go.uber.org/zap"
)

// DirectoryLister lists a project directory.
type DirectoryLister interface {
	ListFiles(ctx context.Context, projectID int, dir string) (*protocol.DirectoryListing, error)
}

// Surfacer receives failures that should be shown to the user.
type Surfacer interface {
	Surface(err error)
}

// Navigator holds the current directory of one project and its content.
// Moving only changes the path; Refresh loads the content.
type Navigator struct {
	lister    DirectoryLister
	projectID int
	errs      Surfacer
	bus       *events.Broadcaster[events.DirectoryChange]

	mu      sync.RWMutex
	dir     string
	folders []string
	files   []string
}

// NewNavigator creates a navigator positioned at Root. errs may be nil.
func NewNavigator(lister DirectoryLister, projectID int, errs Surfacer) *Navigator {
	return &Navigator{
		lister:    lister,
		projectID: projectID,
		errs:      errs,
		bus:       events.NewBroadcaster[events.DirectoryChange](),
		dir:       Root,
	}
}

// ProjectID returns the project being browsed.
func (n *Navigator) ProjectID() int {
	return n.projectID
}

// Dir returns the current directory.
func (n *Navigator) Dir() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.dir
}

// Listing returns the folders and files of the last successful refresh.
func (n *Navigator) Listing() (folders, files []string) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]string(nil), n.folders...), append([]string(nil), n.files...)
}

// MoveInto descends into the folder name and returns the new directory.
func (n *Navigator) MoveInto(name string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dir = Join(n.dir, name)
	return n.dir
}

// MoveUp goes to the parent directory and returns it. At Root it stays.
func (n *Navigator) MoveUp() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dir = Parent(n.dir)
	return n.dir
}

// MoveTo jumps to dir.
func (n *Navigator) MoveTo(dir string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dir = Normalize(dir)
	return n.dir
}

// FullPath returns the project path of name in the current directory.
func (n *Navigator) FullPath(name string) string {
	return Join(n.Dir(), name)
}

// Refresh lists the current directory. If it no longer exists the
// navigator moves up until a directory can be listed. Other failures are
// surfaced and leave the previous content in place.
func (n *Navigator) Refresh(ctx context.Context) error {
	for {
		dir := n.Dir()
		listing, err := n.lister.ListFiles(ctx, n.projectID, dir)
		if err == nil {
			n.apply(dir, listing)
			return nil
		}

		if client.IsNotFound(err) && dir != Root {
			logging.WithContext(ctx).Debug("directory gone, moving up",
				zap.Int("project", n.projectID), zap.String("dir", dir))
			n.moveUpFrom(dir)
			continue
		}

		if n.errs != nil && !isAuthError(err) {
			n.errs.Surface(err)
		}
		return err
	}
}

// moveUpFrom moves to the parent of dir unless the navigator moved
// elsewhere in the meantime.
func (n *Navigator) moveUpFrom(dir string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.dir == dir {
		n.dir = Parent(dir)
	}
}

func (n *Navigator) apply(dir string, listing *protocol.DirectoryListing) {
	n.mu.Lock()
	if n.dir != dir {
		n.mu.Unlock()
		return
	}
	n.folders = listing.Folders
	n.files = listing.Files
	n.mu.Unlock()

	n.bus.Publish(events.DirectoryChange{
		ProjectID: n.projectID,
		Path:      dir,
		Folders:   listing.Folders,
		Files:     listing.Files,
	}.Stamp())
}

// Open moves into name and refreshes.
func (n *Navigator) Open(ctx context.Context, name string) error {
	n.MoveInto(name)
	return n.Refresh(ctx)
}

// Back moves up and refreshes.
func (n *Navigator) Back(ctx context.Context) error {
	n.MoveUp()
	return n.Refresh(ctx)
}

// Subscribe returns a channel receiving a DirectoryChange after every
// successful refresh.
func (n *Navigator) Subscribe() chan events.DirectoryChange {
	return n.bus.Subscribe()
}

// Unsubscribe stops delivery to ch and closes it.
func (n *Navigator) Unsubscribe(ch chan events.DirectoryChange) {
	n.bus.Unsubscribe(ch)
}

func isAuthError(err error) bool {
	return errors.Is(err, client.ErrAuthExpired) || errors.Is(err, client.ErrNotLoggedIn)
}
