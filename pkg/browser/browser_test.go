package browser

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/macworp/macworp-client/pkg/client"
	"github.com/macworp/macworp-client/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathHelpers(t *testing.T) {
	tests := []struct {
		dir, name, joined, parent string
	}{
		{"/", "a", "/a", "/"},
		{"/a", "b", "/a/b", "/"},
		{"/a/b", "c.txt", "/a/b/c.txt", "/a"},
		{"a//b/", "c", "/a/b/c", "/a"},
		{"", "x", "/x", "/"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.joined, Join(tt.dir, tt.name), "Join(%q, %q)", tt.dir, tt.name)
		assert.Equal(t, tt.parent, Parent(tt.dir), "Parent(%q)", tt.dir)
	}
	assert.Empty(t, Segments("/"))
	assert.Equal(t, []string{"a", "b"}, Segments("/a/b/"))
	assert.Equal(t, Root, Normalize("//"))
}

func TestNavigation(t *testing.T) {
	n := NewNavigator(nil, 1, nil)
	assert.Equal(t, Root, n.Dir())

	n.MoveInto("a")
	assert.Equal(t, "/a/b", n.MoveInto("b"))
	assert.Equal(t, "/a", n.MoveUp())
	assert.Equal(t, "/a/file.txt", n.FullPath("file.txt"))

	assert.Equal(t, Root, n.MoveUp())
	assert.Equal(t, Root, n.MoveUp())
	assert.Equal(t, "/file.txt", n.FullPath("file.txt"))
}

// fakeLister serves listings for known directories and 404 otherwise.
type fakeLister struct {
	mu    sync.Mutex
	dirs  map[string]*protocol.DirectoryListing
	err   error
	asked []string
}

func (f *fakeLister) ListFiles(_ context.Context, _ int, dir string) (*protocol.DirectoryListing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asked = append(f.asked, dir)
	if f.err != nil {
		return nil, f.err
	}
	if l, ok := f.dirs[dir]; ok {
		return l, nil
	}
	return nil, &client.APIError{StatusCode: http.StatusNotFound, Status: "Not Found"}
}

type recorder struct {
	errs []error
}

func (r *recorder) Surface(err error) { r.errs = append(r.errs, err) }

func TestRefreshPublishesDirectoryChange(t *testing.T) {
	fl := &fakeLister{dirs: map[string]*protocol.DirectoryListing{
		"/":        {Folders: []string{"results"}, Files: []string{"README"}},
		"/results": {Files: []string{"a.tsv"}},
	}}
	n := NewNavigator(fl, 9, nil)
	ch := n.Subscribe()
	defer n.Unsubscribe(ch)

	require.NoError(t, n.Open(context.Background(), "results"))

	folders, files := n.Listing()
	assert.Empty(t, folders)
	assert.Equal(t, []string{"a.tsv"}, files)

	select {
	case ev := <-ch:
		assert.Equal(t, 9, ev.ProjectID)
		assert.Equal(t, "/results", ev.Path)
		assert.Equal(t, []string{"a.tsv"}, ev.Files)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for directory change")
	}
}

func TestRefreshMissingDirectoryMovesUp(t *testing.T) {
	fl := &fakeLister{dirs: map[string]*protocol.DirectoryListing{
		"/":  {Folders: []string{"a"}},
		"/a": {Folders: []string{"c"}},
	}}
	rec := &recorder{}
	n := NewNavigator(fl, 1, rec)
	n.MoveTo("/a/b")

	require.NoError(t, n.Refresh(context.Background()))
	assert.Equal(t, "/a", n.Dir())
	assert.Equal(t, []string{"/a/b", "/a"}, fl.asked)
	assert.Empty(t, rec.errs)
}

func TestRefreshMissingRootFails(t *testing.T) {
	fl := &fakeLister{}
	rec := &recorder{}
	n := NewNavigator(fl, 1, rec)

	err := n.Refresh(context.Background())
	assert.True(t, client.IsNotFound(err))
	assert.Equal(t, Root, n.Dir())
	assert.Len(t, rec.errs, 1)
}

func TestRefreshFailureIsSurfacedAndKeepsListing(t *testing.T) {
	fl := &fakeLister{dirs: map[string]*protocol.DirectoryListing{
		"/": {Files: []string{"keep.txt"}},
	}}
	rec := &recorder{}
	n := NewNavigator(fl, 1, rec)
	require.NoError(t, n.Refresh(context.Background()))

	fl.err = &client.APIError{StatusCode: http.StatusInternalServerError, Status: "Internal Server Error"}
	require.Error(t, n.Refresh(context.Background()))

	_, files := n.Listing()
	assert.Equal(t, []string{"keep.txt"}, files)
	assert.Len(t, rec.errs, 1)

	fl.err = &client.APIError{StatusCode: http.StatusUnauthorized, Status: "Unauthorized"}
	require.ErrorIs(t, n.Refresh(context.Background()), client.ErrAuthExpired)
	assert.Len(t, rec.errs, 1)
}
