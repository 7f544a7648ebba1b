// Package browser navigates the work directory of a project.
package browser

import "strings"

// Root is the top of every project directory.
const Root = "/"

// Segments splits a project path into its non-empty segments.
func Segments(dir string) []string {
	parts := strings.Split(dir, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func fromSegments(segments []string) string {
	if len(segments) == 0 {
		return Root
	}
	return "/" + strings.Join(segments, "/")
}

// Join appends name below dir.
func Join(dir, name string) string {
	return fromSegments(append(Segments(dir), Segments(name)...))
}

// Parent drops the last segment of dir. The parent of Root is Root.
func Parent(dir string) string {
	segments := Segments(dir)
	if len(segments) == 0 {
		return Root
	}
	return fromSegments(segments[:len(segments)-1])
}

// Normalize returns dir in canonical form: leading slash, no empty
// segments, no trailing slash.
func Normalize(dir string) string {
	return fromSegments(Segments(dir))
}
