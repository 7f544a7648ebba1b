// Package retrieval fetches result files for display or download.
//
// A retrieval walks gate, mint, download and metadata in that order and
// ends in exactly one terminal status. The status of a UI element is kept
// by a Tracker; only the latest attempt of a tracker may write it.
package retrieval

// Status is the state of a retrieval attempt.
type Status string

const (
	StatusFetching Status = "fetching"
	StatusNotFound Status = "not_found"
	StatusFinished Status = "finished"
	StatusTooLarge Status = "filesize_too_large"
	StatusError    Status = "error"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusNotFound, StatusFinished, StatusTooLarge, StatusError:
		return true
	}
	return false
}

// Message is the text shown in place of the result.
func (s Status) Message() string {
	switch s {
	case StatusNotFound:
		return "Result file not ready yet."
	case StatusTooLarge:
		return "Filesize too large to display. Please download the file instead."
	case StatusError:
		return "Result file could not be retrieved."
	}
	return ""
}

func (s Status) String() string {
	return string(s)
}
