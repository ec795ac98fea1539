package blob

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"
)

// ErrNotFound indicates that no blob exists at the handle's path.
var ErrNotFound = errors.New("blob not found")

// Handle is an opaque reference to one blob.
type Handle interface {
	// Path returns the path the handle was opened with.
	Path() string

	Exists(ctx context.Context) (bool, error)

	// Get returns the blob content. It returns ErrNotFound when the blob
	// does not exist. The caller closes the reader.
	Get(ctx context.Context) (io.ReadCloser, error)

	// Put replaces the blob content with everything read from r and returns
	// the number of bytes written.
	Put(ctx context.Context, r io.Reader) (int64, error)

	// Delete removes the blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context) error
}

// Store resolves handles from paths.
type Store interface {
	Open(path string) Handle
}

// PathFor builds the path of a report file for an account and processing date.
func PathFor(accountID string, date time.Time, fileName string) string {
	return path.Join(clean(accountID), date.UTC().Format("2006-01-02"), clean(fileName))
}

// StatePath builds the path of an engine state file for a vendor.
func StatePath(vendor, fileName string) string {
	return path.Join("_state", clean(vendor), clean(fileName))
}

// clean keeps path segments from escaping their directory.
func clean(segment string) string {
	segment = strings.ReplaceAll(segment, "/", "_")
	segment = strings.ReplaceAll(segment, "..", "_")
	if segment == "" {
		return "_"
	}
	return segment
}
