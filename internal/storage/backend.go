// Package storage defines the interface and implementations for galleryd's
// file storage layer, and the resolver that picks the backends used for
// original images and thumbnails.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/galleryd/galleryd/internal/uid"
)

// ErrNotFound is returned (wrapped) by Open when the named file does not exist.
var ErrNotFound = errors.New("storage: file not found")

// maxNameAttempts bounds the search for a free name in Save.
const maxNameAttempts = 16

// Backend defines the interface for persisting and retrieving image files.
// Implementations provide the underlying storage mechanism (local filesystem,
// object store, database). All methods must be safe for concurrent use.
type Backend interface {
	// Class returns the backend class name this instance was built from.
	Class() string

	// Save writes the content under name and returns the name actually used.
	// Existing files are never overwritten: a unique suffix is added instead.
	Save(ctx context.Context, name string, content io.Reader) (string, error)

	// Open returns the file content. The caller closes the reader. A missing
	// file yields an error matching ErrNotFound.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// URL returns the address the file can be fetched from by a browser.
	URL(name string) string

	// Delete removes the file. Deleting a missing file is not an error.
	Delete(ctx context.Context, name string) error

	// Exists reports whether a file with the given name is stored.
	Exists(ctx context.Context, name string) (bool, error)

	// HealthCheck verifies that the backend is operational.
	HealthCheck(ctx context.Context) error
}

// cleanName normalizes a storage name to a slash-separated relative path and
// rejects names that escape the storage root.
func cleanName(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	cleaned := path.Clean("/" + name)
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return cleaned, nil
}

// availableName returns name, or a suffixed variant of it, that is not yet
// stored in the backend.
func availableName(ctx context.Context, b Backend, name string) (string, error) {
	candidate := name
	for i := 0; i < maxNameAttempts; i++ {
		exists, err := b.Exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		candidate = uid.UniqueName(name)
	}
	return "", fmt.Errorf("no free name for %q after %d attempts", name, maxNameAttempts)
}

// errNameTaken is returned by a backend's exclusive write when the target
// name is already stored.
var errNameTaken = errors.New("storage: name already taken")

// claimName stores content under name, or a suffixed variant of it, through
// write. write must fail with errNameTaken rather than replace an existing
// file; the Exists pre-check only saves a round trip in the common case.
func claimName(ctx context.Context, b Backend, name string, write func(candidate string) error) (string, error) {
	candidate, err := availableName(ctx, b, name)
	if err != nil {
		return "", err
	}
	for i := 0; i < maxNameAttempts; i++ {
		err := write(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, errNameTaken) {
			return "", err
		}
		candidate = uid.UniqueName(name)
	}
	return "", fmt.Errorf("no free name for %q after %d attempts", name, maxNameAttempts)
}

// joinURL appends an escaped storage name to a base URL.
func joinURL(base, name string) string {
	segments := strings.Split(name, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.Join(segments, "/")
}

func notFound(name string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, name)
}

// bytesFile is an in-memory file; it seeks so callers can serve ranges.
type bytesFile struct {
	*bytes.Reader
}

func newBytesFile(data []byte) bytesFile { return bytesFile{bytes.NewReader(data)} }

func (bytesFile) Close() error { return nil }
