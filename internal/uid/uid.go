// Package uid provides unique identifier generation for galleryd.
package uid

import (
	"path"
	"strings"

	"github.com/google/uuid"
)

// New generates a 32-character hex string suitable for temp file names and
// request IDs.
func New() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Short returns the first eight hex characters of a fresh identifier. It is
// used to de-duplicate stored file names.
func Short() string {
	return New()[:8]
}

// UniqueName inserts a short random suffix before the extension of name:
// "beach.jpg" becomes "beach_1a2b3c4d.jpg".
func UniqueName(name string) string {
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return base + "_" + Short() + ext
}
