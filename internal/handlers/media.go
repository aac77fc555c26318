package handlers

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	apierr "github.com/galleryd/galleryd/internal/errors"
	"github.com/galleryd/galleryd/internal/storage"
)

// mediaCacheControl lets browsers cache stored files; stored names never
// change content.
const mediaCacheControl = "public, max-age=31536000, immutable"

// MediaHandler streams files out of a storage backend.
type MediaHandler struct {
	*Renderer
	backend storage.Backend
}

// NewMediaHandler creates a MediaHandler for one backend.
func NewMediaHandler(rd *Renderer, backend storage.Backend) *MediaHandler {
	return &MediaHandler{Renderer: rd, backend: backend}
}

// Serve handles GET and HEAD for the wildcard route, e.g.
// /media/images/*. Seekable files support range requests.
func (h *MediaHandler) Serve(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if name == "" || hasHiddenSegment(name) {
		h.writeError(w, r, apierr.ErrFileNotFound)
		return
	}

	rc, err := h.backend.Open(r.Context(), name)
	if errors.Is(err, storage.ErrNotFound) {
		h.writeError(w, r, apierr.ErrFileNotFound)
		return
	}
	if err != nil {
		h.internalError(w, r, "Opening media file failed", err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentTypeFor(name))
	w.Header().Set("Cache-Control", mediaCacheControl)
	w.Header().Set("X-Content-Type-Options", "nosniff")

	if rs, ok := rc.(io.ReadSeeker); ok {
		http.ServeContent(w, r, path.Base(name), time.Time{}, rs)
		return
	}
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	if _, err := io.Copy(w, rc); err != nil {
		slog.Debug("Streaming media file interrupted", "name", name, "error", err)
	}
}

// hasHiddenSegment reports whether any path segment starts with a dot. Stored
// names never do; backends keep internal state such as in-progress writes
// under dot directories.
func hasHiddenSegment(name string) bool {
	for _, seg := range strings.Split(name, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

// contentTypeFor guesses the MIME type from the file extension.
func contentTypeFor(name string) string {
	if ct := mime.TypeByExtension(strings.ToLower(path.Ext(name))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
