package handlers

import (
	"net/http"

	apierr "github.com/galleryd/galleryd/internal/errors"
	"github.com/galleryd/galleryd/internal/gallery"
	"github.com/galleryd/galleryd/internal/web"
)

// PageHandler serves the gallery's browsing pages.
type PageHandler struct {
	*Renderer
	svc *gallery.Service
}

// NewPageHandler creates a PageHandler.
func NewPageHandler(rd *Renderer, svc *gallery.Service) *PageHandler {
	return &PageHandler{Renderer: rd, svc: svc}
}

// ImageList handles GET /images: every image, newest first.
func (h *PageHandler) ImageList(w http.ResponseWriter, r *http.Request) {
	images, err := h.svc.Images(r.Context())
	if err != nil {
		h.internalError(w, r, "ImageList failed", err)
		return
	}
	render(w, r, http.StatusOK, web.ImageList(h.page(w, r), images))
}

// ImageDetail handles GET /images/{id}.
func (h *PageHandler) ImageDetail(w http.ResponseWriter, r *http.Request) {
	h.imageDetail(w, r, nil)
}

// AlbumImageDetail handles GET /albums/{apk}/images/{id}, the image page
// scoped to an album.
func (h *PageHandler) AlbumImageDetail(w http.ResponseWriter, r *http.Request) {
	apk, ok := pathID(r, "apk")
	if !ok {
		h.writeError(w, r, apierr.ErrInvalidID)
		return
	}
	h.imageDetail(w, r, &apk)
}

func (h *PageHandler) imageDetail(w http.ResponseWriter, r *http.Request, albumID *int64) {
	id, ok := pathID(r, "id")
	if !ok {
		h.writeError(w, r, apierr.ErrInvalidID)
		return
	}

	page, err := h.svc.ImagePage(r.Context(), id, albumID)
	if err != nil {
		h.internalError(w, r, "ImageDetail failed", err)
		return
	}
	if page == nil {
		if albumID != nil {
			h.writeError(w, r, apierr.ErrAlbumNotFound.WithMessage("Image %d or album %d does not exist", id, *albumID))
			return
		}
		h.writeError(w, r, apierr.ErrImageNotFound)
		return
	}
	render(w, r, http.StatusOK, web.ImageDetail(h.page(w, r), page))
}

// AlbumList handles GET /albums in the configured album order.
func (h *PageHandler) AlbumList(w http.ResponseWriter, r *http.Request) {
	albums, err := h.svc.Albums(r.Context())
	if err != nil {
		h.internalError(w, r, "AlbumList failed", err)
		return
	}
	render(w, r, http.StatusOK, web.AlbumList(h.page(w, r), albums))
}

// AlbumDetail handles GET /albums/{apk}.
func (h *PageHandler) AlbumDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "apk")
	if !ok {
		h.writeError(w, r, apierr.ErrInvalidID)
		return
	}
	page, err := h.svc.AlbumPage(r.Context(), id)
	if err != nil {
		h.internalError(w, r, "AlbumDetail failed", err)
		return
	}
	if page == nil {
		h.writeError(w, r, apierr.ErrAlbumNotFound)
		return
	}
	render(w, r, http.StatusOK, web.AlbumDetail(h.page(w, r), page))
}
