package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/galleryd/galleryd/internal/auth"
	apierr "github.com/galleryd/galleryd/internal/errors"
	"github.com/galleryd/galleryd/internal/gallery"
	"github.com/galleryd/galleryd/internal/web"
)

// multipartMemory is how much of a multipart body is buffered in memory
// before spilling to temp files.
const multipartMemory = 32 << 20

// Form error messages.
const (
	msgFileRequired = "This field is required."
	msgInvalidAlbum = "Select a valid choice. That choice is not one of the available choices."
)

// UploadHandler serves the upload form and accepts uploads.
type UploadHandler struct {
	*Renderer
	svc           *gallery.Service
	maxUploadSize int64
}

// NewUploadHandler creates an UploadHandler. A maxUploadSize of zero means
// unlimited.
func NewUploadHandler(rd *Renderer, svc *gallery.Service, maxUploadSize int64) *UploadHandler {
	return &UploadHandler{Renderer: rd, svc: svc, maxUploadSize: maxUploadSize}
}

// Form handles GET /upload. The apk and next query values preselect the album
// and the redirect target.
func (h *UploadHandler) Form(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.renderForm(w, r, http.StatusOK, q.Get("apk"), q.Get("next"), nil)
}

func (h *UploadHandler) renderForm(w http.ResponseWriter, r *http.Request, status int, apk, next string, formErrors []string) {
	albums, err := h.svc.Albums(r.Context())
	if err != nil {
		h.internalError(w, r, "Upload form failed", err)
		return
	}
	form := web.UploadForm{AlbumID: apk, Next: next, Albums: albums, Errors: formErrors}
	render(w, r, status, web.UploadPage(h.page(w, r), form))
}

// Upload handles POST /upload: one or more "data" files, an optional "apk"
// album and an optional "next" redirect target.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.maxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, r, apierr.ErrEntityTooLarge)
			return
		}
		if !errors.Is(err, http.ErrNotMultipart) {
			slog.Debug("Upload form unreadable", "error", err)
		}
		h.formInvalid(w, r, "", r.URL.Query().Get("next"), []string{msgFileRequired})
		return
	}
	defer r.MultipartForm.RemoveAll()

	apk := r.PostFormValue("apk")
	next := r.PostFormValue("next")

	var formErrors []string
	headers := r.MultipartForm.File["data"]
	if len(headers) == 0 {
		formErrors = append(formErrors, "data: "+msgFileRequired)
	}
	albumID, ok := optionalID(apk)
	if !ok {
		formErrors = append(formErrors, "apk: "+msgInvalidAlbum)
	}
	if len(formErrors) > 0 {
		h.formInvalid(w, r, apk, next, formErrors)
		return
	}

	files, closeAll, err := openUploads(headers)
	defer closeAll()
	if err != nil {
		h.internalError(w, r, "Opening uploaded files failed", err)
		return
	}

	result, err := h.svc.Upload(r.Context(), files, albumID)
	switch {
	case errors.Is(err, gallery.ErrAlbumNotFound):
		h.formInvalid(w, r, apk, next, []string{"apk: " + msgInvalidAlbum})
		return
	case err != nil:
		h.internalError(w, r, "Upload failed", err)
		return
	}

	slog.Info("Upload complete",
		"user", auth.UserFromContext(r.Context()),
		"images", len(result.Images),
		"album", apk,
	)
	addFlash(w, r, "success", result.Summary)
	http.Redirect(w, r, safeRedirect(next, "/images"), http.StatusFound)
}

// formInvalid redirects back to next with the errors flashed, or re-renders
// the form with a 400 when there is nowhere to go back to.
func (h *UploadHandler) formInvalid(w http.ResponseWriter, r *http.Request, apk, next string, formErrors []string) {
	if target := safeRedirect(next, ""); target != "" {
		addFlash(w, r, "error", strings.Join(formErrors, " "))
		http.Redirect(w, r, target, http.StatusFound)
		return
	}
	h.renderForm(w, r, http.StatusBadRequest, apk, "", formErrors)
}

// openUploads opens every uploaded part. The returned func closes the ones
// that were opened.
func openUploads(headers []*multipart.FileHeader) ([]gallery.UploadFile, func(), error) {
	var opened []multipart.File
	closeAll := func() {
		for _, f := range opened {
			f.Close()
		}
	}
	files := make([]gallery.UploadFile, 0, len(headers))
	for i, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, closeAll, fmt.Errorf("opening upload %d (%s): %w", i, strconv.Quote(fh.Filename), err)
		}
		opened = append(opened, f)
		files = append(files, gallery.UploadFile{Filename: fh.Filename, Content: f})
	}
	return files, closeAll, nil
}
