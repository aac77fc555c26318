// Package handlers implements galleryd's HTML page, upload and media
// handlers.
package handlers

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"

	apierr "github.com/galleryd/galleryd/internal/errors"
	"github.com/galleryd/galleryd/internal/web"
)

// flashCookie carries flash messages across one redirect.
const flashCookie = "galleryd_flash"

// Renderer renders pages with the gallery settings and pending flashes.
type Renderer struct {
	Settings web.PageSettings
}

// page returns the layout state for a request, consuming its flashes.
func (rd *Renderer) page(w http.ResponseWriter, r *http.Request) web.Page {
	return web.Page{Settings: rd.Settings, Flashes: popFlashes(w, r)}
}

// render writes a component with the given status.
func render(w http.ResponseWriter, r *http.Request, status int, c templ.Component) {
	templ.Handler(c, templ.WithStatus(status)).ServeHTTP(w, r)
}

// writeError renders the error page for e.
func (rd *Renderer) writeError(w http.ResponseWriter, r *http.Request, e *apierr.APIError) {
	render(w, r, e.HTTPStatus, web.ErrorPage(rd.page(w, r), e))
}

// NotFound renders the 404 page; used as the router's fallback.
func (rd *Renderer) NotFound(w http.ResponseWriter, r *http.Request) {
	rd.writeError(w, r, apierr.ErrNotFound)
}

// MethodNotAllowed renders the 405 page.
func (rd *Renderer) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	rd.writeError(w, r, apierr.ErrMethodNotAllowed)
}

// internalError logs err and renders the 500 page.
func (rd *Renderer) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	slog.Error(msg, "path", r.URL.Path, "error", err)
	rd.writeError(w, r, apierr.ErrInternalError)
}

// pathID parses a positive integer URL parameter.
func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// optionalID parses an optional positive integer form or query value. An
// empty value yields nil; anything else that is not an id is an error.
func optionalID(value string) (*int64, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, true
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return nil, false
	}
	return &id, true
}

// safeRedirect returns next when it is a local path, fallback otherwise.
func safeRedirect(next, fallback string) string {
	if next == "" {
		return fallback
	}
	u, err := url.Parse(next)
	if err != nil || u.IsAbs() || u.Host != "" || !strings.HasPrefix(u.Path, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, `\`) {
		return fallback
	}
	return next
}

// addFlash queues a flash message for the next rendered page.
func addFlash(w http.ResponseWriter, r *http.Request, level, message string) {
	flashes := readFlashes(r)
	flashes = append(flashes, web.Flash{Level: level, Message: message})
	data, err := json.Marshal(flashes)
	if err != nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    base64.RawURLEncoding.EncodeToString(data),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func readFlashes(r *http.Request) []web.Flash {
	c, err := r.Cookie(flashCookie)
	if err != nil || c.Value == "" {
		return nil
	}
	data, err := base64.RawURLEncoding.DecodeString(c.Value)
	if err != nil {
		return nil
	}
	var flashes []web.Flash
	if err := json.Unmarshal(data, &flashes); err != nil {
		return nil
	}
	return flashes
}

// popFlashes returns the pending flashes and clears the cookie.
func popFlashes(w http.ResponseWriter, r *http.Request) []web.Flash {
	flashes := readFlashes(r)
	if len(flashes) > 0 {
		http.SetCookie(w, &http.Cookie{
			Name:     flashCookie,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return flashes
}
