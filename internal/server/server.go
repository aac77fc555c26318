// Package server implements the galleryd HTTP server: HTML pages, uploads,
// media streaming and the JSON API.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sort"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/galleryd/galleryd/internal/auth"
	"github.com/galleryd/galleryd/internal/config"
	"github.com/galleryd/galleryd/internal/gallery"
	"github.com/galleryd/galleryd/internal/handlers"
	"github.com/galleryd/galleryd/internal/metadata"
	"github.com/galleryd/galleryd/internal/storage"
	"github.com/galleryd/galleryd/internal/web"
)

// Server is the galleryd HTTP server.
type Server struct {
	cfg        *config.Config
	router     chi.Router
	api        huma.API
	svc        *gallery.Service
	verifier   *auth.Verifier
	renderer   *handlers.Renderer
	httpServer *http.Server
}

// HealthBody is the JSON body returned by the health check endpoint.
type HealthBody struct {
	Status string            `json:"status" example:"ok" doc:"Health status"`
	Checks map[string]string `json:"checks,omitempty" doc:"Per-dependency status"`
}

// HealthOutput is the Huma output struct for the health check endpoint.
type HealthOutput struct {
	Body HealthBody
}

// AlbumsOutput lists albums in display order.
type AlbumsOutput struct {
	Body struct {
		Ordering []string               `json:"ordering" doc:"Ordering applied to the list"`
		Albums   []metadata.AlbumRecord `json:"albums"`
	}
}

// AlbumInput selects an album.
type AlbumInput struct {
	ID int64 `path:"id" minimum:"1" doc:"Album id"`
}

// AlbumOutput is an album with its images by date taken.
type AlbumOutput struct {
	Body *gallery.AlbumPage
}

// ImagesOutput lists images, newest first.
type ImagesOutput struct {
	Body struct {
		Images []gallery.Image `json:"images"`
	}
}

// ImageInput selects an image, optionally within an album.
type ImageInput struct {
	ID    int64 `path:"id" minimum:"1" doc:"Image id"`
	Album int64 `query:"album" minimum:"0" doc:"Album id to compute previous/next within; 0 for none"`
}

// ImageOutput is the image page data.
type ImageOutput struct {
	Body *gallery.ImagePage
}

// New creates a Server and wires every route on a Chi router with a Huma API.
func New(cfg *config.Config, svc *gallery.Service, verifier *auth.Verifier) (*Server, error) {
	router := chi.NewMux()

	humaConfig := huma.DefaultConfig("galleryd API", "1.0.0")
	humaConfig.DocsPath = "/docs"
	humaConfig.OpenAPIPath = "/openapi"
	api := humachi.New(router, humaConfig)

	s := &Server{
		cfg:      cfg,
		router:   router,
		api:      api,
		svc:      svc,
		verifier: verifier,
		renderer: &handlers.Renderer{Settings: web.SettingsFromConfig(cfg.Gallery)},
	}
	if !verifier.Configured() {
		slog.Warn("No upload credentials configured; uploads are disabled")
	}

	s.registerAPI()
	s.registerRoutes()
	return s, nil
}

// Handler returns the router wrapped in the middleware chain:
// metricsMiddleware -> commonHeaders -> router.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.router
	handler = commonHeaders(handler)
	handler = metricsMiddleware(handler)
	return handler
}

// ListenAndServe starts the HTTP server on the given address.
// The returned http.Server is stored so it can be shut down gracefully.
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server, waiting for in-flight
// requests to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// runHealthChecks runs the service health checks and returns each check's
// status by name, plus the errors of the failed ones in name order.
func (s *Server) runHealthChecks(ctx context.Context) (map[string]string, []error) {
	checks := s.svc.Health(ctx)
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := make(map[string]string, len(checks))
	var failed []error
	for _, name := range names {
		if err := checks[name]; err != nil {
			status[name] = err.Error()
			failed = append(failed, err)
			continue
		}
		status[name] = "ok"
	}
	if len(failed) > 0 {
		slog.Warn("Health check failed", "checks", status)
	}
	return status, failed
}

// registerAPI registers the Huma operations (health and JSON API).
func (s *Server) registerAPI() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Checks the metadata store and the storage backends.",
		Tags:        []string{"System"},
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		checks, failed := s.runHealthChecks(ctx)
		if len(failed) > 0 {
			return nil, huma.Error503ServiceUnavailable("unhealthy", failed...)
		}
		return &HealthOutput{Body: HealthBody{Status: "ok", Checks: checks}}, nil
	})

	// Register HEAD /health separately (Huma only does one method per registration).
	s.router.Head("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, failed := s.runHealthChecks(r.Context()); len(failed) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-albums",
		Method:      http.MethodGet,
		Path:        "/api/albums",
		Summary:     "List albums",
		Description: "Returns all albums in the configured display order.",
		Tags:        []string{"Albums"},
	}, func(ctx context.Context, input *struct{}) (*AlbumsOutput, error) {
		albums, err := s.svc.Albums(ctx)
		if err != nil {
			slog.Error("list-albums failed", "error", err)
			return nil, huma.Error500InternalServerError("listing albums failed")
		}
		out := &AlbumsOutput{}
		out.Body.Ordering = s.svc.AlbumOrdering()
		out.Body.Albums = albums
		if out.Body.Albums == nil {
			out.Body.Albums = []metadata.AlbumRecord{}
		}
		return out, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-album",
		Method:      http.MethodGet,
		Path:        "/api/albums/{id}",
		Summary:     "Get album",
		Description: "Returns an album with its images ordered by date taken.",
		Tags:        []string{"Albums"},
	}, func(ctx context.Context, input *AlbumInput) (*AlbumOutput, error) {
		page, err := s.svc.AlbumPage(ctx, input.ID)
		if err != nil {
			slog.Error("get-album failed", "id", input.ID, "error", err)
			return nil, huma.Error500InternalServerError("loading album failed")
		}
		if page == nil {
			return nil, huma.Error404NotFound("album not found")
		}
		return &AlbumOutput{Body: page}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-images",
		Method:      http.MethodGet,
		Path:        "/api/images",
		Summary:     "List images",
		Description: "Returns all images, newest first.",
		Tags:        []string{"Images"},
	}, func(ctx context.Context, input *struct{}) (*ImagesOutput, error) {
		images, err := s.svc.Images(ctx)
		if err != nil {
			slog.Error("list-images failed", "error", err)
			return nil, huma.Error500InternalServerError("listing images failed")
		}
		out := &ImagesOutput{}
		out.Body.Images = images
		return out, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-image",
		Method:      http.MethodGet,
		Path:        "/api/images/{id}",
		Summary:     "Get image",
		Description: "Returns an image. With album set, includes the album images and the previous and next image; otherwise the albums containing the image.",
		Tags:        []string{"Images"},
	}, func(ctx context.Context, input *ImageInput) (*ImageOutput, error) {
		var albumID *int64
		if input.Album > 0 {
			albumID = &input.Album
		}
		page, err := s.svc.ImagePage(ctx, input.ID, albumID)
		if err != nil {
			slog.Error("get-image failed", "id", input.ID, "error", err)
			return nil, huma.Error500InternalServerError("loading image failed")
		}
		if page == nil {
			return nil, huma.Error404NotFound("image or album not found")
		}
		return &ImageOutput{Body: page}, nil
	})
}

// registerRoutes configures the HTML, upload, media, static and metrics
// routes on the Chi router.
func (s *Server) registerRoutes() {
	rd := s.renderer
	pages := handlers.NewPageHandler(rd, s.svc)
	upload := handlers.NewUploadHandler(rd, s.svc, s.cfg.Server.MaxUploadSize)
	h := s.svc.Handles()

	s.router.NotFound(rd.NotFound)
	s.router.MethodNotAllowed(rd.MethodNotAllowed)

	s.router.Get("/", pages.ImageList)
	s.router.Get("/images", pages.ImageList)
	s.router.Get("/images/{id}", pages.ImageDetail)
	s.router.Get("/albums", pages.AlbumList)
	s.router.Get("/albums/{apk}", pages.AlbumDetail)
	s.router.Get("/albums/{apk}/images/{id}", pages.AlbumImageDetail)

	s.router.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.verifier, nil))
		r.Get("/upload", upload.Form)
		r.Post("/upload", upload.Upload)
	})

	images := handlers.NewMediaHandler(rd, h.Images)
	thumbs := handlers.NewMediaHandler(rd, h.Thumbnails)
	s.router.Get(storage.ImagesURLPrefix+"/*", images.Serve)
	s.router.Head(storage.ImagesURLPrefix+"/*", images.Serve)
	s.router.Get(storage.ThumbnailsURLPrefix+"/*", thumbs.Serve)
	s.router.Head(storage.ThumbnailsURLPrefix+"/*", thumbs.Serve)

	if dir := s.cfg.Server.StaticDir; dir != "" {
		s.router.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(dir))))
	}

	if s.cfg.Observability.Metrics {
		s.router.Handle("/metrics", promhttp.Handler())
	}
}
