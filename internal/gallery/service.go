package gallery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/galleryd/galleryd/internal/metadata"
	"github.com/galleryd/galleryd/internal/metrics"
	"github.com/galleryd/galleryd/internal/storage"
	"github.com/galleryd/galleryd/internal/thumbnail"
)

// ErrNoFiles is returned by Upload when the request carried no files.
var ErrNoFiles = errors.New("gallery: no files uploaded")

// ErrAlbumNotFound is returned by Upload when the target album is missing.
var ErrAlbumNotFound = errors.New("gallery: album not found")

// Options tunes a Service.
type Options struct {
	// AlbumOrder is the configured album list ordering; empty means
	// DefaultAlbumOrder.
	AlbumOrder []string
	// ThumbnailWidth and ThumbnailHeight bound generated thumbnails. Zero
	// disables thumbnail generation.
	ThumbnailWidth  int
	ThumbnailHeight int
}

// Service serves the gallery's read and upload use cases on top of the
// metadata store and the resolved storage handles.
type Service struct {
	store   metadata.Store
	handles storage.Handles
	opts    Options
}

// NewService creates a Service.
func NewService(store metadata.Store, handles storage.Handles, opts Options) *Service {
	return &Service{store: store, handles: handles, opts: opts}
}

// Store returns the metadata store the service reads from.
func (s *Service) Store() metadata.Store { return s.store }

// Handles returns the storage handles the service writes to.
func (s *Service) Handles() storage.Handles { return s.handles }

// Image is an image record with the URLs needed to display it.
type Image struct {
	metadata.ImageRecord
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url"`
}

// Label is the human readable name of the image.
func (i Image) Label() string {
	return imageLabel(i.ImageRecord)
}

func imageLabel(r metadata.ImageRecord) string {
	if r.Title != "" {
		return r.Title
	}
	return path.Base(r.Name)
}

// view attaches URLs to a record. Images without a thumbnail use the
// original as preview.
func (s *Service) view(r metadata.ImageRecord) Image {
	img := Image{ImageRecord: r, URL: s.handles.Images.URL(r.Name)}
	if r.Thumbnail != "" {
		img.ThumbnailURL = s.handles.Thumbnails.URL(r.Thumbnail)
	} else {
		img.ThumbnailURL = img.URL
	}
	return img
}

func (s *Service) views(records []metadata.ImageRecord) []Image {
	out := make([]Image, len(records))
	for i, r := range records {
		out[i] = s.view(r)
	}
	return out
}

func (s *Service) viewPtr(r *metadata.ImageRecord) *Image {
	if r == nil {
		return nil
	}
	v := s.view(*r)
	return &v
}

// ImagePage is everything the image page shows.
type ImagePage struct {
	Image Image `json:"image"`
	// Album is set when the page is scoped to an album.
	Album         *metadata.AlbumRecord `json:"album,omitempty"`
	AlbumImages   []Image               `json:"album_images"`
	PreviousImage *Image                `json:"previous_image"`
	NextImage     *Image                `json:"next_image"`
	// Albums lists the albums containing the image when not album scoped.
	Albums []metadata.AlbumRecord `json:"albums,omitempty"`
}

// ImagePage loads the image page. With albumID set the page carries the album
// images in display order and the image's neighbours within them; otherwise
// it lists the albums the image belongs to. A missing image or album returns
// (nil, nil).
func (s *Service) ImagePage(ctx context.Context, imageID int64, albumID *int64) (*ImagePage, error) {
	rec, err := s.store.GetImage(ctx, imageID)
	if err != nil {
		return nil, fmt.Errorf("loading image %d: %w", imageID, err)
	}
	if rec == nil {
		return nil, nil
	}
	page := &ImagePage{Image: s.view(*rec), AlbumImages: []Image{}}

	if albumID == nil {
		albums, err := s.store.ImageAlbums(ctx, imageID)
		if err != nil {
			return nil, fmt.Errorf("loading albums of image %d: %w", imageID, err)
		}
		page.Albums = albums
		return page, nil
	}

	album, err := s.store.GetAlbum(ctx, *albumID)
	if err != nil {
		return nil, fmt.Errorf("loading album %d: %w", *albumID, err)
	}
	if album == nil {
		return nil, nil
	}
	images, err := s.store.AlbumImages(ctx, album.ID)
	if err != nil {
		return nil, fmt.Errorf("loading images of album %d: %w", album.ID, err)
	}
	ordered := OrderAlbumImages(images)
	n := ComputeNeighbors(imageID, ordered)

	page.Album = album
	page.AlbumImages = s.views(ordered)
	page.PreviousImage = s.viewPtr(n.Previous)
	page.NextImage = s.viewPtr(n.Next)
	return page, nil
}

// AlbumPage is the album page: the album and its images by date taken.
type AlbumPage struct {
	Album  metadata.AlbumRecord `json:"album"`
	Images []Image              `json:"images"`
}

// AlbumPage loads an album with its images in display order. A missing album
// returns (nil, nil).
func (s *Service) AlbumPage(ctx context.Context, albumID int64) (*AlbumPage, error) {
	album, err := s.store.GetAlbum(ctx, albumID)
	if err != nil {
		return nil, fmt.Errorf("loading album %d: %w", albumID, err)
	}
	if album == nil {
		return nil, nil
	}
	images, err := s.store.AlbumImages(ctx, albumID)
	if err != nil {
		return nil, fmt.Errorf("loading images of album %d: %w", albumID, err)
	}
	return &AlbumPage{Album: *album, Images: s.views(OrderAlbumImages(images))}, nil
}

// AlbumOrdering is the ordering the album list uses.
func (s *Service) AlbumOrdering() []string {
	return OrderAlbums(s.opts.AlbumOrder)
}

// Albums lists albums in the configured order.
func (s *Service) Albums(ctx context.Context) ([]metadata.AlbumRecord, error) {
	albums, err := s.store.ListAlbums(ctx, s.AlbumOrdering())
	if err != nil {
		return nil, fmt.Errorf("listing albums: %w", err)
	}
	return albums, nil
}

// Images lists all images, newest first.
func (s *Service) Images(ctx context.Context) ([]Image, error) {
	records, err := s.store.ListImages(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing images: %w", err)
	}
	return s.views(records), nil
}

// UploadFile is one file of an upload request.
type UploadFile struct {
	// Filename is the client supplied file name.
	Filename string
	Content  io.Reader
}

// UploadResult describes a finished upload.
type UploadResult struct {
	Images []metadata.ImageRecord
	// Summary is the message shown to the user.
	Summary string
}

// Upload stores every file in the image backend, renders its thumbnail into
// the thumbnail backend and records it, optionally in albumID. Files are
// processed in order; an error stops the upload and is returned with the
// images stored so far.
func (s *Service) Upload(ctx context.Context, files []UploadFile, albumID *int64) (*UploadResult, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	if albumID != nil {
		album, err := s.store.GetAlbum(ctx, *albumID)
		if err != nil {
			return nil, fmt.Errorf("loading album %d: %w", *albumID, err)
		}
		if album == nil {
			return nil, fmt.Errorf("%w: %d", ErrAlbumNotFound, *albumID)
		}
	}

	result := &UploadResult{}
	for _, f := range files {
		rec, err := s.uploadOne(ctx, f, albumID)
		if err != nil {
			metrics.UploadsTotal.WithLabelValues("error").Inc()
			return result, fmt.Errorf("uploading %q: %w", f.Filename, err)
		}
		metrics.UploadsTotal.WithLabelValues("success").Inc()
		result.Images = append(result.Images, *rec)
	}

	first := imageLabel(result.Images[0])
	last := imageLabel(result.Images[len(result.Images)-1])
	result.Summary = FormatUploadSummary(first, last, len(result.Images))
	s.refreshGauges(ctx)
	return result, nil
}

func (s *Service) uploadOne(ctx context.Context, f UploadFile, albumID *int64) (*metadata.ImageRecord, error) {
	data, err := io.ReadAll(f.Content)
	if err != nil {
		return nil, fmt.Errorf("reading upload: %w", err)
	}
	name := uploadName(f.Filename)
	stored, err := s.handles.Images.Save(ctx, name, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("saving image: %w", err)
	}

	rec := &metadata.ImageRecord{
		Name:    stored,
		Title:   strings.TrimSuffix(path.Base(name), path.Ext(name)),
		AlbumID: albumID,
	}
	if s.opts.ThumbnailWidth > 0 && s.opts.ThumbnailHeight > 0 {
		thumb, err := thumbnail.Generate(data, s.opts.ThumbnailWidth, s.opts.ThumbnailHeight)
		if err != nil {
			// Undecodable images are still stored; the page falls back to the original.
			slog.Warn("Thumbnail generation failed", "name", stored, "error", err)
		} else {
			tname, err := s.handles.Thumbnails.Save(ctx, thumbnail.Name(stored), bytes.NewReader(thumb))
			if err != nil {
				discardFile(ctx, s.handles.Images, stored)
				return nil, fmt.Errorf("saving thumbnail: %w", err)
			}
			rec.Thumbnail = tname
		}
	}

	if err := s.store.CreateImage(ctx, rec); err != nil {
		discardFile(ctx, s.handles.Images, stored)
		if rec.Thumbnail != "" {
			discardFile(ctx, s.handles.Thumbnails, rec.Thumbnail)
		}
		return nil, fmt.Errorf("recording image: %w", err)
	}
	if albumID != nil {
		if err := s.store.AddImageToAlbum(ctx, *albumID, rec.ID); err != nil {
			return nil, fmt.Errorf("adding image %d to album %d: %w", rec.ID, *albumID, err)
		}
	}
	slog.Info("Image uploaded", "id", rec.ID, "name", rec.Name, "thumbnail", rec.Thumbnail)
	return rec, nil
}

// discardFile removes a file stored by an upload that did not complete, so
// no file is left without an image record.
func discardFile(ctx context.Context, b storage.Backend, name string) {
	if err := b.Delete(ctx, name); err != nil {
		slog.Warn("Removing orphaned upload file failed", "name", name, "error", err)
	}
}

// uploadName reduces a client file name to a safe base name.
func uploadName(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "upload"
	}
	return name
}

// refreshGauges updates the image and album gauges from the store.
func (s *Service) refreshGauges(ctx context.Context) {
	images, albums, err := s.store.Counts(ctx)
	if err != nil {
		slog.Debug("Counting gallery records failed", "error", err)
		return
	}
	metrics.ImagesTotal.Set(float64(images))
	metrics.AlbumsTotal.Set(float64(albums))
}

// RefreshMetrics seeds the image and album gauges, e.g. at startup.
func (s *Service) RefreshMetrics(ctx context.Context) {
	s.refreshGauges(ctx)
}

// Health checks the metadata store and both storage backends.
func (s *Service) Health(ctx context.Context) map[string]error {
	checks := map[string]error{
		"metadata": s.store.Ping(ctx),
		"images":   s.handles.Images.HealthCheck(ctx),
	}
	if !s.handles.SharedBackend() {
		checks["thumbnails"] = s.handles.Thumbnails.HealthCheck(ctx)
	}
	return checks
}
