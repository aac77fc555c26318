// Package metadata defines the interface and implementations for galleryd's
// metadata storage layer, which tracks images, albums and album membership.
package metadata

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// ErrClearDateTaken is returned when a caller tries to reset a date_taken
// value to empty. Once backfilled, date_taken stays set.
var ErrClearDateTaken = errors.New("metadata: date_taken cannot be cleared")

// ImageRecord represents the metadata for a single image.
type ImageRecord struct {
	ID int64 `json:"id"`
	// Name is the stored file name in the image backend.
	Name string `json:"name"`
	// Thumbnail is the stored file name in the thumbnail backend. Empty when
	// no thumbnail was generated.
	Thumbnail string     `json:"thumbnail,omitempty"`
	Title     string     `json:"title"`
	DateTaken *time.Time `json:"date_taken,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	// AlbumID is the album the image was uploaded into, if any.
	AlbumID *int64 `json:"album_id,omitempty"`
}

// AlbumRecord represents the metadata for a single album.
type AlbumRecord struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Order     int       `json:"order"`
	CreatedAt time.Time `json:"created_at"`
}

// Membership links an image to an album.
type Membership struct {
	AlbumID int64 `json:"album_id"`
	ImageID int64 `json:"image_id"`
}

// Store defines the interface for all metadata operations required by
// galleryd. Lookups of missing records return (nil, nil). Implementations
// must be safe for concurrent use.
type Store interface {
	io.Closer

	// Ping checks connectivity to the metadata store.
	Ping(ctx context.Context) error

	// Image operations

	// CreateImage inserts the image and sets its ID and CreatedAt.
	CreateImage(ctx context.Context, img *ImageRecord) error

	// GetImage retrieves an image by ID.
	GetImage(ctx context.Context, id int64) (*ImageRecord, error)

	// ListImages returns all images, newest first.
	ListImages(ctx context.Context) ([]ImageRecord, error)

	// ImagesMissingDateTaken returns the images whose date_taken is unset,
	// by ascending ID.
	ImagesMissingDateTaken(ctx context.Context) ([]ImageRecord, error)

	// SetDateTaken stores date_taken for an image. A zero time is rejected
	// with ErrClearDateTaken.
	SetDateTaken(ctx context.Context, id int64, t time.Time) error

	// DeleteImage removes the image and its album memberships.
	DeleteImage(ctx context.Context, id int64) error

	// Album operations

	// CreateAlbum inserts the album and sets its ID and CreatedAt.
	CreateAlbum(ctx context.Context, album *AlbumRecord) error

	// GetAlbum retrieves an album by ID.
	GetAlbum(ctx context.Context, id int64) (*AlbumRecord, error)

	// ListAlbums returns all albums sorted by the given ordering, e.g.
	// ["order", "-id"]. Unknown fields are ignored.
	ListAlbums(ctx context.Context, ordering []string) ([]AlbumRecord, error)

	// AlbumImages returns the images in an album by ascending ID.
	AlbumImages(ctx context.Context, albumID int64) ([]ImageRecord, error)

	// ImageAlbums returns the albums an image belongs to by ascending ID.
	ImageAlbums(ctx context.Context, imageID int64) ([]AlbumRecord, error)

	// AddImageToAlbum records membership. Adding an existing membership is
	// not an error.
	AddImageToAlbum(ctx context.Context, albumID, imageID int64) error

	// Memberships returns every album/image link, for export.
	Memberships(ctx context.Context) ([]Membership, error)

	// Counts returns the number of images and albums.
	Counts(ctx context.Context) (images, albums int, err error)
}

// albumColumns whitelists the album fields an ordering may name, mapped to
// their SQL column.
var albumColumns = map[string]string{
	"id":         "id",
	"pk":         "id",
	"title":      "title",
	"order":      `"order"`,
	"created_at": "created_at",
}

// OrderField is one parsed element of an ordering.
type OrderField struct {
	Name string
	Desc bool
}

// ParseOrdering parses ordering strings such as "-id" and drops fields that
// are not album columns. "pk" is accepted as an alias of "id".
func ParseOrdering(ordering []string) []OrderField {
	var fields []OrderField
	for _, raw := range ordering {
		raw = strings.TrimSpace(raw)
		desc := strings.HasPrefix(raw, "-")
		name := strings.TrimPrefix(raw, "-")
		if _, ok := albumColumns[name]; !ok {
			continue
		}
		if name == "pk" {
			name = "id"
		}
		fields = append(fields, OrderField{Name: name, Desc: desc})
	}
	return fields
}

// albumOrderBy builds the ORDER BY clause for an ordering. The album ID is
// always the final key so the result is deterministic.
func albumOrderBy(ordering []string) string {
	var parts []string
	hasID := false
	for _, f := range ParseOrdering(ordering) {
		col := albumColumns[f.Name]
		dir := "ASC"
		if f.Desc {
			dir = "DESC"
		}
		parts = append(parts, col+" "+dir)
		if f.Name == "id" {
			hasID = true
		}
	}
	if !hasID {
		parts = append(parts, "id ASC")
	}
	return "ORDER BY " + strings.Join(parts, ", ")
}

func validateImage(img *ImageRecord) error {
	if img == nil {
		return errors.New("metadata: nil image")
	}
	if img.Name == "" {
		return fmt.Errorf("metadata: image name is required")
	}
	return nil
}

// SortAlbums sorts albums in place by the given ordering, with ascending ID
// as the final key.
func SortAlbums(albums []AlbumRecord, ordering []string) {
	fields := ParseOrdering(ordering)
	sort.SliceStable(albums, func(i, j int) bool {
		a, b := albums[i], albums[j]
		for _, f := range fields {
			c := compareAlbumField(a, b, f.Name)
			if c == 0 {
				continue
			}
			if f.Desc {
				return c > 0
			}
			return c < 0
		}
		return a.ID < b.ID
	})
}

func compareAlbumField(a, b AlbumRecord, field string) int {
	switch field {
	case "id":
		return cmp.Compare(a.ID, b.ID)
	case "title":
		return strings.Compare(a.Title, b.Title)
	case "order":
		return cmp.Compare(a.Order, b.Order)
	case "created_at":
		return a.CreatedAt.Compare(b.CreatedAt)
	}
	return 0
}
