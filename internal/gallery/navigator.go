// Package gallery holds the navigation rules of the gallery: how album images
// and albums are ordered, how an image finds its neighbours, and how upload
// results are summarized.
package gallery

import (
	"fmt"
	"sort"

	"github.com/galleryd/galleryd/internal/metadata"
)

// DefaultAlbumOrder is used when no album ordering is configured.
var DefaultAlbumOrder = []string{"order", "-id"}

// OrderAlbumImages returns a copy of images sorted by date taken, oldest
// first, with ties broken by ascending ID. Images without a date sort before
// dated ones.
func OrderAlbumImages(images []metadata.ImageRecord) []metadata.ImageRecord {
	out := make([]metadata.ImageRecord, len(images))
	copy(out, images)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.DateTaken == nil && b.DateTaken != nil:
			return true
		case a.DateTaken != nil && b.DateTaken == nil:
			return false
		case a.DateTaken != nil && !a.DateTaken.Equal(*b.DateTaken):
			return a.DateTaken.Before(*b.DateTaken)
		}
		return a.ID < b.ID
	})
	return out
}

// Neighbors are the images before and after an image in an ordered sequence.
type Neighbors struct {
	Previous *metadata.ImageRecord
	Next     *metadata.ImageRecord
}

// ComputeNeighbors locates imageID in ordered and returns its neighbours.
// An image that is not in the sequence has none.
func ComputeNeighbors(imageID int64, ordered []metadata.ImageRecord) Neighbors {
	pos := -1
	for i := range ordered {
		if ordered[i].ID == imageID {
			pos = i
			break
		}
	}
	if pos < 0 {
		return Neighbors{}
	}
	var n Neighbors
	if pos > 0 {
		prev := ordered[pos-1]
		n.Previous = &prev
	}
	if pos < len(ordered)-1 {
		next := ordered[pos+1]
		n.Next = &next
	}
	return n
}

// OrderAlbums returns the album ordering to use: the configured one when set,
// DefaultAlbumOrder otherwise.
func OrderAlbums(configured []string) []string {
	if len(configured) > 0 {
		return append([]string(nil), configured...)
	}
	return append([]string(nil), DefaultAlbumOrder...)
}

// ApplyAlbumOrder sorts albums in place by ordering.
func ApplyAlbumOrder(albums []metadata.AlbumRecord, ordering []string) {
	metadata.SortAlbums(albums, ordering)
}

// FormatUploadSummary builds the flash message shown after an upload of
// count images, first and last being the names of the first and last one.
func FormatUploadSummary(first, last string, count int) string {
	switch {
	case count <= 0:
		return ""
	case count == 1:
		return fmt.Sprintf("Image %s added successfully", first)
	case count == 2:
		return fmt.Sprintf("Images %s and %s added successfully", first, last)
	default:
		return fmt.Sprintf("Images %s ... %s added successfully", first, last)
	}
}
