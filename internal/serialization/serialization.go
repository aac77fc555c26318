// Package serialization exports gallery metadata to JSON and imports it into
// any metadata store, e.g. to move a gallery from SQLite to PostgreSQL.
package serialization

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/galleryd/galleryd/internal/metadata"
)

const (
	Version       = "0.1.0"
	ExportVersion = 1
)

// Table names, in dependency order.
const (
	TableAlbums      = "albums"
	TableImages      = "images"
	TableMemberships = "memberships"
)

// AllTables lists all valid table names in dependency order.
var AllTables = []string{TableAlbums, TableImages, TableMemberships}

// Header identifies an export document.
type Header struct {
	Version    int    `json:"version"`
	ExportedAt string `json:"exported_at"`
	Source     string `json:"source"`
}

// Document is the JSON export format. A nil table was not exported.
type Document struct {
	Header      Header                 `json:"galleryd_export"`
	Albums      []metadata.AlbumRecord `json:"albums"`
	Images      []metadata.ImageRecord `json:"images"`
	Memberships []metadata.Membership  `json:"memberships"`
}

// ExportOptions configures what to export.
type ExportOptions struct {
	Tables []string
	// Now stamps the export; defaults to time.Now.
	Now func() time.Time
}

// ImportResult holds the result of an import operation.
type ImportResult struct {
	Counts   map[string]int
	Skipped  map[string]int
	Warnings []string
	// AlbumIDs and ImageIDs map exported IDs to the IDs assigned on import.
	AlbumIDs map[int64]int64
	ImageIDs map[int64]int64
}

// Export reads the requested tables from store and builds a Document.
func Export(ctx context.Context, store metadata.Store, opts *ExportOptions) (*Document, error) {
	if opts == nil {
		opts = &ExportOptions{}
	}
	tables := opts.Tables
	if len(tables) == 0 {
		tables = AllTables
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	doc := &Document{Header: Header{
		Version:    ExportVersion,
		ExportedAt: now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Source:     "go/" + Version,
	}}

	if slices.Contains(tables, TableAlbums) {
		albums, err := store.ListAlbums(ctx, []string{"id"})
		if err != nil {
			return nil, fmt.Errorf("exporting albums: %w", err)
		}
		doc.Albums = nonNil(albums)
	}
	if slices.Contains(tables, TableImages) {
		images, err := store.ListImages(ctx)
		if err != nil {
			return nil, fmt.Errorf("exporting images: %w", err)
		}
		// Ascending IDs so an import recreates images in upload order.
		slices.SortFunc(images, func(a, b metadata.ImageRecord) int { return cmp.Compare(a.ID, b.ID) })
		doc.Images = nonNil(images)
	}
	if slices.Contains(tables, TableMemberships) {
		members, err := store.Memberships(ctx)
		if err != nil {
			return nil, fmt.Errorf("exporting memberships: %w", err)
		}
		doc.Memberships = nonNil(members)
	}
	return doc, nil
}

// WriteExport exports store as indented JSON to w.
func WriteExport(ctx context.Context, w io.Writer, store metadata.Store, opts *ExportOptions) error {
	doc, err := Export(ctx, store, opts)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding export: %w", err)
	}
	return nil
}

// ReadDocument parses an export document and checks its version.
func ReadDocument(r io.Reader) (*Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}
	if doc.Header.Version < 1 || doc.Header.Version > ExportVersion {
		return nil, fmt.Errorf("unsupported export version: %v", doc.Header.Version)
	}
	return &doc, nil
}

// Import creates the document's records in store. Stores assign fresh IDs, so
// image album references and memberships are rewritten through the ID maps.
// Rows the store rejects, and memberships pointing at records that were not
// imported, are skipped with a warning.
func Import(ctx context.Context, store metadata.Store, doc *Document) (*ImportResult, error) {
	result := &ImportResult{
		Counts:   make(map[string]int),
		Skipped:  make(map[string]int),
		AlbumIDs: make(map[int64]int64),
		ImageIDs: make(map[int64]int64),
	}

	for _, a := range doc.Albums {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		rec := a
		oldID := rec.ID
		if err := store.CreateAlbum(ctx, &rec); err != nil {
			result.skip(TableAlbums, "Skipped album %d: %v", oldID, err)
			continue
		}
		result.AlbumIDs[oldID] = rec.ID
		result.Counts[TableAlbums]++
	}

	for _, img := range doc.Images {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		rec := img
		oldID := rec.ID
		if rec.AlbumID != nil {
			if id, ok := result.AlbumIDs[*rec.AlbumID]; ok {
				rec.AlbumID = &id
			} else {
				rec.AlbumID = nil
			}
		}
		if err := store.CreateImage(ctx, &rec); err != nil {
			result.skip(TableImages, "Skipped image %d: %v", oldID, err)
			continue
		}
		result.ImageIDs[oldID] = rec.ID
		result.Counts[TableImages]++
	}

	for _, m := range doc.Memberships {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		albumID, okA := result.AlbumIDs[m.AlbumID]
		imageID, okI := result.ImageIDs[m.ImageID]
		if !okA || !okI {
			result.skip(TableMemberships, "Skipped membership album %d image %d: record not imported", m.AlbumID, m.ImageID)
			continue
		}
		if err := store.AddImageToAlbum(ctx, albumID, imageID); err != nil {
			result.skip(TableMemberships, "Skipped membership album %d image %d: %v", m.AlbumID, m.ImageID, err)
			continue
		}
		result.Counts[TableMemberships]++
	}
	return result, nil
}

func (r *ImportResult) skip(table, format string, args ...any) {
	r.Skipped[table]++
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
