package serialization

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/galleryd/galleryd/internal/metadata"
)

var fixedNow = func() time.Time { return time.Date(2026, 2, 25, 12, 0, 0, 0, time.UTC) }

// seedStore fills a memory store with two albums and three images. Album 1
// holds images 1 and 2; album 2 holds image 3.
func seedStore(t *testing.T) *metadata.MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := metadata.NewMemoryStore()
	taken := time.Date(2024, 7, 1, 9, 30, 0, 0, time.UTC)

	for _, title := range []string{"Summer", "Winter"} {
		if err := store.CreateAlbum(ctx, &metadata.AlbumRecord{Title: title}); err != nil {
			t.Fatal(err)
		}
	}
	albumOne := int64(1)
	images := []*metadata.ImageRecord{
		{Name: "beach.jpg", Thumbnail: "thumbnails/beach.jpg", Title: "beach", DateTaken: &taken, AlbumID: &albumOne},
		{Name: "dunes.jpg", Title: "dunes"},
		{Name: "snow.jpg", Title: "snow"},
	}
	for _, img := range images {
		if err := store.CreateImage(ctx, img); err != nil {
			t.Fatal(err)
		}
	}
	for _, m := range []metadata.Membership{{AlbumID: 1, ImageID: 1}, {AlbumID: 1, ImageID: 2}, {AlbumID: 2, ImageID: 3}} {
		if err := store.AddImageToAlbum(ctx, m.AlbumID, m.ImageID); err != nil {
			t.Fatal(err)
		}
	}
	return store
}

func TestExportAllTables(t *testing.T) {
	doc, err := Export(context.Background(), seedStore(t), &ExportOptions{Now: fixedNow})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if doc.Header.Version != 1 || doc.Header.Source != "go/0.1.0" {
		t.Errorf("header = %+v", doc.Header)
	}
	if doc.Header.ExportedAt != "2026-02-25T12:00:00.000Z" {
		t.Errorf("exported_at = %q", doc.Header.ExportedAt)
	}
	if len(doc.Albums) != 2 || len(doc.Images) != 3 || len(doc.Memberships) != 3 {
		t.Fatalf("counts: %d albums, %d images, %d memberships", len(doc.Albums), len(doc.Images), len(doc.Memberships))
	}
	for i, img := range doc.Images {
		if img.ID != int64(i+1) {
			t.Errorf("images[%d].ID = %d, want ascending IDs", i, img.ID)
		}
	}
}

func TestExportPartialTables(t *testing.T) {
	doc, err := Export(context.Background(), seedStore(t), &ExportOptions{Tables: []string{TableAlbums}})
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Albums) != 2 {
		t.Errorf("albums = %d", len(doc.Albums))
	}
	if doc.Images != nil || doc.Memberships != nil {
		t.Error("tables outside the selection were exported")
	}
}

func TestExportEmptyStore(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteExport(context.Background(), &buf, metadata.NewMemoryStore(), nil); err != nil {
		t.Fatal(err)
	}
	var data map[string]json.RawMessage
	if err := json.Unmarshal(buf.Bytes(), &data); err != nil {
		t.Fatal(err)
	}
	for _, table := range AllTables {
		if string(data[table]) != "[]" {
			t.Errorf("%s = %s, want []", table, data[table])
		}
	}
}

func TestRoundTripIntoSQLite(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	if err := WriteExport(ctx, &buf, seedStore(t), nil); err != nil {
		t.Fatal(err)
	}

	dst, err := metadata.NewSQLiteStore(filepath.Join(t.TempDir(), "import.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer dst.Close()

	doc, err := ReadDocument(&buf)
	if err != nil {
		t.Fatal(err)
	}
	result, err := Import(ctx, dst, doc)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	for table, want := range map[string]int{TableAlbums: 2, TableImages: 3, TableMemberships: 3} {
		if result.Counts[table] != want {
			t.Errorf("Counts[%s] = %d, want %d", table, result.Counts[table], want)
		}
	}

	img, err := dst.GetImage(ctx, result.ImageIDs[1])
	if err != nil || img == nil {
		t.Fatalf("GetImage: %v, %v", img, err)
	}
	if img.DateTaken == nil || !img.DateTaken.Equal(time.Date(2024, 7, 1, 9, 30, 0, 0, time.UTC)) {
		t.Errorf("date_taken = %v", img.DateTaken)
	}
	if img.AlbumID == nil || *img.AlbumID != result.AlbumIDs[1] {
		t.Errorf("album_id = %v", img.AlbumID)
	}
	inAlbum, err := dst.AlbumImages(ctx, result.AlbumIDs[1])
	if err != nil || len(inAlbum) != 2 {
		t.Errorf("album images = %+v, %v", inAlbum, err)
	}
}

func TestImportRemapsIDs(t *testing.T) {
	ctx := context.Background()
	dst := metadata.NewMemoryStore()
	// Occupy ID 1 so the imported records get new IDs.
	dst.CreateAlbum(ctx, &metadata.AlbumRecord{Title: "existing"})
	dst.CreateImage(ctx, &metadata.ImageRecord{Name: "existing.jpg"})

	doc, err := Export(ctx, seedStore(t), nil)
	if err != nil {
		t.Fatal(err)
	}
	result, err := Import(ctx, dst, doc)
	if err != nil {
		t.Fatal(err)
	}
	if result.AlbumIDs[2] != 3 || result.ImageIDs[3] != 4 {
		t.Errorf("id maps = %v, %v", result.AlbumIDs, result.ImageIDs)
	}
	winter, _ := dst.AlbumImages(ctx, 3)
	if len(winter) != 1 || winter[0].Name != "snow.jpg" {
		t.Errorf("winter images = %+v", winter)
	}
}

func TestImportSkipsInvalidRows(t *testing.T) {
	doc := &Document{
		Header:      Header{Version: 1},
		Albums:      []metadata.AlbumRecord{{ID: 1, Title: ""}, {ID: 2, Title: "ok"}},
		Images:      []metadata.ImageRecord{{ID: 5, Name: "a.jpg"}},
		Memberships: []metadata.Membership{{AlbumID: 1, ImageID: 5}, {AlbumID: 2, ImageID: 5}, {AlbumID: 2, ImageID: 9}},
	}
	result, err := Import(context.Background(), metadata.NewMemoryStore(), doc)
	if err != nil {
		t.Fatal(err)
	}
	if result.Skipped[TableAlbums] != 1 || result.Skipped[TableMemberships] != 2 {
		t.Errorf("skipped = %v", result.Skipped)
	}
	if result.Counts[TableMemberships] != 1 {
		t.Errorf("memberships imported = %d", result.Counts[TableMemberships])
	}
	if len(result.Warnings) != 3 {
		t.Errorf("warnings = %v", result.Warnings)
	}
}

func TestReadDocumentInvalid(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"bad version", `{"galleryd_export":{"version":99}}`},
		{"missing header", `{"albums":[]}`},
		{"not json", `albums`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadDocument(strings.NewReader(tt.in)); err == nil {
				t.Error("expected error")
			}
		})
	}
}
