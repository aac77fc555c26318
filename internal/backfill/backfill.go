// Package backfill fills in date_taken for images recorded before the field
// existed, reading the capture time from each file's EXIF data.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/galleryd/galleryd/internal/exif"
	"github.com/galleryd/galleryd/internal/metadata"
	"github.com/galleryd/galleryd/internal/storage"
)

// Source tells where a backfilled date_taken value came from.
type Source string

const (
	// SourceExif is a timestamp read from the file's EXIF data.
	SourceExif Source = "exif"
	// SourceMissingFile substitutes the current time for a file that is gone
	// from the image backend.
	SourceMissingFile Source = "now-missing-file"
	// SourceNoExif substitutes the current time for a file without a usable
	// timestamp.
	SourceNoExif Source = "now-no-exif"
)

// Options controls a backfill run.
type Options struct {
	// Persist writes the computed values to the store. When false the run
	// only reports what it would write.
	Persist bool
	// Now returns the substitute timestamp. Defaults to time.Now.
	Now func() time.Time
}

// Entry is the computed value for one image.
type Entry struct {
	ImageID   int64     `json:"image_id"`
	Name      string    `json:"name"`
	DateTaken time.Time `json:"date_taken"`
	Source    Source    `json:"source"`
}

// Report summarizes a run.
type Report struct {
	Entries   []Entry `json:"entries"`
	Persisted bool    `json:"persisted"`
}

// Count returns how many entries came from src.
func (r *Report) Count(src Source) int {
	n := 0
	for _, e := range r.Entries {
		if e.Source == src {
			n++
		}
	}
	return n
}

// Run computes date_taken for every image that lacks one. A file missing from
// the backend gets the current time; any other read error aborts the run and
// is returned along with the entries computed so far. Values are written only
// when opts.Persist is set.
func Run(ctx context.Context, store metadata.Store, images storage.Backend, opts Options) (*Report, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	pending, err := store.ImagesMissingDateTaken(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing images without date_taken: %w", err)
	}

	report := &Report{Entries: make([]Entry, 0, len(pending)), Persisted: opts.Persist}
	for _, img := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		taken, src, err := dateTaken(ctx, images, img.Name, now)
		if err != nil {
			return report, fmt.Errorf("image %d (%s): %w", img.ID, img.Name, err)
		}
		if opts.Persist {
			if err := store.SetDateTaken(ctx, img.ID, taken); err != nil {
				return report, fmt.Errorf("storing date_taken for image %d: %w", img.ID, err)
			}
		}
		slog.Debug("Backfilled date_taken", "id", img.ID, "date_taken", taken, "source", src)
		report.Entries = append(report.Entries, Entry{
			ImageID:   img.ID,
			Name:      img.Name,
			DateTaken: taken,
			Source:    src,
		})
	}

	slog.Info("Backfill finished",
		"images", len(report.Entries),
		"exif", report.Count(SourceExif),
		"missing_file", report.Count(SourceMissingFile),
		"no_exif", report.Count(SourceNoExif),
		"persisted", opts.Persist,
	)
	return report, nil
}

func dateTaken(ctx context.Context, images storage.Backend, name string, now func() time.Time) (time.Time, Source, error) {
	rc, err := images.Open(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return now(), SourceMissingFile, nil
	}
	if err != nil {
		return time.Time{}, "", fmt.Errorf("opening file: %w", err)
	}
	defer rc.Close()

	t, err := exif.ReadDateTaken(rc)
	switch {
	case errors.Is(err, exif.ErrNoTimestamp):
		return now(), SourceNoExif, nil
	case err != nil:
		return time.Time{}, "", fmt.Errorf("reading EXIF: %w", err)
	}
	return t, SourceExif, nil
}
