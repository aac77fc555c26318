package storage

import (
	"context"
	"errors"
	"io"

	"github.com/galleryd/galleryd/internal/metrics"
)

// InstrumentedBackend wraps a Backend and counts every call in
// metrics.StorageOperationsTotal.
type InstrumentedBackend struct {
	Backend
}

// Instrument wraps b unless it is already instrumented or nil.
func Instrument(b Backend) Backend {
	if b == nil {
		return nil
	}
	if _, ok := b.(*InstrumentedBackend); ok {
		return b
	}
	return &InstrumentedBackend{Backend: b}
}

// InstrumentHandles wraps both handles, keeping a shared backend shared.
func InstrumentHandles(h Handles) Handles {
	images := Instrument(h.Images)
	thumbs := images
	if !h.SharedBackend() {
		thumbs = Instrument(h.Thumbnails)
	}
	return Handles{Images: images, Thumbnails: thumbs}
}

func (b *InstrumentedBackend) record(op string, err error) {
	status := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		status = "not_found"
	default:
		status = "error"
	}
	metrics.StorageOperationsTotal.WithLabelValues(b.Backend.Class(), op, status).Inc()
}

// Save implements Backend.
func (b *InstrumentedBackend) Save(ctx context.Context, name string, content io.Reader) (string, error) {
	stored, err := b.Backend.Save(ctx, name, content)
	b.record("save", err)
	return stored, err
}

// Open implements Backend.
func (b *InstrumentedBackend) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	rc, err := b.Backend.Open(ctx, name)
	b.record("open", err)
	return rc, err
}

// Delete implements Backend.
func (b *InstrumentedBackend) Delete(ctx context.Context, name string) error {
	err := b.Backend.Delete(ctx, name)
	b.record("delete", err)
	return err
}

// Exists implements Backend.
func (b *InstrumentedBackend) Exists(ctx context.Context, name string) (bool, error) {
	ok, err := b.Backend.Exists(ctx, name)
	b.record("exists", err)
	return ok, err
}

// Unwrap returns the wrapped backend.
func (b *InstrumentedBackend) Unwrap() Backend {
	return b.Backend
}

var _ Backend = (*InstrumentedBackend)(nil)
