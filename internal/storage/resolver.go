package storage

import (
	"context"
	"log/slog"
	"sync"

	"github.com/galleryd/galleryd/internal/config"
)

// Registry entry names consulted by the resolver.
const (
	RegistryDefault    = "default"
	RegistryImages     = "gallery"
	RegistryThumbnails = "gallery_thumbnails"
)

// URL prefixes for backends that do not serve files themselves.
const (
	ImagesURLPrefix     = "/media/images"
	ThumbnailsURLPrefix = "/media/thumbnails"
)

// Handles are the resolved backends for original images and thumbnails.
// Thumbnails may share the Images backend.
type Handles struct {
	Images     Backend
	Thumbnails Backend
}

// SharedBackend reports whether thumbnails are stored in the image backend.
func (h Handles) SharedBackend() bool {
	return h.Images == h.Thumbnails
}

// step is one link of a resolution chain. It reports false when the source it
// consults is not configured or cannot be built.
type step func(ctx context.Context) (Backend, bool)

// firstOf runs the steps in order and returns the first hit.
func firstOf(ctx context.Context, steps ...step) (Backend, bool) {
	for _, s := range steps {
		if b, ok := s(ctx); ok {
			return b, true
		}
	}
	return nil, false
}

// Resolver picks the storage backends for images and thumbnails from the
// storage configuration. Resolution never fails: anything that is not
// configured or does not build is logged and skipped.
type Resolver struct {
	cfg     config.StorageConfig
	classes map[string]Factory

	imageOnce sync.Once
	image     Backend

	thumbOnce sync.Once
	thumb     Backend

	handlesOnce sync.Once
	handles     Handles
}

// ResolverOption customizes a Resolver.
type ResolverOption func(*Resolver)

// WithClass registers (or replaces) a backend class.
func WithClass(name string, f Factory) ResolverOption {
	return func(r *Resolver) {
		r.classes[name] = f
	}
}

// NewResolver creates a Resolver over the built-in backend classes.
func NewResolver(cfg config.StorageConfig, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		cfg:     cfg,
		classes: DefaultClasses(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveImageStorage returns the backend for original images: the
// "gallery" registry entry, then the legacy gallery_storage class, then the
// default backend. The result is memoized.
func (r *Resolver) ResolveImageStorage(ctx context.Context) Backend {
	r.imageOnce.Do(func() {
		b, _ := firstOf(ctx,
			r.registryStep(RegistryImages, ImagesURLPrefix),
			r.legacyStep("gallery_storage", r.cfg.GalleryStorage, ImagesURLPrefix),
			r.defaultStep(),
		)
		slog.Info("Image storage resolved", "class", b.Class())
		r.image = b
	})
	return r.image
}

// ResolveThumbnailStorage returns the backend for thumbnails: the
// "gallery_thumbnails" registry entry, then the legacy
// gallery_thumbnail_storage class, then the image backend itself. The result
// is memoized.
func (r *Resolver) ResolveThumbnailStorage(ctx context.Context) Backend {
	r.thumbOnce.Do(func() {
		b, ok := firstOf(ctx,
			r.registryStep(RegistryThumbnails, ThumbnailsURLPrefix),
			r.legacyStep("gallery_thumbnail_storage", r.cfg.GalleryThumbnailStorage, ThumbnailsURLPrefix),
		)
		if ok {
			slog.Info("Thumbnail storage resolved", "class", b.Class())
			r.thumb = b
			return
		}
		slog.Debug("Thumbnail storage falls back to image storage")
		r.thumb = r.ResolveImageStorage(ctx)
	})
	return r.thumb
}

// Handles resolves both backends once and returns the same value on every
// call.
func (r *Resolver) Handles(ctx context.Context) Handles {
	r.handlesOnce.Do(func() {
		r.handles = Handles{
			Images:     r.ResolveImageStorage(ctx),
			Thumbnails: r.ResolveThumbnailStorage(ctx),
		}
	})
	return r.handles
}

func (r *Resolver) registryStep(name, urlPrefix string) step {
	return func(ctx context.Context) (Backend, bool) {
		if !r.cfg.RegistrySupported {
			return nil, false
		}
		def, ok := r.cfg.Registry[name]
		if !ok || def.Class == "" {
			slog.Debug("Storage registry entry not configured", "entry", name)
			return nil, false
		}
		return r.build(ctx, "registry:"+name, def.Class, Options(def.Options), urlPrefix)
	}
}

func (r *Resolver) legacyStep(setting, class, urlPrefix string) step {
	return func(ctx context.Context) (Backend, bool) {
		if class == "" {
			slog.Debug("Legacy storage setting not configured", "setting", setting)
			return nil, false
		}
		return r.build(ctx, setting, class, Options(r.cfg.Options), urlPrefix)
	}
}

// defaultStep always produces a backend: the "default" registry entry, local
// disk, or memory.
func (r *Resolver) defaultStep() step {
	return func(ctx context.Context) (Backend, bool) {
		b, ok := firstOf(ctx,
			func(ctx context.Context) (Backend, bool) {
				def, ok := r.cfg.Registry[RegistryDefault]
				if !ok || def.Class == "" {
					return nil, false
				}
				return r.build(ctx, "registry:"+RegistryDefault, def.Class, Options(def.Options), ImagesURLPrefix)
			},
			func(ctx context.Context) (Backend, bool) {
				if r.cfg.Local.RootDir == "" {
					return nil, false
				}
				return r.build(ctx, "local", ClassLocal, nil, ImagesURLPrefix)
			},
		)
		if ok {
			return b, true
		}
		slog.Warn("No usable storage configured, keeping images in memory")
		return NewMemoryBackend(ImagesURLPrefix, 0), true
	}
}

func (r *Resolver) build(ctx context.Context, source, class string, opts Options, urlPrefix string) (Backend, bool) {
	baseURL := urlPrefix
	if r.cfg.Local.BaseURL != "" && class == ClassLocal {
		baseURL = r.cfg.Local.BaseURL
	}
	opts = opts.merge(Options{
		"root_dir": r.cfg.Local.RootDir,
		"base_url": baseURL,
	})
	b, err := Build(ctx, r.classes, class, opts)
	if err != nil {
		slog.Warn("Storage backend unavailable, falling through", "source", source, "class", class, "error", err)
		return nil, false
	}
	return b, true
}
