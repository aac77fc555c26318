package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "galleryd.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("Port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.Metadata.Engine != "sqlite" {
		t.Errorf("Engine = %q, want sqlite", cfg.Metadata.Engine)
	}
	if cfg.Storage.RegistrySupported {
		t.Error("RegistrySupported = true, want false")
	}
	if cfg.Storage.GalleryStorage != "" {
		t.Errorf("GalleryStorage = %q, want empty", cfg.Storage.GalleryStorage)
	}
}

func TestLoadStorageRegistry(t *testing.T) {
	path := writeConfig(t, `
storage:
  registry_supported: true
  registry:
    gallery:
      class: s3
      options:
        bucket: photos
        region: eu-west-1
  gallery_thumbnail_storage: local
gallery:
  title: Holidays
  album_order: ["-created_at", "title"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Storage.RegistrySupported {
		t.Error("RegistrySupported = false, want true")
	}
	def, ok := cfg.Storage.Registry["gallery"]
	if !ok {
		t.Fatal("registry entry gallery missing")
	}
	if def.Class != "s3" || def.Options["bucket"] != "photos" {
		t.Errorf("gallery definition = %+v", def)
	}
	if cfg.Storage.GalleryThumbnailStorage != "local" {
		t.Errorf("GalleryThumbnailStorage = %q, want local", cfg.Storage.GalleryThumbnailStorage)
	}
	if cfg.Gallery.Title != "Holidays" {
		t.Errorf("Title = %q, want Holidays", cfg.Gallery.Title)
	}
	if len(cfg.Gallery.AlbumOrder) != 2 || cfg.Gallery.AlbumOrder[0] != "-created_at" {
		t.Errorf("AlbumOrder = %v", cfg.Gallery.AlbumOrder)
	}
	// Untouched sections still receive defaults.
	if cfg.Thumbnails.Width != 300 {
		t.Errorf("Thumbnails.Width = %d, want 300", cfg.Thumbnails.Width)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9100\n")
	t.Setenv("GALLERYD_PORT", "9200")
	t.Setenv("GALLERYD_GALLERY_STORAGE", "memory")
	t.Setenv("GALLERYD_STORAGE_REGISTRY_SUPPORTED", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9200 {
		t.Errorf("Port = %d, want 9200", cfg.Server.Port)
	}
	if cfg.Storage.GalleryStorage != "memory" {
		t.Errorf("GalleryStorage = %q, want memory", cfg.Storage.GalleryStorage)
	}
	if !cfg.Storage.RegistrySupported {
		t.Error("RegistrySupported = false, want true")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [unclosed")
	if _, err := Load(path); err == nil {
		t.Fatal("Load succeeded on invalid YAML")
	}
}
