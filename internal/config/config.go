// Package config handles loading and parsing of galleryd configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for galleryd.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Auth          AuthConfig          `yaml:"auth"`
	Metadata      MetadataConfig      `yaml:"metadata"`
	Storage       StorageConfig       `yaml:"storage"`
	Gallery       GalleryConfig       `yaml:"gallery"`
	Thumbnails    ThumbnailConfig     `yaml:"thumbnails"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host" env:"GALLERYD_HOST"`
	Port int    `yaml:"port" env:"GALLERYD_PORT"`
	// ShutdownTimeout is the graceful shutdown window in seconds.
	ShutdownTimeout int `yaml:"shutdown_timeout" env:"GALLERYD_SHUTDOWN_TIMEOUT"`
	// MaxUploadSize caps the multipart body of a single upload request in bytes.
	MaxUploadSize int64 `yaml:"max_upload_size" env:"GALLERYD_MAX_UPLOAD_SIZE"`
	// StaticDir is served under /static/ when set (theme stylesheets, logo).
	StaticDir string `yaml:"static_dir" env:"GALLERYD_STATIC_DIR"`
}

// AuthConfig holds the credentials required for uploading. Uploads are
// refused when neither Password nor PasswordHash is set.
type AuthConfig struct {
	Username string `yaml:"username" env:"GALLERYD_AUTH_USERNAME"`
	Password string `yaml:"password" env:"GALLERYD_AUTH_PASSWORD"`
	// PasswordHash is a bcrypt hash; it takes precedence over Password.
	PasswordHash string `yaml:"password_hash" env:"GALLERYD_AUTH_PASSWORD_HASH"`
	// Realm is sent in the WWW-Authenticate challenge.
	Realm string `yaml:"realm"`
}

// MetadataConfig holds metadata store settings.
type MetadataConfig struct {
	// Engine is the metadata backend engine ("sqlite", "postgres", "local",
	// "memory").
	Engine   string          `yaml:"engine" env:"GALLERYD_METADATA_ENGINE"`
	SQLite   SQLiteConfig    `yaml:"sqlite"`
	Postgres PostgresConfig  `yaml:"postgres"`
	Local    LocalMetaConfig `yaml:"local"`
}

// LocalMetaConfig holds settings for the JSONL journal metadata store.
type LocalMetaConfig struct {
	RootDir          string `yaml:"root_dir" env:"GALLERYD_METADATA_ROOT"`
	CompactOnStartup bool   `yaml:"compact_on_startup"`
}

// SQLiteConfig holds SQLite-specific metadata store settings.
type SQLiteConfig struct {
	// Path is the filesystem path for the SQLite database file.
	Path string `yaml:"path" env:"GALLERYD_SQLITE_PATH"`
}

// PostgresConfig holds PostgreSQL metadata store settings.
type PostgresConfig struct {
	DSN string `yaml:"dsn" env:"GALLERYD_POSTGRES_DSN"`
	// Driver is the database/sql driver name: "pgx" or "postgres" (lib/pq).
	Driver string `yaml:"driver" env:"GALLERYD_POSTGRES_DRIVER"`
}

// BackendDefinition describes one storage backend by class name plus the
// class-specific options.
type BackendDefinition struct {
	// Class selects the backend implementation ("local", "s3", "gcs",
	// "azure", "sqlite", "memory").
	Class   string            `yaml:"class"`
	Options map[string]string `yaml:"options"`
}

// StorageConfig holds the settings the storage resolver works from.
type StorageConfig struct {
	// RegistrySupported reports whether named backends in Registry are
	// honoured. When false only the legacy class settings are consulted.
	RegistrySupported bool `yaml:"registry_supported" env:"GALLERYD_STORAGE_REGISTRY_SUPPORTED"`
	// Registry maps backend names ("default", "gallery", "gallery_thumbnails")
	// to definitions.
	Registry map[string]BackendDefinition `yaml:"registry"`
	// GalleryStorage is the legacy class name for original images.
	GalleryStorage string `yaml:"gallery_storage" env:"GALLERYD_GALLERY_STORAGE"`
	// GalleryThumbnailStorage is the legacy class name for thumbnails.
	GalleryThumbnailStorage string `yaml:"gallery_thumbnail_storage" env:"GALLERYD_GALLERY_THUMBNAIL_STORAGE"`
	// Options are the class options used with the legacy class settings.
	Options map[string]string `yaml:"options"`
	Local   LocalConfig       `yaml:"local"`
}

// LocalConfig holds the default local filesystem storage settings.
type LocalConfig struct {
	// RootDir is the base directory for the default local storage.
	RootDir string `yaml:"root_dir" env:"GALLERYD_STORAGE_ROOT"`
	// BaseURL is the URL prefix files are served under.
	BaseURL string `yaml:"base_url"`
}

// GalleryConfig holds page settings injected into every rendered page.
type GalleryConfig struct {
	Title       string `yaml:"title" env:"GALLERYD_TITLE"`
	LogoPath    string `yaml:"logo_path"`
	HDPIFactor  int    `yaml:"hdpi_factor"`
	ImageMargin int    `yaml:"image_margin"`
	FooterInfo  string `yaml:"footer_info"`
	FooterEmail string `yaml:"footer_email"`
	ThemeColor  string `yaml:"theme_color"`
	// AlbumOrder overrides the album list ordering, e.g. ["-created_at"].
	AlbumOrder []string `yaml:"album_order"`
}

// ThumbnailConfig holds thumbnail generation settings.
type ThumbnailConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"GALLERYD_LOG_LEVEL"`
	Format string `yaml:"format" env:"GALLERYD_LOG_FORMAT"`
	// File enables an additional rotated JSON log file.
	File string `yaml:"file" env:"GALLERYD_LOG_FILE"`
}

// ObservabilityConfig toggles the metrics endpoint.
type ObservabilityConfig struct {
	Metrics bool `yaml:"metrics" env:"GALLERYD_METRICS"`
}

// Load reads a YAML configuration file from the given path, applies
// GALLERYD_* environment overrides and returns the parsed Config. If the
// primary path fails, it falls back to galleryd.example.yaml in the same
// directory or parent directory, and finally to built-in defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		fallbackPaths := []string{
			filepath.Join(filepath.Dir(path), "galleryd.example.yaml"),
			filepath.Join(filepath.Dir(path), "..", "galleryd.example.yaml"),
		}
		var fallbackErr error
		for _, fp := range fallbackPaths {
			data, fallbackErr = os.ReadFile(fp)
			if fallbackErr == nil {
				break
			}
		}
		if fallbackErr != nil {
			data = nil
		}
	}

	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	applyDefaults(cfg)

	return cfg, nil
}

// Default returns a Config populated only with defaults.
func Default() *Config {
	cfg := defaultConfig()
	applyDefaults(cfg)
	return cfg
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ShutdownTimeout: 30,
			MaxUploadSize:   64 << 20,
		},
		Auth: AuthConfig{
			Username: "admin",
			Realm:    "galleryd",
		},
		Metadata: MetadataConfig{
			Engine: "sqlite",
			SQLite: SQLiteConfig{
				Path: "./data/gallery.db",
			},
			Postgres: PostgresConfig{
				Driver: "pgx",
			},
			Local: LocalMetaConfig{
				RootDir: "./data/metadata",
			},
		},
		Storage: StorageConfig{
			Local: LocalConfig{
				RootDir: "./data/media",
			},
		},
		Gallery: GalleryConfig{
			Title:       "Gallery",
			HDPIFactor:  1,
			ImageMargin: 6,
			ThemeColor:  "dark",
		},
		Thumbnails: ThumbnailConfig{
			Width:  300,
			Height: 300,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Observability: ObservabilityConfig{
			Metrics: true,
		},
	}
}

// applyDefaults fills in any fields that are still at their zero value
// after YAML and environment parsing.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30
	}
	if cfg.Server.MaxUploadSize == 0 {
		cfg.Server.MaxUploadSize = 64 << 20
	}
	if cfg.Auth.Realm == "" {
		cfg.Auth.Realm = "galleryd"
	}
	if cfg.Metadata.Engine == "" {
		cfg.Metadata.Engine = "sqlite"
	}
	if cfg.Metadata.SQLite.Path == "" {
		cfg.Metadata.SQLite.Path = "./data/gallery.db"
	}
	if cfg.Metadata.Postgres.Driver == "" {
		cfg.Metadata.Postgres.Driver = "pgx"
	}
	if cfg.Metadata.Local.RootDir == "" {
		cfg.Metadata.Local.RootDir = "./data/metadata"
	}
	if cfg.Storage.Local.RootDir == "" {
		cfg.Storage.Local.RootDir = "./data/media"
	}
	if cfg.Gallery.Title == "" {
		cfg.Gallery.Title = "Gallery"
	}
	if cfg.Gallery.HDPIFactor == 0 {
		cfg.Gallery.HDPIFactor = 1
	}
	if cfg.Gallery.ThemeColor == "" {
		cfg.Gallery.ThemeColor = "dark"
	}
	if cfg.Thumbnails.Width == 0 {
		cfg.Thumbnails.Width = 300
	}
	if cfg.Thumbnails.Height == 0 {
		cfg.Thumbnails.Height = 300
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}
