package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/galleryd/galleryd/internal/uid"
)

// tmpDirName holds in-progress writes under the root directory.
const tmpDirName = ".tmp"

// LocalBackend implements Backend using the local filesystem. Files are
// stored under a configurable root directory.
type LocalBackend struct {
	// RootDir is the base directory under which all files are stored.
	RootDir string
	// BaseURL is the URL prefix files are served under.
	BaseURL string
}

// NewLocalBackend creates a new LocalBackend rooted at the given directory.
// It creates the root directory and the temp directory if they do not exist.
func NewLocalBackend(rootDir, baseURL string) (*LocalBackend, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage root directory %q: %w", rootDir, err)
	}
	// Create the .tmp directory for atomic writes.
	tmpDir := filepath.Join(rootDir, tmpDirName)
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating temp directory %q: %w", tmpDir, err)
	}
	return &LocalBackend{RootDir: rootDir, BaseURL: baseURL}, nil
}

// Class implements Backend.
func (b *LocalBackend) Class() string { return ClassLocal }

// CleanTempFiles removes all files in the .tmp directory. Any temp files left
// behind indicate incomplete writes from a previous crash.
func (b *LocalBackend) CleanTempFiles() error {
	tmpDir := filepath.Join(b.RootDir, tmpDirName)
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading temp directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			os.Remove(filepath.Join(tmpDir, entry.Name()))
		}
	}
	return nil
}

func (b *LocalBackend) filePath(name string) string {
	return filepath.Join(b.RootDir, filepath.FromSlash(name))
}

func (b *LocalBackend) tempPath() string {
	return filepath.Join(b.RootDir, tmpDirName, "tmp-"+uid.New())
}

// Save writes the content using the crash-only atomic write pattern: write
// to temp file, fsync, then hard-link into place. os.Link fails when the
// destination exists, so a concurrent upload of the same name never replaces
// another one.
func (b *LocalBackend) Save(ctx context.Context, name string, content io.Reader) (string, error) {
	name, err := cleanName(name)
	if err != nil {
		return "", err
	}

	tmpPath := b.tempPath()
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmpFile, content); err != nil {
		tmpFile.Close()
		return "", fmt.Errorf("writing file data: %w", err)
	}

	// Fsync before linking to guarantee durability.
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return "", fmt.Errorf("syncing temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return "", fmt.Errorf("closing temp file: %w", err)
	}

	return claimName(ctx, b, name, func(candidate string) error {
		dst := b.filePath(candidate)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("creating parent directories for %q: %w", candidate, err)
		}
		if err := os.Link(tmpPath, dst); err != nil {
			if errors.Is(err, fs.ErrExist) {
				return errNameTaken
			}
			return fmt.Errorf("linking temp file to final path: %w", err)
		}
		return nil
	})
}

// Open opens the file for reading. Directories are reported as not found.
func (b *LocalBackend) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	if name == tmpDirName || strings.HasPrefix(name, tmpDirName+"/") {
		return nil, notFound(name)
	}
	file, err := os.Open(b.filePath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound(name)
		}
		return nil, fmt.Errorf("opening file %q: %w", name, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat file %q: %w", name, err)
	}
	if info.IsDir() {
		file.Close()
		return nil, notFound(name)
	}
	return file, nil
}

// URL implements Backend.
func (b *LocalBackend) URL(name string) string {
	return joinURL(b.BaseURL, name)
}

// Delete removes the file and any parent directories left empty.
// Idempotent: deleting a non-existent file is not an error.
func (b *LocalBackend) Delete(ctx context.Context, name string) error {
	name, err := cleanName(name)
	if err != nil {
		return err
	}
	p := b.filePath(name)
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing file %q: %w", name, err)
	}
	cleanEmptyParents(filepath.Dir(p), b.RootDir)
	return nil
}

// Exists checks whether a regular file with the given name exists.
func (b *LocalBackend) Exists(ctx context.Context, name string) (bool, error) {
	name, err := cleanName(name)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(b.filePath(name))
	if err == nil {
		return !info.IsDir(), nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("checking file existence %q: %w", name, err)
}

// HealthCheck verifies that the local storage root directory is accessible.
func (b *LocalBackend) HealthCheck(ctx context.Context) error {
	_, err := os.Stat(b.RootDir)
	return err
}

// cleanEmptyParents removes empty directories starting from dir up to (but not
// including) stopAt.
func cleanEmptyParents(dir, stopAt string) {
	dir = filepath.Clean(dir)
	stopAt = filepath.Clean(stopAt)

	for dir != stopAt && strings.HasPrefix(dir, stopAt) {
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}
}

var _ Backend = (*LocalBackend)(nil)
