package metadata

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	imagesFile  = "images.jsonl"
	albumsFile  = "albums.jsonl"
	membersFile = "album_images.jsonl"
)

// jsonlEntry is one line of a journal file. Later lines for the same ID
// replace earlier ones; Deleted marks a tombstone.
type jsonlEntry struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Deleted bool            `json:"_deleted,omitempty"`
	ID      int64           `json:"id,omitempty"`
}

// LocalStore implements Store as append-only JSONL journals in a directory,
// replayed into a MemoryStore on startup. It needs no database at all.
type LocalStore struct {
	// mu serializes journal appends so they follow the in-memory order.
	mu        sync.Mutex
	rootDir   string
	compactOn bool
	mem       *MemoryStore
}

// NewLocalStore opens (or creates) the journal directory and replays it.
// With compactOnStartup the journals are rewritten to one line per record.
func NewLocalStore(rootDir string, compactOnStartup bool) (*LocalStore, error) {
	if rootDir == "" {
		rootDir = "./data/metadata"
	}
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating metadata directory: %w", err)
	}

	s := &LocalStore{
		rootDir:   rootDir,
		compactOn: compactOnStartup,
		mem:       NewMemoryStore(),
	}
	if err := s.loadAll(); err != nil {
		return nil, fmt.Errorf("loading metadata: %w", err)
	}
	if s.compactOn {
		if err := s.compact(); err != nil {
			return nil, fmt.Errorf("compacting metadata: %w", err)
		}
	}
	return s, nil
}

func (s *LocalStore) loadAll() error {
	if err := s.loadAlbums(); err != nil {
		return err
	}
	if err := s.loadImages(); err != nil {
		return err
	}
	return s.loadMemberships()
}

func (s *LocalStore) loadAlbums() error {
	return s.loadJSONLFile(filepath.Join(s.rootDir, albumsFile), func(entry jsonlEntry) error {
		var album AlbumRecord
		if err := json.Unmarshal(entry.Data, &album); err != nil {
			return err
		}
		s.mem.putAlbumLocked(&album)
		return nil
	})
}

func (s *LocalStore) loadImages() error {
	return s.loadJSONLFile(filepath.Join(s.rootDir, imagesFile), func(entry jsonlEntry) error {
		if entry.Deleted {
			s.mem.deleteImageLocked(entry.ID)
			return nil
		}
		var img ImageRecord
		if err := json.Unmarshal(entry.Data, &img); err != nil {
			return err
		}
		s.mem.putImageLocked(&img)
		return nil
	})
}

func (s *LocalStore) loadMemberships() error {
	return s.loadJSONLFile(filepath.Join(s.rootDir, membersFile), func(entry jsonlEntry) error {
		var m Membership
		if err := json.Unmarshal(entry.Data, &m); err != nil {
			return err
		}
		// Memberships of deleted images are dropped silently.
		_ = s.mem.addMembershipLocked(m.AlbumID, m.ImageID)
		return nil
	})
}

func (s *LocalStore) loadJSONLFile(path string, handler func(jsonlEntry) error) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry jsonlEntry
		// A torn last line from a crash is skipped.
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if err := handler(entry); err != nil {
			return fmt.Errorf("replaying %s: %w", filepath.Base(path), err)
		}
	}
	return scanner.Err()
}

func (s *LocalStore) appendEntry(filename, typ string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.appendLine(filename, jsonlEntry{Type: typ, Data: data})
}

func (s *LocalStore) appendLine(filename string, entry jsonlEntry) error {
	f, err := os.OpenFile(filepath.Join(s.rootDir, filename), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// compact rewrites every journal from the current state via temp file and
// rename.
func (s *LocalStore) compact() error {
	s.mem.mu.RLock()
	images := s.mem.imagesLocked(func(*ImageRecord) bool { return true })
	albums := make([]AlbumRecord, 0, len(s.mem.albums))
	for _, a := range s.mem.albums {
		albums = append(albums, *a)
	}
	members := s.mem.membershipsLocked()
	s.mem.mu.RUnlock()

	SortAlbums(albums, []string{"id"})

	if err := rewriteJSONL(filepath.Join(s.rootDir, albumsFile), "album", albums); err != nil {
		return err
	}
	if err := rewriteJSONL(filepath.Join(s.rootDir, imagesFile), "image", images); err != nil {
		return err
	}
	return rewriteJSONL(filepath.Join(s.rootDir, membersFile), "membership", members)
}

func rewriteJSONL[T any](path, typ string, records []T) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
		line, _ := json.Marshal(jsonlEntry{Type: typ, Data: data})
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func (s *LocalStore) Ping(ctx context.Context) error {
	_, err := os.Stat(s.rootDir)
	return err
}

func (s *LocalStore) Close() error {
	return nil
}

func (s *LocalStore) CreateImage(ctx context.Context, img *ImageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mem.CreateImage(ctx, img); err != nil {
		return err
	}
	if err := s.appendEntry(imagesFile, "image", img); err != nil {
		return fmt.Errorf("journaling image %d: %w", img.ID, err)
	}
	return nil
}

func (s *LocalStore) GetImage(ctx context.Context, id int64) (*ImageRecord, error) {
	return s.mem.GetImage(ctx, id)
}

func (s *LocalStore) ListImages(ctx context.Context) ([]ImageRecord, error) {
	return s.mem.ListImages(ctx)
}

func (s *LocalStore) ImagesMissingDateTaken(ctx context.Context) ([]ImageRecord, error) {
	return s.mem.ImagesMissingDateTaken(ctx)
}

func (s *LocalStore) SetDateTaken(ctx context.Context, id int64, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mem.SetDateTaken(ctx, id, t); err != nil {
		return err
	}
	img, err := s.mem.GetImage(ctx, id)
	if err != nil || img == nil {
		return fmt.Errorf("image not found: %d", id)
	}
	if err := s.appendEntry(imagesFile, "image", img); err != nil {
		return fmt.Errorf("journaling image %d: %w", id, err)
	}
	return nil
}

func (s *LocalStore) DeleteImage(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mem.DeleteImage(ctx, id); err != nil {
		return err
	}
	if err := s.appendLine(imagesFile, jsonlEntry{Type: "image", Deleted: true, ID: id}); err != nil {
		return fmt.Errorf("journaling image deletion %d: %w", id, err)
	}
	return nil
}

func (s *LocalStore) CreateAlbum(ctx context.Context, album *AlbumRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mem.CreateAlbum(ctx, album); err != nil {
		return err
	}
	if err := s.appendEntry(albumsFile, "album", album); err != nil {
		return fmt.Errorf("journaling album %d: %w", album.ID, err)
	}
	return nil
}

func (s *LocalStore) GetAlbum(ctx context.Context, id int64) (*AlbumRecord, error) {
	return s.mem.GetAlbum(ctx, id)
}

func (s *LocalStore) ListAlbums(ctx context.Context, ordering []string) ([]AlbumRecord, error) {
	return s.mem.ListAlbums(ctx, ordering)
}

func (s *LocalStore) AlbumImages(ctx context.Context, albumID int64) ([]ImageRecord, error) {
	return s.mem.AlbumImages(ctx, albumID)
}

func (s *LocalStore) ImageAlbums(ctx context.Context, imageID int64) ([]AlbumRecord, error) {
	return s.mem.ImageAlbums(ctx, imageID)
}

func (s *LocalStore) AddImageToAlbum(ctx context.Context, albumID, imageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mem.AddImageToAlbum(ctx, albumID, imageID); err != nil {
		return err
	}
	m := Membership{AlbumID: albumID, ImageID: imageID}
	if err := s.appendEntry(membersFile, "membership", m); err != nil {
		return fmt.Errorf("journaling membership: %w", err)
	}
	return nil
}

func (s *LocalStore) Memberships(ctx context.Context) ([]Membership, error) {
	return s.mem.Memberships(ctx)
}

func (s *LocalStore) Counts(ctx context.Context) (int, int, error) {
	return s.mem.Counts(ctx)
}

var _ Store = (*LocalStore)(nil)
