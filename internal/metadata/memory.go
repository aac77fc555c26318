package metadata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store with in-memory maps. It backs tests and
// ephemeral runs, and is the in-memory state of LocalStore.
type MemoryStore struct {
	mu          sync.RWMutex
	images      map[int64]*ImageRecord
	albums      map[int64]*AlbumRecord
	members     map[int64]map[int64]struct{} // album ID -> image IDs
	nextImageID int64
	nextAlbumID int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		images:      make(map[int64]*ImageRecord),
		albums:      make(map[int64]*AlbumRecord),
		members:     make(map[int64]map[int64]struct{}),
		nextImageID: 1,
		nextAlbumID: 1,
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func copyImage(img *ImageRecord) ImageRecord {
	c := *img
	if img.DateTaken != nil {
		t := *img.DateTaken
		c.DateTaken = &t
	}
	if img.AlbumID != nil {
		id := *img.AlbumID
		c.AlbumID = &id
	}
	return c
}

func (s *MemoryStore) CreateImage(ctx context.Context, img *ImageRecord) error {
	if err := validateImage(img); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	img.ID = s.nextImageID
	if img.CreatedAt.IsZero() {
		img.CreatedAt = time.Now().UTC()
	}
	s.putImageLocked(img)
	return nil
}

// putImageLocked stores a copy of img under its own ID.
func (s *MemoryStore) putImageLocked(img *ImageRecord) {
	c := copyImage(img)
	s.images[c.ID] = &c
	if c.ID >= s.nextImageID {
		s.nextImageID = c.ID + 1
	}
}

func (s *MemoryStore) GetImage(ctx context.Context, id int64) (*ImageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	img, ok := s.images[id]
	if !ok {
		return nil, nil
	}
	c := copyImage(img)
	return &c, nil
}

// imagesLocked returns copies of the images accepted by keep, by ascending ID.
func (s *MemoryStore) imagesLocked(keep func(*ImageRecord) bool) []ImageRecord {
	var out []ImageRecord
	for _, img := range s.images {
		if keep(img) {
			out = append(out, copyImage(img))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) ListImages(ctx context.Context) ([]ImageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.imagesLocked(func(*ImageRecord) bool { return true })
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *MemoryStore) ImagesMissingDateTaken(ctx context.Context) ([]ImageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.imagesLocked(func(img *ImageRecord) bool { return img.DateTaken == nil }), nil
}

func (s *MemoryStore) SetDateTaken(ctx context.Context, id int64, t time.Time) error {
	if t.IsZero() {
		return ErrClearDateTaken
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setDateTakenLocked(id, t)
}

func (s *MemoryStore) setDateTakenLocked(id int64, t time.Time) error {
	img, ok := s.images[id]
	if !ok {
		return fmt.Errorf("image not found: %d", id)
	}
	t = t.UTC()
	img.DateTaken = &t
	return nil
}

func (s *MemoryStore) DeleteImage(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteImageLocked(id)
	return nil
}

func (s *MemoryStore) deleteImageLocked(id int64) {
	delete(s.images, id)
	for _, set := range s.members {
		delete(set, id)
	}
}

func (s *MemoryStore) CreateAlbum(ctx context.Context, album *AlbumRecord) error {
	if album == nil || album.Title == "" {
		return errors.New("metadata: album title is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	album.ID = s.nextAlbumID
	if album.CreatedAt.IsZero() {
		album.CreatedAt = time.Now().UTC()
	}
	s.putAlbumLocked(album)
	return nil
}

func (s *MemoryStore) putAlbumLocked(album *AlbumRecord) {
	c := *album
	s.albums[c.ID] = &c
	if c.ID >= s.nextAlbumID {
		s.nextAlbumID = c.ID + 1
	}
}

func (s *MemoryStore) GetAlbum(ctx context.Context, id int64) (*AlbumRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.albums[id]
	if !ok {
		return nil, nil
	}
	c := *a
	return &c, nil
}

func (s *MemoryStore) ListAlbums(ctx context.Context, ordering []string) ([]AlbumRecord, error) {
	s.mu.RLock()
	out := make([]AlbumRecord, 0, len(s.albums))
	for _, a := range s.albums {
		out = append(out, *a)
	}
	s.mu.RUnlock()

	SortAlbums(out, ordering)
	return out, nil
}

func (s *MemoryStore) AlbumImages(ctx context.Context, albumID int64) ([]ImageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.members[albumID]
	return s.imagesLocked(func(img *ImageRecord) bool {
		_, ok := set[img.ID]
		return ok
	}), nil
}

func (s *MemoryStore) ImageAlbums(ctx context.Context, imageID int64) ([]AlbumRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []AlbumRecord
	for albumID, set := range s.members {
		if _, ok := set[imageID]; !ok {
			continue
		}
		if a, ok := s.albums[albumID]; ok {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) AddImageToAlbum(ctx context.Context, albumID, imageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addMembershipLocked(albumID, imageID)
}

func (s *MemoryStore) addMembershipLocked(albumID, imageID int64) error {
	if _, ok := s.albums[albumID]; !ok {
		return fmt.Errorf("album not found: %d", albumID)
	}
	if _, ok := s.images[imageID]; !ok {
		return fmt.Errorf("image not found: %d", imageID)
	}
	if s.members[albumID] == nil {
		s.members[albumID] = make(map[int64]struct{})
	}
	s.members[albumID][imageID] = struct{}{}
	return nil
}

func (s *MemoryStore) Memberships(ctx context.Context) ([]Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.membershipsLocked(), nil
}

func (s *MemoryStore) membershipsLocked() []Membership {
	var out []Membership
	for albumID, set := range s.members {
		for imageID := range set {
			out = append(out, Membership{AlbumID: albumID, ImageID: imageID})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AlbumID != out[j].AlbumID {
			return out[i].AlbumID < out[j].AlbumID
		}
		return out[i].ImageID < out[j].ImageID
	})
	return out
}

func (s *MemoryStore) Counts(ctx context.Context) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.images), len(s.albums), nil
}

var _ Store = (*MemoryStore)(nil)
