package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// timeFormat is the ISO 8601 format used for timestamps stored as text.
	timeFormat = "2006-01-02T15:04:05.000Z"
)

// dialect captures what differs between the SQL engines sharing sqlStore.
type dialect struct {
	name string
	// rebind rewrites "?" placeholders into the engine's style.
	rebind func(query string) string
	// timeArg converts a time into a query argument.
	timeArg func(t time.Time) any
}

// sqlStore implements Store on database/sql. SQLiteStore and PostgresStore
// embed it and differ only in schema and dialect.
type sqlStore struct {
	db *sql.DB
	d  dialect
}

// questionMarks keeps "?" placeholders as they are.
func questionMarks(q string) string { return q }

// dollarPlaceholders rewrites "?" placeholders to "$1", "$2", ...
func dollarPlaceholders(q string) string {
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func textTime(t time.Time) any { return t.UTC().Format(timeFormat) }

func nativeTime(t time.Time) any { return t.UTC() }

// parseDBTime converts a scanned timestamp column into a time. SQLite hands
// back text, Postgres a time.Time.
func parseDBTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return t.UTC(), true
	case string:
		return parseTimeText(t)
	case []byte:
		return parseTimeText(string(t))
	}
	return time.Time{}, false
}

func parseTimeText(s string) (time.Time, bool) {
	for _, layout := range []string{timeFormat, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func (s *sqlStore) q(query string) string { return s.d.rebind(query) }

// Close closes the underlying database connection.
func (s *sqlStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks connectivity to the database.
func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- Image operations ----

const imageColumns = `id, name, thumbnail, title, date_taken, created_at, album_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImage(row rowScanner) (*ImageRecord, error) {
	var img ImageRecord
	var dateTaken, createdAt any
	var albumID sql.NullInt64
	if err := row.Scan(&img.ID, &img.Name, &img.Thumbnail, &img.Title, &dateTaken, &createdAt, &albumID); err != nil {
		return nil, err
	}
	if t, ok := parseDBTime(dateTaken); ok {
		img.DateTaken = &t
	}
	img.CreatedAt, _ = parseDBTime(createdAt)
	if albumID.Valid {
		id := albumID.Int64
		img.AlbumID = &id
	}
	return &img, nil
}

func (s *sqlStore) queryImages(ctx context.Context, query string, args ...any) ([]ImageRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []ImageRecord
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		images = append(images, *img)
	}
	return images, rows.Err()
}

// CreateImage inserts a new image row.
func (s *sqlStore) CreateImage(ctx context.Context, img *ImageRecord) error {
	if err := validateImage(img); err != nil {
		return err
	}
	if img.CreatedAt.IsZero() {
		img.CreatedAt = time.Now().UTC()
	}
	var dateTaken any
	if img.DateTaken != nil {
		dateTaken = s.d.timeArg(*img.DateTaken)
	}
	var albumID any
	if img.AlbumID != nil {
		albumID = *img.AlbumID
	}

	err := s.db.QueryRowContext(ctx, s.q(
		`INSERT INTO images (name, thumbnail, title, date_taken, created_at, album_id)
		 VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		img.Name, img.Thumbnail, img.Title, dateTaken, s.d.timeArg(img.CreatedAt), albumID,
	).Scan(&img.ID)
	if err != nil {
		return fmt.Errorf("creating image %q: %w", img.Name, err)
	}
	return nil
}

// GetImage retrieves an image by ID.
func (s *sqlStore) GetImage(ctx context.Context, id int64) (*ImageRecord, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+imageColumns+` FROM images WHERE id = ?`), id)
	img, err := scanImage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting image %d: %w", id, err)
	}
	return img, nil
}

// ListImages returns all images, newest first.
func (s *sqlStore) ListImages(ctx context.Context) ([]ImageRecord, error) {
	images, err := s.queryImages(ctx, `SELECT `+imageColumns+` FROM images ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing images: %w", err)
	}
	return images, nil
}

// ImagesMissingDateTaken returns images with no date_taken.
func (s *sqlStore) ImagesMissingDateTaken(ctx context.Context) ([]ImageRecord, error) {
	images, err := s.queryImages(ctx, `SELECT `+imageColumns+` FROM images WHERE date_taken IS NULL ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing images missing date_taken: %w", err)
	}
	return images, nil
}

// SetDateTaken stores date_taken for an image.
func (s *sqlStore) SetDateTaken(ctx context.Context, id int64, t time.Time) error {
	if t.IsZero() {
		return ErrClearDateTaken
	}
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE images SET date_taken = ? WHERE id = ?`), s.d.timeArg(t), id)
	if err != nil {
		return fmt.Errorf("setting date_taken of image %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("image not found: %d", id)
	}
	return nil
}

// DeleteImage removes an image and its memberships.
func (s *sqlStore) DeleteImage(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM album_images WHERE image_id = ?`), id); err != nil {
		return fmt.Errorf("deleting memberships of image %d: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM images WHERE id = ?`), id); err != nil {
		return fmt.Errorf("deleting image %d: %w", id, err)
	}
	return tx.Commit()
}

// ---- Album operations ----

const albumSelect = `SELECT id, title, "order", created_at FROM albums`

func scanAlbum(row rowScanner) (*AlbumRecord, error) {
	var a AlbumRecord
	var createdAt any
	if err := row.Scan(&a.ID, &a.Title, &a.Order, &createdAt); err != nil {
		return nil, err
	}
	a.CreatedAt, _ = parseDBTime(createdAt)
	return &a, nil
}

func (s *sqlStore) queryAlbums(ctx context.Context, query string, args ...any) ([]AlbumRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var albums []AlbumRecord
	for rows.Next() {
		a, err := scanAlbum(rows)
		if err != nil {
			return nil, err
		}
		albums = append(albums, *a)
	}
	return albums, rows.Err()
}

// CreateAlbum inserts a new album row.
func (s *sqlStore) CreateAlbum(ctx context.Context, album *AlbumRecord) error {
	if album == nil || album.Title == "" {
		return errors.New("metadata: album title is required")
	}
	if album.CreatedAt.IsZero() {
		album.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, s.q(
		`INSERT INTO albums (title, "order", created_at) VALUES (?, ?, ?) RETURNING id`),
		album.Title, album.Order, s.d.timeArg(album.CreatedAt),
	).Scan(&album.ID)
	if err != nil {
		return fmt.Errorf("creating album %q: %w", album.Title, err)
	}
	return nil
}

// GetAlbum retrieves an album by ID.
func (s *sqlStore) GetAlbum(ctx context.Context, id int64) (*AlbumRecord, error) {
	a, err := scanAlbum(s.db.QueryRowContext(ctx, s.q(albumSelect+` WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting album %d: %w", id, err)
	}
	return a, nil
}

// ListAlbums returns all albums in the given ordering.
func (s *sqlStore) ListAlbums(ctx context.Context, ordering []string) ([]AlbumRecord, error) {
	albums, err := s.queryAlbums(ctx, albumSelect+` `+albumOrderBy(ordering))
	if err != nil {
		return nil, fmt.Errorf("listing albums: %w", err)
	}
	return albums, nil
}

// AlbumImages returns the images in an album.
func (s *sqlStore) AlbumImages(ctx context.Context, albumID int64) ([]ImageRecord, error) {
	images, err := s.queryImages(ctx,
		`SELECT i.id, i.name, i.thumbnail, i.title, i.date_taken, i.created_at, i.album_id
		 FROM images i JOIN album_images ai ON ai.image_id = i.id
		 WHERE ai.album_id = ? ORDER BY i.id ASC`, albumID)
	if err != nil {
		return nil, fmt.Errorf("listing images of album %d: %w", albumID, err)
	}
	return images, nil
}

// ImageAlbums returns the albums an image belongs to.
func (s *sqlStore) ImageAlbums(ctx context.Context, imageID int64) ([]AlbumRecord, error) {
	albums, err := s.queryAlbums(ctx,
		`SELECT a.id, a.title, a."order", a.created_at
		 FROM albums a JOIN album_images ai ON ai.album_id = a.id
		 WHERE ai.image_id = ? ORDER BY a.id ASC`, imageID)
	if err != nil {
		return nil, fmt.Errorf("listing albums of image %d: %w", imageID, err)
	}
	return albums, nil
}

// AddImageToAlbum records membership, ignoring duplicates.
func (s *sqlStore) AddImageToAlbum(ctx context.Context, albumID, imageID int64) error {
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO album_images (album_id, image_id) VALUES (?, ?) ON CONFLICT DO NOTHING`),
		albumID, imageID,
	)
	if err != nil {
		return fmt.Errorf("adding image %d to album %d: %w", imageID, albumID, err)
	}
	return nil
}

// Memberships returns every album/image link.
func (s *sqlStore) Memberships(ctx context.Context) ([]Membership, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT album_id, image_id FROM album_images ORDER BY album_id, image_id`)
	if err != nil {
		return nil, fmt.Errorf("listing memberships: %w", err)
	}
	defer rows.Close()

	var out []Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.AlbumID, &m.ImageID); err != nil {
			return nil, fmt.Errorf("scanning membership: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Counts returns the number of images and albums.
func (s *sqlStore) Counts(ctx context.Context) (int, int, error) {
	var images, albums int
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM images), (SELECT COUNT(*) FROM albums)`,
	).Scan(&images, &albums)
	if err != nil {
		return 0, 0, fmt.Errorf("counting records: %w", err)
	}
	return images, albums, nil
}
