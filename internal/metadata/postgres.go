package metadata

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "github.com/lib/pq"              // registers the "postgres" driver
)

// PostgresStore implements the Store interface on PostgreSQL. Either the pgx
// stdlib driver ("pgx") or lib/pq ("postgres") can be used.
type PostgresStore struct {
	sqlStore
}

// NewPostgresStore connects using the named database/sql driver and creates
// the schema if needed.
func NewPostgresStore(ctx context.Context, driver, dsn string) (*PostgresStore, error) {
	switch driver {
	case "":
		driver = "pgx"
	case "pgx", "postgres":
	default:
		return nil, fmt.Errorf("unsupported postgres driver %q (want pgx or postgres)", driver)
	}
	if dsn == "" {
		return nil, fmt.Errorf("postgres metadata store requires a dsn")
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	s := &PostgresStore{sqlStore{
		db: db,
		d:  dialect{name: "postgres", rebind: dollarPlaceholders, timeArg: nativeTime},
	}}
	if err := s.initDB(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing postgres database: %w", err)
	}
	slog.Info("Postgres metadata store initialized", "driver", driver)
	return s, nil
}

func (s *PostgresStore) initDB(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (
			version    INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS albums (
			id         BIGSERIAL PRIMARY KEY,
			title      TEXT NOT NULL,
			"order"    INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS images (
			id         BIGSERIAL PRIMARY KEY,
			name       TEXT NOT NULL,
			thumbnail  TEXT NOT NULL DEFAULT '',
			title      TEXT NOT NULL DEFAULT '',
			date_taken TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			album_id   BIGINT REFERENCES albums(id) ON DELETE SET NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_images_date_taken ON images(date_taken)`,
		`CREATE TABLE IF NOT EXISTS album_images (
			album_id BIGINT NOT NULL REFERENCES albums(id) ON DELETE CASCADE,
			image_id BIGINT NOT NULL REFERENCES images(id) ON DELETE CASCADE,
			PRIMARY KEY (album_id, image_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_album_images_image ON album_images(image_id)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schema_version (version, applied_at) VALUES (1, $1) ON CONFLICT DO NOTHING`,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting schema version: %w", err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
