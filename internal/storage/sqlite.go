package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/shashin/internal/models"
)

// maxQueryParams stays under SQLite's default host parameter limit.
const maxQueryParams = 500

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS images (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL UNIQUE,
		filename TEXT NOT NULL,
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		format TEXT NOT NULL DEFAULT '',
		size_bytes INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_images_created_at ON images(created_at);
	`
	_, err := db.Exec(schema)
	return err
}

const imageColumns = `id, path, filename, width, height, format, size_bytes, created_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanImage(row scanner) (*models.Image, error) {
	var img models.Image
	if err := row.Scan(&img.ID, &img.Path, &img.Filename, &img.Width, &img.Height,
		&img.Format, &img.SizeBytes, &img.CreatedAt); err != nil {
		return nil, err
	}
	return &img, nil
}

// CreateImage inserts an image. Filename defaults to the base name of Path.
func (s *SQLiteStorage) CreateImage(ctx context.Context, img *models.Image) error {
	if img.ID == "" || img.Path == "" {
		return fmt.Errorf("image id and path are required")
	}
	if img.Filename == "" {
		img.Filename = filepath.Base(img.Path)
	}
	img.CreatedAt = time.Now()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO images (`+imageColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		img.ID, img.Path, img.Filename, img.Width, img.Height, img.Format, img.SizeBytes, img.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert image %s: %w", img.ID, err)
	}
	return nil
}

// GetImage returns an image by ID.
func (s *SQLiteStorage) GetImage(ctx context.Context, id string) (*models.Image, error) {
	img, err := scanImage(s.db.QueryRowContext(ctx,
		`SELECT `+imageColumns+` FROM images WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return img, nil
}

// GetImagesByIDs returns images in the order of ids. Unknown ids are dropped and
// repeated ids yield repeated records.
func (s *SQLiteStorage) GetImagesByIDs(ctx context.Context, ids []string) ([]*models.Image, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	byID := make(map[string]*models.Image, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, seen := byID[id]; !seen {
			byID[id] = nil
			unique = append(unique, id)
		}
	}

	for start := 0; start < len(unique); start += maxQueryParams {
		end := start + maxQueryParams
		if end > len(unique) {
			end = len(unique)
		}
		batch := unique[start:end]
		args := make([]interface{}, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+imageColumns+` FROM images WHERE id IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			img, err := scanImage(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			byID[img.ID] = img
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}

	images := make([]*models.Image, 0, len(ids))
	for _, id := range ids {
		if img := byID[id]; img != nil {
			images = append(images, img)
		}
	}
	return images, nil
}

// GetAllImages returns every image in insertion order.
func (s *SQLiteStorage) GetAllImages(ctx context.Context) ([]*models.Image, error) {
	return s.queryImages(ctx, `SELECT `+imageColumns+` FROM images ORDER BY created_at, rowid`)
}

// ListImages returns images newest first with offset and limit.
func (s *SQLiteStorage) ListImages(ctx context.Context, offset, limit int) ([]*models.Image, error) {
	return s.queryImages(ctx,
		`SELECT `+imageColumns+` FROM images ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		limit, offset)
}

func (s *SQLiteStorage) queryImages(ctx context.Context, query string, args ...interface{}) ([]*models.Image, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []*models.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// DeleteImage removes an image by ID. The vector index is append-only, so an indexed
// image stays searchable until the index is rebuilt; search drops ids it cannot resolve.
func (s *SQLiteStorage) DeleteImage(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM images WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// CountImages returns the total number of images.
func (s *SQLiteStorage) CountImages(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM images`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
