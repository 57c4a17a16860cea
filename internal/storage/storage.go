// Package storage persists image metadata and reports disk usage of the data files.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/shashin/internal/models"
)

// ErrNotFound is returned when an image id is unknown.
var ErrNotFound = errors.New("image not found")

// Storage defines image metadata persistence operations.
type Storage interface {
	CreateImage(ctx context.Context, img *models.Image) error
	GetImage(ctx context.Context, id string) (*models.Image, error)
	// GetImagesByIDs returns the known images in the order of ids; unknown ids are dropped.
	GetImagesByIDs(ctx context.Context, ids []string) ([]*models.Image, error)
	GetAllImages(ctx context.Context) ([]*models.Image, error)
	ListImages(ctx context.Context, offset, limit int) ([]*models.Image, error)
	DeleteImage(ctx context.Context, id string) error

	CountImages(ctx context.Context) (int64, error)

	Close() error
}
