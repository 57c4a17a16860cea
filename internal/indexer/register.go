package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/shashin/internal/embedding"
	"github.com/hyperjump/shashin/internal/fileid"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/storage"
)

// ErrAlreadyRegistered is returned by Register when the path is already known.
var ErrAlreadyRegistered = errors.New("image already registered")

// DefaultExtensions are the image types the decoders understand.
var DefaultExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tif", ".tiff", ".webp"}

// Register adds the image file at path to the metadata store under an id derived from its
// absolute path. The file must decode as an image. Registering a known path returns the
// existing record and ErrAlreadyRegistered.
func (idx *Indexer) Register(ctx context.Context, path string) (*models.Image, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", absPath)
	}

	id := fileid.ImageID(absPath)
	if existing, err := idx.storage.GetImage(ctx, id); err == nil {
		return existing, ErrAlreadyRegistered
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	cfg, format, err := embedding.DecodeImageConfig(absPath)
	if err != nil {
		return nil, err
	}
	img := &models.Image{
		ID:        id,
		Path:      absPath,
		Filename:  filepath.Base(absPath),
		Width:     cfg.Width,
		Height:    cfg.Height,
		Format:    format,
		SizeBytes: info.Size(),
	}
	if err := idx.storage.CreateImage(ctx, img); err != nil {
		return nil, err
	}
	idx.logger.Debug("image registered", zap.String("image_id", id), zap.String("path", absPath))
	return img, nil
}

// RegisterDirectory walks dir recursively and registers every file with an allowed
// extension. Hidden directories are skipped. Files that are already registered or fail
// to decode are logged and skipped.
func (idx *Indexer) RegisterDirectory(ctx context.Context, dir string) ([]*models.Image, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", absDir)
	}

	var added []*models.Image
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != absDir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !extensionAllowed(filepath.Ext(path), idx.extensions) {
			return nil
		}
		img, err := idx.Register(ctx, path)
		switch {
		case errors.Is(err, ErrAlreadyRegistered):
		case err != nil:
			idx.logger.Warn("image not registered", zap.String("path", path), zap.Error(err))
		default:
			added = append(added, img)
		}
		return nil
	})
	return added, err
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
