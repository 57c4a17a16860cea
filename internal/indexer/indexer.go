// Package indexer registers image files and drives batch embedding into the search index.
package indexer

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/shashin/internal/storage"
	"github.com/hyperjump/shashin/pkg/utils"
)

// IndexManager is the part of search.Manager the indexer drives.
type IndexManager interface {
	Index(ctx context.Context, id, path string) error
	Save() error
	Contains(id string) bool
}

// Indexer embeds registered images into the search index.
type Indexer struct {
	storage       storage.Storage
	manager       IndexManager
	progressEvery int
	extensions    []string
	logger        *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets the logger for progress and per-image failures.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithProgressEvery logs progress after every n processed images (default 10).
func WithProgressEvery(n int) IndexerOption {
	return func(idx *Indexer) {
		if n > 0 {
			idx.progressEvery = n
		}
	}
}

// WithExtensions restricts directory registration to these extensions.
func WithExtensions(exts []string) IndexerOption {
	return func(idx *Indexer) {
		if len(exts) > 0 {
			idx.extensions = exts
		}
	}
}

// NewIndexer creates an indexer over the metadata store and index manager.
func NewIndexer(store storage.Storage, manager IndexManager, opts ...IndexerOption) *Indexer {
	idx := &Indexer{
		storage:       store,
		manager:       manager,
		progressEvery: 10,
		extensions:    DefaultExtensions,
	}
	for _, opt := range opts {
		opt(idx)
	}
	idx.logger = utils.OrNop(idx.logger)
	return idx
}

// Report summarises a batch run.
type Report struct {
	Total    int           `json:"total"`
	Indexed  int           `json:"indexed"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
	// SaveErr is the persist failure of the final save, if any. The indexed images stay
	// in memory and a later save retries.
	SaveErr error `json:"-"`
}

// IndexAll embeds every registered image and saves the index once at the end. Missing
// files are skipped and per-image failures are counted, never fatal. The returned error
// is only for failing to list images or cancellation; in the latter case the images
// indexed so far are still saved.
func (idx *Indexer) IndexAll(ctx context.Context) (Report, error) {
	return idx.run(ctx, false)
}

// IndexMissing is IndexAll restricted to images whose id is not yet in the index, so
// repeated runs do not add duplicate entries.
func (idx *Indexer) IndexMissing(ctx context.Context) (Report, error) {
	return idx.run(ctx, true)
}

func (idx *Indexer) run(ctx context.Context, onlyMissing bool) (Report, error) {
	start := time.Now()
	var rep Report

	images, err := idx.storage.GetAllImages(ctx)
	if err != nil {
		return rep, fmt.Errorf("failed to list images: %w", err)
	}
	rep.Total = len(images)
	idx.logger.Info("indexing started", zap.Int("total", rep.Total), zap.Bool("only_missing", onlyMissing))

	var runErr error
	for i, img := range images {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		switch {
		case onlyMissing && idx.manager.Contains(img.ID):
			rep.Skipped++
		case !fileExists(img.Path):
			idx.logger.Warn("image file missing, skipping", zap.String("image_id", img.ID), zap.String("path", img.Path))
			rep.Skipped++
		default:
			if err := idx.manager.Index(ctx, img.ID, img.Path); err != nil {
				rep.Failed++
			} else {
				rep.Indexed++
			}
		}
		if n := i + 1; n%idx.progressEvery == 0 {
			idx.logger.Info("indexing progress", zap.Int("processed", n), zap.Int("total", rep.Total),
				zap.Int("indexed", rep.Indexed))
		}
	}

	if err := idx.manager.Save(); err != nil {
		rep.SaveErr = err
	}
	rep.Duration = time.Since(start)
	idx.logger.Info("indexing finished",
		zap.Int("indexed", rep.Indexed), zap.Int("skipped", rep.Skipped), zap.Int("failed", rep.Failed),
		zap.Duration("duration", rep.Duration), zap.Bool("saved", rep.SaveErr == nil))
	return rep, runErr
}

// IndexOne embeds a single image and saves the index.
func (idx *Indexer) IndexOne(ctx context.Context, id, path string) error {
	if err := idx.manager.Index(ctx, id, path); err != nil {
		return err
	}
	return idx.manager.Save()
}

// IndexImage looks up a registered image by id, embeds it and saves the index.
func (idx *Indexer) IndexImage(ctx context.Context, id string) error {
	img, err := idx.storage.GetImage(ctx, id)
	if err != nil {
		return err
	}
	return idx.IndexOne(ctx, img.ID, img.Path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
