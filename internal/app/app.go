// Package app wires storage, the embedder and the search index manager into one
// application context that is built once per process and shared by the server and CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/shashin/internal/config"
	"github.com/hyperjump/shashin/internal/embedding"
	"github.com/hyperjump/shashin/internal/indexer"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/search"
	"github.com/hyperjump/shashin/internal/storage"
	"github.com/hyperjump/shashin/pkg/utils"
)

// ErrInvalidQuery wraps search requests rejected before reaching the index.
var ErrInvalidQuery = errors.New("invalid query")

// App is the application context. The embedder and index manager are expensive to build
// (model sessions, artifact load) and are created on first use.
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  storage.Storage

	embedder embedding.Embedder

	once       sync.Once
	manager    *search.Manager
	managerErr error
	ready      atomic.Pointer[search.Manager]
}

// Option configures an App.
type Option func(*App)

// WithEmbedder uses e instead of building one from the model config.
func WithEmbedder(e embedding.Embedder) Option {
	return func(a *App) { a.embedder = e }
}

// WithStorage uses s instead of opening the configured database.
func WithStorage(s storage.Storage) Option {
	return func(a *App) { a.store = s }
}

// New opens the metadata store. The index is not loaded until Manager is first called.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, logger: utils.OrNop(logger)}
	for _, opt := range opts {
		opt(a)
	}
	if a.store == nil {
		store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
		if err != nil {
			return nil, err
		}
		a.store = store
	}
	return a, nil
}

// NewEmbedder builds the embedder selected by cfg.Provider.
func NewEmbedder(ctx context.Context, cfg config.ModelConfig, logger *zap.Logger) (embedding.Embedder, error) {
	switch cfg.Provider {
	case "", "onnx":
		return embedding.NewCLIPEmbedder(ctx, cfg, logger)
	case "mock":
		utils.OrNop(logger).Warn("using mock embedder; results are not semantic")
		return embedding.NewMockEmbedder(cfg.Dimensions), nil
	}
	return nil, fmt.Errorf("unknown model provider %q (use onnx or mock)", cfg.Provider)
}

// Manager returns the shared index manager, building the embedder and loading the index
// on the first call. A construction failure is returned to every caller.
func (a *App) Manager() (*search.Manager, error) {
	a.once.Do(func() {
		start := time.Now()
		if a.embedder == nil {
			emb, err := NewEmbedder(context.Background(), a.cfg.Model, a.logger)
			if err != nil {
				a.managerErr = fmt.Errorf("failed to create embedder: %w", err)
				return
			}
			a.embedder = emb
		}
		mgr, err := search.NewManager(a.embedder, search.Options{
			IndexPath: a.cfg.Storage.IndexPath,
			IndexType: a.cfg.Index.Type,
			Logger:    a.logger,
		})
		if err != nil {
			a.managerErr = fmt.Errorf("failed to create index manager: %w", err)
			return
		}
		if err := mgr.Load(); err != nil {
			a.managerErr = fmt.Errorf("failed to load index: %w", err)
			return
		}
		a.manager = mgr
		a.ready.Store(mgr)
		a.logger.Info("search index ready", zap.Int("size", mgr.Size()), zap.Duration("took", time.Since(start)))
	})
	return a.manager, a.managerErr
}

// Indexer returns a batch indexer over the shared manager.
func (a *App) Indexer() (*indexer.Indexer, error) {
	mgr, err := a.Manager()
	if err != nil {
		return nil, err
	}
	return indexer.NewIndexer(a.store, mgr,
		indexer.WithLogger(a.logger),
		indexer.WithProgressEvery(a.cfg.Indexer.ProgressEvery),
	), nil
}

// Registrar returns an indexer that can only register images; it does not load the model.
func (a *App) Registrar() *indexer.Indexer {
	return indexer.NewIndexer(a.store, nil, indexer.WithLogger(a.logger))
}

// Search ranks images against q and resolves them to records, preserving rank. Ids that
// no longer resolve are dropped. An unavailable text encoder yields an empty, degraded
// response instead of an error.
func (a *App) Search(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error) {
	start := time.Now()
	if err := q.Validate(a.cfg.Search.DefaultLimit, a.cfg.Search.MaxLimit); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	resp := &models.SearchResponse{Query: q.Query, Results: []*models.SearchResult{}}

	mgr, err := a.Manager()
	if err != nil {
		return nil, err
	}
	matches, err := mgr.QueryScored(ctx, q.Query, q.Limit)
	if errors.Is(err, embedding.ErrModelUnavailable) {
		a.logger.Warn("search degraded: text encoder unavailable", zap.String("query", q.Query))
		resp.Degraded = true
		resp.QueryTime = time.Since(start).Milliseconds()
		return resp, nil
	}
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	images, err := a.store.GetImagesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve images: %w", err)
	}
	// images follows ids with unknown ids removed.
	j := 0
	for _, m := range matches {
		if j >= len(images) {
			break
		}
		if images[j].ID != m.ID {
			continue
		}
		resp.Results = append(resp.Results, &models.SearchResult{
			Image: images[j],
			Score: m.Score,
			Rank:  len(resp.Results) + 1,
		})
		j++
	}
	resp.Total = len(resp.Results)
	resp.QueryTime = time.Since(start).Milliseconds()
	return resp, nil
}

// Status summarises the metadata store and index.
type Status struct {
	Images         int64         `json:"images"`
	Index          *search.Stats `json:"index,omitempty"`
	DiskUsageBytes int64         `json:"disk_usage_bytes"`
	DatabasePath   string        `json:"database_path"`
	IndexPath      string        `json:"index_path"`
	ModelProvider  string        `json:"model_provider"`
	Preprocess     string        `json:"preprocess"`
}

// Status reports counts and disk usage. Index stats are included only once the manager
// has been built, so a status call never loads the model.
func (a *App) Status(ctx context.Context) (*Status, error) {
	n, err := a.store.CountImages(ctx)
	if err != nil {
		return nil, fmt.Errorf("count images: %w", err)
	}
	st := &Status{
		Images:        n,
		DatabasePath:  a.cfg.Storage.DatabasePath,
		IndexPath:     a.cfg.Storage.IndexPath,
		ModelProvider: a.cfg.Model.Provider,
		Preprocess:    a.cfg.Model.Preprocess,
	}
	if mgr := a.loadedManager(); mgr != nil {
		stats := mgr.Stats()
		st.Index = &stats
	}
	db := a.cfg.Storage.DatabasePath
	if du, err := storage.DiskUsageBytes(db, db+"-wal", db+"-shm", a.cfg.Storage.IndexPath); err == nil {
		st.DiskUsageBytes = du
	}
	return st, nil
}

// loadedManager returns the manager if it has been built, without building it.
func (a *App) loadedManager() *search.Manager {
	return a.ready.Load()
}

// Storage returns the metadata store.
func (a *App) Storage() storage.Storage {
	return a.store
}

// Config returns the configuration.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Logger returns the logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Close saves pending index changes and releases the manager, embedder and store.
func (a *App) Close() error {
	var errs []error
	if mgr := a.loadedManager(); mgr != nil {
		if err := mgr.Save(); err != nil {
			errs = append(errs, err)
		}
		if err := mgr.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.embedder != nil {
		if err := a.embedder.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
