// Package integration provides cross-component tests (real storage, index artifact and
// batch indexer, mock embedder).
package integration

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/shashin/internal/app"
	"github.com/hyperjump/shashin/internal/config"
	"github.com/hyperjump/shashin/internal/embedding"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/search"
	"github.com/hyperjump/shashin/internal/vector"
)

func writePNG(t *testing.T, path string, c color.Color) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestIntegration_Search(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Storage.DatabasePath = filepath.Join(dir, "images.db")
	cfg.Model.Provider = "mock"
	cfg.Model.Dimensions = 4
	config.ApplyDefaults(cfg)
	config.ResolveIndexPath(cfg)

	emb := embedding.NewMockEmbedder(4)
	a, err := app.New(cfg, nil, app.WithEmbedder(emb))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	ctx := context.Background()

	beach := filepath.Join(dir, "beach.png")
	forest := filepath.Join(dir, "forest.png")
	writePNG(t, beach, color.RGBA{R: 240, G: 220, B: 150, A: 255})
	writePNG(t, forest, color.RGBA{G: 120, A: 255})
	emb.SetImage(beach, []float32{1, 0, 0, 0})
	emb.SetImage(forest, []float32{0, 1, 0, 0})
	emb.SetText("sand and sea", []float32{0.9, 0.1, 0, 0})

	for _, p := range []string{beach, forest} {
		if _, err := a.Registrar().Register(ctx, p); err != nil {
			t.Fatal(err)
		}
	}
	idx, err := a.Indexer()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := idx.IndexAll(ctx); err != nil {
		t.Fatal(err)
	}

	resp, err := a.Search(ctx, &models.SearchQuery{Query: "sand and sea", Limit: 5})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 2 {
		t.Fatalf("expected 2 results, got %d", resp.Total)
	}
	if resp.Results[0].Image.Filename != "beach.png" {
		t.Errorf("top result %s, want beach.png", resp.Results[0].Image.Filename)
	}

	// The artifact on disk decodes to the same vectors in insertion order.
	art, err := vector.ReadArtifact(cfg.Storage.IndexPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(art.IDs) != 2 || art.Dimensions != 4 {
		t.Errorf("artifact: %d ids, %d dims", len(art.IDs), art.Dimensions)
	}
}

func TestIntegration_CorruptArtifactStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	indexPath := filepath.Join(dir, "search_index.bin")
	if err := os.WriteFile(indexPath, []byte("not an index"), 0644); err != nil {
		t.Fatal(err)
	}
	emb := embedding.NewMockEmbedder(4)
	mgr, err := search.NewManager(emb, search.Options{IndexPath: indexPath})
	if err != nil {
		t.Fatal(err)
	}
	defer mgr.Close()
	if err := mgr.Load(); err != nil {
		t.Fatalf("corrupt artifact must not fail load: %v", err)
	}
	if mgr.Size() != 0 {
		t.Errorf("size = %d, want 0", mgr.Size())
	}

	// Indexing and saving replaces the corrupt file with a valid artifact.
	img := filepath.Join(dir, "a.png")
	writePNG(t, img, color.White)
	if err := mgr.Index(context.Background(), "a", img); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Save(); err != nil {
		t.Fatal(err)
	}
	if _, err := vector.ReadArtifact(indexPath); err != nil {
		t.Errorf("artifact still unreadable: %v", err)
	}
	_, err = vector.ReadArtifact(filepath.Join(dir, "missing.bin"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing artifact: got %v", err)
	}
}
