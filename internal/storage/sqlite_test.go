package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/hyperjump/shashin/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "db", "images.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStorage_CRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	img := &models.Image{
		ID:        "img1",
		Path:      "/photos/cat.jpg",
		Width:     640,
		Height:    480,
		Format:    "jpeg",
		SizeBytes: 1234,
	}
	if err := store.CreateImage(ctx, img); err != nil {
		t.Fatal(err)
	}
	if img.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
	if img.Filename != "cat.jpg" {
		t.Errorf("Filename = %q, want cat.jpg", img.Filename)
	}

	got, err := store.GetImage(ctx, "img1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Path != "/photos/cat.jpg" || got.Width != 640 || got.Height != 480 || got.Format != "jpeg" || got.SizeBytes != 1234 {
		t.Errorf("got %+v", got)
	}

	list, err := store.ListImages(ctx, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 image, got %d", len(list))
	}

	if err := store.DeleteImage(ctx, "img1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetImage(ctx, "img1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.DeleteImage(ctx, "img1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestSQLiteStorage_CreateValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.CreateImage(ctx, &models.Image{Path: "/a.jpg"}); err == nil {
		t.Error("expected error without id")
	}
	if err := store.CreateImage(ctx, &models.Image{ID: "a"}); err == nil {
		t.Error("expected error without path")
	}
	_ = store.CreateImage(ctx, &models.Image{ID: "a", Path: "/a.jpg"})
	if err := store.CreateImage(ctx, &models.Image{ID: "b", Path: "/a.jpg"}); err == nil {
		t.Error("expected error for duplicate path")
	}
}

func TestSQLiteStorage_GetImagesByIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := store.CreateImage(ctx, &models.Image{ID: id, Path: "/img/" + id + ".png"}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.GetImagesByIDs(ctx, []string{"c", "missing", "a", "c"})
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, img := range got {
		ids = append(ids, img.ID)
	}
	want := []string{"c", "a", "c"}
	if fmt.Sprint(ids) != fmt.Sprint(want) {
		t.Errorf("ids = %v, want %v", ids, want)
	}

	empty, err := store.GetImagesByIDs(ctx, nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("empty input: %v, %v", empty, err)
	}
}

func TestSQLiteStorage_GetImagesByIDsBatches(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	n := maxQueryParams + 20
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("id%04d", i)
		if err := store.CreateImage(ctx, &models.Image{ID: ids[i], Path: "/img/" + ids[i]}); err != nil {
			t.Fatal(err)
		}
	}
	// Reverse order to check ordering across batches.
	rev := make([]string, n)
	for i := range ids {
		rev[n-1-i] = ids[i]
	}
	got, err := store.GetImagesByIDs(ctx, rev)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != n {
		t.Fatalf("got %d images, want %d", len(got), n)
	}
	for i, img := range got {
		if img.ID != rev[i] {
			t.Fatalf("position %d: got %s, want %s", i, img.ID, rev[i])
		}
	}
}

func TestSQLiteStorage_GetAllImages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"first", "second", "third"} {
		_ = store.CreateImage(ctx, &models.Image{ID: id, Path: "/" + id})
	}
	all, err := store.GetAllImages(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID != "first" || all[2].ID != "third" {
		t.Errorf("unexpected order: %v", all)
	}

	page, err := store.ListImages(ctx, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 || page[0].ID != "second" {
		t.Errorf("ListImages(1,1) = %v", page)
	}
}

func TestSQLiteStorage_Counts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	n, err := store.CountImages(ctx)
	if err != nil || n != 0 {
		t.Errorf("CountImages: %v, %d", err, n)
	}
	_ = store.CreateImage(ctx, &models.Image{ID: "x", Path: "/x.jpg"})
	n, _ = store.CountImages(ctx)
	if n != 1 {
		t.Errorf("expected 1 image, got %d", n)
	}
}
