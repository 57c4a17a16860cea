package search

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/shashin/internal/embedding"
	"github.com/hyperjump/shashin/internal/vector"
	"github.com/hyperjump/shashin/pkg/utils"
)

type fixture struct {
	dir      string
	embedder *embedding.MockEmbedder
	manager  *Manager
}

func newFixture(t *testing.T, dims int) *fixture {
	t.Helper()
	dir := t.TempDir()
	emb := embedding.NewMockEmbedder(dims)
	m, err := NewManager(emb, Options{IndexPath: filepath.Join(dir, "search_index.bin")})
	require.NoError(t, err)
	require.NoError(t, m.Load())
	t.Cleanup(func() { _ = m.Close() })
	return &fixture{dir: dir, embedder: emb, manager: m}
}

// image writes a file with unique content and returns its path.
func (f *fixture) image(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte("image:"+name), 0644))
	return path
}

func (f *fixture) reopen(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(f.embedder, Options{IndexPath: f.manager.Path()})
	require.NoError(t, err)
	require.NoError(t, m.Load())
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestManager_QueryEmptyIndex(t *testing.T) {
	f := newFixture(t, 16)
	ids, err := f.manager.Query(context.Background(), "cat", 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestManager_QueryEmptyText(t *testing.T) {
	f := newFixture(t, 16)
	require.NoError(t, f.manager.Index(context.Background(), "a", f.image(t, "a.jpg")))
	for _, q := range []string{"", "   ", "\t"} {
		ids, err := f.manager.Query(context.Background(), q, 10)
		require.NoError(t, err)
		assert.Empty(t, ids, "query %q", q)
	}
}

func TestManager_IndexMissingFile(t *testing.T) {
	f := newFixture(t, 16)
	ctx := context.Background()
	require.True(t, f.manager.TryIndex(ctx, "a", f.image(t, "a.jpg")))

	ok := f.manager.TryIndex(ctx, "ghost", filepath.Join(f.dir, "nonexistent.jpg"))
	assert.False(t, ok)
	assert.Equal(t, 1, f.manager.Size())
	assert.False(t, f.manager.Contains("ghost"))

	err := f.manager.Index(ctx, "ghost", filepath.Join(f.dir, "nonexistent.jpg"))
	assert.True(t, errors.Is(err, embedding.ErrImageRead), "got %v", err)
}

func TestManager_IndexEmptyID(t *testing.T) {
	f := newFixture(t, 16)
	err := f.manager.Index(context.Background(), "", f.image(t, "a.jpg"))
	assert.ErrorIs(t, err, ErrEmptyID)
	assert.Equal(t, 0, f.manager.Size())
}

func TestManager_Ranking(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	a, b := f.image(t, "a.jpg"), f.image(t, "b.jpg")
	f.embedder.SetImage(a, []float32{1, 0, 0})
	f.embedder.SetImage(b, []float32{0, 1, 0})
	f.embedder.SetText("something like a", []float32{0.9, 0.1, 0})

	require.NoError(t, f.manager.Index(ctx, "A", a))
	require.NoError(t, f.manager.Index(ctx, "B", b))

	ids, err := f.manager.Query(ctx, "something like a", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, ids)

	matches, err := f.manager.QueryScored(ctx, "something like a", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "A", matches[0].ID)
	assert.InDelta(t, 0.9939, matches[0].Score, 1e-3)
}

func TestManager_QueryLimit(t *testing.T) {
	f := newFixture(t, 16)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("%d.jpg", i)
		require.NoError(t, f.manager.Index(ctx, name, f.image(t, name)))
	}
	ids, err := f.manager.Query(ctx, "anything", 3)
	require.NoError(t, err)
	assert.Len(t, ids, 3)

	ids, err = f.manager.Query(ctx, "anything", 100)
	require.NoError(t, err)
	assert.Len(t, ids, 5)

	ids, err = f.manager.Query(ctx, "anything", 0)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestManager_DuplicatesKept(t *testing.T) {
	f := newFixture(t, 16)
	ctx := context.Background()
	p := f.image(t, "a.jpg")
	require.NoError(t, f.manager.Index(ctx, "a", p))
	require.NoError(t, f.manager.Index(ctx, "a", p))

	ids, err := f.manager.Query(ctx, "anything", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "a"}, ids)
}

func TestManager_ScoresNonIncreasing(t *testing.T) {
	f := newFixture(t, 32)
	ctx := context.Background()
	for i := 0; i < 40; i++ {
		name := fmt.Sprintf("img%02d.png", i)
		require.NoError(t, f.manager.Index(ctx, name, f.image(t, name)))
	}
	matches, err := f.manager.QueryScored(ctx, "a query", 40)
	require.NoError(t, err)
	require.Len(t, matches, 40)
	for i := 1; i < len(matches); i++ {
		assert.LessOrEqual(t, matches[i].Score, matches[i-1].Score)
	}
}

func TestManager_SaveLoadRoundTrip(t *testing.T) {
	f := newFixture(t, 16)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, f.manager.Index(ctx, id, f.image(t, id+".jpg")))
	}
	queries := []string{"cat", "a sunny beach", "猫", "dog"}
	before := make(map[string][]Match)
	for _, q := range queries {
		m, err := f.manager.QueryScored(ctx, q, 10)
		require.NoError(t, err)
		before[q] = m
	}

	require.NoError(t, f.manager.Save())
	assert.False(t, f.manager.Stats().Dirty)

	fresh := f.reopen(t)
	assert.Equal(t, 3, fresh.Size())
	for _, q := range queries {
		after, err := fresh.QueryScored(ctx, q, 10)
		require.NoError(t, err)
		assert.Equal(t, before[q], after, "query %q", q)
		for _, m := range after {
			assert.Contains(t, []string{"a", "b", "c"}, m.ID)
		}
	}
}

func TestManager_SaveNoopWhenClean(t *testing.T) {
	f := newFixture(t, 8)
	require.NoError(t, f.manager.Save())
	_, err := os.Stat(f.manager.Path())
	assert.True(t, os.IsNotExist(err), "clean save should not write an artifact")
}

func TestManager_SaveFailureStaysDirty(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	emb := embedding.NewMockEmbedder(8)
	m, err := NewManager(emb, Options{IndexPath: filepath.Join(blocker, "search_index.bin")})
	require.NoError(t, err)
	require.NoError(t, m.Load())

	img := filepath.Join(dir, "a.jpg")
	require.NoError(t, os.WriteFile(img, []byte("a"), 0644))
	require.NoError(t, m.Index(context.Background(), "a", img))

	err = m.Save()
	assert.ErrorIs(t, err, ErrPersist)
	st := m.Stats()
	assert.True(t, st.Dirty)
	assert.Equal(t, 1, st.Unsaved)
	assert.Equal(t, 1, st.Size)
}

func TestManager_ExternalOverwriteReloads(t *testing.T) {
	f := newFixture(t, 4)
	ctx := context.Background()
	for _, id := range []string{"x", "y", "z"} {
		require.NoError(t, f.manager.Index(ctx, id, f.image(t, id+".jpg")))
	}
	require.Equal(t, 3, f.manager.Stats().Unsaved)

	// Another process writes a 5-item index.
	external := &vector.Artifact{Dimensions: 4}
	for i := 0; i < 5; i++ {
		v := []float32{float32(i + 1), 1, 0, 0}
		utils.NormalizeL2(v)
		external.Vectors = append(external.Vectors, v)
		external.IDs = append(external.IDs, fmt.Sprintf("ext-%d", i))
	}
	require.NoError(t, vector.WriteArtifact(f.manager.Path(), external))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(f.manager.Path(), future, future))

	ids, err := f.manager.Query(ctx, "anything", 10)
	require.NoError(t, err)
	assert.Len(t, ids, 5)
	for _, id := range ids {
		assert.Contains(t, external.IDs, id)
	}
	st := f.manager.Stats()
	assert.Equal(t, 5, st.Size)
	assert.False(t, st.Dirty, "unsaved inserts are discarded by the reload")
	assert.False(t, f.manager.Contains("x"))
}

func TestManager_OwnSaveDoesNotReload(t *testing.T) {
	f := newFixture(t, 8)
	ctx := context.Background()
	require.NoError(t, f.manager.Index(ctx, "a", f.image(t, "a.jpg")))
	require.NoError(t, f.manager.Save())
	require.NoError(t, f.manager.Index(ctx, "b", f.image(t, "b.jpg")))

	reloaded, err := f.manager.Refresh()
	require.NoError(t, err)
	assert.False(t, reloaded)

	ids, err := f.manager.Query(ctx, "anything", 10)
	require.NoError(t, err)
	assert.Len(t, ids, 2, "unsaved insert must survive a query after our own save")
}

func TestManager_RefreshMissingArtifact(t *testing.T) {
	f := newFixture(t, 8)
	require.NoError(t, f.manager.Index(context.Background(), "a", f.image(t, "a.jpg")))
	reloaded, err := f.manager.Refresh()
	require.NoError(t, err)
	assert.False(t, reloaded)
	assert.Equal(t, 1, f.manager.Size())
}

func TestManager_CorruptArtifact(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "search_index.bin")
	require.NoError(t, os.WriteFile(path, []byte("definitely not an index"), 0644))

	m, err := NewManager(embedding.NewMockEmbedder(8), Options{IndexPath: path})
	require.NoError(t, err)
	require.NoError(t, m.Load())
	assert.Equal(t, 0, m.Size())
	loadedAt := m.Stats().LoadedAt

	ids, err := m.Query(context.Background(), "cat", 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Equal(t, loadedAt, m.Stats().LoadedAt, "corrupt artifact must not be reloaded on every query")
}

func TestManager_DimensionMismatchArtifact(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "search_index.bin")
	require.NoError(t, vector.WriteArtifact(path, &vector.Artifact{
		Dimensions: 4,
		Vectors:    [][]float32{{1, 0, 0, 0}},
		IDs:        []string{"a"},
	}))

	m, err := NewManager(embedding.NewMockEmbedder(8), Options{IndexPath: path})
	require.NoError(t, err)
	require.NoError(t, m.Load())
	assert.Equal(t, 0, m.Size())
}

func TestManager_ModelUnavailable(t *testing.T) {
	f := newFixture(t, 8)
	ctx := context.Background()
	require.NoError(t, f.manager.Index(ctx, "a", f.image(t, "a.jpg")))

	f.embedder.SetUnavailable(true, true)
	ids, err := f.manager.Query(ctx, "cat", 10)
	assert.ErrorIs(t, err, embedding.ErrModelUnavailable)
	assert.Empty(t, ids)

	err = f.manager.Index(ctx, "b", f.image(t, "b.jpg"))
	assert.ErrorIs(t, err, embedding.ErrModelUnavailable)
	assert.Equal(t, 1, f.manager.Size())
}

func TestManager_Stats(t *testing.T) {
	f := newFixture(t, 8)
	ctx := context.Background()
	st := f.manager.Stats()
	assert.Equal(t, "flat", st.IndexType)
	assert.Equal(t, 8, st.Dimensions)
	assert.Empty(t, st.Generation)

	require.NoError(t, f.manager.Index(ctx, "a", f.image(t, "a.jpg")))
	require.NoError(t, f.manager.Save())
	st = f.manager.Stats()
	assert.NotEmpty(t, st.Generation)
	assert.False(t, st.ArtifactTime.IsZero())

	fresh := f.reopen(t)
	assert.Equal(t, st.Generation, fresh.Stats().Generation)
}

func TestManager_FAISSFallback(t *testing.T) {
	if vector.IsFAISSAvailable() {
		t.Skip("FAISS is available in this build")
	}
	m, err := NewManager(embedding.NewMockEmbedder(8), Options{
		IndexPath: filepath.Join(t.TempDir(), "idx.bin"),
		IndexType: "faiss",
	})
	require.NoError(t, err)
	assert.Equal(t, "flat", m.Stats().IndexType)
}

func TestManager_ConcurrentIndexAndQuery(t *testing.T) {
	f := newFixture(t, 16)
	ctx := context.Background()
	paths := make([]string, 50)
	for i := range paths {
		paths[i] = f.image(t, fmt.Sprintf("%02d.jpg", i))
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < len(paths); i += 4 {
				assert.NoError(t, f.manager.Index(ctx, fmt.Sprintf("id%02d", i), paths[i]))
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				ids, err := f.manager.Query(ctx, "query", 10)
				assert.NoError(t, err)
				assert.LessOrEqual(t, len(ids), 10)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 5; i++ {
			assert.NoError(t, f.manager.Save())
		}
	}()
	wg.Wait()

	assert.Equal(t, 50, f.manager.Size())
	require.NoError(t, f.manager.Save())
	assert.Equal(t, 50, f.reopen(t).Size())
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(nil, Options{IndexPath: "x"})
	assert.Error(t, err)
	_, err = NewManager(embedding.NewMockEmbedder(4), Options{})
	assert.Error(t, err)
	_, err = NewManager(embedding.NewMockEmbedder(4), Options{IndexPath: "x", IndexType: "bogus"})
	assert.Error(t, err)
}
