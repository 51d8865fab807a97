package content

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/livedoc/internal/config"
	"github.com/conneroisu/livedoc/internal/errors"
	"github.com/conneroisu/livedoc/internal/renderer"
)

// memFS is an in-memory FileSystem that counts writes.
type memFS struct {
	mu       sync.Mutex
	files    map[string]string
	writes   int
	failNext error
}

func newMemFS() *memFS {
	return &memFS{files: make(map[string]string)}
}

func (m *memFS) ReadFile(path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return []byte(data), nil
}

func (m *memFS) WriteFile(path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	m.writes++
	m.files[path] = string(data)
	return nil
}

func (m *memFS) ModTime(string) (time.Time, error) {
	return time.Now(), nil
}

func (m *memFS) set(path, data string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = data
}

func (m *memFS) get(path string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.files[path]
}

func (m *memFS) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

type failingRenderer struct {
	fail bool
	next renderer.Renderer
}

func (f *failingRenderer) Render(ctx context.Context, body string, rc renderer.Context) (*renderer.Result, error) {
	if f.fail {
		return nil, fmt.Errorf("pipeline threw")
	}
	return f.next.Render(ctx, body, rc)
}

func setupStore(t *testing.T) (*Store, *memFS, string) {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Content.Roots = []string{root}
	cfg.Timing.AutosaveInterval = 20 * time.Millisecond

	mem := newMemFS()
	store := NewStore(cfg, renderer.NewMarkdownRenderer(cfg.Content.DefaultKind), WithFileSystem(mem))
	return store, mem, root
}

func TestOpenRendersHeading(t *testing.T) {
	store, mem, root := setupStore(t)
	mem.set(filepath.Join(root, "intro.md"), "# Hello")

	doc, err := store.Open(context.Background(), "intro.md")
	require.NoError(t, err)

	assert.False(t, doc.Dirty)
	assert.Equal(t, filepath.Join(root, "intro.md"), doc.Path)
	assert.Contains(t, doc.HTML, "<h1")
	assert.Contains(t, doc.HTML, "Hello")
	assert.Equal(t, "Intro", doc.Title)
	assert.Equal(t, "doc", doc.Kind)
	require.Len(t, doc.Headings, 1)
}

func TestOpenWithFrontMatter(t *testing.T) {
	store, mem, root := setupStore(t)
	mem.set(filepath.Join(root, "blog", "post.md"), "---\ntitle: Launch\ntags: [a, b]\n---\n## Intro\n")

	doc, err := store.Open(context.Background(), "blog/post.md")
	require.NoError(t, err)

	assert.Equal(t, "Launch", doc.Title)
	assert.Equal(t, "blog", doc.Kind)
	assert.Equal(t, "## Intro\n", doc.Body)
	assert.Equal(t, []interface{}{"a", "b"}, doc.Metadata["tags"])
	assert.Contains(t, doc.HTML, "Launch")
}

func TestOpenReturnsExistingWithoutReread(t *testing.T) {
	store, mem, root := setupStore(t)
	path := filepath.Join(root, "a.md")
	mem.set(path, "one")

	ctx := context.Background()
	_, err := store.Open(ctx, "a.md")
	require.NoError(t, err)
	_, err = store.Update(ctx, "a.md", "edited")
	require.NoError(t, err)

	mem.set(path, "changed on disk")
	doc, err := store.Open(ctx, "a.md")
	require.NoError(t, err)
	assert.Equal(t, "edited", doc.Raw)
	assert.True(t, doc.Dirty)
}

func TestOpenRejectsDisallowedPaths(t *testing.T) {
	store, _, _ := setupStore(t)

	tests := []string{"../escape.md", "/etc/passwd", "notes.txt"}
	for _, path := range tests {
		t.Run(path, func(t *testing.T) {
			_, err := store.Open(context.Background(), path)
			require.Error(t, err)
			assert.True(t, errors.IsValidation(err))
			assert.Equal(t, errors.ErrCodePathNotAllowed, errors.Code(err))
		})
	}

	_, err := store.Open(context.Background(), "")
	assert.Equal(t, errors.ErrCodeMissingField, errors.Code(err))
}

func TestOpenMissingFile(t *testing.T) {
	store, _, _ := setupStore(t)

	_, err := store.Open(context.Background(), "missing.md")
	require.Error(t, err)
	assert.True(t, errors.IsIO(err))
	assert.Empty(t, store.List())
}

func TestUpdateRequiresOpen(t *testing.T) {
	store, _, _ := setupStore(t)

	_, err := store.Update(context.Background(), "x.md", "text")
	assert.True(t, errors.IsNotFound(err))

	_, err = store.Render(context.Background(), "x.md")
	assert.True(t, errors.IsNotFound(err))

	assert.True(t, errors.IsNotFound(store.Save(context.Background(), "x.md")))
}

func TestUpdateMarksDirtyAndRerenders(t *testing.T) {
	store, mem, root := setupStore(t)
	mem.set(filepath.Join(root, "a.md"), "# Old")
	ctx := context.Background()

	_, err := store.Open(ctx, "a.md")
	require.NoError(t, err)

	doc, err := store.Update(ctx, "a.md", "# New")
	require.NoError(t, err)
	assert.True(t, doc.Dirty)
	assert.Contains(t, doc.HTML, "New")

	same, err := store.Update(ctx, "a.md", "# New")
	require.NoError(t, err)
	assert.Equal(t, doc.RenderedAt, same.RenderedAt)
}

func TestSaveIsNoOpWhenClean(t *testing.T) {
	store, mem, root := setupStore(t)
	path := filepath.Join(root, "a.md")
	mem.set(path, "text")
	ctx := context.Background()

	_, err := store.Open(ctx, "a.md")
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, "a.md"))
	assert.Equal(t, 0, mem.writeCount())

	_, err = store.Update(ctx, "a.md", "more text")
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, "a.md"))
	require.NoError(t, store.Save(ctx, "a.md"))

	assert.Equal(t, 1, mem.writeCount())
	assert.Equal(t, "more text", mem.get(path))

	doc, err := store.Get("a.md")
	require.NoError(t, err)
	assert.False(t, doc.Dirty)
}

func TestSaveFailureSurfaces(t *testing.T) {
	store, mem, root := setupStore(t)
	mem.set(filepath.Join(root, "a.md"), "text")
	ctx := context.Background()

	_, err := store.Open(ctx, "a.md")
	require.NoError(t, err)
	_, err = store.Update(ctx, "a.md", "changed")
	require.NoError(t, err)

	diskFull := fmt.Errorf("disk full")
	mem.failNext = diskFull
	err = store.Save(ctx, "a.md")
	require.Error(t, err)
	assert.True(t, errors.IsIO(err))
	assert.ErrorIs(t, err, diskFull)
	le, ok := errors.AsLivedoc(err)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(root, "a.md"), le.Path)
	assert.Equal(t, errors.ErrCodeWriteFailed, le.Code)

	doc, err := store.Get("a.md")
	require.NoError(t, err)
	assert.True(t, doc.Dirty, "failed save keeps the document dirty")
}

func TestCloseIsIdempotentAndSaves(t *testing.T) {
	store, mem, root := setupStore(t)
	path := filepath.Join(root, "a.md")
	mem.set(path, "text")
	ctx := context.Background()

	var closed []string
	store.OnClose(func(p string) { closed = append(closed, p) })

	_, err := store.Open(ctx, "a.md")
	require.NoError(t, err)
	_, err = store.Update(ctx, "a.md", "final")
	require.NoError(t, err)

	require.NoError(t, store.Close(ctx, "a.md"))
	require.NoError(t, store.Close(ctx, "a.md"))
	require.NoError(t, store.Close(ctx, "never-opened.md"))

	assert.Equal(t, "final", mem.get(path))
	assert.False(t, store.IsOpen("a.md"))
	assert.Equal(t, []string{path}, closed)
}

func TestCloseKeepsDocumentWhenSaveFails(t *testing.T) {
	store, mem, root := setupStore(t)
	mem.set(filepath.Join(root, "a.md"), "text")
	ctx := context.Background()

	_, err := store.Open(ctx, "a.md")
	require.NoError(t, err)
	_, err = store.Update(ctx, "a.md", "unsaved")
	require.NoError(t, err)

	mem.failNext = fmt.Errorf("read-only")
	assert.Error(t, store.Close(ctx, "a.md"))
	assert.True(t, store.IsOpen("a.md"))
}

func TestRenderErrorKeepsPreviousOutput(t *testing.T) {
	root := t.TempDir()
	cfg := config.Default()
	cfg.Content.Roots = []string{root}
	mem := newMemFS()
	mem.set(filepath.Join(root, "a.md"), "# Good")

	r := &failingRenderer{next: renderer.NewMarkdownRenderer("doc")}
	store := NewStore(cfg, r, WithFileSystem(mem))
	ctx := context.Background()

	first, err := store.Open(ctx, "a.md")
	require.NoError(t, err)

	r.fail = true
	_, err = store.Render(ctx, "a.md")
	require.Error(t, err)
	assert.True(t, errors.IsRender(err))

	doc, err := store.Update(ctx, "a.md", "# Broken")
	require.NoError(t, err)
	assert.Equal(t, first.HTML, doc.HTML)
	assert.NotEmpty(t, doc.RenderError)

	r.fail = false
	doc, err = store.Render(ctx, "a.md")
	require.NoError(t, err)
	assert.Contains(t, doc.HTML, "Broken")
	assert.Empty(t, doc.RenderError)
}

func TestReload(t *testing.T) {
	store, mem, root := setupStore(t)
	path := filepath.Join(root, "a.md")
	mem.set(path, "v1")
	ctx := context.Background()

	var reloaded []string
	store.OnReload(func(p, raw string) { reloaded = append(reloaded, raw) })

	_, err := store.Open(ctx, "a.md")
	require.NoError(t, err)

	changed, err := store.Reload(ctx, "a.md")
	require.NoError(t, err)
	assert.False(t, changed, "unchanged disk text")

	mem.set(path, "v2")
	changed, err = store.Reload(ctx, "a.md")
	require.NoError(t, err)
	assert.True(t, changed)

	doc, err := store.Get("a.md")
	require.NoError(t, err)
	assert.Equal(t, "v2", doc.Raw)
	assert.False(t, doc.Dirty)

	_, err = store.Update(ctx, "a.md", "local edit")
	require.NoError(t, err)
	mem.set(path, "v3")
	changed, err = store.Reload(ctx, "a.md")
	require.NoError(t, err)
	assert.False(t, changed, "dirty documents ignore disk")

	assert.Equal(t, []string{"v2"}, reloaded)
}

func TestListOrdered(t *testing.T) {
	store, mem, root := setupStore(t)
	for _, name := range []string{"b.md", "a.md", "c.md"} {
		mem.set(filepath.Join(root, name), "# "+strings.ToUpper(name))
		_, err := store.Open(context.Background(), name)
		require.NoError(t, err)
	}

	list := store.List()
	require.Len(t, list, 3)
	assert.Equal(t, filepath.Join(root, "a.md"), list[0].Path)
	assert.Equal(t, filepath.Join(root, "c.md"), list[2].Path)
}

func TestConcurrentOpenLoadsOnce(t *testing.T) {
	store, mem, root := setupStore(t)
	mem.set(filepath.Join(root, "a.md"), "text")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Open(context.Background(), "a.md")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, store.List(), 1)
}

func TestAutosaveWritesDirtyDocuments(t *testing.T) {
	store, mem, root := setupStore(t)
	path := filepath.Join(root, "a.md")
	mem.set(path, "text")
	ctx := context.Background()

	_, err := store.Open(ctx, "a.md")
	require.NoError(t, err)
	require.NoError(t, store.Start(ctx))
	defer store.Stop(ctx)

	_, err = store.Update(ctx, "a.md", "autosaved")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return mem.get(path) == "autosaved"
	}, time.Second, 10*time.Millisecond)
}

func TestSaveAllContinuesPastFailures(t *testing.T) {
	store, mem, root := setupStore(t)
	ctx := context.Background()
	for _, name := range []string{"a.md", "b.md"} {
		mem.set(filepath.Join(root, name), "x")
		_, err := store.Open(ctx, name)
		require.NoError(t, err)
		_, err = store.Update(ctx, name, "y")
		require.NoError(t, err)
	}

	mem.failNext = fmt.Errorf("transient")
	err := store.SaveAll(ctx)
	require.Error(t, err)

	dirty := 0
	for _, s := range store.List() {
		if s.Dirty {
			dirty++
		}
	}
	assert.Equal(t, 1, dirty, "one document saved despite the other failing")
	assert.Equal(t, 1, mem.writeCount())
}

func TestStopFlushes(t *testing.T) {
	store, mem, root := setupStore(t)
	store.autosaveInterval = time.Hour
	path := filepath.Join(root, "a.md")
	mem.set(path, "x")
	ctx := context.Background()

	require.NoError(t, store.Start(ctx))
	_, err := store.Open(ctx, "a.md")
	require.NoError(t, err)
	_, err = store.Update(ctx, "a.md", "flushed")
	require.NoError(t, err)

	require.NoError(t, store.Stop(ctx))
	assert.Equal(t, "flushed", mem.get(path))
}

func TestOSFileSystemRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "doc.md")

	var fsys OSFileSystem
	require.NoError(t, fsys.WriteFile(path, []byte("hello")))

	data, err := fsys.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")

	_, err = fsys.ModTime(path)
	assert.NoError(t, err)
}
