// Package content implements the content store: the process-wide table of
// open documents with their raw text, parsed front matter, rendered HTML and
// dirty flag.
//
// Every document has its own lock so a slow read, write or render on one file
// never stalls another. The store map lock is only held for lookups and
// insert/evict.
package content

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/livedoc/internal/config"
	"github.com/conneroisu/livedoc/internal/errors"
	"github.com/conneroisu/livedoc/internal/logging"
	"github.com/conneroisu/livedoc/internal/metrics"
	"github.com/conneroisu/livedoc/internal/renderer"
	"github.com/conneroisu/livedoc/internal/validation"
)

// Document is a snapshot of one open document.
type Document struct {
	Path        string                 `json:"path"`
	Kind        string                 `json:"kind"`
	Title       string                 `json:"title"`
	Raw         string                 `json:"raw"`
	Body        string                 `json:"-"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	HTML        string                 `json:"html"`
	Headings    []renderer.Heading     `json:"headings,omitempty"`
	Dirty       bool                   `json:"dirty"`
	RenderError string                 `json:"renderError,omitempty"`
	RenderedAt  time.Time              `json:"renderedAt"`
}

// Summary is the listing form of a Document.
type Summary struct {
	Path  string `json:"path"`
	Title string `json:"title"`
	Kind  string `json:"kind"`
	Dirty bool   `json:"dirty"`
}

func (d *Document) clone() *Document {
	c := *d
	if d.Headings != nil {
		c.Headings = append([]renderer.Heading(nil), d.Headings...)
	}
	if d.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(d.Metadata))
		for k, v := range d.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

type entry struct {
	mu      sync.Mutex
	doc     Document
	loaded  bool
	closed  bool
	loadErr error
	diskMod time.Time
}

// Store owns the open documents.
type Store struct {
	roots            []string
	extensions       []string
	defaultKind      string
	autosaveInterval time.Duration

	fs       FileSystem
	renderer renderer.Renderer
	logger   logging.Logger
	metrics  *metrics.Metrics

	mu   sync.RWMutex
	docs map[string]*entry

	hooksMu     sync.RWMutex
	closeHooks  []func(path string)
	reloadHooks []func(path, raw string)

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
}

// Option configures a Store.
type Option func(*Store)

func WithFileSystem(fs FileSystem) Option {
	return func(s *Store) { s.fs = fs }
}

func WithLogger(logger logging.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// NewStore creates a content store over the configured roots.
func NewStore(cfg *config.Config, r renderer.Renderer, opts ...Option) *Store {
	s := &Store{
		roots:            cfg.Content.Roots,
		extensions:       cfg.Content.Extensions,
		defaultKind:      cfg.Content.DefaultKind,
		autosaveInterval: cfg.Timing.AutosaveInterval,
		fs:               OSFileSystem{},
		renderer:         r,
		logger:           logging.NewNopLogger(),
		docs:             make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("content")
	return s
}

// OnClose registers a hook run after a document is evicted.
func (s *Store) OnClose(fn func(path string)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.closeHooks = append(s.closeHooks, fn)
}

// OnReload registers a hook run after a clean document was replaced by newer
// disk contents.
func (s *Store) OnReload(fn func(path, raw string)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.reloadHooks = append(s.reloadHooks, fn)
}

// Resolve validates a requested path and returns the absolute document path.
func (s *Store) Resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.ErrMissingField("path")
	}
	abs, err := validation.ResolvePath(path, s.roots)
	if err != nil {
		e := errors.ErrPathNotAllowed(path)
		e.Cause = err
		return "", e
	}
	if len(s.extensions) > 0 {
		if err := validation.ValidateFileExtension(abs, s.extensions); err != nil {
			e := errors.ErrPathNotAllowed(path)
			e.Cause = err
			return "", e
		}
	}
	return abs, nil
}

// Open returns the open document at path, loading and rendering it from disk
// on first use. An already-open document is returned as is and never re-read.
func (s *Store) Open(ctx context.Context, path string) (*Document, error) {
	abs, err := s.Resolve(path)
	if err != nil {
		return nil, err
	}

	for {
		s.mu.Lock()
		e, ok := s.docs[abs]
		if !ok {
			e = &entry{}
			e.mu.Lock()
			s.docs[abs] = e
			open := len(s.docs)
			s.mu.Unlock()

			if err := s.load(ctx, abs, e); err != nil {
				e.loadErr = err
				e.closed = true
				e.mu.Unlock()

				s.mu.Lock()
				if s.docs[abs] == e {
					delete(s.docs, abs)
				}
				s.mu.Unlock()
				return nil, err
			}
			e.loaded = true
			doc := e.doc.clone()
			e.mu.Unlock()

			s.metrics.SetOpenDocuments(open)
			s.logger.Info(ctx, "Document opened", "path", abs, "kind", doc.Kind)
			return doc, nil
		}
		s.mu.Unlock()

		e.mu.Lock()
		if e.loaded && !e.closed {
			doc := e.doc.clone()
			e.mu.Unlock()
			return doc, nil
		}
		loadErr := e.loadErr
		e.mu.Unlock()
		if loadErr != nil {
			return nil, loadErr
		}
		// Evicted between lookup and lock; try again.
	}
}

func (s *Store) load(ctx context.Context, abs string, e *entry) error {
	data, err := s.fs.ReadFile(abs)
	if err != nil {
		return errors.WrapIO(err, errors.ErrCodeReadFailed, "failed to read document").WithPath(abs)
	}
	if mod, err := s.fs.ModTime(abs); err == nil {
		e.diskMod = mod
	}

	e.doc = Document{Path: abs}
	s.apply(ctx, e, string(data))
	return nil
}

// apply replaces the raw text of e and re-renders. A render failure keeps
// the previous HTML and is recorded on the document.
func (s *Store) apply(ctx context.Context, e *entry, raw string) {
	meta, body, err := SplitFrontMatter(raw)
	if err != nil {
		s.logger.Warn(ctx, err, "Front matter ignored", "path", e.doc.Path)
	}

	e.doc.Raw = raw
	e.doc.Body = body
	e.doc.Metadata = meta
	e.doc.Kind = s.kindFor(e.doc.Path, meta)
	e.doc.Title = renderer.DeriveTitle(e.doc.Path, meta)

	_ = s.renderLocked(ctx, e)
}

func (s *Store) kindFor(path string, meta map[string]interface{}) string {
	if kind, ok := meta["kind"].(string); ok && kind != "" {
		return kind
	}
	slashed := "/" + strings.ReplaceAll(path, "\\", "/")
	if strings.Contains(slashed, "/blog/") {
		return renderer.KindBlog
	}
	return s.defaultKind
}

func (s *Store) renderLocked(ctx context.Context, e *entry) error {
	start := time.Now()
	result, err := s.renderer.Render(ctx, e.doc.Body, renderer.Context{
		Path:     e.doc.Path,
		Kind:     e.doc.Kind,
		Title:    e.doc.Title,
		Metadata: e.doc.Metadata,
	})
	s.metrics.ObserveRender(time.Since(start))

	if err != nil {
		if !errors.IsRender(err) {
			err = errors.WrapRender(err, "render failed")
		}
		e.doc.RenderError = err.Error()
		s.logger.Error(ctx, err, "Render failed, keeping previous output", "path", e.doc.Path)
		return err
	}

	e.doc.HTML = result.HTML
	e.doc.Headings = result.Headings
	e.doc.RenderError = ""
	e.doc.RenderedAt = time.Now()
	return nil
}

// lockEntry returns the loaded entry for abs with its lock held.
func (s *Store) lockEntry(abs string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.docs[abs]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.ErrNotOpen(abs)
	}

	e.mu.Lock()
	if !e.loaded || e.closed {
		e.mu.Unlock()
		return nil, errors.ErrNotOpen(abs)
	}
	return e, nil
}

// Get returns a snapshot of an open document.
func (s *Store) Get(path string) (*Document, error) {
	abs, err := s.Resolve(path)
	if err != nil {
		return nil, err
	}
	e, err := s.lockEntry(abs)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	return e.doc.clone(), nil
}

// IsOpen reports whether path is currently open.
func (s *Store) IsOpen(path string) bool {
	_, err := s.Get(path)
	return err == nil
}

// Update replaces the raw text of an open document, re-renders it and marks
// it dirty. Identical text is a no-op.
func (s *Store) Update(ctx context.Context, path, raw string) (*Document, error) {
	abs, err := s.Resolve(path)
	if err != nil {
		return nil, err
	}
	e, err := s.lockEntry(abs)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	if raw == e.doc.Raw {
		return e.doc.clone(), nil
	}

	s.apply(ctx, e, raw)
	e.doc.Dirty = true
	return e.doc.clone(), nil
}

// Render re-runs the render step for an open document. On failure the
// previous output is kept and the render error returned.
func (s *Store) Render(ctx context.Context, path string) (*Document, error) {
	abs, err := s.Resolve(path)
	if err != nil {
		return nil, err
	}
	e, err := s.lockEntry(abs)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	if err := s.renderLocked(ctx, e); err != nil {
		return nil, err
	}
	return e.doc.clone(), nil
}

// Save writes a dirty document to disk. A clean document performs no I/O.
func (s *Store) Save(ctx context.Context, path string) error {
	abs, err := s.Resolve(path)
	if err != nil {
		return err
	}
	e, err := s.lockEntry(abs)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()

	return s.saveLocked(ctx, e)
}

func (s *Store) saveLocked(ctx context.Context, e *entry) error {
	if !e.doc.Dirty {
		return nil
	}
	if err := s.fs.WriteFile(e.doc.Path, []byte(e.doc.Raw)); err != nil {
		return errors.WrapIO(err, errors.ErrCodeWriteFailed, "failed to write document").WithPath(e.doc.Path)
	}
	e.doc.Dirty = false
	if mod, err := s.fs.ModTime(e.doc.Path); err == nil {
		e.diskMod = mod
	}
	s.logger.Debug(ctx, "Document saved", "path", e.doc.Path)
	return nil
}

// Close saves a dirty document and evicts it. Closing a document that is not
// open is a no-op. When the save fails the document stays open.
func (s *Store) Close(ctx context.Context, path string) error {
	abs, err := s.Resolve(path)
	if err != nil {
		return err
	}

	s.mu.RLock()
	e, ok := s.docs[abs]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	e.mu.Lock()
	if !e.loaded || e.closed {
		e.mu.Unlock()
		return nil
	}
	if err := s.saveLocked(ctx, e); err != nil {
		e.mu.Unlock()
		return err
	}
	e.closed = true
	e.mu.Unlock()

	s.mu.Lock()
	if s.docs[abs] == e {
		delete(s.docs, abs)
	}
	open := len(s.docs)
	s.mu.Unlock()

	s.metrics.SetOpenDocuments(open)
	s.logger.Info(ctx, "Document closed", "path", abs)

	s.hooksMu.RLock()
	hooks := append([]func(string){}, s.closeHooks...)
	s.hooksMu.RUnlock()
	for _, hook := range hooks {
		hook(abs)
	}
	return nil
}

// Reload replaces a clean open document with the current disk contents.
// Dirty documents and documents whose disk text is unchanged are left alone.
// It reports whether the document changed.
func (s *Store) Reload(ctx context.Context, path string) (bool, error) {
	abs, err := s.Resolve(path)
	if err != nil {
		return false, err
	}
	e, err := s.lockEntry(abs)
	if err != nil {
		return false, nil
	}

	if e.doc.Dirty {
		e.mu.Unlock()
		s.logger.Debug(ctx, "Ignoring disk change for dirty document", "path", abs)
		return false, nil
	}

	data, err := s.fs.ReadFile(abs)
	if err != nil {
		e.mu.Unlock()
		return false, errors.WrapIO(err, errors.ErrCodeReadFailed, "failed to reload document").WithPath(abs)
	}
	raw := string(data)
	if raw == e.doc.Raw {
		e.mu.Unlock()
		return false, nil
	}

	s.apply(ctx, e, raw)
	if mod, err := s.fs.ModTime(abs); err == nil {
		e.diskMod = mod
	}
	e.mu.Unlock()

	s.logger.Info(ctx, "Document reloaded from disk", "path", abs)

	s.hooksMu.RLock()
	hooks := append([]func(string, string){}, s.reloadHooks...)
	s.hooksMu.RUnlock()
	for _, hook := range hooks {
		hook(abs, raw)
	}
	return true, nil
}

// List returns summaries of all open documents ordered by path.
func (s *Store) List() []Summary {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.docs))
	for _, e := range s.docs {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	summaries := make([]Summary, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.loaded && !e.closed {
			summaries = append(summaries, Summary{
				Path:  e.doc.Path,
				Title: e.doc.Title,
				Kind:  e.doc.Kind,
				Dirty: e.doc.Dirty,
			})
		}
		e.mu.Unlock()
	}

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Path < summaries[j].Path })
	return summaries
}
