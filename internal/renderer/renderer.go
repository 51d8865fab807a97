// Package renderer turns a document body into preview HTML.
//
// The pipeline is a pure function of its inputs: goldmark converts the
// markdown body, the result is wrapped in the templ layout registered for the
// document kind, and heading anchors are extracted from the final HTML for
// the preview outline. Nothing here touches the filesystem.
package renderer

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/conneroisu/livedoc/internal/errors"
)

// Context carries everything a render depends on besides the body.
type Context struct {
	Path     string
	Kind     string
	Title    string
	Metadata map[string]interface{}
}

// Result is the output of one render.
type Result struct {
	HTML     string    `json:"html"`
	Headings []Heading `json:"headings"`
}

// Renderer is the render pipeline consumed by the content store.
type Renderer interface {
	Render(ctx context.Context, body string, rc Context) (*Result, error)
}

// MarkdownRenderer renders markdown bodies with goldmark and wraps them in a
// per-kind templ layout.
type MarkdownRenderer struct {
	md          goldmark.Markdown
	defaultKind string

	mu      sync.RWMutex
	layouts map[string]Layout
}

// NewMarkdownRenderer creates a renderer with the built-in layouts.
func NewMarkdownRenderer(defaultKind string) *MarkdownRenderer {
	if defaultKind == "" {
		defaultKind = KindDoc
	}
	return &MarkdownRenderer{
		md:          newMarkdown(),
		defaultKind: defaultKind,
		layouts:     builtinLayouts(),
	}
}

func newMarkdown() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Typographer,
			extension.Footnote,
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			html.WithUnsafe(),
		),
	)
}

// RegisterLayout installs or replaces the layout for a kind.
func (r *MarkdownRenderer) RegisterLayout(kind string, layout Layout) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.layouts[kind] = layout
}

func (r *MarkdownRenderer) layoutFor(kind string) Layout {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if layout, ok := r.layouts[kind]; ok {
		return layout
	}
	if layout, ok := r.layouts[r.defaultKind]; ok {
		return layout
	}
	return docLayout
}

// Render converts body to HTML. A panic inside the pipeline is reported as a
// render error so one broken document cannot take down a room.
func (r *MarkdownRenderer) Render(ctx context.Context, body string, rc Context) (result *Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = errors.NewRenderError(fmt.Sprintf("render pipeline panicked: %v", rec), nil).WithPath(rc.Path)
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, errors.WrapRender(err, "render cancelled")
	}

	var content bytes.Buffer
	if err := r.md.Convert([]byte(body), &content); err != nil {
		return nil, errors.WrapRender(err, "markdown conversion failed")
	}

	if rc.Kind == "" {
		rc.Kind = r.defaultKind
	}

	var page bytes.Buffer
	if err := r.layoutFor(rc.Kind)(rc, content.String()).Render(ctx, &page); err != nil {
		return nil, errors.WrapRender(err, "layout rendering failed")
	}

	headings, err := ExtractHeadings(page.String())
	if err != nil {
		return nil, errors.WrapRender(err, "heading extraction failed")
	}

	return &Result{HTML: page.String(), Headings: headings}, nil
}
