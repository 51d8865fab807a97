package renderer

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/a-h/templ"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Document kinds with a built-in layout.
const (
	KindDoc  = "doc"
	KindBlog = "blog"
	KindPage = "page"
)

// Layout wraps rendered body HTML in the preview chrome for one kind.
type Layout func(rc Context, body string) templ.Component

func builtinLayouts() map[string]Layout {
	return map[string]Layout{
		KindDoc:  docLayout,
		KindBlog: blogLayout,
		KindPage: pageLayout,
	}
}

func docLayout(rc Context, body string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := fmt.Fprintf(w, `<article class="livedoc-doc" data-kind="doc" data-path="%s">`,
			templ.EscapeString(filepath.ToSlash(rc.Path))); err != nil {
			return err
		}
		if err := templ.Raw(body).Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</article>`)
		return err
	})
}

func blogLayout(rc Context, body string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var header strings.Builder
		header.WriteString(`<article class="livedoc-blog" data-kind="blog"><header class="livedoc-blog-header">`)
		if rc.Title != "" {
			fmt.Fprintf(&header, `<p class="livedoc-blog-title">%s</p>`, templ.EscapeString(rc.Title))
		}
		if date := metadataString(rc.Metadata, "date"); date != "" {
			fmt.Fprintf(&header, `<time>%s</time>`, templ.EscapeString(date))
		}
		if authors := metadataList(rc.Metadata, "authors"); len(authors) > 0 {
			fmt.Fprintf(&header, `<span class="livedoc-blog-authors">%s</span>`,
				templ.EscapeString(strings.Join(authors, ", ")))
		}
		header.WriteString(`</header>`)

		if _, err := io.WriteString(w, header.String()); err != nil {
			return err
		}
		if err := templ.Raw(body).Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</article>`)
		return err
	})
}

func pageLayout(rc Context, body string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<main class="livedoc-page" data-kind="page">`); err != nil {
			return err
		}
		if err := templ.Raw(body).Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</main>`)
		return err
	})
}

func metadataString(meta map[string]interface{}, key string) string {
	v, ok := meta[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func metadataList(meta map[string]interface{}, key string) []string {
	switch v := meta[key].(type) {
	case string:
		return []string{v}
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]interface{}); ok {
				if name, ok := m["name"]; ok {
					out = append(out, fmt.Sprint(name))
					continue
				}
			}
			out = append(out, fmt.Sprint(item))
		}
		return out
	case []string:
		return v
	default:
		return nil
	}
}

var orderPrefix = regexp.MustCompile(`^\d+[-_.\s]+`)

// DeriveTitle picks a display title: front-matter "title" first, then the
// filename with any ordering prefix ("01_", "2-") removed and title-cased.
func DeriveTitle(path string, meta map[string]interface{}) string {
	if title := strings.TrimSpace(metadataString(meta, "title")); title != "" {
		return title
	}

	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "index" {
		stem = filepath.Base(filepath.Dir(path))
	}
	stem = orderPrefix.ReplaceAllString(stem, "")
	stem = strings.NewReplacer("-", " ", "_", " ").Replace(stem)
	stem = strings.TrimSpace(stem)
	if stem == "" || stem == "." || stem == string(filepath.Separator) {
		return "Untitled"
	}

	return cases.Title(language.English).String(stem)
}
