package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/a-h/templ"
	"github.com/recera/wirepage/pkg/reactive"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Update types
const (
	UpdateRegions = "regions"
	UpdateFull    = "full"
)

// RegionUpdate is the new markup of one region
type RegionUpdate struct {
	Region string `json:"region" msgpack:"region"`
	HTML   string `json:"html" msgpack:"html"`
}

// Update is the result of an event or push: either the re-rendered regions
// or the whole page
type Update struct {
	Type    string         `json:"type" msgpack:"type"`
	Regions []RegionUpdate `json:"regions,omitempty" msgpack:"regions,omitempty"`
	HTML    string         `json:"html,omitempty" msgpack:"html,omitempty"`
}

// MarshalJSON always emits the regions list of a region update, even when
// it is empty. Markup is written unescaped.
func (u Update) MarshalJSON() ([]byte, error) {
	if u.Type == UpdateRegions {
		regions := u.Regions
		if regions == nil {
			regions = []RegionUpdate{}
		}
		return marshalMarkup(struct {
			Type    string         `json:"type"`
			Regions []RegionUpdate `json:"regions"`
		}{u.Type, regions})
	}
	return marshalMarkup(struct {
		Type string `json:"type"`
		HTML string `json:"html"`
	}{u.Type, u.HTML})
}

func marshalMarkup(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Render renders the whole page. With init the page runs its load hooks
// first and the client runtime is injected.
func (p *Page) Render(ctx context.Context, init bool) (string, error) {
	s := p.s
	s.op.Lock()
	defer s.op.Unlock()
	s.loop.Lock()
	defer s.loop.Unlock()
	if p.closed {
		return "", ErrClosed
	}
	return p.render(ctx, init)
}

func (p *Page) render(ctx context.Context, init bool) (string, error) {
	s := p.s
	thread := s.newThread("render " + p.prog.File)
	stop := bindThread(ctx, thread)
	defer stop()

	s.rendering = true
	defer func() { s.rendering = false }()

	if init {
		s.cancelTasks()
		for _, hook := range []string{"on_before_load", "on_load"} {
			if err := p.callHook(thread, hook); err != nil {
				return "", err
			}
		}
	}

	s.clearTracking()
	s.resetCounts()
	s.regions = make(map[string]regionProc)
	for _, prog := range p.chain {
		if prog.Style != "" {
			s.styles.Add(prog.StyleID, prog.Style)
		}
	}

	var out strings.Builder
	root := p.chain[len(p.chain)-1]
	f := &Frame{Page: p, Out: &out, thread: thread, region: rootRegion}
	err := s.graph.WithScope(p.scope(rootRegion), func() error {
		if root.Main == nil {
			return nil
		}
		return root.Main(f)
	})
	if err != nil {
		return "", err
	}

	doc := out.String()
	if !init {
		doc = narrowBody(doc)
	}
	if css := s.styles.Render(); css != "" {
		doc = injectBefore(doc, "</head>", css, true)
	}
	if init && (p.spaEnabled() || (p.opts.Session != "" && !p.component)) {
		block, err := p.clientBlock(ctx)
		if err != nil {
			return "", err
		}
		doc = injectBefore(doc, "</body>", block, false)
	}

	if err := p.callHook(thread, "on_after_render"); err != nil {
		return "", err
	}
	return doc, nil
}

// RenderUpdate renders what changed since the last render. With region
// support only the dirty regions are rendered; a dirty page-level
// dependency, or a page without regions, gets a full render.
func (p *Page) RenderUpdate(ctx context.Context, init bool) (Update, error) {
	s := p.s
	s.op.Lock()
	defer s.op.Unlock()
	s.loop.Lock()
	defer s.loop.Unlock()
	if p.closed {
		return Update{}, ErrClosed
	}
	return p.renderUpdate(ctx, init)
}

// PushUpdate renders the pending changes for delivery outside a request.
// It returns nil when nothing changed or a render is in progress. Unlike
// RenderUpdate it can run while a handler is suspended in wait().
func (p *Page) PushUpdate(ctx context.Context) (*Update, error) {
	s := p.s
	s.loop.Lock()
	defer s.loop.Unlock()
	if p.closed || s.rendering || len(s.dirty) == 0 {
		return nil, nil
	}
	u, err := p.renderUpdate(ctx, false)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (p *Page) renderUpdate(ctx context.Context, init bool) (Update, error) {
	s := p.s
	if p.hasRegions() && (len(s.dirty) > 0 || !init) {
		if len(s.dirty) == 0 {
			return Update{Type: UpdateRegions, Regions: []RegionUpdate{}}, nil
		}
		if _, root := s.dirty[rootRegion]; !root {
			updates, err := p.renderDirty(ctx)
			if err != nil {
				return Update{}, err
			}
			if updates == nil {
				updates = []RegionUpdate{}
			}
			return Update{Type: UpdateRegions, Regions: updates}, nil
		}
	}
	doc, err := p.render(ctx, init)
	if err != nil {
		return Update{}, err
	}
	return Update{Type: UpdateFull, HTML: doc}, nil
}

// renderDirty re-renders every dirty region that is still registered
func (p *Page) renderDirty(ctx context.Context) ([]RegionUpdate, error) {
	s := p.s
	thread := s.newThread("update " + p.prog.File)
	stop := bindThread(ctx, thread)
	defer stop()

	s.rendering = true
	defer func() { s.rendering = false }()

	ids := s.dirtyRegions()
	s.dirty = make(map[string]struct{})
	s.resetCounts()

	var updates []RegionUpdate
	for _, id := range ids {
		rp, ok := s.regions[id]
		if !ok {
			continue
		}
		var out strings.Builder
		if err := p.renderRegion(thread, &out, id, rp); err != nil {
			return nil, err
		}
		updates = append(updates, RegionUpdate{Region: id, HTML: out.String()})
	}
	if debugLog != nil && s.debug {
		debugLog("[Page] rendered regions", len(updates), "of", len(ids))
	}
	return updates, nil
}

func (p *Page) hasRegions() bool {
	for _, prog := range p.chain {
		if prog.HasRegions() {
			return true
		}
	}
	return len(p.s.regions) > 0
}

func (p *Page) spaEnabled() bool {
	if p.component {
		return false
	}
	if p.opts.Spa != nil && !*p.opts.Spa {
		return false
	}
	for _, prog := range p.chain {
		if prog.NoSpa {
			return false
		}
	}
	return p.prog.SpaEnabled() || p.opts.Pjax
}

// narrowBody returns the content of the first body element, or doc itself
// when it has none
func narrowBody(doc string) string {
	z := html.NewTokenizer(strings.NewReader(doc))
	offset, start := 0, -1
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		n := len(z.Raw())
		if tt == html.StartTagToken || tt == html.EndTagToken {
			name, _ := z.TagName()
			if atom.Lookup(name) == atom.Body {
				if tt == html.StartTagToken && start < 0 {
					start = offset + n
				} else if tt == html.EndTagToken && start >= 0 {
					return doc[start:offset]
				}
			}
		}
		offset += n
	}
	if start >= 0 {
		return doc[start:]
	}
	return doc
}

// injectBefore inserts block before the first marker. Without the marker
// the block is prepended when prepend is set and appended otherwise.
func injectBefore(doc, marker, block string, prepend bool) string {
	if i := strings.Index(doc, marker); i >= 0 {
		return doc[:i] + block + doc[i:]
	}
	if prepend {
		return block + doc
	}
	return doc + block
}

type spaMeta struct {
	SiblingPaths []string `json:"sibling_paths"`
	EnablePjax   bool     `json:"enable_pjax"`
	Debug        bool     `json:"debug"`
	Session      string   `json:"session,omitempty"`
}

// clientBlock renders the single-page metadata and the client script tag
func (p *Page) clientBlock(ctx context.Context) (string, error) {
	src := p.opts.ClientScript
	if src == "" {
		src = DefaultClientScript
	}
	paths := p.prog.SiblingPaths()
	if paths == nil {
		paths = []string{}
	}
	meta := spaMeta{SiblingPaths: paths, EnablePjax: p.spaEnabled(), Debug: p.opts.Debug, Session: p.opts.Session}

	var buf bytes.Buffer
	if err := clientScript(meta, src).Render(ctx, &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func clientScript(meta spaMeta, src string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		data, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		if _, err := io.WriteString(w, `<script id="_wire_spa_meta" type="application/json">`); err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
		_, err = io.WriteString(w, `</script><script src="`+templ.EscapeString(src)+`"></script>`)
		return err
	})
}

func (p *Page) scope(region string) *reactive.Scope {
	return &reactive.Scope{Listener: p.s, Region: region}
}
