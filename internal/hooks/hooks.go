// Package hooks runs post-load handlers that enrich structural trees with
// synthetic nodes. Handlers run in registration order; a failing handler is
// rolled back and logged without affecting the ones after it.
package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/jward/codeintel/internal/cix"
	"github.com/jward/codeintel/internal/config"
	"github.com/jward/codeintel/internal/runtime"
)

// Handler enriches a blob after it is loaded from the scan database or
// freshly scanned.
type Handler interface {
	Name() string
	// Languages lists the blob languages the handler applies to; empty
	// means every language.
	Languages() []string
	PostDBLoadBlob(ctx context.Context, blob *cix.Node) error
}

// Pipeline holds the registered handlers. It is safe for concurrent use;
// Register may be called while loads are applying handlers.
type Pipeline struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers []Handler
}

// NewPipeline creates a pipeline with the given handlers, in order.
func NewPipeline(logger *slog.Logger, handlers ...Handler) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{logger: logger, handlers: handlers}
}

// Register appends h to the pipeline.
func (p *Pipeline) Register(h Handler) {
	p.mu.Lock()
	p.handlers = append(p.handlers, h)
	p.mu.Unlock()
}

// Handlers returns the registered handlers in run order.
func (p *Pipeline) Handlers() []Handler {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.handlers)
}

// Apply runs every applicable handler over each language blob of root and
// returns the number of handler failures. Handlers registered during the
// call take effect on the next one.
func (p *Pipeline) Apply(ctx context.Context, root *cix.Node) int {
	failed := 0
	for _, h := range p.Handlers() {
		for _, blob := range root.Blobs() {
			if ctx.Err() != nil {
				return failed
			}
			if !applies(h, blob.Lang) {
				continue
			}
			if err := p.run(ctx, h, blob); err != nil {
				failed++
				p.logger.Warn("hook failed",
					"hook", h.Name(),
					"language", blob.Lang,
					"error", err,
				)
			}
		}
	}
	return failed
}

// run executes one handler. New nodes are tagged fabricated and attributed
// to the handler; on failure, or when the handler removed structure it did
// not add, the blob is restored to its state before the call.
func (p *Pipeline) run(ctx context.Context, h Handler, blob *cix.Node) error {
	before := blob.Clone()
	existing := map[*cix.Node]bool{}
	blob.Walk(func(n, _ *cix.Node) bool {
		existing[n] = true
		return true
	})

	err := call(ctx, h, blob)
	if err == nil {
		err = settle(h.Name(), blob, existing)
	}
	if err != nil {
		*blob = *before
	}
	return err
}

func call(ctx context.Context, h Handler, blob *cix.Node) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hooks: %s panicked: %v", h.Name(), r)
		}
	}()
	return h.PostDBLoadBlob(ctx, blob)
}

// settle tags nodes added by the handler and checks that every node it did
// not own is still attached.
func settle(name string, blob *cix.Node, existing map[*cix.Node]bool) error {
	blob.Walk(func(n, _ *cix.Node) bool {
		if existing[n] {
			delete(existing, n)
			return true
		}
		n.Attrs |= cix.AttrFabricated
		n.Origin = name
		return true
	})
	removed := 0
	for n := range existing {
		if !n.Attrs.Has(cix.AttrFabricated) || n.Origin != name {
			removed++
		}
	}
	if removed > 0 {
		return fmt.Errorf("hooks: %s removed %d node(s) it did not add", name, removed)
	}
	return nil
}

func applies(h Handler, language string) bool {
	langs := h.Languages()
	return len(langs) == 0 || slices.Contains(langs, language)
}

// Script is a handler backed by a Risor script.
type Script struct {
	name      string
	path      string
	languages []string
	rt        *runtime.Runtime
}

// NewScript creates a handler running the script at path through rt.
func NewScript(rt *runtime.Runtime, name, path string, languages []string) *Script {
	return &Script{name: name, path: path, languages: languages, rt: rt}
}

func (s *Script) Name() string        { return s.name }
func (s *Script) Languages() []string { return s.languages }

func (s *Script) PostDBLoadBlob(ctx context.Context, blob *cix.Node) error {
	_, err := s.rt.RunHook(ctx, s.path, s.name, blob)
	return err
}

// FromConfig builds script handlers for the configured hooks.
func FromConfig(rt *runtime.Runtime, hooks []config.Hook) []Handler {
	hs := make([]Handler, 0, len(hooks))
	for _, h := range hooks {
		hs = append(hs, NewScript(rt, h.Name, h.Script, h.Languages))
	}
	return hs
}

// Builtin returns the handlers installed by default.
func Builtin() []Handler {
	return []Handler{JQuery{}}
}

// JQuery aliases $ to jQuery in blobs that define jQuery but not $.
type JQuery struct{}

func (JQuery) Name() string        { return "jquery" }
func (JQuery) Languages() []string { return []string{"JavaScript"} }

func (JQuery) PostDBLoadBlob(_ context.Context, blob *cix.Node) error {
	jq := blob.Child("jQuery")
	if jq == nil || blob.Child("$") != nil {
		return nil
	}
	blob.Add(&cix.Node{
		Kind:  cix.KindVariable,
		Ilk:   cix.IlkVariable,
		Name:  "$",
		Line:  jq.Line,
		Citdl: "jQuery",
	})
	return nil
}
