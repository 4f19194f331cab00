package codeintel

import (
	"context"
	"errors"
	"fmt"

	"github.com/jward/codeintel/internal/buffer"
	"github.com/jward/codeintel/internal/citadel"
	"github.com/jward/codeintel/internal/cix"
	"github.com/jward/codeintel/internal/config"
	"github.com/jward/codeintel/internal/lang"
	"github.com/jward/codeintel/internal/trigger"
)

// TriggerAt reports whether a completion or calltip applies at pos in the
// open buffer for path. explicit marks a user-invoked request.
func (e *Engine) TriggerAt(path string, pos int, explicit bool) (trigger.Trigger, bool) {
	b, ok := e.Buffer(path)
	if !ok {
		return trigger.Trigger{}, false
	}
	return e.detector.TriggerAt(b, pos, explicit)
}

// Evaluate answers t against the open buffer for path. Resolution failures,
// scan timeouts and superseded scans degrade to an empty result and one
// diagnostic log record; only an unknown language or a closed buffer is
// returned as an error.
func (e *Engine) Evaluate(ctx context.Context, path string, t trigger.Trigger) (Result, error) {
	res := Result{Kind: t.Kind}
	b, ok := e.Buffer(path)
	if !ok {
		return res, fmt.Errorf("codeintel: evaluate %s: buffer not open", path)
	}
	d, err := e.registry.Resolve(t.Language)
	if err != nil {
		return res, fmt.Errorf("codeintel: evaluate %s: %w", path, err)
	}

	if t.Kind == trigger.CompleteEndTag {
		if name, ok := b.OpenElement(t.Pos); ok {
			res.Candidates = []Candidate{{Name: name, Ilk: cix.IlkElement}}
		}
		return res, nil
	}

	src := b.Snapshot()
	root, err := e.treeFor(ctx, b, src)
	if root == nil {
		e.degraded(path, t.Language, err)
		return res, nil
	}
	out, err := e.evaluator.Evaluate(ctx, citadel.Query{
		Trigger: t,
		Text:    string(src.Text),
		Path:    path,
		Tree:    root,
		Intel:   d.Intel,
	})
	if err != nil {
		e.degraded(path, t.Language, err)
		return res, nil
	}
	return out, nil
}

// treeFor returns the tree to answer queries on b with. Under the stale
// policy an out-of-date tree is used while a rescan runs; under the wait
// policy, or when no tree exists yet, it waits up to the query timeout.
func (e *Engine) treeFor(ctx context.Context, b *buffer.Buffer, src *lang.Source) (*cix.Node, error) {
	sig := buffer.ContentSignature(src.Text)
	if root, ok := e.db.Current(b.Path(), sig); ok {
		return root, nil
	}
	if e.cfg.Query.Policy == config.PolicyStale {
		if root, ok := e.db.Cached(b.Path()); ok {
			e.rescan(b, nil)
			return root, nil
		}
	}

	if timeout := e.cfg.Query.Timeout.Duration; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	var root *cix.Node
	root, err := await(ctx, e.rescan(b, &root), &root)
	if root != nil {
		// Partial trees from a failed scan still answer.
		return root, nil
	}
	if err == nil {
		err = errors.New("scan produced no tree")
	}
	return nil, err
}

func (e *Engine) degraded(path, language string, err error) {
	e.logger.Info("query degraded", "path", path, "language", language, "error", err)
}
