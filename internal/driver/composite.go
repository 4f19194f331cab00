package driver

import (
	"context"
	"errors"
	"fmt"

	"github.com/jward/codeintel/internal/cix"
	"github.com/jward/codeintel/internal/lang"
	"github.com/jward/codeintel/internal/lexer"
)

// Resolver looks up sub-language descriptors by name.
type Resolver interface {
	Resolve(name string) (*lang.Descriptor, error)
}

// Composite scans a partitioned source one family at a time. Each family's
// text is handed to its sub-language driver with every other family blanked
// out, so sub-drivers see only their own code at the original line numbers.
// The resulting sub-blobs are joined as siblings under one root.
type Composite struct {
	Language  string
	FamilyMap lexer.FamilyMap
	Primary   lexer.Family
	Langs     Resolver
	// Overrides replace the registry driver for a family, e.g. the markup
	// family of HTML, whose registered driver is this composite.
	Overrides map[lexer.Family]lang.Driver
}

func (c *Composite) Scan(ctx context.Context, src *lang.Source) (*cix.Node, error) {
	root := cix.NewBlob(src.Path, c.Language)
	var errs []error
	for _, f := range lexer.Families {
		name, ok := c.FamilyMap[f]
		if !ok {
			continue
		}
		text, present := c.mask(src, f)
		if !present {
			continue
		}
		drv := c.driverFor(f, name)
		if drv == nil {
			continue
		}
		sub := &lang.Source{Path: src.Path, Language: name, Text: text}
		blob, err := scanIsolated(ctx, drv, sub)
		if blob == nil {
			blob = cix.NewBlob(src.Path, name)
		}
		blob.Kind = cix.KindBlob
		blob.Ilk = cix.IlkBlob
		blob.Lang = name
		blob.Family = f.Code()
		root.Add(blob)
		if err != nil {
			for _, sf := range Failures(err) {
				sf.Family = f.Code()
			}
			errs = append(errs, err)
		}
		if ctx.Err() != nil {
			errs = append(errs, &ScanFailure{Path: src.Path, Language: c.Language, Reason: "scan cancelled", Err: ctx.Err()})
			break
		}
	}
	return root, errors.Join(errs...)
}

func (c *Composite) driverFor(f lexer.Family, name string) lang.Driver {
	if d, ok := c.Overrides[f]; ok {
		return d
	}
	if name == c.Language || c.Langs == nil {
		return nil
	}
	d, err := c.Langs.Resolve(name)
	if err != nil || d.Driver == nil {
		return nil
	}
	return d.Driver
}

// mask copies src.Text keeping only the bytes of family f. Newlines are kept
// everywhere so line numbers survive; region delimiters are blanked.
func (c *Composite) mask(src *lang.Source, f lexer.Family) ([]byte, bool) {
	out := make([]byte, len(src.Text))
	for i, b := range src.Text {
		if b == '\n' || b == '\r' {
			out[i] = b
		} else {
			out[i] = ' '
		}
	}
	spans := src.Spans
	if len(spans) == 0 && len(src.Text) > 0 {
		spans = []lexer.Span{{Start: 0, End: len(src.Text), Family: c.Primary}}
	}
	present := false
	for _, sp := range spans {
		if sp.Family != f {
			continue
		}
		end := min(sp.End, len(src.Text))
		for i := sp.Start; i < end; i++ {
			out[i] = src.Text[i]
			if !present && src.Text[i] > ' ' {
				present = true
			}
		}
	}
	if !present {
		return nil, false
	}
	for _, t := range src.Tokens {
		if t.Style.Family() == f && t.Style.Class() == lexer.ClassDelimiter {
			for i := t.Start; i < min(t.End, len(out)); i++ {
				if out[i] != '\n' && out[i] != '\r' {
					out[i] = ' '
				}
			}
		}
	}
	return out, true
}

// scanIsolated runs one sub-driver, converting a panic into a ScanFailure
// so sibling families are still scanned.
func scanIsolated(ctx context.Context, d lang.Driver, src *lang.Source) (blob *cix.Node, err error) {
	defer func() {
		if r := recover(); r != nil {
			blob = nil
			err = &ScanFailure{Path: src.Path, Language: src.Language, Reason: "driver panic", Err: fmt.Errorf("%v", r)}
		}
	}()
	return d.Scan(ctx, src)
}
