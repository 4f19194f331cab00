// Package languages is the closed table of built-in languages. Register
// installs every descriptor into a registry once at startup.
package languages

import (
	"strings"

	"github.com/jward/codeintel/internal/config"
	"github.com/jward/codeintel/internal/driver"
	"github.com/jward/codeintel/internal/grammar"
	"github.com/jward/codeintel/internal/lang"
	"github.com/jward/codeintel/internal/lexer"
)

// Language names.
const (
	CSS        = "CSS"
	Django     = "Django"
	HTML       = "HTML"
	JavaScript = "JavaScript"
	PHP        = "PHP"
	Python     = "Python"
	RHTML      = "RHTML"
	Ruby       = "Ruby"
)

const scriptStops = " \t\r\n'\"`()[]{};:,=+-*/<>&|^~%!?@#"

var (
	styleLexer = &lexer.TreeSitter{Grammar: grammar.CSS, Family: lexer.FamilyStylesheet}
	jsLexer    = &lexer.TreeSitter{Grammar: grammar.JavaScript, Family: lexer.FamilyClientScript}
)

// markupFamilies is the family map shared by every HTML-based language.
func markupFamilies(extra lexer.FamilyMap) lexer.FamilyMap {
	fm := lexer.FamilyMap{
		lexer.FamilyMarkup:       HTML,
		lexer.FamilyClientScript: JavaScript,
		lexer.FamilyStylesheet:   CSS,
	}
	for f, name := range extra {
		fm[f] = name
	}
	return fm
}

func markupIntel() *lang.Intelligence {
	return &lang.Intelligence{
		StopChars:  " \t\r\n\"'=>",
		IdentExtra: "-:",
		EndTag:     true,
	}
}

// Builtin returns fresh descriptors for the built-in languages. Composite
// drivers resolve their sub-languages through reg.
func Builtin(reg driver.Resolver) []*lang.Descriptor {
	return []*lang.Descriptor{
		{
			Name:       Python,
			Extensions: []string{".py", ".pyw"},
			Lexer:      &lexer.TreeSitter{Grammar: grammar.Python, Family: lexer.FamilyServerScript},
			Intel: &lang.Intelligence{
				MemberOperators: []string{"."},
				CalltipChars:    "(",
				ArgChars:        ",",
				StopChars:       scriptStops,
				Compare:         pythonCompare,
			},
			Driver:               driver.Python(),
			IsCompletionLanguage: true,
			Primary:              lexer.FamilyServerScript,
			FamilyMap:            lexer.FamilyMap{lexer.FamilyServerScript: Python},
		},
		{
			Name:       JavaScript,
			Extensions: []string{".js", ".mjs", ".cjs", ".jsx"},
			Lexer:      jsLexer,
			Intel: &lang.Intelligence{
				MemberOperators: []string{"."},
				CalltipChars:    "(",
				ArgChars:        ",",
				StopChars:       scriptStops,
				IdentExtra:      "$",
			},
			Driver:               driver.JavaScript(),
			IsCompletionLanguage: true,
			Primary:              lexer.FamilyClientScript,
			FamilyMap:            lexer.FamilyMap{lexer.FamilyClientScript: JavaScript},
		},
		{
			Name:       CSS,
			Extensions: []string{".css"},
			Lexer:      styleLexer,
			Intel: &lang.Intelligence{
				StopChars:  " \t\r\n;{}",
				IdentExtra: "-",
			},
			Primary:   lexer.FamilyStylesheet,
			FamilyMap: lexer.FamilyMap{lexer.FamilyStylesheet: CSS},
		},
		{
			Name:       Ruby,
			Extensions: []string{".rb", ".rake", ".gemspec"},
			Lexer:      &lexer.TreeSitter{Grammar: grammar.Ruby, Family: lexer.FamilyServerScript},
			Intel: &lang.Intelligence{
				MemberOperators: []string{".", "::"},
				CalltipChars:    "(",
				ArgChars:        ",",
				StopChars:       " \t\r\n'\"`()[]{};,=+-*/<>&|^~%",
				IdentExtra:      "@?!",
			},
			Driver:               driver.Ruby(),
			IsCompletionLanguage: true,
			Primary:              lexer.FamilyServerScript,
			FamilyMap:            lexer.FamilyMap{lexer.FamilyServerScript: Ruby},
		},
		{
			Name:       HTML,
			Extensions: []string{".html", ".htm", ".xhtml"},
			Lexer: &lexer.Multi{Sub: map[lexer.Family]lexer.Lexer{
				lexer.FamilyClientScript: jsLexer,
				lexer.FamilyStylesheet:   styleLexer,
			}},
			Traits:               lang.Traits{Partitioned: true, XMLAware: true},
			Intel:                markupIntel(),
			IsCompletionLanguage: true,
			Primary:              lexer.FamilyMarkup,
			FamilyMap:            markupFamilies(nil),
			Driver: &driver.Composite{
				Language:  HTML,
				FamilyMap: markupFamilies(nil),
				Primary:   lexer.FamilyMarkup,
				Langs:     reg,
				Overrides: map[lexer.Family]lang.Driver{lexer.FamilyMarkup: driver.Markup()},
			},
		},
		{
			Name:       PHP,
			Extensions: []string{".php", ".phtml", ".php5", ".inc"},
			Lexer: &lexer.Multi{
				Regions: []lexer.Region{{
					Family:        lexer.FamilyServerScript,
					Open:          []string{"<?php", "<?=", "<?"},
					Close:         "?>",
					LexDelimiters: true,
				}},
				Sub: map[lexer.Family]lexer.Lexer{
					lexer.FamilyClientScript: jsLexer,
					lexer.FamilyStylesheet:   styleLexer,
					lexer.FamilyServerScript: &lexer.TreeSitter{Grammar: grammar.PHP, Family: lexer.FamilyServerScript},
				},
			},
			Traits: lang.Traits{Partitioned: true, XMLAware: true},
			Intel: &lang.Intelligence{
				MemberOperators: []string{"->", "::"},
				CalltipChars:    "(",
				ArgChars:        ",",
				StopChars:       " \t\r\n'\"`()[]{};,=+*/<&|^~%!?@#",
				IdentExtra:      "$",
			},
			IsCompletionLanguage: true,
			Primary:              lexer.FamilyServerScript,
			FamilyMap:            markupFamilies(lexer.FamilyMap{lexer.FamilyServerScript: PHP}),
			Driver: &driver.Composite{
				Language:  PHP,
				FamilyMap: markupFamilies(lexer.FamilyMap{lexer.FamilyServerScript: PHP}),
				Primary:   lexer.FamilyServerScript,
				Langs:     reg,
				Overrides: map[lexer.Family]lang.Driver{
					lexer.FamilyMarkup:       driver.Markup(),
					lexer.FamilyServerScript: driver.PHP(),
				},
			},
		},
		{
			Name:       RHTML,
			Extensions: []string{".rhtml", ".erb"},
			Lexer: &lexer.Multi{
				Regions: []lexer.Region{{
					Family: lexer.FamilyServerScript,
					Open:   []string{"<%=", "<%-", "<%#", "<%"},
					Close:  "%>",
				}},
				Sub: map[lexer.Family]lexer.Lexer{
					lexer.FamilyClientScript: jsLexer,
					lexer.FamilyStylesheet:   styleLexer,
					lexer.FamilyServerScript: &lexer.TreeSitter{Grammar: grammar.Ruby, Family: lexer.FamilyServerScript},
				},
			},
			Traits:               lang.Traits{Partitioned: true, XMLAware: true},
			Intel:                markupIntel(),
			IsCompletionLanguage: true,
			Primary:              lexer.FamilyMarkup,
			FamilyMap:            markupFamilies(lexer.FamilyMap{lexer.FamilyServerScript: Ruby}),
			Driver: &driver.Composite{
				Language:  RHTML,
				FamilyMap: markupFamilies(lexer.FamilyMap{lexer.FamilyServerScript: Ruby}),
				Primary:   lexer.FamilyMarkup,
				Langs:     reg,
				Overrides: map[lexer.Family]lang.Driver{lexer.FamilyMarkup: driver.Markup()},
			},
		},
		{
			Name:       Django,
			Extensions: []string{".django", ".djhtml"},
			Lexer: &lexer.Multi{
				Regions: []lexer.Region{
					{Family: lexer.FamilyTemplate, Open: []string{"{{"}, Close: "}}"},
					{Family: lexer.FamilyTemplate, Open: []string{"{%"}, Close: "%}"},
					{Family: lexer.FamilyTemplate, Open: []string{"{#"}, Close: "#}"},
				},
				Sub: map[lexer.Family]lexer.Lexer{
					lexer.FamilyClientScript: jsLexer,
					lexer.FamilyStylesheet:   styleLexer,
				},
			},
			Traits:               lang.Traits{Partitioned: true, XMLAware: true},
			Intel:                markupIntel(),
			IsCompletionLanguage: true,
			Primary:              lexer.FamilyMarkup,
			FamilyMap:            markupFamilies(lexer.FamilyMap{lexer.FamilyTemplate: Django}),
			Driver: &driver.Composite{
				Language:  Django,
				FamilyMap: markupFamilies(lexer.FamilyMap{lexer.FamilyTemplate: Django}),
				Primary:   lexer.FamilyMarkup,
				Langs:     reg,
				Overrides: map[lexer.Family]lang.Driver{lexer.FamilyMarkup: driver.Markup()},
			},
		},
	}
}

// Register installs the built-in languages into reg, applying per-language
// overrides from the configuration first.
func Register(reg *lang.Registry, overrides map[string]config.Language) error {
	for _, d := range Builtin(reg) {
		if o, ok := overrides[d.Name]; ok {
			d = Apply(d, o)
		}
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// Apply returns a copy of d with the configured trigger data.
func Apply(d *lang.Descriptor, o config.Language) *lang.Descriptor {
	c := d.Clone()
	if len(o.ExternalScanner) > 0 {
		c.ExternalScanner = append([]string(nil), o.ExternalScanner...)
	}
	if c.Intel == nil {
		c.Intel = &lang.Intelligence{}
	}
	if o.StopChars != nil {
		c.Intel.StopChars = *o.StopChars
	}
	if o.TriggerChars != nil {
		var ops []string
		var calltip, args strings.Builder
		for _, t := range o.TriggerChars {
			switch t {
			case "(":
				calltip.WriteString(t)
			case ",":
				args.WriteString(t)
			case "":
			default:
				ops = append(ops, t)
			}
		}
		c.Intel.MemberOperators = ops
		c.Intel.CalltipChars = calltip.String()
		c.Intel.ArgChars = args.String()
	}
	return c
}

// pythonCompare sorts names with a leading underscore after public names.
func pythonCompare(a, b lang.CompletionKey) int {
	pa, pb := strings.HasPrefix(a.Name, "_"), strings.HasPrefix(b.Name, "_")
	if pa != pb {
		if pa {
			return 1
		}
		return -1
	}
	return lang.DefaultCompare(a, b)
}
