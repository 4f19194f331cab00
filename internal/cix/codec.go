package cix

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"
)

// Version is the interchange format version written by Marshal.
const Version = "2.0"

// ErrShared is returned by Marshal when a node is reachable more than once.
var ErrShared = errors.New("cix: node appears more than once in tree")

type xmlDoc struct {
	XMLName xml.Name `xml:"codeintel"`
	Version string   `xml:"version,attr"`
	File    xmlFile  `xml:"file"`
}

type xmlFile struct {
	Path    string   `xml:"path,attr"`
	Encoded string   `xml:"encoded,attr,omitempty"`
	Root    *xmlNode `xml:",any"`
}

type xmlRef struct {
	Name    string `xml:"name,attr"`
	Encoded string `xml:"encoded,attr,omitempty"`
}

type xmlNode struct {
	XMLName   xml.Name
	Ilk       string     `xml:"ilk,attr,omitempty"`
	Name      string     `xml:"name,attr,omitempty"`
	Line      int        `xml:"line,attr,omitempty"`
	LineEnd   int        `xml:"lineend,attr,omitempty"`
	Lang      string     `xml:"lang,attr,omitempty"`
	Family    string     `xml:"family,attr,omitempty"`
	Signature string     `xml:"signature,attr,omitempty"`
	Citdl     string     `xml:"citdl,attr,omitempty"`
	Returns   string     `xml:"returns,attr,omitempty"`
	Module    string     `xml:"module,attr,omitempty"`
	Symbol    string     `xml:"symbol,attr,omitempty"`
	Origin    string     `xml:"origin,attr,omitempty"`
	Doc       string     `xml:"doc,attr,omitempty"`
	Attrs     string     `xml:"attributes,attr,omitempty"`
	Encoded   string     `xml:"encoded,attr,omitempty"`
	ClassRefs []xmlRef   `xml:"classref"`
	Children  []*xmlNode `xml:",any"`
}

// Text fields holding bytes XML cannot carry (invalid UTF-8, most control
// characters) are written base64 encoded; the element's encoded attribute
// names them.

func (x *xmlNode) fields() []field {
	return []field{
		{"name", &x.Name}, {"lang", &x.Lang}, {"family", &x.Family},
		{"signature", &x.Signature}, {"citdl", &x.Citdl}, {"returns", &x.Returns},
		{"module", &x.Module}, {"symbol", &x.Symbol}, {"origin", &x.Origin},
		{"doc", &x.Doc},
	}
}

type field struct {
	attr string
	val  *string
}

// encodeFields rewrites unsafe values in place and returns the encoded
// attribute value.
func encodeFields(list []field) string {
	var names []string
	for _, f := range list {
		if !xmlSafe(*f.val) {
			*f.val = base64.StdEncoding.EncodeToString([]byte(*f.val))
			names = append(names, f.attr)
		}
	}
	return strings.Join(names, " ")
}

func decodeFields(list []field, encoded string) error {
	names := strings.Fields(encoded)
	for _, f := range list {
		if !slices.Contains(names, f.attr) {
			continue
		}
		b, err := base64.StdEncoding.DecodeString(*f.val)
		if err != nil {
			return fmt.Errorf("cix: decode %s: %w", f.attr, err)
		}
		*f.val = string(b)
	}
	return nil
}

// xmlSafe reports whether s survives an XML round trip unchanged.
func xmlSafe(s string) bool {
	for i, r := range s {
		if r == utf8.RuneError {
			if _, size := utf8.DecodeRuneInString(s[i:]); size == 1 {
				return false
			}
		}
		switch {
		case r == '\t' || r == '\n' || r == '\r':
		case r < 0x20:
			return false
		case r >= 0xD800 && r <= 0xDFFF, r == 0xFFFE, r == 0xFFFF:
			return false
		}
	}
	return true
}

// Marshal encodes the tree rooted at root, scanned from path.
func Marshal(path string, root *Node) ([]byte, error) {
	if root == nil {
		return nil, errors.New("cix: nil root")
	}
	seen := make(map[*Node]bool)
	xr, err := toXML(root, seen)
	if err != nil {
		return nil, err
	}
	file := xmlFile{Path: path, Root: xr}
	file.Encoded = encodeFields([]field{{"path", &file.Path}})
	doc := xmlDoc{Version: Version, File: file}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("cix: encode: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Unmarshal decodes a document produced by Marshal.
func Unmarshal(data []byte) (path string, root *Node, err error) {
	var doc xmlDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return "", nil, fmt.Errorf("cix: decode: %w", err)
	}
	if doc.File.Root == nil {
		return "", nil, errors.New("cix: document has no root node")
	}
	root, err = fromXML(doc.File.Root)
	if err != nil {
		return "", nil, err
	}
	path = doc.File.Path
	if err := decodeFields([]field{{"path", &path}}, doc.File.Encoded); err != nil {
		return "", nil, err
	}
	return path, root, nil
}

func toXML(n *Node, seen map[*Node]bool) (*xmlNode, error) {
	if seen[n] {
		return nil, fmt.Errorf("%w: %s %q", ErrShared, n.Kind, n.Name)
	}
	seen[n] = true

	x := &xmlNode{
		XMLName:   xml.Name{Local: string(n.Kind)},
		Ilk:       string(n.Ilk),
		Name:      n.Name,
		Line:      n.Line,
		LineEnd:   n.LineEnd,
		Lang:      n.Lang,
		Family:    n.Family,
		Signature: n.Signature,
		Citdl:     n.Citdl,
		Returns:   n.Returns,
		Module:    n.Module,
		Symbol:    n.Symbol,
		Origin:    n.Origin,
		Doc:       n.Doc,
		Attrs:     n.Attrs.String(),
	}
	x.Encoded = encodeFields(x.fields())
	for _, ref := range n.ClassRefs {
		xr := xmlRef{Name: ref}
		xr.Encoded = encodeFields([]field{{"name", &xr.Name}})
		x.ClassRefs = append(x.ClassRefs, xr)
	}
	for _, c := range n.Children {
		xc, err := toXML(c, seen)
		if err != nil {
			return nil, err
		}
		x.Children = append(x.Children, xc)
	}
	return x, nil
}

func fromXML(x *xmlNode) (*Node, error) {
	kind := Kind(x.XMLName.Local)
	switch kind {
	case KindBlob, KindScope, KindVariable, KindImport:
	default:
		return nil, fmt.Errorf("cix: unknown element <%s>", x.XMLName.Local)
	}
	if err := decodeFields(x.fields(), x.Encoded); err != nil {
		return nil, err
	}
	n := &Node{
		Kind:      kind,
		Ilk:       Ilk(x.Ilk),
		Name:      x.Name,
		Line:      x.Line,
		LineEnd:   x.LineEnd,
		Lang:      x.Lang,
		Family:    x.Family,
		Signature: x.Signature,
		Citdl:     x.Citdl,
		Returns:   x.Returns,
		Module:    x.Module,
		Symbol:    x.Symbol,
		Origin:    x.Origin,
		Doc:       x.Doc,
		Attrs:     ParseAttr(x.Attrs),
	}
	for _, xr := range x.ClassRefs {
		if err := decodeFields([]field{{"name", &xr.Name}}, xr.Encoded); err != nil {
			return nil, err
		}
		n.ClassRefs = append(n.ClassRefs, xr.Name)
	}
	for _, xc := range x.Children {
		c, err := fromXML(xc)
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, c)
	}
	return n, nil
}
