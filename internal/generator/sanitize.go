package generator

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNotSVG is returned when the document root is not an <svg> element.
var ErrNotSVG = errors.New("document is not an svg")

const (
	svgNamespace   = "http://www.w3.org/2000/svg"
	xlinkNamespace = "http://www.w3.org/1999/xlink"
)

// MaxSVGBytes bounds the size of a stored artifact.
const MaxSVGBytes = 256 << 10

// Elements that can run code or embed foreign documents.
var forbiddenElements = map[string]bool{
	"script":        true,
	"foreignobject": true,
	"iframe":        true,
	"object":        true,
	"embed":         true,
	"handler":       true,
	"listener":      true,
	"style":         true,
}

var urlAttributes = map[string]bool{
	"href":   true,
	"src":    true,
	"action": true,
}

// Sanitizer strips active content from SVG documents. The zero value is ready to use.
type Sanitizer struct{}

// Sanitize re-serializes the document, keeping only the svg/xlink vocabulary.
// Scripts, foreign content, style sheets, comments, processing instructions
// and DOCTYPE declarations are dropped, as are on* attributes and URLs with a
// javascript:, vbscript: or non-image data: scheme.
func (Sanitizer) Sanitize(raw string) (string, error) {
	if len(raw) > MaxSVGBytes {
		return "", fmt.Errorf("svg is %d bytes, limit is %d", len(raw), MaxSVGBytes)
	}

	dec := xml.NewDecoder(strings.NewReader(raw))
	dec.Strict = true

	var (
		out      strings.Builder
		depth    int
		skip     int // depth at which a dropped subtree started, 0 when not skipping
		sawRoot  bool
		rootDone bool
	)

	for {
		tok, err := dec.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parsing svg: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if rootDone {
				return "", errors.New("parsing svg: content after root element")
			}
			if !sawRoot {
				if !strings.EqualFold(t.Name.Local, "svg") || (t.Name.Space != "" && t.Name.Space != "svg") {
					return "", ErrNotSVG
				}
				sawRoot = true
			}
			if skip > 0 {
				continue
			}
			if dropElement(t.Name) {
				skip = depth
				continue
			}
			out.WriteByte('<')
			out.WriteString(qualified(t.Name))
			for _, a := range t.Attr {
				if dropAttribute(a) {
					continue
				}
				out.WriteByte(' ')
				out.WriteString(qualified(a.Name))
				out.WriteString(`="`)
				_ = xml.EscapeText(&out, []byte(a.Value))
				out.WriteByte('"')
			}
			out.WriteByte('>')

		case xml.EndElement:
			if skip == 0 {
				out.WriteString("</")
				out.WriteString(qualified(t.Name))
				out.WriteByte('>')
			}
			if skip == depth {
				skip = 0
			}
			depth--
			if depth == 0 && sawRoot {
				rootDone = true
			}

		case xml.CharData:
			if skip == 0 && depth > 0 {
				_ = xml.EscapeText(&out, t)
			}
		}
		// Comments, processing instructions and directives are never copied.
	}

	if !sawRoot {
		return "", ErrNotSVG
	}
	if depth != 0 {
		return "", errors.New("parsing svg: unclosed elements")
	}
	return out.String(), nil
}

func qualified(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

func dropElement(n xml.Name) bool {
	if n.Space != "" && n.Space != "svg" {
		return true
	}
	return forbiddenElements[strings.ToLower(n.Local)]
}

func dropAttribute(a xml.Attr) bool {
	local := strings.ToLower(a.Name.Local)
	switch a.Name.Space {
	case "", "xlink", "xml":
	case "xmlns":
		return !(a.Value == xlinkNamespace || (local == "svg" && a.Value == svgNamespace))
	default:
		return true
	}
	if strings.HasPrefix(local, "on") {
		return true
	}
	if a.Name.Space == "" && local == "xmlns" {
		return a.Value != svgNamespace
	}
	if urlAttributes[local] && unsafeURL(a.Value) {
		return true
	}
	if local == "style" {
		v := compact(a.Value)
		return strings.Contains(v, "javascript:") || strings.Contains(v, "expression(") || strings.Contains(v, "url(")
	}
	return false
}

func unsafeURL(v string) bool {
	v = compact(v)
	switch {
	case strings.HasPrefix(v, "javascript:"), strings.HasPrefix(v, "vbscript:"):
		return true
	case strings.HasPrefix(v, "data:"):
		return !strings.HasPrefix(v, "data:image/png") && !strings.HasPrefix(v, "data:image/jpeg") && !strings.HasPrefix(v, "data:image/gif")
	}
	return false
}

// compact lowercases v and removes whitespace and control characters, which
// browsers ignore inside URL schemes.
func compact(v string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(v) {
		if r <= ' ' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
