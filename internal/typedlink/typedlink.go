// Package typedlink recognises typed references in document lines, e.g.
//
//	- supports [[Other note]]
//	parent:: [[Index]]
//
// A typed reference becomes an edge with Properties{"type": <type>} and the
// class "type-<type>".
package typedlink

import (
	"regexp"
	"strings"
)

// ClassPrefix prefixes the edge class derived from a link type.
const ClassPrefix = "type-"

// Typed is the result of parsing one reference.
type Typed struct {
	Type       string
	Properties map[string]any
	Classes    []string
}

// Parser extracts the type of a reference to target found on line.
type Parser interface {
	Parse(target, line string) (Typed, bool)
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(target, line string) (Typed, bool)

func (f ParserFunc) Parse(target, line string) (Typed, bool) { return f(target, line) }

var (
	listItemRe = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+([\p{L}_][\p{L}\p{N}_-]*)\s+!?\[\[`)
	fieldRe    = regexp.MustCompile(`([\p{L}_][\p{L}\p{N}_-]*)\s*::\s*`)
)

// LineParser understands list items of the form "- <type> [[target]]" and
// inline fields of the form "<type>:: [[target]]". Types are lower-cased.
type LineParser struct {
	// Allowed restricts the recognised types. Empty means any.
	Allowed map[string]struct{}
}

// NewLineParser returns a parser accepting only the given types (any, if none).
func NewLineParser(types ...string) *LineParser {
	p := &LineParser{}
	if len(types) > 0 {
		p.Allowed = make(map[string]struct{}, len(types))
		for _, t := range types {
			p.Allowed[strings.ToLower(t)] = struct{}{}
		}
	}
	return p
}

func (p *LineParser) Parse(target, line string) (Typed, bool) {
	if target == "" || !strings.Contains(line, target) {
		return Typed{}, false
	}
	if m := listItemRe.FindStringSubmatch(line); m != nil {
		return p.typed(m[1])
	}
	// An inline field applies to the links that follow it up to the next field.
	at := strings.Index(line, "[["+target)
	if at < 0 {
		return Typed{}, false
	}
	var kind string
	for _, loc := range fieldRe.FindAllStringSubmatchIndex(line, -1) {
		if loc[1] > at {
			break
		}
		kind = line[loc[2]:loc[3]]
	}
	if kind == "" {
		return Typed{}, false
	}
	return p.typed(kind)
}

func (p *LineParser) typed(kind string) (Typed, bool) {
	kind = strings.ToLower(kind)
	if p.Allowed != nil {
		if _, ok := p.Allowed[kind]; !ok {
			return Typed{}, false
		}
	}
	return Typed{
		Type:       kind,
		Properties: map[string]any{"type": kind},
		Classes:    []string{ClassPrefix + kind},
	}, true
}

// None never recognises a typed reference.
var None Parser = ParserFunc(func(string, string) (Typed, bool) { return Typed{}, false })
