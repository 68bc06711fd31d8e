// Package query compiles node filters written as JSONPath.
//
// A query starting with "$" is a complete path evaluated against a node's
// attribute document and matches when it selects anything. Any other query
// is a filter expression, e.g.
//
//	@.status == 'draft' && @.priority > 2
//
// evaluated as "$[?(<query>)]" against a one-element list holding the
// document. The empty query matches every node.
package query

import (
	"errors"
	"fmt"
	"strings"

	"github.com/agentic-research/loom/internal/graph"
	"github.com/ohler55/ojg/jp"
)

var ErrInvalidQuery = errors.New("invalid query")

// Query is a compiled filter.
type Query struct {
	src    string
	expr   jp.Expr
	filter bool
}

// Compile parses src. The returned error wraps ErrInvalidQuery.
func Compile(src string) (*Query, error) {
	src = strings.TrimSpace(src)
	q := &Query{src: src}
	if src == "" {
		return q, nil
	}
	path := src
	if !strings.HasPrefix(src, "$") {
		path = "$[?(" + src + ")]"
		q.filter = true
	}
	x, err := parse(path)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidQuery, src, err)
	}
	q.expr = x
	return q, nil
}

func parse(path string) (x jp.Expr, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	return jp.ParseString(path)
}

// MustCompile is Compile that panics on error.
func MustCompile(src string) *Query {
	q, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return q
}

// String returns the source text.
func (q *Query) String() string { return q.src }

// MatchAll reports whether q is the empty query.
func (q *Query) MatchAll() bool { return q == nil || q.expr == nil }

// Match evaluates q against an attribute document.
func (q *Query) Match(doc map[string]any) bool {
	if q.MatchAll() {
		return true
	}
	var root any = doc
	if q.filter {
		root = []any{doc}
	}
	return len(q.expr.Get(root)) > 0
}

// MatchNode evaluates q against n's attributes, with "id", "store" and
// "classes" added unless the attributes already define them.
func (q *Query) MatchNode(n *graph.Node) bool {
	if q.MatchAll() {
		return true
	}
	return q.Match(Document(n))
}

// Document is the view of n that queries see.
func Document(n *graph.Node) map[string]any {
	doc := make(map[string]any, len(n.Attributes)+3)
	for k, v := range n.Attributes {
		doc[k] = normalize(v)
	}
	setDefault(doc, "id", n.ID.String())
	setDefault(doc, "store", n.ID.StoreID)
	classes := n.Classes()
	list := make([]any, len(classes))
	for i, c := range classes {
		list[i] = c
	}
	setDefault(doc, "classes", list)
	return doc
}

// normalize widens Go integer kinds to int64, the only integer type script
// comparisons understand.
func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return int64(x)
	case uint32:
		return int64(x)
	case float32:
		return float64(x)
	}
	return v
}

func setDefault(doc map[string]any, key string, v any) {
	if _, ok := doc[key]; !ok {
		doc[key] = v
	}
}
