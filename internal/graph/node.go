package graph

import (
	"fmt"
	"maps"
	"sort"
)

// ReservedPositionKey is stripped from node attributes; positions belong to
// the renderer.
const ReservedPositionKey = "position"

// Node is one document (or unresolved reference) in the graph.
type Node struct {
	ID         Identity
	Attributes map[string]any

	classes classSet
	// observe is installed by the owning Graph to keep its class index
	// current. nil while the node is detached.
	observe func(class string, present bool)
}

// NewNode builds a detached node. classes are routed through AddClass.
func NewNode(id Identity, attrs map[string]any, classes ...string) *Node {
	n := &Node{ID: id, classes: newClassSet()}
	n.SetAttributes(attrs)
	n.AddClass(classes...)
	return n
}

// RenderedID implements Rendered.
func (n *Node) RenderedID() string { return n.ID.String() }

// SetAttributes replaces the attribute map wholesale (no deep merge).
func (n *Node) SetAttributes(attrs map[string]any) {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		if k == ReservedPositionKey {
			continue
		}
		out[k] = v
	}
	n.Attributes = out
}

// Attr returns the attribute under key.
func (n *Node) Attr(key string) (any, bool) {
	v, ok := n.Attributes[key]
	return v, ok
}

// AddClass adds transient classes, except well-known sticky names which go
// to the sticky set.
func (n *Node) AddClass(classes ...string) {
	for _, c := range classes {
		if IsStickyName(c) {
			n.addTo(n.classes.sticky, c)
		} else {
			n.addTo(n.classes.transient, c)
		}
	}
}

// AddSticky adds classes to the sticky set regardless of their name.
func (n *Node) AddSticky(classes ...string) {
	for _, c := range classes {
		n.addTo(n.classes.sticky, c)
	}
}

func (n *Node) addTo(set map[string]struct{}, c string) {
	if c == "" {
		return
	}
	had := n.classes.has(c)
	set[c] = struct{}{}
	if !had && n.observe != nil {
		n.observe(c, true)
	}
}

// RemoveClass drops classes from both sets.
func (n *Node) RemoveClass(classes ...string) {
	for _, c := range classes {
		if !n.classes.has(c) {
			continue
		}
		delete(n.classes.sticky, c)
		delete(n.classes.transient, c)
		if n.observe != nil {
			n.observe(c, false)
		}
	}
}

// HasClass reports whether either set holds class.
func (n *Node) HasClass(class string) bool { return n.classes.has(class) }

// IsSticky reports whether class is held in the sticky set.
func (n *Node) IsSticky(class string) bool {
	_, ok := n.classes.sticky[class]
	return ok
}

// Classes returns every class, sorted.
func (n *Node) Classes() []string { return n.classes.all() }

// StickyClasses returns the sticky set, sorted.
func (n *Node) StickyClasses() []string { return sortedKeys(n.classes.sticky) }

// TransientClasses returns the transient set, sorted.
func (n *Node) TransientClasses() []string { return sortedKeys(n.classes.transient) }

// ReplaceTransient swaps the transient set for classes. The sticky set is
// untouched; a class that is already sticky stays sticky.
func (n *Node) ReplaceTransient(classes []string) {
	next := make(map[string]struct{}, len(classes))
	for _, c := range classes {
		if c == "" {
			continue
		}
		next[c] = struct{}{}
	}
	prev := n.classes.transient
	n.classes.transient = next
	if n.observe == nil {
		return
	}
	for c := range prev {
		if _, still := next[c]; still {
			continue
		}
		if _, sticky := n.classes.sticky[c]; sticky {
			continue
		}
		n.observe(c, false)
	}
	for c := range next {
		if _, before := prev[c]; before {
			continue
		}
		if _, sticky := n.classes.sticky[c]; sticky {
			continue
		}
		n.observe(c, true)
	}
}

// Clone returns a detached deep-enough copy (attribute values are shared).
func (n *Node) Clone() *Node {
	c := &Node{
		ID:         n.ID,
		Attributes: maps.Clone(n.Attributes),
		classes:    newClassSet(),
	}
	for k := range n.classes.transient {
		c.classes.transient[k] = struct{}{}
	}
	for k := range n.classes.sticky {
		c.classes.sticky[k] = struct{}{}
	}
	if c.Attributes == nil {
		c.Attributes = map[string]any{}
	}
	return c
}

// Name returns the display name of the node.
func (n *Node) Name() string {
	if v, ok := n.Attributes["name"].(string); ok && v != "" {
		return v
	}
	return n.ID.Name
}

func (n *Node) String() string {
	return fmt.Sprintf("%s%v", n.ID, n.Classes())
}

// Edge is a directed reference between two nodes.
type Edge struct {
	ID     string
	Source Identity
	Target Identity
	// Context is the source line the reference was found on.
	Context string
	// Properties come from the typed-link parser; nil for untyped links.
	Properties map[string]any

	classes map[string]struct{}
}

// EdgeID builds the id of the n-th reference from source to target within
// one retrieval batch.
func EdgeID(source, target Identity, n int) string {
	return fmt.Sprintf("%s->%s#%d", source, target, n)
}

// NewEdge builds an edge; self-loops are tagged ClassLoop.
func NewEdge(id string, source, target Identity, context string, classes ...string) *Edge {
	e := &Edge{
		ID:      id,
		Source:  source,
		Target:  target,
		Context: context,
		classes: make(map[string]struct{}),
	}
	e.AddClass(classes...)
	if source == target {
		e.AddClass(ClassLoop)
	}
	return e
}

func (e *Edge) AddClass(classes ...string) {
	if e.classes == nil {
		e.classes = make(map[string]struct{})
	}
	for _, c := range classes {
		if c != "" {
			e.classes[c] = struct{}{}
		}
	}
}

func (e *Edge) RemoveClass(classes ...string) {
	for _, c := range classes {
		delete(e.classes, c)
	}
}

func (e *Edge) HasClass(class string) bool {
	_, ok := e.classes[class]
	return ok
}

func (e *Edge) Classes() []string { return sortedKeys(e.classes) }

// Type is the typed-link type of the edge, or ClassInline when untyped.
func (e *Edge) Type() string {
	if t, ok := e.Properties["type"].(string); ok && t != "" {
		return t
	}
	return ClassInline
}

// Clone returns a detached copy.
func (e *Edge) Clone() *Edge {
	c := &Edge{
		ID:         e.ID,
		Source:     e.Source,
		Target:     e.Target,
		Context:    e.Context,
		Properties: maps.Clone(e.Properties),
		classes:    make(map[string]struct{}, len(e.classes)),
	}
	for k := range e.classes {
		c.classes[k] = struct{}{}
	}
	return c
}

// SortNodes orders nodes by composed id.
func SortNodes(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID.String() < nodes[j].ID.String() })
}

// SortEdges orders edges by id.
func SortEdges(edges []*Edge) {
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })
}
