package graph

import (
	"errors"

	"github.com/RoaringBitmap/roaring"
)

var ErrNotFound = errors.New("node not found")

// Change summarizes the mutations of one batch.
type Change struct {
	AddedNodes   int
	UpdatedNodes int
	RemovedNodes int
	AddedEdges   int
	UpdatedEdges int
	RemovedEdges int
}

// Empty reports whether nothing changed.
func (c Change) Empty() bool {
	return c == Change{}
}

func (c *Change) add(o Change) {
	c.AddedNodes += o.AddedNodes
	c.UpdatedNodes += o.UpdatedNodes
	c.RemovedNodes += o.RemovedNodes
	c.AddedEdges += o.AddedEdges
	c.UpdatedEdges += o.UpdatedEdges
	c.RemovedEdges += o.RemovedEdges
}

// Graph is the live collection of materialized nodes and edges.
//
// It is not safe for concurrent use: exactly one session owns it and
// serializes every mutation. Observers registered with OnChange see one
// notification per outermost Batch.
type Graph struct {
	nodes map[string]*Node // composed id → node
	edges map[string]*Edge // edge id → edge
	out   map[string]map[string]struct{}
	in    map[string]map[string]struct{}

	// Roaring bitmap index: class → set of internal node ids.
	// Keeps class lookups (visible set, filtered set) O(k).
	classIndex  map[string]*roaring.Bitmap
	all         *roaring.Bitmap
	nodeIntID   map[string]uint32
	intToNodeID []string
	nextIntID   uint32

	batchDepth int
	pending    Change
	observers  []func(Change)
}

func New() *Graph {
	return &Graph{
		nodes:      make(map[string]*Node),
		edges:      make(map[string]*Edge),
		out:        make(map[string]map[string]struct{}),
		in:         make(map[string]map[string]struct{}),
		classIndex: make(map[string]*roaring.Bitmap),
		all:        roaring.New(),
		nodeIntID:  make(map[string]uint32),
	}
}

// OnChange registers fn to run after every committed change.
func (g *Graph) OnChange(fn func(Change)) {
	g.observers = append(g.observers, fn)
}

// Batch runs fn with change notifications deferred until the outermost
// batch returns.
func (g *Graph) Batch(fn func()) {
	g.batchDepth++
	defer func() {
		g.batchDepth--
		if g.batchDepth == 0 {
			g.flush()
		}
	}()
	fn()
}

func (g *Graph) record(c Change) {
	g.pending.add(c)
	if g.batchDepth == 0 {
		g.flush()
	}
}

func (g *Graph) flush() {
	if g.pending.Empty() {
		return
	}
	c := g.pending
	g.pending = Change{}
	for _, fn := range g.observers {
		fn(c)
	}
}

// ---------------------------------------------------------------------------
// Nodes
// ---------------------------------------------------------------------------

// Node returns the node with the given identity.
func (g *Graph) Node(id Identity) (*Node, bool) {
	n, ok := g.nodes[id.String()]
	return n, ok
}

// HasNode reports whether id is materialized.
func (g *Graph) HasNode(id Identity) bool {
	_, ok := g.nodes[id.String()]
	return ok
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// Nodes returns every node ordered by id.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	SortNodes(out)
	return out
}

// AddNodes commits new nodes in one operation. Identities already present
// are skipped; merging is the caller's job. Returns the nodes actually added.
func (g *Graph) AddNodes(nodes ...*Node) []*Node {
	var added []*Node
	for _, n := range nodes {
		key := n.ID.String()
		if _, exists := g.nodes[key]; exists {
			continue
		}
		if n.classes.transient == nil {
			n.classes = newClassSet()
		}
		g.nodes[key] = n
		g.indexNode(key, n)
		added = append(added, n)
	}
	if len(added) > 0 {
		g.record(Change{AddedNodes: len(added)})
	}
	return added
}

// Touch records that n was updated in place.
func (g *Graph) Touch(n *Node) {
	if _, ok := g.nodes[n.ID.String()]; ok {
		g.record(Change{UpdatedNodes: 1})
	}
}

// RemoveNodes removes nodes and their incident edges.
func (g *Graph) RemoveNodes(ids ...Identity) []*Node {
	var removed []*Node
	edgesRemoved := 0
	for _, id := range ids {
		key := id.String()
		n, ok := g.nodes[key]
		if !ok {
			continue
		}
		for eid := range g.out[key] {
			if g.removeEdge(eid) {
				edgesRemoved++
			}
		}
		for eid := range g.in[key] {
			if g.removeEdge(eid) {
				edgesRemoved++
			}
		}
		delete(g.out, key)
		delete(g.in, key)
		g.unindexNode(key, n)
		delete(g.nodes, key)
		removed = append(removed, n)
	}
	if len(removed) > 0 || edgesRemoved > 0 {
		g.record(Change{RemovedNodes: len(removed), RemovedEdges: edgesRemoved})
	}
	return removed
}

// indexNode assigns an internal bitmap ID and registers the node's classes.
func (g *Graph) indexNode(key string, n *Node) {
	intID, ok := g.nodeIntID[key]
	if !ok {
		intID = g.nextIntID
		g.nextIntID++
		g.nodeIntID[key] = intID
		for uint32(len(g.intToNodeID)) <= intID {
			g.intToNodeID = append(g.intToNodeID, "")
		}
		g.intToNodeID[intID] = key
	}
	g.all.Add(intID)
	for _, c := range n.classes.all() {
		g.bitmap(c).Add(intID)
	}
	n.observe = func(class string, present bool) {
		if present {
			g.bitmap(class).Add(intID)
			return
		}
		if bm, ok := g.classIndex[class]; ok {
			bm.Remove(intID)
		}
	}
}

func (g *Graph) unindexNode(key string, n *Node) {
	intID, ok := g.nodeIntID[key]
	if !ok {
		return
	}
	g.all.Remove(intID)
	for _, bm := range g.classIndex {
		bm.Remove(intID)
	}
	delete(g.nodeIntID, key)
	g.intToNodeID[intID] = ""
	n.observe = nil
}

func (g *Graph) bitmap(class string) *roaring.Bitmap {
	bm, ok := g.classIndex[class]
	if !ok {
		bm = roaring.New()
		g.classIndex[class] = bm
	}
	return bm
}

func (g *Graph) resolve(bm *roaring.Bitmap) []*Node {
	out := make([]*Node, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		intID := it.Next()
		if int(intID) >= len(g.intToNodeID) {
			continue
		}
		if n, ok := g.nodes[g.intToNodeID[intID]]; ok {
			out = append(out, n)
		}
	}
	SortNodes(out)
	return out
}

// NodesWithClass returns the nodes holding class, ordered by id.
func (g *Graph) NodesWithClass(class string) []*Node {
	bm, ok := g.classIndex[class]
	if !ok {
		return nil
	}
	return g.resolve(bm)
}

// NodesWithout returns the nodes holding none of classes, ordered by id.
func (g *Graph) NodesWithout(classes ...string) []*Node {
	bm := g.all.Clone()
	for _, c := range classes {
		if ex, ok := g.classIndex[c]; ok {
			bm.AndNot(ex)
		}
	}
	return g.resolve(bm)
}

// Visible returns the nodes not hidden by the soft or hard filter.
func (g *Graph) Visible() []*Node {
	return g.NodesWithout(ClassFiltered, ClassFilteredHard)
}

// IsVisible reports whether the node is materialized and unfiltered.
func (g *Graph) IsVisible(id Identity) bool {
	n, ok := g.Node(id)
	return ok && !n.HasClass(ClassFiltered) && !n.HasClass(ClassFilteredHard)
}

// ClearClass removes class from every node.
func (g *Graph) ClearClass(class string) {
	for _, n := range g.NodesWithClass(class) {
		n.RemoveClass(class)
	}
}

// ---------------------------------------------------------------------------
// Edges
// ---------------------------------------------------------------------------

// Edge returns the edge with the given id.
func (g *Graph) Edge(id string) (*Edge, bool) {
	e, ok := g.edges[id]
	return e, ok
}

// Edges returns every edge ordered by id.
func (g *Graph) Edges() []*Edge {
	out := make([]*Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, e)
	}
	SortEdges(out)
	return out
}

// PutEdge inserts e or, when its id is already present, replaces the stored
// edge's data with e's. Edges whose endpoints are not both materialized are
// rejected (ok == false).
func (g *Graph) PutEdge(e *Edge) (stored *Edge, added, ok bool) {
	src, tgt := e.Source.String(), e.Target.String()
	if _, has := g.nodes[src]; !has {
		return nil, false, false
	}
	if _, has := g.nodes[tgt]; !has {
		return nil, false, false
	}
	if existing, has := g.edges[e.ID]; has {
		existing.Source = e.Source
		existing.Target = e.Target
		existing.Context = e.Context
		existing.Properties = e.Properties
		existing.classes = e.Clone().classes
		g.record(Change{UpdatedEdges: 1})
		return existing, false, true
	}
	g.edges[e.ID] = e
	link(g.out, src, e.ID)
	link(g.in, tgt, e.ID)
	g.record(Change{AddedEdges: 1})
	return e, true, true
}

func link(idx map[string]map[string]struct{}, key, edgeID string) {
	set, ok := idx[key]
	if !ok {
		set = make(map[string]struct{})
		idx[key] = set
	}
	set[edgeID] = struct{}{}
}

// RemoveEdges removes edges by id.
func (g *Graph) RemoveEdges(ids ...string) int {
	n := 0
	for _, id := range ids {
		if g.removeEdge(id) {
			n++
		}
	}
	if n > 0 {
		g.record(Change{RemovedEdges: n})
	}
	return n
}

func (g *Graph) removeEdge(id string) bool {
	e, ok := g.edges[id]
	if !ok {
		return false
	}
	delete(g.edges, id)
	if set := g.out[e.Source.String()]; set != nil {
		delete(set, id)
	}
	if set := g.in[e.Target.String()]; set != nil {
		delete(set, id)
	}
	return true
}

func (g *Graph) collect(set map[string]struct{}) []*Edge {
	out := make([]*Edge, 0, len(set))
	for id := range set {
		if e, ok := g.edges[id]; ok {
			out = append(out, e)
		}
	}
	SortEdges(out)
	return out
}

// OutEdges returns the edges whose source is id.
func (g *Graph) OutEdges(id Identity) []*Edge { return g.collect(g.out[id.String()]) }

// InEdges returns the edges whose target is id.
func (g *Graph) InEdges(id Identity) []*Edge { return g.collect(g.in[id.String()]) }

// ConnectedEdges returns in and out edges of id; a self-loop appears once.
func (g *Graph) ConnectedEdges(id Identity) []*Edge {
	key := id.String()
	set := make(map[string]struct{}, len(g.out[key])+len(g.in[key]))
	for e := range g.out[key] {
		set[e] = struct{}{}
	}
	for e := range g.in[key] {
		set[e] = struct{}{}
	}
	return g.collect(set)
}

// Neighbours returns the nodes adjacent to id in either direction.
func (g *Graph) Neighbours(id Identity) []*Node {
	seen := make(map[string]struct{})
	var out []*Node
	for _, e := range g.ConnectedEdges(id) {
		other := e.Target
		if other == id {
			other = e.Source
		}
		if other == id {
			continue
		}
		key := other.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if n, ok := g.nodes[key]; ok {
			out = append(out, n)
		}
	}
	SortNodes(out)
	return out
}
