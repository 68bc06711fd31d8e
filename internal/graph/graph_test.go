package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func id(name string) Identity { return NewIdentity(name, "core") }

func TestGraph_AddNodesSkipsExisting(t *testing.T) {
	g := New()
	added := g.AddNodes(NewNode(id("A"), nil), NewNode(id("B"), nil))
	if len(added) != 2 {
		t.Fatalf("added = %d, want 2", len(added))
	}

	added = g.AddNodes(NewNode(id("A"), map[string]any{"x": 1}))
	if len(added) != 0 {
		t.Errorf("re-adding A added %d nodes, want 0", len(added))
	}
	if g.NodeCount() != 2 {
		t.Errorf("NodeCount = %d, want 2", g.NodeCount())
	}
}

func TestGraph_PutEdgeRejectsDangling(t *testing.T) {
	g := New()
	g.AddNodes(NewNode(id("A"), nil))

	_, _, ok := g.PutEdge(NewEdge("e", id("A"), id("missing"), ""))
	assert.False(t, ok)
	assert.Equal(t, 0, g.EdgeCount())
}

func TestGraph_PutEdgeReplacesSameID(t *testing.T) {
	g := New()
	g.AddNodes(NewNode(id("A"), nil), NewNode(id("B"), nil))

	_, added, ok := g.PutEdge(NewEdge("A->B", id("A"), id("B"), "first"))
	require.True(t, ok)
	require.True(t, added)

	stored, added, ok := g.PutEdge(NewEdge("A->B", id("A"), id("B"), "second"))
	require.True(t, ok)
	assert.False(t, added)
	assert.Equal(t, "second", stored.Context)
	assert.Equal(t, 1, g.EdgeCount())
}

func TestGraph_RemoveNodesDropsIncidentEdges(t *testing.T) {
	g := New()
	g.AddNodes(NewNode(id("A"), nil), NewNode(id("B"), nil), NewNode(id("C"), nil))
	g.PutEdge(NewEdge("ab", id("A"), id("B"), ""))
	g.PutEdge(NewEdge("bc", id("B"), id("C"), ""))
	g.PutEdge(NewEdge("bb", id("B"), id("B"), ""))

	removed := g.RemoveNodes(id("B"))
	require.Len(t, removed, 1)
	assert.Equal(t, 0, g.EdgeCount())
	assert.Empty(t, g.OutEdges(id("A")))
	assert.Empty(t, g.InEdges(id("C")))
}

func TestGraph_SelfLoopTagged(t *testing.T) {
	e := NewEdge("aa", id("A"), id("A"), "")
	assert.True(t, e.HasClass(ClassLoop))
}

func TestGraph_ClassIndexFollowsNodeMutations(t *testing.T) {
	g := New()
	a := NewNode(id("A"), nil, ClassNote)
	b := NewNode(id("B"), nil)
	g.AddNodes(a, b)

	assert.Len(t, g.NodesWithClass(ClassNote), 1)

	b.AddClass(ClassFiltered)
	assert.Equal(t, []*Node{a}, g.Visible())

	b.RemoveClass(ClassFiltered)
	a.ReplaceTransient([]string{ClassFilteredHard})
	assert.Equal(t, []*Node{b}, g.Visible())
	assert.Empty(t, g.NodesWithClass(ClassNote))

	g.RemoveNodes(id("A"))
	assert.Empty(t, g.NodesWithClass(ClassFilteredHard))
	a.AddClass("detached")
	assert.Empty(t, g.NodesWithClass("detached"))
}

func TestGraph_BatchNotifiesOnce(t *testing.T) {
	g := New()
	var changes []Change
	g.OnChange(func(c Change) { changes = append(changes, c) })

	g.Batch(func() {
		g.AddNodes(NewNode(id("A"), nil))
		g.AddNodes(NewNode(id("B"), nil))
		g.Batch(func() {
			g.PutEdge(NewEdge("ab", id("A"), id("B"), ""))
		})
	})

	require.Len(t, changes, 1)
	assert.Equal(t, Change{AddedNodes: 2, AddedEdges: 1}, changes[0])

	g.RemoveNodes(id("A"))
	require.Len(t, changes, 2)
	assert.Equal(t, Change{RemovedNodes: 1, RemovedEdges: 1}, changes[1])
}

func TestGraph_Neighbours(t *testing.T) {
	g := New()
	g.AddNodes(NewNode(id("A"), nil), NewNode(id("B"), nil), NewNode(id("C"), nil))
	g.PutEdge(NewEdge("ab#0", id("A"), id("B"), ""))
	g.PutEdge(NewEdge("ab#1", id("A"), id("B"), ""))
	g.PutEdge(NewEdge("ca", id("C"), id("A"), ""))
	g.PutEdge(NewEdge("aa", id("A"), id("A"), ""))

	ns := g.Neighbours(id("A"))
	require.Len(t, ns, 2)
	assert.Equal(t, id("B"), ns[0].ID)
	assert.Equal(t, id("C"), ns[1].ID)
	assert.Len(t, g.ConnectedEdges(id("A")), 4)
}

func TestNode_StickyRouting(t *testing.T) {
	n := NewNode(id("A"), map[string]any{"position": 1, "title": "a"}, ClassProtected, ClassNote)
	n.AddSticky("global-0")

	assert.Equal(t, []string{"global-0", ClassProtected}, n.StickyClasses())
	assert.Equal(t, []string{ClassNote}, n.TransientClasses())
	_, hasPos := n.Attr("position")
	assert.False(t, hasPos, "position is reserved")

	n.ReplaceTransient([]string{ClassDangling})
	assert.True(t, n.HasClass(ClassProtected))
	assert.True(t, n.HasClass("global-0"))
	assert.False(t, n.HasClass(ClassNote))
}
