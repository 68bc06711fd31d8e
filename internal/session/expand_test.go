package session

import (
	"context"
	"errors"
	"testing"

	"github.com/agentic-research/loom/internal/graph"
	"github.com/agentic-research/loom/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpand_FrontierIncidentEdges(t *testing.T) {
	f := newFixture(t, map[string]string{
		"A.md": "[[B]]\n[[C]]",
		"B.md": "[[C]]",
		"C.md": "",
	})
	ctx := context.Background()

	res, err := f.s.Expand(ctx, []graph.Identity{id("A")}, DefaultExpandOptions())
	require.NoError(t, err)
	assert.Len(t, res.Added, 3)
	assert.Equal(t, []string{"A", "B", "C"}, f.nodeNames())
	assert.ElementsMatch(t, []string{edgeKey("A", "B", 0), edgeKey("A", "C", 0)}, f.edgeIDs())

	a := f.node(t, "A")
	assert.True(t, a.IsSticky(graph.ClassExpanded))
	assert.True(t, a.IsSticky(graph.ClassProtected))
	assert.False(t, f.node(t, "B").HasClass(graph.ClassExpanded))

	_, err = f.s.Expand(ctx, []graph.Identity{id("B")}, DefaultExpandOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, f.nodeNames())
	assert.ElementsMatch(t, []string{
		edgeKey("A", "B", 0),
		edgeKey("A", "C", 0),
		edgeKey("B", "C", 0),
	}, f.edgeIDs())
	assert.True(t, f.node(t, "B").HasClass(graph.ClassExpanded))
}

func TestExpand_IsIdempotent(t *testing.T) {
	f := newFixture(t, map[string]string{"A.md": "[[B]]", "B.md": "[[A]]"})
	ctx := context.Background()

	_, err := f.s.Expand(ctx, []graph.Identity{id("A")}, DefaultExpandOptions())
	require.NoError(t, err)
	nodes, edges := f.nodeNames(), f.edgeIDs()
	classes := f.node(t, "A").Classes()

	res, err := f.s.Expand(ctx, []graph.Identity{id("A"), id("A")}, DefaultExpandOptions())
	require.NoError(t, err)
	assert.Empty(t, res.Added)
	assert.Equal(t, nodes, f.nodeNames())
	assert.Equal(t, edges, f.edgeIDs())
	assert.Equal(t, classes, f.node(t, "A").Classes())
}

func TestExpand_RepeatedReferencesGetDistinctEdges(t *testing.T) {
	f := newFixture(t, map[string]string{
		"A.md": "[[B]] then [[B]]\n[[A]]",
		"B.md": "",
	})
	_, err := f.s.Expand(context.Background(), []graph.Identity{id("A")}, DefaultExpandOptions())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		edgeKey("A", "B", 0),
		edgeKey("A", "B", 1),
		edgeKey("A", "A", 0),
	}, f.edgeIDs())
	var loop *graph.Edge
	f.s.View(func(g *graph.Graph) { loop, _ = g.Edge(edgeKey("A", "A", 0)) })
	require.NotNil(t, loop)
	assert.True(t, loop.HasClass(graph.ClassLoop))
}

func TestExpand_OutLinksOnly(t *testing.T) {
	f := newFixture(t, map[string]string{
		"A.md": "[[B]] [[C]]",
		"B.md": "",
		"C.md": "",
		"D.md": "[[A]]",
	})
	opts := ExpandOptions{IncludeOutLinks: true}
	_, err := f.s.Expand(context.Background(), []graph.Identity{id("A")}, opts)
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "C"}, f.nodeNames())
	assert.False(t, f.has("D"))
	assert.ElementsMatch(t, []string{edgeKey("A", "B", 0), edgeKey("A", "C", 0)}, f.edgeIDs())
}

func TestExpand_InLinksOnly(t *testing.T) {
	f := newFixture(t, map[string]string{
		"A.md": "[[B]]",
		"B.md": "",
		"D.md": "[[A]]",
	})
	_, err := f.s.Expand(context.Background(), []graph.Identity{id("A")}, ExpandOptions{IncludeInLinks: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "D"}, f.nodeNames())
	assert.Equal(t, []string{edgeKey("D", "A", 0)}, f.edgeIDs())
}

func TestExpand_Errors(t *testing.T) {
	f := newFixture(t, map[string]string{"A.md": "[[B]]", "B.md": ""})
	ctx := context.Background()

	_, err := f.s.Expand(ctx, nil, DefaultExpandOptions())
	assert.True(t, errors.Is(err, ErrEmptyFrontier))

	assert.Panics(t, func() {
		_, _ = f.s.Expand(ctx, []graph.Identity{id("A")}, ExpandOptions{})
	})

	// The session is still usable after the panic.
	_, err = f.s.Expand(ctx, []graph.Identity{id("A")}, DefaultExpandOptions())
	assert.NoError(t, err)
}

func TestExpand_DirectionalNeedsLinkIndex(t *testing.T) {
	v := newFixture(t, map[string]string{"A.md": "[[B]]", "B.md": ""}).vault
	s, err := New([]store.DataStore{store.NewCoreStore(v)})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	_, err = s.Expand(context.Background(), []graph.Identity{id("A")}, ExpandOptions{IncludeOutLinks: true})
	assert.True(t, errors.Is(err, ErrCollaboratorUnavailable))
	s.View(func(g *graph.Graph) { assert.Zero(t, g.NodeCount()) })

	_, err = s.Expand(context.Background(), []graph.Identity{id("A")}, DefaultExpandOptions())
	assert.NoError(t, err)
}

func TestExpand_FailingStoreLeavesGraphUnchanged(t *testing.T) {
	for name, broken := range map[string]*failingStore{
		"neighbourhood": {failNeighbourhood: true},
		"connect":       {failConnect: true},
	} {
		t.Run(name, func(t *testing.T) {
			v := newFixture(t, map[string]string{"A.md": "[[B]]", "B.md": ""}).vault
			s, err := New([]store.DataStore{store.NewCoreStore(v), broken})
			require.NoError(t, err)
			defer func() { _ = s.Close() }()

			_, err = s.Expand(context.Background(), []graph.Identity{id("A")}, DefaultExpandOptions())
			assert.True(t, errors.Is(err, errBroken))
			s.View(func(g *graph.Graph) {
				assert.Zero(t, g.NodeCount())
				assert.Zero(t, g.EdgeCount())
			})
		})
	}
}

func TestExpand_TypedLinks(t *testing.T) {
	f := newFixture(t, map[string]string{
		"A.md": "- supports [[B]]",
		"B.md": "",
	})
	_, err := f.s.Expand(context.Background(), []graph.Identity{id("A")}, DefaultExpandOptions())
	require.NoError(t, err)

	assert.True(t, f.node(t, "A").HasClass(HasOutgoingPrefix+"supports"))
	assert.True(t, f.node(t, "B").HasClass(HasIncomingPrefix+"supports"))
	assert.Equal(t, 1, f.node(t, "B").Attributes[AttrDegree])
}

func TestExpand_TagStore(t *testing.T) {
	f := newFixture(t, map[string]string{"A.md": "#idea", "B.md": "#idea", "C.md": ""})
	tags := store.NewTagStore(f.vault)
	s, err := New([]store.DataStore{f.core, tags}, WithLinkIndex(store.NewMultiIndex().
		Register(store.CoreStoreID, f.core).
		Register(store.TagStoreID, tags)))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	idea := graph.NewIdentity("idea", store.TagStoreID)
	_, err = s.Expand(context.Background(), []graph.Identity{idea}, DefaultExpandOptions())
	require.NoError(t, err)

	s.View(func(g *graph.Graph) {
		assert.Equal(t, 3, g.NodeCount())
		assert.Equal(t, 2, g.EdgeCount())
		assert.Len(t, g.InEdges(idea), 2)
		assert.False(t, g.HasNode(id("C")))
	})
}
