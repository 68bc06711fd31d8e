package store

import (
	"context"
	"errors"
	"testing"

	"github.com/agentic-research/loom/internal/graph"
	"github.com/agentic-research/loom/internal/vault"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVault(t *testing.T, files map[string]string) *vault.Vault {
	t.Helper()
	fs := memfs.New()
	for name, body := range files {
		require.NoError(t, util.WriteFile(fs, name, []byte(body), 0o644))
	}
	v := vault.New(fs)
	require.NoError(t, v.Scan(context.Background()))
	return v
}

func core(name string) graph.Identity { return graph.NewIdentity(name, CoreStoreID) }

func ids(nodes []*graph.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID.String()
	}
	return out
}

func edgeIDs(edges []*graph.Edge) []string {
	out := make([]string, len(edges))
	for i, e := range edges {
		out[i] = e.ID
	}
	return out
}

var sample = map[string]string{
	"A.md": "---\nstatus: draft\ntags: [idea]\n---\n[[B]] and [[C]]\n- supports [[B]]\n[[Ghost]]\n",
	"B.md": "[[C]] #idea\n",
	"C.md": "",
	"D.md": "[[A]]\n",
}

func TestCoreStore_Get(t *testing.T) {
	s := NewCoreStore(newVault(t, sample))
	ctx := context.Background()

	a, err := s.Get(ctx, core("A"))
	require.NoError(t, err)
	assert.Equal(t, "draft", a.Attributes["status"])
	assert.Equal(t, "A.md", a.Attributes["path"])
	assert.True(t, a.HasClass(graph.ClassNote))
	assert.True(t, a.HasClass("tag-idea"))

	ghost, err := s.Get(ctx, core("Ghost"))
	require.NoError(t, err)
	assert.True(t, ghost.HasClass(graph.ClassDangling))

	_, err = s.Get(ctx, core("Nobody"))
	assert.True(t, errors.Is(err, graph.ErrNotFound))

	_, err = s.Get(ctx, graph.NewIdentity("A", "other"))
	assert.True(t, errors.Is(err, graph.ErrNotFound))
}

func TestCoreStore_Neighbourhood(t *testing.T) {
	s := NewCoreStore(newVault(t, sample))

	nodes, err := s.Neighbourhood(context.Background(), []graph.Identity{
		core("A"),
		graph.NewIdentity("A", TagStoreID),
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A:core", "B:core", "C:core", "Ghost:core", "D:core"}, ids(nodes))
}

func TestCoreStore_ConnectNodesCountsRepeats(t *testing.T) {
	s := NewCoreStore(newVault(t, sample))
	ctx := context.Background()

	existing, err := s.Neighbourhood(ctx, []graph.Identity{core("A")})
	require.NoError(t, err)

	var a []*graph.Node
	for _, n := range existing {
		if n.ID == core("A") {
			a = append(a, n)
		}
	}
	edges, err := s.ConnectNodes(ctx, existing, a)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"A:core->B:core#0",
		"A:core->C:core#0",
		"A:core->B:core#1",
		"A:core->Ghost:core#0",
	}, edgeIDs(edges))

	assert.Equal(t, "[[B]] and [[C]]", edges[0].Context)
	assert.Equal(t, graph.ClassInline, edges[0].Type())
	assert.Equal(t, "supports", edges[2].Type())
	assert.True(t, edges[2].HasClass("type-supports"))

	// Targets outside existing produce no edge.
	edges, err = s.ConnectNodes(ctx, a, a)
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestCoreStore_ConnectNodesSelfLoop(t *testing.T) {
	s := NewCoreStore(newVault(t, map[string]string{"A.md": "[[A]]"}))
	a, err := s.Get(context.Background(), core("A"))
	require.NoError(t, err)

	edges, err := s.ConnectNodes(context.Background(), []*graph.Node{a}, []*graph.Node{a})
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.True(t, edges[0].HasClass(graph.ClassLoop))
}

func TestTagStore(t *testing.T) {
	v := newVault(t, sample)
	s := NewTagStore(v)
	c := NewCoreStore(v)
	ctx := context.Background()

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []graph.Identity{graph.NewIdentity("idea", TagStoreID)}, all)

	nodes, err := s.Neighbourhood(ctx, []graph.Identity{graph.NewIdentity("idea", TagStoreID), core("A")})
	require.NoError(t, err)
	assert.Equal(t, []string{"idea:tag", "A:core", "B:core"}, ids(nodes))
	assert.Equal(t, 2, nodes[0].Attributes["count"])

	tag := nodes[0]
	a, err := c.Get(ctx, core("A"))
	require.NoError(t, err)

	// New tag against existing documents.
	edges, err := s.ConnectNodes(ctx, []*graph.Node{a, tag}, []*graph.Node{tag})
	require.NoError(t, err)
	assert.Equal(t, []string{"A:core->idea:tag#0"}, edgeIDs(edges))
	assert.Equal(t, TagEdgeType, edges[0].Type())

	// New document against existing tags.
	edges, err = s.ConnectNodes(ctx, []*graph.Node{a, tag}, []*graph.Node{a})
	require.NoError(t, err)
	assert.Equal(t, []string{"A:core->idea:tag#0"}, edgeIDs(edges))

	in, err := s.InLinks(ctx, graph.NewIdentity("idea", TagStoreID))
	require.NoError(t, err)
	assert.Equal(t, []graph.Identity{core("A"), core("B")}, in)

	_, err = s.Get(ctx, graph.NewIdentity("nope", TagStoreID))
	assert.True(t, errors.Is(err, graph.ErrNotFound))
}

func TestMultiIndex(t *testing.T) {
	v := newVault(t, sample)
	idx := NewMultiIndex().
		Register(CoreStoreID, NewCoreStore(v)).
		Register(TagStoreID, NewTagStore(v))
	ctx := context.Background()

	out, err := idx.OutLinks(ctx, core("A"))
	require.NoError(t, err)
	assert.Equal(t, []graph.Identity{core("B"), core("C"), core("Ghost")}, out)

	in, err := idx.InLinks(ctx, graph.NewIdentity("idea", TagStoreID))
	require.NoError(t, err)
	assert.Len(t, in, 2)

	none, err := idx.InLinks(ctx, graph.NewIdentity("x", "unknown"))
	require.NoError(t, err)
	assert.Empty(t, none)
}
