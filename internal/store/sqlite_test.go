package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/agentic-research/loom/internal/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildArchive(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "archive.db")
	w, err := NewSQLiteWriter(dbPath, nil)
	require.NoError(t, err)

	docs, links, err := WriteVault(context.Background(), newVault(t, sample), w)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Equal(t, 4, docs)
	assert.Equal(t, 6, links)
	return dbPath
}

func archived(name string) graph.Identity { return graph.NewIdentity(name, ArchiveStoreID) }

func TestSQLiteStore_RoundTripFromVault(t *testing.T) {
	s, err := OpenSQLiteStore(buildArchive(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	a, err := s.Get(ctx, archived("A"))
	require.NoError(t, err)
	assert.Equal(t, "draft", a.Attributes["status"])
	_, hasContent := a.Attributes["content"]
	assert.False(t, hasContent)

	ghost, err := s.Get(ctx, archived("Ghost"))
	require.NoError(t, err)
	assert.True(t, ghost.HasClass(graph.ClassDangling))

	_, err = s.Get(ctx, archived("Nobody"))
	assert.True(t, errors.Is(err, graph.ErrNotFound))

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []graph.Identity{archived("A"), archived("B"), archived("C"), archived("D")}, all)
}

func TestSQLiteStore_NeighbourhoodAndEdges(t *testing.T) {
	s, err := OpenSQLiteStore(buildArchive(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	nodes, err := s.Neighbourhood(ctx, []graph.Identity{archived("A"), core("A")})
	require.NoError(t, err)
	assert.Equal(t, []string{"A:archive", "B:archive", "C:archive", "Ghost:archive", "D:archive"}, ids(nodes))

	var a *graph.Node
	for _, n := range nodes {
		if n.ID == archived("A") {
			a = n
		}
	}
	edges, err := s.ConnectNodes(ctx, nodes, []*graph.Node{a})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"A:archive->B:archive#0",
		"A:archive->C:archive#0",
		"A:archive->B:archive#1",
		"A:archive->Ghost:archive#0",
	}, edgeIDs(edges))
	assert.Equal(t, "supports", edges[2].Type())

	in, err := s.InLinks(ctx, archived("C"))
	require.NoError(t, err)
	assert.Equal(t, []graph.Identity{archived("A"), archived("B")}, in)
}

func TestSQLiteStore_CustomStoreID(t *testing.T) {
	dbPath := buildArchive(t)

	_, err := OpenSQLiteStore(dbPath, WithStoreID("bad:id"))
	assert.True(t, errors.Is(err, graph.ErrInvalidIdentity))

	s, err := OpenSQLiteStore(dbPath, WithStoreID("old"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	assert.Equal(t, "old", s.StoreID())

	n, err := s.Get(context.Background(), graph.NewIdentity("B", "old"))
	require.NoError(t, err)
	assert.Equal(t, "B", n.Attributes["name"])
}
