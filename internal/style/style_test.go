package style

import (
	"errors"
	"testing"

	"github.com/agentic-research/loom/api"
	"github.com/agentic-research/loom/internal/graph"
	"github.com/agentic-research/loom/internal/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func node(name, status string) *graph.Node {
	return graph.NewNode(graph.NewIdentity(name, "core"), map[string]any{"status": status})
}

func TestGroups_Apply(t *testing.T) {
	g, err := Compile(Global, []api.StyleGroup{
		{Name: "drafts", Filter: "@.status == 'draft'", Color: "#f00"},
		{Name: "everything", Filter: ""},
	})
	require.NoError(t, err)

	a, b := node("A", "draft"), node("B", "done")
	g.Apply([]*graph.Node{a, b})

	assert.Equal(t, []string{"global-0", "global-1"}, a.StickyClasses())
	assert.Equal(t, []string{"global-1"}, b.StickyClasses())

	// Reapplying after a change clears stale membership.
	a.Attributes["status"] = "done"
	g.Apply([]*graph.Node{a, b})
	assert.Equal(t, []string{"global-1"}, a.StickyClasses())
}

func TestGroups_ApplyLeavesOtherFamilies(t *testing.T) {
	global, err := Compile(Global, []api.StyleGroup{{Name: "none", Filter: "@.status == 'x'"}})
	require.NoError(t, err)

	n := node("A", "draft")
	n.AddSticky("local-0")
	n.AddClass(graph.ClassPinned)
	global.Apply([]*graph.Node{n})

	assert.Equal(t, []string{"local-0", "pinned"}, n.StickyClasses())
	assert.False(t, global.IsClass("global-x"))
	assert.True(t, global.IsClass("global-3"))
}

func TestCompile_InvalidFilter(t *testing.T) {
	_, err := Compile(Local, []api.StyleGroup{{Name: "bad", Filter: "$[?(@.x"}})
	assert.True(t, errors.Is(err, query.ErrInvalidQuery))
}

func TestGroups_Rules(t *testing.T) {
	g, err := Compile(Local, []api.StyleGroup{{Name: "drafts", Filter: "", Color: "red", Shape: "diamond"}})
	require.NoError(t, err)
	assert.Equal(t, []Rule{{Class: "local-0", Name: "drafts", Color: "red", Shape: "diamond"}}, g.Rules())
}
