package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/agentic-research/loom/api"
	"github.com/agentic-research/loom/internal/events"
	"github.com/agentic-research/loom/internal/graph"
	"github.com/agentic-research/loom/internal/store"
	"github.com/agentic-research/loom/internal/vault"
	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixture is a session over an in-memory vault.
type fixture struct {
	fs     billy.Filesystem
	vault  *vault.Vault
	core   *store.CoreStore
	layout *recordingLayout
	s      *Session
}

func newFixture(t *testing.T, files map[string]string, opts ...Option) *fixture {
	t.Helper()
	fs := memfs.New()
	for name, body := range files {
		require.NoError(t, util.WriteFile(fs, name, []byte(body), 0o644))
	}
	v := vault.New(fs)
	require.NoError(t, v.Scan(context.Background()))
	core := store.NewCoreStore(v)
	layout := &recordingLayout{}

	all := append([]Option{
		WithLinkIndex(core),
		WithLayout(layout),
		WithLayoutDebounce(time.Hour),
	}, opts...)
	s, err := New([]store.DataStore{core}, all...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return &fixture{fs: fs, vault: v, core: core, layout: layout, s: s}
}

func id(name string) graph.Identity { return graph.NewIdentity(name, store.CoreStoreID) }

func (f *fixture) nodeNames() []string {
	var out []string
	f.s.View(func(g *graph.Graph) {
		for _, n := range g.Nodes() {
			out = append(out, n.ID.Name)
		}
	})
	return out
}

func (f *fixture) edgeIDs() []string {
	var out []string
	f.s.View(func(g *graph.Graph) {
		for _, e := range g.Edges() {
			out = append(out, e.ID)
		}
	})
	return out
}

func (f *fixture) node(t *testing.T, name string) *graph.Node {
	t.Helper()
	var n *graph.Node
	f.s.View(func(g *graph.Graph) {
		n, _ = g.Node(id(name))
	})
	require.NotNil(t, n, "node %s", name)
	return n
}

func (f *fixture) has(name string) bool {
	var ok bool
	f.s.View(func(g *graph.Graph) { ok = g.HasNode(id(name)) })
	return ok
}

func edgeKey(src, tgt string, n int) string { return graph.EdgeID(id(src), id(tgt), n) }

type recordingLayout struct {
	mu     sync.Mutex
	starts []api.LayoutConfig
	stops  int
}

func (l *recordingLayout) Start(cfg api.LayoutConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.starts = append(l.starts, cfg)
}

func (l *recordingLayout) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stops++
}

func (l *recordingLayout) startCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.starts)
}

// failingStore owns "broken" identities and fails on demand.
type failingStore struct {
	failNeighbourhood bool
	failConnect       bool
}

var errBroken = errors.New("backend down")

func (f *failingStore) StoreID() string { return "broken" }

func (f *failingStore) Neighbourhood(context.Context, []graph.Identity) ([]*graph.Node, error) {
	if f.failNeighbourhood {
		return nil, errBroken
	}
	return nil, nil
}

func (f *failingStore) ConnectNodes(context.Context, []*graph.Node, []*graph.Node) ([]*graph.Edge, error) {
	if f.failConnect {
		return nil, errBroken
	}
	return nil, nil
}

func (f *failingStore) Get(context.Context, graph.Identity) (*graph.Node, error) {
	return nil, graph.ErrNotFound
}

func TestNew_RequiresCoreStore(t *testing.T) {
	_, err := New([]store.DataStore{&failingStore{}})
	assert.True(t, errors.Is(err, ErrNoCoreStore))
}

func TestNew_RejectsDuplicateStores(t *testing.T) {
	v := vault.New(memfs.New())
	_, err := New([]store.DataStore{store.NewCoreStore(v), store.NewCoreStore(v)})
	assert.Error(t, err)
}

func TestNew_CoreStoreFirst(t *testing.T) {
	v := vault.New(memfs.New())
	s, err := New([]store.DataStore{store.NewTagStore(v), store.NewCoreStore(v)})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	assert.Equal(t, store.CoreStoreID, s.Stores()[0].StoreID())
}

func TestSession_ClosedRejectsOperations(t *testing.T) {
	f := newFixture(t, map[string]string{"A.md": ""})
	require.NoError(t, f.s.Close())

	_, err := f.s.Expand(context.Background(), []graph.Identity{id("A")}, DefaultExpandOptions())
	assert.True(t, errors.Is(err, ErrClosed))
	assert.True(t, errors.Is(f.s.SearchFilter(""), ErrClosed))
	assert.NoError(t, f.s.Close())
}

func TestSession_PinSurvivesMerge(t *testing.T) {
	f := newFixture(t, map[string]string{"A.md": "[[B]]", "B.md": ""})
	ctx := context.Background()
	_, err := f.s.Expand(ctx, []graph.Identity{id("A")}, DefaultExpandOptions())
	require.NoError(t, err)

	require.NoError(t, f.s.Pin(id("B")))
	_, err = f.s.MergeToGraph(Elements{Nodes: []*graph.Node{graph.NewNode(id("B"), map[string]any{"name": "B"})}}, true, true)
	require.NoError(t, err)
	assert.True(t, f.node(t, "B").IsSticky(graph.ClassPinned))

	require.NoError(t, f.s.Unpin(id("B")))
	assert.False(t, f.node(t, "B").HasClass(graph.ClassPinned))
}

func TestSession_SetActive(t *testing.T) {
	f := newFixture(t, map[string]string{"A.md": "[[B]]", "B.md": ""})
	ctx := context.Background()

	err := f.s.SetActive(graph.NewIdentity("A", "tag"))
	assert.True(t, errors.Is(err, ErrNotCore))

	_, err = f.s.Expand(ctx, []graph.Identity{id("A")}, DefaultExpandOptions())
	require.NoError(t, err)
	require.NoError(t, f.s.SetActive(id("A")))
	assert.True(t, f.node(t, "A").HasClass(graph.ClassActive))

	// Survives the transient reset of a later merge.
	_, err = f.s.Expand(ctx, []graph.Identity{id("B")}, DefaultExpandOptions())
	require.NoError(t, err)
	assert.True(t, f.node(t, "A").HasClass(graph.ClassActive))

	require.NoError(t, f.s.SetActive(id("B")))
	assert.False(t, f.node(t, "A").HasClass(graph.ClassActive))
	active, ok := f.s.Active()
	assert.True(t, ok)
	assert.Equal(t, id("B"), active)
}

func TestSession_EventsDeliveredAfterOperation(t *testing.T) {
	f := newFixture(t, map[string]string{"A.md": "[[B]]", "B.md": ""})

	var got []events.Type
	f.s.Events().Subscribe(func(ev *events.Event) {
		got = append(got, ev.Type)
		// Handlers may call back into the session.
		_, err := f.s.Snapshot(SnapshotOptions{})
		assert.NoError(t, err)
	})

	_, err := f.s.Expand(context.Background(), []graph.Identity{id("A")}, DefaultExpandOptions())
	require.NoError(t, err)
	assert.Equal(t, []events.Type{events.TypeGraphChanged, events.TypeExpand}, got)
}

func TestSession_LayoutRestart(t *testing.T) {
	f := newFixture(t, map[string]string{"A.md": "[[B]]", "B.md": ""}, WithLayoutDebounce(10*time.Millisecond))
	ctx := context.Background()

	require.NoError(t, f.s.OnGraphChanged(false))
	assert.Equal(t, 1, f.layout.startCount())

	for range 3 {
		_, err := f.s.Expand(ctx, []graph.Identity{id("A")}, DefaultExpandOptions())
		require.NoError(t, err)
	}
	assert.Eventually(t, func() bool { return f.layout.startCount() == 2 }, time.Second, 5*time.Millisecond)

	cfg := api.LayoutConfig{Name: "grid"}
	require.NoError(t, f.s.SetLayout(cfg))
	require.NoError(t, f.s.OnGraphChanged(false))
	f.layout.mu.Lock()
	defer f.layout.mu.Unlock()
	assert.Equal(t, cfg, f.layout.starts[len(f.layout.starts)-1])
	assert.Positive(t, f.layout.stops)
}

func TestSession_Snapshot(t *testing.T) {
	f := newFixture(t, map[string]string{
		"A.md": "---\nstatus: draft\n---\n[[B]]",
		"B.md": "",
	}, WithGlobalGroups([]api.StyleGroup{{Name: "drafts", Filter: "@.status == 'draft'", Color: "red"}}))
	ctx := context.Background()
	_, err := f.s.Expand(ctx, []graph.Identity{id("A")}, DefaultExpandOptions())
	require.NoError(t, err)
	require.NoError(t, f.s.SearchFilter("@.status == 'draft'"))

	snap, err := f.s.Snapshot(SnapshotOptions{OmitContent: true})
	require.NoError(t, err)
	assert.Len(t, snap.Nodes, 2)
	assert.Len(t, snap.Edges, 1)
	assert.Equal(t, "@.status == 'draft'", snap.Filter)
	require.Len(t, snap.Styles, 1)
	assert.Equal(t, "global-0", snap.Styles[0].Class)
	_, hasContent := snap.Nodes[0].Attributes["content"]
	assert.False(t, hasContent)

	visible, err := f.s.Snapshot(SnapshotOptions{VisibleOnly: true})
	require.NoError(t, err)
	require.Len(t, visible.Nodes, 1)
	assert.Equal(t, "A:core", visible.Nodes[0].ID)
	assert.Contains(t, visible.Nodes[0].Classes, "global-0")
	assert.Empty(t, visible.Edges)
}
