package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/agentic-research/loom/internal/graph"
	"github.com/agentic-research/loom/internal/session"
	"github.com/agentic-research/loom/internal/store"
	"github.com/agentic-research/loom/internal/vault"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	calls [][]graph.Identity
}

func (r *recorder) Refresh(_ context.Context, ids []graph.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, ids)
	return nil
}

func (r *recorder) all() []graph.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []graph.Identity
	for _, c := range r.calls {
		out = append(out, c...)
	}
	return out
}

func core(name string) graph.Identity { return graph.NewIdentity(name, store.CoreStoreID) }

func TestApply_InvalidatesAndRefreshes(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "A.md", []byte("[[B]]"), 0o644))
	require.NoError(t, util.WriteFile(fs, "notes/B.md", []byte(""), 0o644))
	v := vault.New(fs)
	require.NoError(t, v.Scan(context.Background()))

	rec := &recorder{}
	w, err := New(".", v, rec)
	require.NoError(t, err)

	require.NoError(t, util.WriteFile(fs, "C.md", []byte("[[A]]"), 0o644))
	require.NoError(t, fs.Remove("notes/B.md"))
	require.NoError(t, w.Apply(context.Background(), []string{"C.md", "notes/B.md", "C.md"}))

	assert.Equal(t, [][]graph.Identity{{core("C"), core("notes/B")}}, rec.calls)
	_, ok := v.Document("C")
	assert.True(t, ok)
	_, ok = v.Document("notes/B")
	assert.False(t, ok)
}

func TestApply_NothingToRefresh(t *testing.T) {
	v := vault.New(memfs.New())
	rec := &recorder{}
	w, err := New(".", v, rec)
	require.NoError(t, err)

	require.NoError(t, w.Apply(context.Background(), []string{"missing.txt"}))
	assert.Empty(t, rec.calls)
}

func TestWatcher_RefreshesSessionOnWrite(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "A.md"), []byte("[[B]]"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "B.md"), []byte(""), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".obsidian"), 0o755))

	ctx := t.Context()
	v := vault.New(osfs.New(dir))
	require.NoError(t, v.Scan(ctx))
	cs := store.NewCoreStore(v)
	s, err := session.New([]store.DataStore{cs}, session.WithLinkIndex(cs))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	_, err = s.Expand(ctx, []graph.Identity{core("A")}, session.DefaultExpandOptions())
	require.NoError(t, err)

	w, err := New(dir, v, s, WithWindow(20*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".obsidian", "workspace.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "A.md"), []byte("---\nstatus: done\n---\n"), 0o644))

	assert.Eventually(t, func() bool {
		var done bool
		s.View(func(g *graph.Graph) {
			n, ok := g.Node(core("A"))
			done = ok && n.Attributes["status"] == "done" && g.EdgeCount() == 0
		})
		return done
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatcher_IgnoresEditorFiles(t *testing.T) {
	dir := t.TempDir()
	v := vault.New(osfs.New(dir))
	rec := &recorder{}
	w, err := New(dir, v, rec, WithWindow(10*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.Start(t.Context()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "A.md.swp"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "A.md"), []byte("x"), 0o644))

	assert.Eventually(t, func() bool { return len(rec.all()) > 0 }, 5*time.Second, 10*time.Millisecond)
	assert.NotContains(t, rec.all(), core("A.md.swp"))
	assert.Contains(t, rec.all(), core("A"))
}
