// Package watch keeps a vault and a live session in sync with the files on
// disk. Changes are collected over a debounce window; each batch re-reads
// the touched documents and refreshes the matching graph nodes.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentic-research/loom/internal/debounce"
	"github.com/agentic-research/loom/internal/graph"
	"github.com/agentic-research/loom/internal/store"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultWindow is the debounce window for file changes.
const DefaultWindow = 150 * time.Millisecond

// DefaultIgnore lists base names and globs that never reach the vault.
var DefaultIgnore = []string{".git", ".obsidian", ".trash", "node_modules", "*.swp", "*.tmp", "*~"}

// Vault is the document cache the watcher invalidates.
type Vault interface {
	Invalidate(p string) error
	NameForPath(p string) (string, bool)
}

// Refresher receives the identities whose documents changed.
type Refresher interface {
	Refresh(ctx context.Context, ids []graph.Identity) error
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithWindow sets the debounce window.
func WithWindow(d time.Duration) Option {
	return func(w *Watcher) { w.window = d }
}

// WithIgnore replaces the ignore patterns.
func WithIgnore(patterns ...string) Option {
	return func(w *Watcher) { w.ignore = patterns }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// Watcher feeds file system changes under root into a vault and a session.
type Watcher struct {
	root   string
	vault  Vault
	target Refresher
	window time.Duration
	ignore []string
	logger *zap.Logger

	fsw      *fsnotify.Watcher
	flush    *debounce.Debouncer
	done     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	ctx     context.Context
	pending map[string]struct{}
	started bool
}

// New creates a watcher for the vault rooted at the OS directory root.
func New(root string, v Vault, target Refresher, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", root, err)
	}
	w := &Watcher{
		root:    abs,
		vault:   v,
		target:  target,
		window:  DefaultWindow,
		ignore:  DefaultIgnore,
		logger:  zap.NewNop(),
		done:    make(chan struct{}),
		pending: make(map[string]struct{}),
		ctx:     context.Background(),
	}
	for _, o := range opts {
		o(w)
	}
	w.flush = debounce.New(w.window, w.drain)
	return w, nil
}

// Start watches root and every directory below it until ctx is done or
// Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("watch: %w", err)
	}
	w.fsw = fsw
	w.ctx = ctx
	w.started = true
	w.mu.Unlock()

	if err := w.addRecursive(w.root); err != nil {
		_ = fsw.Close()
		return err
	}
	go w.loop(ctx)
	w.logger.Info("watching vault", zap.String("root", w.root))
	return nil
}

// Stop ends watching and drops changes still waiting for the window.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.flush.Stop()
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.fsw != nil {
			_ = w.fsw.Close()
		}
	})
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if p != w.root && w.ignored(p) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}

func (w *Watcher) ignored(p string) bool {
	base := filepath.Base(p)
	for _, pattern := range w.ignore {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
		return
	}
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if w.ignored(part) {
			return
		}
	}
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(ev.Name); err != nil {
				w.logger.Warn("watch new directory", zap.String("path", rel), zap.Error(err))
			}
			return
		}
	}
	w.logger.Debug("file changed", zap.String("path", rel), zap.Stringer("op", ev.Op))
	w.mu.Lock()
	w.pending[filepath.ToSlash(rel)] = struct{}{}
	w.mu.Unlock()
	w.flush.Trigger()
}

func (w *Watcher) drain() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	ctx := w.ctx
	w.mu.Unlock()

	sort.Strings(paths)
	if err := w.Apply(ctx, paths); err != nil {
		w.logger.Warn("refresh after file change", zap.Strings("paths", paths), zap.Error(err))
	}
}

// Apply invalidates paths (relative to the vault root) and refreshes the
// nodes of the documents they held before and after the change.
func (w *Watcher) Apply(ctx context.Context, paths []string) error {
	seen := make(map[graph.Identity]struct{})
	var ids []graph.Identity
	add := func(name string) {
		if name == "" {
			return
		}
		id := graph.NewIdentity(name, store.CoreStoreID)
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, p := range paths {
		before, _ := w.vault.NameForPath(p)
		if err := w.vault.Invalidate(p); err != nil {
			return err
		}
		after, _ := w.vault.NameForPath(p)
		add(before)
		add(after)
	}
	if len(ids) == 0 {
		return nil
	}
	return w.target.Refresh(ctx, ids)
}
