// Package vault is the core document corpus: a directory of markdown notes
// and attachments, with cached link extraction, frontmatter parsing and a
// backlink index.
package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"github.com/agentic-research/loom/internal/graph"
	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"go.uber.org/zap"
)

// Document is one parsed file of the vault.
type Document struct {
	Path        string
	Name        string
	Markdown    bool
	Frontmatter map[string]any
	Content     string
	Links       []Link
	Tags        []string
	Aliases     []string
	Size        int64
}

// Basename is the last path segment of the document name.
func (d *Document) Basename() string { return path.Base(d.Name) }

// Vault is a scanned corpus rooted at a billy filesystem.
//
// Link targets are resolved once per scan into a reference table keyed by a
// compact int id; targets that match no document are kept as dangling names.
// Backlinks are roaring bitmaps (target id → set of source ids), the same
// shape the ref index of a code graph uses.
type Vault struct {
	fs     billy.Filesystem
	logger *zap.Logger

	mu       sync.RWMutex
	docs     map[string]*Document // name → document
	byPath   map[string]string    // path → name
	byBase   map[string][]string  // lower-cased basename or alias → names
	refID    map[string]uint32    // name (document or dangling) → id
	refNames []string             // id → name
	out      map[string][]string  // source name → resolved target names, in link order
	back     map[uint32]*roaring.Bitmap
}

// Option configures a Vault.
type Option func(*Vault)

// WithLogger sets the vault's logger.
func WithLogger(l *zap.Logger) Option {
	return func(v *Vault) { v.logger = l }
}

// New creates an empty vault over fs. Call Scan before use.
func New(fs billy.Filesystem, opts ...Option) *Vault {
	v := &Vault{fs: fs, logger: zap.NewNop()}
	for _, o := range opts {
		o(v)
	}
	v.reset()
	return v
}

func (v *Vault) reset() {
	v.docs = make(map[string]*Document)
	v.byPath = make(map[string]string)
}

// Scan walks the filesystem and (re)builds every cached document and index.
func (v *Vault) Scan(ctx context.Context) error {
	docs := make(map[string]*Document)
	byPath := make(map[string]string)

	err := util.Walk(v.fs, "/", func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		base := filepath.Base(p)
		if info.IsDir() {
			if p != "/" && strings.HasPrefix(base, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(base, ".") {
			return nil
		}
		doc, err := v.load(p, info)
		if err != nil {
			v.logger.Warn("skip unreadable document", zap.String("path", p), zap.Error(err))
			return nil
		}
		docs[doc.Name] = doc
		byPath[doc.Path] = doc.Name
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan vault: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.docs = docs
	v.byPath = byPath
	v.reindex()
	v.logger.Debug("vault scanned", zap.Int("documents", len(docs)), zap.Int("refs", len(v.refNames)))
	return nil
}

// load reads and parses one file.
func (v *Vault) load(p string, info os.FileInfo) (*Document, error) {
	clean := strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(p)), "/")
	doc := &Document{
		Path:        clean,
		Name:        nameOf(clean),
		Markdown:    isMarkdown(clean),
		Frontmatter: map[string]any{},
		Size:        info.Size(),
	}
	if !doc.Markdown {
		return doc, nil
	}
	src, err := util.ReadFile(v.fs, clean)
	if err != nil {
		return nil, err
	}
	front, body, bodyStart := splitFrontmatter(src)
	fm, err := parseFrontmatter(front)
	if err != nil {
		// Broken frontmatter still yields a document; its links still count.
		v.logger.Warn("invalid frontmatter", zap.String("path", clean), zap.Error(err))
		fm = map[string]any{}
	}
	doc.Frontmatter = fm
	doc.Content = string(body)
	var inlineTags []string
	doc.Links, inlineTags = scanBody(body, bodyStart)
	doc.Tags = dedupe(append(frontmatterTags(fm), inlineTags...))
	doc.Aliases = frontmatterAliases(fm)
	return doc, nil
}

// Invalidate re-reads a single path after it changed on disk (or drops it if
// it no longer exists) and rebuilds the link indexes.
func (v *Vault) Invalidate(p string) error {
	clean := strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(p)), "/")
	info, statErr := v.fs.Stat(clean)

	var doc *Document
	if statErr == nil && !info.IsDir() {
		var err error
		doc, err = v.load(clean, info)
		if err != nil {
			return fmt.Errorf("reload %s: %w", clean, err)
		}
	} else if statErr != nil && !errors.Is(statErr, os.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", clean, statErr)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if old, ok := v.byPath[clean]; ok {
		delete(v.docs, old)
		delete(v.byPath, clean)
	}
	if doc != nil {
		v.docs[doc.Name] = doc
		v.byPath[doc.Path] = doc.Name
	}
	v.reindex()
	return nil
}

// NameForPath returns the document name stored for a vault path.
func (v *Vault) NameForPath(p string) (string, bool) {
	clean := strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(p)), "/")
	v.mu.RLock()
	defer v.mu.RUnlock()
	name, ok := v.byPath[clean]
	if !ok && isMarkdown(clean) {
		// Removed documents are no longer indexed by path.
		return nameOf(clean), false
	}
	return name, ok
}

// Document returns the document with the given name.
func (v *Vault) Document(name string) (*Document, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	d, ok := v.docs[name]
	return d, ok
}

// Names returns every document name, sorted.
func (v *Vault) Names() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, 0, len(v.docs))
	for name := range v.docs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of documents.
func (v *Vault) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.docs)
}

// Resolve maps a link target to a document name. ok is false for dangling
// targets, in which case the returned name is the canonical dangling name.
func (v *Vault) Resolve(target string) (string, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.resolve(target)
}

// resolve must be called with v.mu held.
func (v *Vault) resolve(target string) (string, bool) {
	t := strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(target)), "/")
	if _, ok := v.docs[t]; ok {
		return t, true
	}
	if n := nameOf(t); n != t {
		if _, ok := v.docs[n]; ok {
			return n, true
		}
	}
	if cands := v.byBase[strings.ToLower(path.Base(nameOf(t)))]; len(cands) > 0 {
		return cands[0], true
	}
	return nameOf(t), false
}

// reindex rebuilds lookup tables and backlinks. Must be called with v.mu held.
func (v *Vault) reindex() {
	v.byBase = make(map[string][]string)
	names := make([]string, 0, len(v.docs))
	for name := range v.docs {
		names = append(names, name)
	}
	// Shortest path first so basename resolution prefers shallow documents.
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) < len(names[j])
		}
		return names[i] < names[j]
	})
	for _, name := range names {
		d := v.docs[name]
		key := strings.ToLower(d.Basename())
		v.byBase[key] = append(v.byBase[key], name)
		for _, alias := range d.Aliases {
			k := strings.ToLower(alias)
			v.byBase[k] = append(v.byBase[k], name)
		}
	}

	v.refID = make(map[string]uint32)
	v.refNames = v.refNames[:0]
	v.out = make(map[string][]string, len(v.docs))
	v.back = make(map[uint32]*roaring.Bitmap)
	for _, name := range names {
		v.intern(name)
	}
	for _, name := range names {
		src := v.intern(name)
		for _, l := range v.docs[name].Links {
			target, _ := v.resolve(l.Target)
			v.out[name] = append(v.out[name], target)
			tid := v.intern(target)
			bm, ok := v.back[tid]
			if !ok {
				bm = roaring.New()
				v.back[tid] = bm
			}
			bm.Add(src)
		}
	}
}

func (v *Vault) intern(name string) uint32 {
	if id, ok := v.refID[name]; ok {
		return id
	}
	id := uint32(len(v.refNames))
	v.refID[name] = id
	v.refNames = append(v.refNames, name)
	return id
}

// Targets returns the resolved target names of name's links, in link order
// (with repeats).
func (v *Vault) Targets(name string) []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]string(nil), v.out[name]...)
}

// Sources returns the names of documents linking to name, sorted.
func (v *Vault) Sources(name string) []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	id, ok := v.refID[name]
	if !ok {
		return nil
	}
	bm, ok := v.back[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, v.refNames[it.Next()])
	}
	sort.Strings(out)
	return out
}

// IsReferenced reports whether any document links to name.
func (v *Vault) IsReferenced(name string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	id, ok := v.refID[name]
	if !ok {
		return false
	}
	bm, ok := v.back[id]
	return ok && !bm.IsEmpty()
}

// ---------------------------------------------------------------------------
// Link index collaborator
// ---------------------------------------------------------------------------

// OutLinks returns the distinct identities name links to. Identities of other
// stores have no links here.
func (v *Vault) OutLinks(_ context.Context, id graph.Identity) ([]graph.Identity, error) {
	if id.StoreID != graph.CoreStoreID {
		return nil, nil
	}
	return toIdentities(dedupe(v.Targets(id.Name))), nil
}

// InLinks returns the identities of documents linking to id.
func (v *Vault) InLinks(_ context.Context, id graph.Identity) ([]graph.Identity, error) {
	if id.StoreID != graph.CoreStoreID {
		return nil, nil
	}
	return toIdentities(v.Sources(id.Name)), nil
}

func toIdentities(names []string) []graph.Identity {
	out := make([]graph.Identity, len(names))
	for i, n := range names {
		out[i] = graph.NewIdentity(n, graph.CoreStoreID)
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
