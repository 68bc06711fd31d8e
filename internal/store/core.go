package store

import (
	"context"
	"fmt"
	"maps"
	"path"
	"strings"

	"github.com/agentic-research/loom/internal/graph"
	"github.com/agentic-research/loom/internal/vault"
	"go.uber.org/zap"
)

// TagClassPrefix prefixes the node class derived from each document tag.
const TagClassPrefix = "tag-"

// CoreStore serves the markdown vault. It is the store the session consults
// first, and the only one whose nodes can become the active document.
type CoreStore struct {
	vault *vault.Vault
	opts  options
}

// NewCoreStore wraps a scanned vault.
func NewCoreStore(v *vault.Vault, opts ...Option) *CoreStore {
	o := buildOptions(CoreStoreID, opts)
	o.storeID = CoreStoreID
	return &CoreStore{vault: v, opts: o}
}

func (s *CoreStore) StoreID() string { return CoreStoreID }

// Vault exposes the underlying corpus.
func (s *CoreStore) Vault() *vault.Vault { return s.vault }

func (s *CoreStore) Get(_ context.Context, id graph.Identity) (*graph.Node, error) {
	if id.StoreID != CoreStoreID {
		return nil, fmt.Errorf("get %s: %w", id, graph.ErrNotFound)
	}
	n, ok := s.node(id.Name)
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, graph.ErrNotFound)
	}
	return n, nil
}

// node builds the node for name: its document, or a dangling node when
// something links to name without a document existing.
func (s *CoreStore) node(name string) (*graph.Node, bool) {
	if doc, ok := s.vault.Document(name); ok {
		return DocumentNode(doc), true
	}
	if s.vault.IsReferenced(name) {
		return DanglingNode(name, CoreStoreID), true
	}
	return nil, false
}

func (s *CoreStore) Neighbourhood(ctx context.Context, ids []graph.Identity) ([]*graph.Node, error) {
	c := newCollector()
	for _, id := range ids {
		if id.StoreID != CoreStoreID {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, ok := s.node(id.Name)
		if !ok {
			s.opts.logger.Debug("neighbourhood of unknown document", zap.Stringer("id", id))
			continue
		}
		c.add(n)
		for _, target := range s.vault.Targets(id.Name) {
			if nb, ok := s.node(target); ok {
				c.add(nb)
			}
		}
		for _, source := range s.vault.Sources(id.Name) {
			if nb, ok := s.node(source); ok {
				c.add(nb)
			}
		}
	}
	return c.nodes, nil
}

func (s *CoreStore) ConnectNodes(ctx context.Context, existing, candidates []*graph.Node) ([]*graph.Edge, error) {
	present := presence(existing)
	counter := pairCounter{}
	var edges []*graph.Edge
	for _, cand := range candidates {
		if cand.ID.StoreID != CoreStoreID {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, ok := s.vault.Document(cand.ID.Name)
		if !ok {
			continue
		}
		for _, l := range doc.Links {
			name, _ := s.vault.Resolve(l.Target)
			tgt := graph.NewIdentity(name, CoreStoreID)
			if _, ok := present[tgt]; !ok {
				continue
			}
			id := counter.next(cand.ID, tgt)
			e := typedEdge(s.opts.parser, id, cand.ID, tgt, l.Target, l.Line)
			if l.Embed {
				e.AddClass("embed")
			}
			edges = append(edges, e)
		}
	}
	return edges, nil
}

func (s *CoreStore) All(_ context.Context) ([]graph.Identity, error) {
	names := s.vault.Names()
	out := make([]graph.Identity, len(names))
	for i, n := range names {
		out[i] = graph.NewIdentity(n, CoreStoreID)
	}
	return out, nil
}

func (s *CoreStore) OutLinks(ctx context.Context, id graph.Identity) ([]graph.Identity, error) {
	return s.vault.OutLinks(ctx, id)
}

func (s *CoreStore) InLinks(ctx context.Context, id graph.Identity) ([]graph.Identity, error) {
	return s.vault.InLinks(ctx, id)
}

// DocumentNode converts a vault document into a core node. Frontmatter
// fields become attributes alongside name, path, title, content and tags.
func DocumentNode(doc *vault.Document) *graph.Node {
	attrs := maps.Clone(doc.Frontmatter)
	if attrs == nil {
		attrs = map[string]any{}
	}
	attrs["name"] = doc.Name
	attrs["path"] = doc.Path
	attrs["title"] = strings.TrimSuffix(doc.Basename(), path.Ext(doc.Basename()))
	attrs["size"] = doc.Size
	if doc.Markdown {
		attrs["content"] = doc.Content
	}
	tags := make([]any, len(doc.Tags))
	for i, t := range doc.Tags {
		tags[i] = t
	}
	attrs["tags"] = tags

	classes := []string{kindClass(doc)}
	for _, t := range doc.Tags {
		classes = append(classes, TagClassPrefix+t)
	}
	return graph.NewNode(graph.NewIdentity(doc.Name, CoreStoreID), attrs, classes...)
}

func kindClass(doc *vault.Document) string {
	switch {
	case doc.Markdown:
		return graph.ClassNote
	case vault.IsImage(doc.Path):
		return graph.ClassImage
	default:
		return graph.ClassFile
	}
}

// DanglingNode is the placeholder for a reference that matches no document.
func DanglingNode(name, storeID string) *graph.Node {
	return graph.NewNode(graph.NewIdentity(name, storeID),
		map[string]any{"name": name},
		graph.ClassDangling)
}

var (
	_ DataStore  = (*CoreStore)(nil)
	_ Enumerator = (*CoreStore)(nil)
	_ LinkIndex  = (*CoreStore)(nil)
)
