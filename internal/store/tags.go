package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/agentic-research/loom/internal/graph"
	"github.com/agentic-research/loom/internal/vault"
)

// TagStoreID is the store id of tag nodes.
const TagStoreID = "tag"

// TagEdgeType is the typed-link type of document → tag edges.
const TagEdgeType = "tagged"

// TagStore exposes every tag used in the vault as a node. Tag neighbourhoods
// are the documents carrying the tag; edges run from document to tag.
type TagStore struct {
	vault *vault.Vault
	opts  options
}

// NewTagStore serves the tags of v.
func NewTagStore(v *vault.Vault, opts ...Option) *TagStore {
	return &TagStore{vault: v, opts: buildOptions(TagStoreID, opts)}
}

func (s *TagStore) StoreID() string { return s.opts.storeID }

// index maps tag → sorted document names, and document → tags.
func (s *TagStore) index() (map[string][]string, map[string][]string) {
	byTag := make(map[string][]string)
	byDoc := make(map[string][]string)
	for _, name := range s.vault.Names() {
		doc, ok := s.vault.Document(name)
		if !ok {
			continue
		}
		for _, t := range doc.Tags {
			byTag[t] = append(byTag[t], name)
		}
		byDoc[name] = doc.Tags
	}
	return byTag, byDoc
}

func (s *TagStore) tagNode(tag string, count int) *graph.Node {
	return graph.NewNode(graph.NewIdentity(tag, s.StoreID()),
		map[string]any{"name": "#" + tag, "count": count},
		graph.ClassTag)
}

func (s *TagStore) Get(_ context.Context, id graph.Identity) (*graph.Node, error) {
	if id.StoreID == s.StoreID() {
		byTag, _ := s.index()
		if docs, ok := byTag[id.Name]; ok {
			return s.tagNode(id.Name, len(docs)), nil
		}
	}
	return nil, fmt.Errorf("get %s: %w", id, graph.ErrNotFound)
}

func (s *TagStore) Neighbourhood(ctx context.Context, ids []graph.Identity) ([]*graph.Node, error) {
	byTag, _ := s.index()
	c := newCollector()
	for _, id := range ids {
		if id.StoreID != s.StoreID() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		docs, ok := byTag[id.Name]
		if !ok {
			continue
		}
		c.add(s.tagNode(id.Name, len(docs)))
		for _, name := range docs {
			if doc, ok := s.vault.Document(name); ok {
				c.add(DocumentNode(doc))
			}
		}
	}
	return c.nodes, nil
}

// ConnectNodes links tagged documents to their tags. Either end may be the
// candidate: a new tag node picks up edges from existing documents, and a
// new document picks up edges to existing tags.
func (s *TagStore) ConnectNodes(_ context.Context, existing, candidates []*graph.Node) ([]*graph.Edge, error) {
	byTag, byDoc := s.index()
	present := presence(existing)
	emitted := make(map[string]struct{})
	var edges []*graph.Edge
	emit := func(doc string, tag string) {
		src := graph.NewIdentity(doc, CoreStoreID)
		tgt := graph.NewIdentity(tag, s.StoreID())
		id := graph.EdgeID(src, tgt, 0)
		if _, dup := emitted[id]; dup {
			return
		}
		emitted[id] = struct{}{}
		e := graph.NewEdge(id, src, tgt, "", graph.ClassTag)
		e.Properties = map[string]any{"type": TagEdgeType}
		edges = append(edges, e)
	}
	for _, cand := range candidates {
		switch cand.ID.StoreID {
		case s.StoreID():
			for _, doc := range byTag[cand.ID.Name] {
				if _, ok := present[graph.NewIdentity(doc, CoreStoreID)]; ok {
					emit(doc, cand.ID.Name)
				}
			}
		case CoreStoreID:
			for _, tag := range byDoc[cand.ID.Name] {
				if _, ok := present[graph.NewIdentity(tag, s.StoreID())]; ok {
					emit(cand.ID.Name, tag)
				}
			}
		}
	}
	return edges, nil
}

func (s *TagStore) All(_ context.Context) ([]graph.Identity, error) {
	byTag, _ := s.index()
	tags := make([]string, 0, len(byTag))
	for t := range byTag {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	out := make([]graph.Identity, len(tags))
	for i, t := range tags {
		out[i] = graph.NewIdentity(t, s.StoreID())
	}
	return out, nil
}

// OutLinks of a tag are empty; tags only receive references.
func (s *TagStore) OutLinks(_ context.Context, _ graph.Identity) ([]graph.Identity, error) {
	return nil, nil
}

// InLinks returns the documents carrying the tag.
func (s *TagStore) InLinks(_ context.Context, id graph.Identity) ([]graph.Identity, error) {
	if id.StoreID != s.StoreID() {
		return nil, nil
	}
	byTag, _ := s.index()
	docs := byTag[id.Name]
	out := make([]graph.Identity, len(docs))
	for i, d := range docs {
		out[i] = graph.NewIdentity(d, CoreStoreID)
	}
	return out, nil
}

var (
	_ DataStore  = (*TagStore)(nil)
	_ Enumerator = (*TagStore)(nil)
	_ LinkIndex  = (*TagStore)(nil)
)
