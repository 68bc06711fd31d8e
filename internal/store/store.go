// Package store holds the data stores a session pulls nodes and edges from.
//
// Every store owns the identities carrying its StoreID. Reads never mutate
// anything: a store only describes what it knows, and the session decides
// what becomes part of the graph.
package store

import (
	"context"

	"github.com/agentic-research/loom/internal/graph"
	"github.com/agentic-research/loom/internal/typedlink"
	"go.uber.org/zap"
)

// CoreStoreID is the id of the primary corpus store.
const CoreStoreID = graph.CoreStoreID

// DataStore is a pluggable source of nodes and edges.
type DataStore interface {
	// StoreID identifies the store. It must not contain graph.Separator.
	StoreID() string
	// Neighbourhood returns the nodes for ids owned by this store together
	// with their direct outgoing and incoming neighbours. Unresolved
	// references come back as nodes classed graph.ClassDangling.
	Neighbourhood(ctx context.Context, ids []graph.Identity) ([]*graph.Node, error)
	// ConnectNodes returns the edges from every owned candidate to targets
	// present in existing.
	ConnectNodes(ctx context.Context, existing, candidates []*graph.Node) ([]*graph.Edge, error)
	// Get returns one node, or graph.ErrNotFound.
	Get(ctx context.Context, id graph.Identity) (*graph.Node, error)
}

// Enumerator is implemented by stores that can list their whole corpus.
type Enumerator interface {
	All(ctx context.Context) ([]graph.Identity, error)
}

// LinkIndex answers direct reference queries without building nodes.
type LinkIndex interface {
	OutLinks(ctx context.Context, id graph.Identity) ([]graph.Identity, error)
	InLinks(ctx context.Context, id graph.Identity) ([]graph.Identity, error)
}

// MultiIndex routes link queries to the index registered for the identity's
// store. Identities of unregistered stores have no links.
type MultiIndex struct {
	byStore map[string]LinkIndex
}

// NewMultiIndex returns an empty router.
func NewMultiIndex() *MultiIndex {
	return &MultiIndex{byStore: make(map[string]LinkIndex)}
}

// Register routes storeID to idx.
func (m *MultiIndex) Register(storeID string, idx LinkIndex) *MultiIndex {
	m.byStore[storeID] = idx
	return m
}

func (m *MultiIndex) OutLinks(ctx context.Context, id graph.Identity) ([]graph.Identity, error) {
	idx, ok := m.byStore[id.StoreID]
	if !ok {
		return nil, nil
	}
	return idx.OutLinks(ctx, id)
}

func (m *MultiIndex) InLinks(ctx context.Context, id graph.Identity) ([]graph.Identity, error) {
	idx, ok := m.byStore[id.StoreID]
	if !ok {
		return nil, nil
	}
	return idx.InLinks(ctx, id)
}

// Option configures a store.
type Option func(*options)

type options struct {
	logger  *zap.Logger
	parser  typedlink.Parser
	storeID string
}

func buildOptions(defaultID string, opts []Option) options {
	o := options{logger: zap.NewNop(), parser: typedlink.NewLineParser(), storeID: defaultID}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// WithLogger sets the store's logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithParser sets the typed-link parser used when building edges.
func WithParser(p typedlink.Parser) Option {
	return func(o *options) { o.parser = p }
}

// WithStoreID overrides the store id where a store allows it.
func WithStoreID(id string) Option {
	return func(o *options) { o.storeID = id }
}

// presence indexes nodes by identity.
func presence(nodes []*graph.Node) map[graph.Identity]struct{} {
	out := make(map[graph.Identity]struct{}, len(nodes))
	for _, n := range nodes {
		out[n.ID] = struct{}{}
	}
	return out
}

// collector deduplicates nodes by identity, keeping first-seen order.
type collector struct {
	seen  map[graph.Identity]struct{}
	nodes []*graph.Node
}

func newCollector() *collector {
	return &collector{seen: make(map[graph.Identity]struct{})}
}

func (c *collector) add(n *graph.Node) {
	if n == nil {
		return
	}
	if _, dup := c.seen[n.ID]; dup {
		return
	}
	c.seen[n.ID] = struct{}{}
	c.nodes = append(c.nodes, n)
}

// pairCounter hands out per-(source, target) occurrence numbers so repeated
// references get distinct edge ids.
type pairCounter map[[2]graph.Identity]int

func (p pairCounter) next(src, tgt graph.Identity) string {
	k := [2]graph.Identity{src, tgt}
	n := p[k]
	p[k] = n + 1
	return graph.EdgeID(src, tgt, n)
}

// typedEdge builds an edge and applies the typed-link parser to it.
func typedEdge(parser typedlink.Parser, id string, src, tgt graph.Identity, rawTarget, line string) *graph.Edge {
	e := graph.NewEdge(id, src, tgt, line)
	if parser == nil {
		return e
	}
	if t, ok := parser.Parse(rawTarget, line); ok {
		e.Properties = t.Properties
		e.AddClass(t.Classes...)
	}
	return e
}
