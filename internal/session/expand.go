package session

import (
	"context"
	"fmt"

	"github.com/agentic-research/loom/internal/events"
	"github.com/agentic-research/loom/internal/graph"
	"go.uber.org/zap"
)

// ExpandOptions selects which references an expansion follows.
type ExpandOptions struct {
	IncludeOutLinks bool
	IncludeInLinks  bool
}

// DefaultExpandOptions follows references in both directions.
func DefaultExpandOptions() ExpandOptions {
	return ExpandOptions{IncludeOutLinks: true, IncludeInLinks: true}
}

// Expand pulls the neighbourhood of frontier into the graph and marks the
// frontier expanded and protected.
//
// Edges are only added where one endpoint is in the frontier; references
// between two neighbours show up once one of them is expanded. All store
// I/O happens before the graph is touched, so a failing store leaves the
// graph unchanged.
//
// An empty frontier returns ErrEmptyFrontier. Disabling both directions is
// a programming error and panics.
func (s *Session) Expand(ctx context.Context, frontier []graph.Identity, opts ExpandOptions) (*MergeResult, error) {
	if len(frontier) == 0 {
		return nil, ErrEmptyFrontier
	}
	if !opts.IncludeOutLinks && !opts.IncludeInLinks {
		panic("session: Expand requires at least one link direction")
	}
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.unlock()

	frontier = uniqueIDs(frontier)
	if !(opts.IncludeOutLinks && opts.IncludeInLinks) && s.index == nil {
		return nil, fmt.Errorf("directional expand: link index: %w", ErrCollaboratorUnavailable)
	}
	s.layout.Stop()

	nodes, err := s.neighbourhood(ctx, frontier)
	if err != nil {
		return nil, fmt.Errorf("expand: %w", err)
	}
	if !(opts.IncludeOutLinks && opts.IncludeInLinks) {
		keep, err := s.directional(ctx, frontier, opts)
		if err != nil {
			return nil, fmt.Errorf("expand: %w", err)
		}
		filtered := nodes[:0:0]
		for _, n := range nodes {
			if _, ok := keep[n.ID]; ok {
				filtered = append(filtered, n)
			}
		}
		nodes = filtered
	}

	edges, err := s.connect(ctx, s.withGraph(nodes), nodes)
	if err != nil {
		return nil, fmt.Errorf("expand: %w", err)
	}
	inFrontier := idSet(frontier)
	incident := edges[:0:0]
	for _, e := range edges {
		_, src := inFrontier[e.Source]
		_, tgt := inFrontier[e.Target]
		if src || tgt {
			incident = append(incident, e)
		}
	}

	var res MergeResult
	s.graph.Batch(func() {
		res = s.merge(Elements{Nodes: nodes}, false, false)
		for _, id := range frontier {
			if n, ok := s.graph.Node(id); ok {
				n.AddClass(graph.ClassExpanded, graph.ClassProtected)
				s.graph.Touch(n)
			}
		}
		for _, n := range res.Merged {
			n.RemoveClass(graph.ClassFilteredHard)
		}
		res.Edges = s.merge(Elements{Edges: incident}, false, false).Edges
	})
	s.logger.Debug("expanded",
		zap.Int("frontier", len(frontier)),
		zap.Int("nodes", len(res.Merged)),
		zap.Int("added", len(res.Added)),
		zap.Int("edges", len(res.Edges)))

	s.recompute(true)
	s.emit(events.TypeExpand, frontier...)
	return &res, nil
}

// directional returns the frontier plus the targets (out) or sources (in)
// of its references, per the enabled direction.
func (s *Session) directional(ctx context.Context, frontier []graph.Identity, opts ExpandOptions) (map[graph.Identity]struct{}, error) {
	keep := idSet(frontier)
	for _, id := range frontier {
		if opts.IncludeOutLinks {
			outs, err := s.index.OutLinks(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("out links of %s: %w", id, err)
			}
			for _, o := range outs {
				keep[o] = struct{}{}
			}
		}
		if opts.IncludeInLinks {
			ins, err := s.index.InLinks(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("in links of %s: %w", id, err)
			}
			for _, i := range ins {
				keep[i] = struct{}{}
			}
		}
	}
	return keep, nil
}
