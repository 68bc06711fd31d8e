package session

import (
	"github.com/agentic-research/loom/internal/graph"
	"go.uber.org/zap"
)

// Elements are nodes and edges to merge into the graph.
type Elements struct {
	Nodes []*graph.Node
	Edges []*graph.Edge
}

// MergeResult reports what a merge touched.
type MergeResult struct {
	// Merged holds every affected node: updated ones and added ones.
	Merged []*graph.Node
	// Added holds the nodes that did not exist before.
	Added []*graph.Node
	// Edges holds the stored edges, added or replaced.
	Edges []*graph.Edge
}

// MergeToGraph merges elements into the graph. With batched, observers see
// one change notification for the whole merge. With triggerChange, the
// derived attributes and styles are recomputed once afterwards.
func (s *Session) MergeToGraph(elements Elements, batched, triggerChange bool) (*MergeResult, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.unlock()
	res := s.merge(elements, batched, triggerChange)
	return &res, nil
}

// merge must be called with s.mu held.
//
// An incoming node whose identity is materialized keeps its sticky classes,
// gets the incoming transient classes and sticky classes on top, and has
// its attributes overwritten. New nodes are committed together; those
// failing the hard filter are tagged filtered-hard. Edges missing an
// endpoint are dropped.
func (s *Session) merge(el Elements, batched, triggerChange bool) MergeResult {
	var res MergeResult
	apply := func() {
		staged := make(map[graph.Identity]*graph.Node)
		var order []*graph.Node
		for _, in := range el.Nodes {
			target, ok := s.graph.Node(in.ID)
			if !ok {
				target, ok = staged[in.ID]
			}
			if ok {
				target.ReplaceTransient(in.TransientClasses())
				target.AddSticky(in.StickyClasses()...)
				target.SetAttributes(in.Attributes)
				if s.graph.HasNode(target.ID) {
					s.graph.Touch(target)
					res.Merged = append(res.Merged, target)
				}
				continue
			}
			c := in.Clone()
			staged[c.ID] = c
			order = append(order, c)
		}
		for _, n := range order {
			if !s.hardFilter.MatchAll() && !s.hardFilter.MatchNode(n) {
				n.AddClass(graph.ClassFilteredHard)
			}
		}
		res.Added = s.graph.AddNodes(order...)
		res.Merged = append(res.Merged, res.Added...)

		for _, e := range el.Edges {
			stored, _, ok := s.graph.PutEdge(e.Clone())
			if !ok {
				s.logger.Debug("drop edge with missing endpoint",
					zap.String("edge", e.ID),
					zap.Stringer("source", e.Source),
					zap.Stringer("target", e.Target))
				continue
			}
			res.Edges = append(res.Edges, stored)
		}
	}
	if batched {
		s.graph.Batch(apply)
	} else {
		apply()
	}
	if triggerChange {
		s.recompute(true)
	}
	return res
}
