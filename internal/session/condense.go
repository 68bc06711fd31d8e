package session

import (
	"context"
	"fmt"

	"github.com/agentic-research/loom/internal/events"
	"github.com/agentic-research/loom/internal/graph"
	"go.uber.org/zap"
)

// ImportancePredicate decides whether a visible node survives condensation.
// inDegree is the node's visible in-degree as snapshotted when the
// condensation started.
type ImportancePredicate func(n *graph.Node, inDegree int) bool

// MinInDegree keeps nodes with at least k visible incoming edges.
func MinInDegree(k int) ImportancePredicate {
	return func(_ *graph.Node, inDegree int) bool { return inDegree >= k }
}

// CondenseResult reports what a condensation did.
type CondenseResult struct {
	Removed     []*graph.Node
	Orphans     []graph.Identity
	Synthesized []*graph.Edge
}

// SynthesizedEdgeID is the id of the edge condensation adds from ancestor
// to orphan.
func SynthesizedEdgeID(ancestor, orphan graph.Identity) string {
	return fmt.Sprintf("%s->%s#condensed", ancestor, orphan)
}

// Condense removes every visible node failing pred (MinInDegree of the
// session default when nil) and reconnects surviving orphans to their
// closest surviving ancestors.
//
// In-degrees are counted over visible nodes of the live graph once, before
// anything is removed; pred never sees counts affected by its own removals.
// Ancestors are found by walking incoming references through the link
// index, passing only through removed nodes.
func (s *Session) Condense(ctx context.Context, pred ImportancePredicate) (*CondenseResult, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.unlock()
	if s.index == nil {
		return nil, fmt.Errorf("condense: link index: %w", ErrCollaboratorUnavailable)
	}
	if pred == nil {
		pred = MinInDegree(s.minInDegree)
	}
	s.layout.Stop()

	visible := s.graph.Visible()
	isVisible := idSet(nodeIDs(visible))
	inDegree := make(map[graph.Identity]int, len(visible))
	for _, n := range visible {
		for _, e := range s.graph.InEdges(n.ID) {
			if _, ok := isVisible[e.Source]; ok && e.Source != n.ID {
				inDegree[n.ID]++
			}
		}
	}

	removed := make(map[graph.Identity]struct{})
	var order []graph.Identity
	for _, n := range visible {
		if !pred(n, inDegree[n.ID]) {
			removed[n.ID] = struct{}{}
			order = append(order, n.ID)
		}
	}
	alive := make(map[graph.Identity]struct{}, len(visible)-len(order))
	for _, n := range visible {
		if _, gone := removed[n.ID]; !gone {
			alive[n.ID] = struct{}{}
		}
	}

	// Plan the repair before mutating: a failing index lookup aborts the
	// whole operation.
	res := &CondenseResult{}
	var synth []*graph.Edge
	for _, n := range visible {
		if _, ok := alive[n.ID]; !ok || s.connectedToAlive(n.ID, alive) {
			continue
		}
		res.Orphans = append(res.Orphans, n.ID)
		ancestors, err := s.ancestors(ctx, n.ID, removed, alive)
		if err != nil {
			return nil, fmt.Errorf("condense: %w", err)
		}
		for _, a := range ancestors {
			synth = append(synth, graph.NewEdge(SynthesizedEdgeID(a, n.ID), a, n.ID, "", graph.ClassInline))
		}
	}

	res.Removed = s.removeNodes(order, false)
	res.Synthesized = s.merge(Elements{Edges: synth}, true, false).Edges
	s.refreshDerived()
	s.emit(events.TypeGraphChanged)

	s.restart.Cancel()
	s.restartLayout()
	s.logger.Debug("condensed",
		zap.Int("removed", len(res.Removed)),
		zap.Int("orphans", len(res.Orphans)),
		zap.Int("synthesized", len(res.Synthesized)))
	s.emit(events.TypeCondense, order...)
	return res, nil
}

// connectedToAlive reports whether id has an edge to another surviving node.
func (s *Session) connectedToAlive(id graph.Identity, alive map[graph.Identity]struct{}) bool {
	for _, e := range s.graph.ConnectedEdges(id) {
		other := e.Target
		if other == id {
			other = e.Source
		}
		if other == id {
			continue
		}
		if _, ok := alive[other]; ok {
			return true
		}
	}
	return false
}

// ancestors walks incoming references from start. A surviving source is an
// ancestor; a removed source is walked through. Anything else ends the
// path. Each walk carries its own visited set, so cycles terminate.
func (s *Session) ancestors(ctx context.Context, start graph.Identity, removed, alive map[graph.Identity]struct{}) ([]graph.Identity, error) {
	visited := map[graph.Identity]struct{}{start: {}}
	var found []graph.Identity
	var walk func(id graph.Identity) error
	walk = func(id graph.Identity) error {
		sources, err := s.index.InLinks(ctx, id)
		if err != nil {
			return fmt.Errorf("in links of %s: %w", id, err)
		}
		for _, src := range sources {
			if _, seen := visited[src]; seen {
				continue
			}
			visited[src] = struct{}{}
			if _, ok := alive[src]; ok {
				found = append(found, src)
				continue
			}
			if _, ok := removed[src]; ok {
				if err := walk(src); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(start); err != nil {
		return nil, err
	}
	return found, nil
}
