package session

import (
	"context"

	"github.com/agentic-research/loom/internal/events"
	"github.com/agentic-research/loom/internal/graph"
)

// RemoveNodes removes nodes and their edges. Surviving neighbours of a
// removed node lose "expanded": their neighbourhood is no longer complete.
func (s *Session) RemoveNodes(_ context.Context, ids []graph.Identity) ([]*graph.Node, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.unlock()
	s.layout.Stop()
	removed := s.removeNodes(ids, true)
	s.emit(events.TypeRemove, nodeIDs(removed)...)
	return removed, nil
}

// Hide removes nodes from the view. The corpus is untouched; a later
// expansion brings them back.
func (s *Session) Hide(_ context.Context, ids []graph.Identity) ([]*graph.Node, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.unlock()
	s.layout.Stop()
	removed := s.removeNodes(ids, true)
	s.emit(events.TypeHide, nodeIDs(removed)...)
	return removed, nil
}

// removeNodes must be called with s.mu held.
func (s *Session) removeNodes(ids []graph.Identity, triggerChange bool) []*graph.Node {
	targets := idSet(ids)
	var removed []*graph.Node
	s.graph.Batch(func() {
		for _, id := range ids {
			for _, nb := range s.graph.Neighbours(id) {
				if _, gone := targets[nb.ID]; gone || !nb.HasClass(graph.ClassExpanded) {
					continue
				}
				nb.RemoveClass(graph.ClassExpanded)
				s.graph.Touch(nb)
			}
		}
		removed = s.graph.RemoveNodes(ids...)
	})
	if s.active != nil {
		if _, gone := targets[*s.active]; gone {
			s.active = nil
		}
	}
	if triggerChange {
		s.recompute(true)
	}
	return removed
}

// Collapse folds the neighbourhood of ids back: neighbours that connect to
// nothing but the collapsed nodes and carry no protected, pinned or
// expanded tag are removed, and the collapsed nodes lose "expanded".
func (s *Session) Collapse(_ context.Context, ids []graph.Identity) ([]*graph.Node, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.unlock()
	s.layout.Stop()

	folding := idSet(ids)
	var drop []graph.Identity
	seen := make(map[graph.Identity]struct{})
	for _, id := range ids {
		for _, nb := range s.graph.Neighbours(id) {
			if _, dup := seen[nb.ID]; dup {
				continue
			}
			seen[nb.ID] = struct{}{}
			if _, self := folding[nb.ID]; self || keeps(nb) {
				continue
			}
			only := true
			for _, other := range s.graph.Neighbours(nb.ID) {
				if _, ok := folding[other.ID]; !ok {
					only = false
					break
				}
			}
			if only {
				drop = append(drop, nb.ID)
			}
		}
	}

	var removed []*graph.Node
	s.graph.Batch(func() {
		for _, id := range ids {
			if n, ok := s.graph.Node(id); ok {
				n.RemoveClass(graph.ClassExpanded)
				s.graph.Touch(n)
			}
		}
		removed = s.removeNodes(drop, false)
	})
	s.recompute(true)
	s.emit(events.TypeCollapse, nodeIDs(removed)...)
	return removed, nil
}

func keeps(n *graph.Node) bool {
	return n.HasClass(graph.ClassProtected) || n.HasClass(graph.ClassPinned) || n.HasClass(graph.ClassExpanded)
}
