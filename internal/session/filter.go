package session

import (
	"fmt"

	"github.com/agentic-research/loom/internal/events"
	"github.com/agentic-research/loom/internal/graph"
	"github.com/agentic-research/loom/internal/query"
)

// SearchFilter makes q the session's filter and applies it: nodes that do
// not match are tagged "filtered", the rest lose the tag. No node or edge
// is added or removed. An invalid query leaves the graph and the current
// filter as they were.
func (s *Session) SearchFilter(q string) error {
	compiled, err := query.Compile(q)
	if err != nil {
		return fmt.Errorf("search filter: %w", err)
	}
	if err := s.lock(); err != nil {
		return err
	}
	defer s.unlock()
	s.filter = compiled
	s.settings.Filter = compiled.String()
	s.graph.Batch(func() { s.applyFilter(s.graph.Nodes()) })
	s.emit(events.TypeGraphChanged)
	return nil
}

// SetHardFilter replaces the filter applied to newly merged nodes. Nodes
// already in the graph keep their current state.
func (s *Session) SetHardFilter(q string) error {
	compiled, err := query.Compile(q)
	if err != nil {
		return fmt.Errorf("hard filter: %w", err)
	}
	if err := s.lock(); err != nil {
		return err
	}
	defer s.unlock()
	s.hardFilter = compiled
	s.settings.HardFilter = compiled.String()
	return nil
}

// applyFilter must be called with s.mu held.
func (s *Session) applyFilter(nodes []*graph.Node) {
	for _, n := range nodes {
		match := s.filter.MatchNode(n)
		switch {
		case match && n.HasClass(graph.ClassFiltered):
			n.RemoveClass(graph.ClassFiltered)
		case !match && !n.HasClass(graph.ClassFiltered):
			n.AddClass(graph.ClassFiltered)
		default:
			continue
		}
		s.graph.Touch(n)
	}
}
