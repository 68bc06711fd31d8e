package session

import (
	"strings"
	"unicode/utf8"

	"github.com/agentic-research/loom/internal/events"
	"github.com/agentic-research/loom/internal/graph"
)

// Derived attribute keys and class prefixes.
const (
	AttrDegree     = "degree"
	AttrNameLength = "name_length"

	HasIncomingPrefix = "has-incoming-"
	HasOutgoingPrefix = "has-outgoing-"
)

// OnGraphChanged recomputes derived attributes, filter and style classes
// for every node and restarts the layout, debounced unless told otherwise.
func (s *Session) OnGraphChanged(debounceLayout bool) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.unlock()
	s.recompute(debounceLayout)
	return nil
}

// recompute must be called with s.mu held.
func (s *Session) recompute(debounceLayout bool) {
	s.refreshDerived()
	if debounceLayout {
		s.restart.Trigger()
	} else {
		s.restart.Cancel()
		s.restartLayout()
	}
	s.emit(events.TypeGraphChanged)
}

// refreshDerived reruns derive, filter and style groups over every node
// without touching the layout. Must be called with s.mu held.
func (s *Session) refreshDerived() {
	g := s.graph
	g.Batch(func() {
		nodes := g.Nodes()
		for _, n := range nodes {
			s.derive(n)
		}
		s.applyFilter(nodes)
		s.global.Apply(nodes)
		s.local.Apply(nodes)
	})
}

// derive refreshes degree, name length, has-incoming/has-outgoing classes
// and the active marker of n.
func (s *Session) derive(n *graph.Node) {
	edges := s.graph.ConnectedEdges(n.ID)
	if n.Attributes == nil {
		n.Attributes = map[string]any{}
	}
	n.Attributes[AttrDegree] = len(edges)
	n.Attributes[AttrNameLength] = utf8.RuneCountInString(n.Name())

	var next []string
	for _, c := range n.TransientClasses() {
		if strings.HasPrefix(c, HasIncomingPrefix) || strings.HasPrefix(c, HasOutgoingPrefix) || c == graph.ClassActive {
			continue
		}
		next = append(next, c)
	}
	for _, e := range edges {
		if e.Target == n.ID {
			next = append(next, HasIncomingPrefix+e.Type())
		}
		if e.Source == n.ID {
			next = append(next, HasOutgoingPrefix+e.Type())
		}
	}
	if s.active != nil && *s.active == n.ID {
		next = append(next, graph.ClassActive)
	}
	n.ReplaceTransient(next)
}
