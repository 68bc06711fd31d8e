package session

import (
	"github.com/agentic-research/loom/api"
	"github.com/agentic-research/loom/internal/graph"
	"github.com/agentic-research/loom/internal/style"
)

// NodeView is the exported form of a node.
type NodeView struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Store      string         `json:"store"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Classes    []string       `json:"classes,omitempty"`
}

// EdgeView is the exported form of an edge.
type EdgeView struct {
	ID         string         `json:"id"`
	Source     string         `json:"source"`
	Target     string         `json:"target"`
	Context    string         `json:"context,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Classes    []string       `json:"classes,omitempty"`
}

// Snapshot is a renderer-ready copy of the session state.
type Snapshot struct {
	SessionID string           `json:"session_id"`
	Nodes     []NodeView       `json:"nodes"`
	Edges     []EdgeView       `json:"edges"`
	Styles    []style.Rule     `json:"styles,omitempty"`
	Layout    api.LayoutConfig `json:"layout"`
	Filter    string           `json:"filter,omitempty"`
}

// SnapshotOptions trims the export.
type SnapshotOptions struct {
	// VisibleOnly drops filtered nodes and edges touching them.
	VisibleOnly bool
	// OmitContent drops the "content" attribute.
	OmitContent bool
}

// Snapshot copies the graph. The result shares nothing with the session.
func (s *Session) Snapshot(opts SnapshotOptions) (*Snapshot, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.unlock()

	snap := &Snapshot{
		SessionID: s.id,
		Layout:    s.settings.Layout,
		Filter:    s.settings.Filter,
		Styles:    append(s.global.Rules(), s.local.Rules()...),
		Nodes:     []NodeView{},
		Edges:     []EdgeView{},
	}
	var nodes []*graph.Node
	if opts.VisibleOnly {
		nodes = s.graph.Visible()
	} else {
		nodes = s.graph.Nodes()
	}
	included := make(map[graph.Identity]struct{}, len(nodes))
	for _, n := range nodes {
		included[n.ID] = struct{}{}
		attrs := make(map[string]any, len(n.Attributes))
		for k, v := range n.Attributes {
			if opts.OmitContent && k == "content" {
				continue
			}
			attrs[k] = v
		}
		snap.Nodes = append(snap.Nodes, NodeView{
			ID:         n.ID.String(),
			Name:       n.Name(),
			Store:      n.ID.StoreID,
			Attributes: attrs,
			Classes:    n.Classes(),
		})
	}
	for _, e := range s.graph.Edges() {
		_, src := included[e.Source]
		_, tgt := included[e.Target]
		if !src || !tgt {
			continue
		}
		c := e.Clone()
		snap.Edges = append(snap.Edges, EdgeView{
			ID:         c.ID,
			Source:     c.Source.String(),
			Target:     c.Target.String(),
			Context:    c.Context,
			Properties: c.Properties,
			Classes:    c.Classes(),
		})
	}
	return snap, nil
}
