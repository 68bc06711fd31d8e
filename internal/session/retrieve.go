package session

import (
	"context"
	"fmt"

	"github.com/agentic-research/loom/internal/graph"
	"golang.org/x/sync/errgroup"
)

// neighbourhood asks every store for the neighbourhood of ids. Stores run
// concurrently; results are joined in store order (core first) and
// deduplicated by identity, first occurrence wins.
func (s *Session) neighbourhood(ctx context.Context, ids []graph.Identity) ([]*graph.Node, error) {
	results := make([][]*graph.Node, len(s.stores))
	g, gctx := errgroup.WithContext(ctx)
	for i, st := range s.stores {
		g.Go(func() error {
			nodes, err := st.Neighbourhood(gctx, ids)
			if err != nil {
				return fmt.Errorf("store %s: neighbourhood: %w", st.StoreID(), err)
			}
			results[i] = nodes
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[graph.Identity]struct{})
	var out []*graph.Node
	for _, nodes := range results {
		for _, n := range nodes {
			if _, dup := seen[n.ID]; dup {
				continue
			}
			seen[n.ID] = struct{}{}
			out = append(out, n)
		}
	}
	return out, nil
}

// connect asks every store for the edges from candidates into existing.
func (s *Session) connect(ctx context.Context, existing, candidates []*graph.Node) ([]*graph.Edge, error) {
	results := make([][]*graph.Edge, len(s.stores))
	g, gctx := errgroup.WithContext(ctx)
	for i, st := range s.stores {
		g.Go(func() error {
			edges, err := st.ConnectNodes(gctx, existing, candidates)
			if err != nil {
				return fmt.Errorf("store %s: connect: %w", st.StoreID(), err)
			}
			results[i] = edges
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var out []*graph.Edge
	for _, edges := range results {
		out = append(out, edges...)
	}
	return out, nil
}

// withGraph returns the live graph nodes plus every node of extra that is
// not materialized yet: the node set as it will be once extra is merged.
func (s *Session) withGraph(extra []*graph.Node) []*graph.Node {
	out := s.graph.Nodes()
	for _, n := range extra {
		if !s.graph.HasNode(n.ID) {
			out = append(out, n)
		}
	}
	return out
}

func uniqueIDs(ids []graph.Identity) []graph.Identity {
	seen := make(map[graph.Identity]struct{}, len(ids))
	out := make([]graph.Identity, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func idSet(ids []graph.Identity) map[graph.Identity]struct{} {
	out := make(map[graph.Identity]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func nodeIDs(nodes []*graph.Node) []graph.Identity {
	out := make([]graph.Identity, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}
