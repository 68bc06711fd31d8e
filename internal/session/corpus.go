package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentic-research/loom/internal/events"
	"github.com/agentic-research/loom/internal/graph"
	"github.com/agentic-research/loom/internal/store"
	"go.uber.org/zap"
)

// LoadCorpus merges every node of every enumerable store, with all edges
// between them. Above the bulk threshold the confirm callback decides;
// without one, or on refusal, ErrBulkRejected is returned and nothing
// changes.
func (s *Session) LoadCorpus(ctx context.Context) (*MergeResult, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.unlock()

	var ids []graph.Identity
	for _, st := range s.stores {
		en, ok := st.(store.Enumerator)
		if !ok {
			continue
		}
		all, err := en.All(ctx)
		if err != nil {
			return nil, fmt.Errorf("load corpus: store %s: %w", st.StoreID(), err)
		}
		ids = append(ids, all...)
	}
	if s.bulkThreshold > 0 && len(ids) > s.bulkThreshold {
		if s.confirm == nil || !s.confirm(len(ids)) {
			return nil, fmt.Errorf("load corpus of %d nodes (threshold %d): %w", len(ids), s.bulkThreshold, ErrBulkRejected)
		}
	}
	s.layout.Stop()

	nodes, err := s.neighbourhood(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}
	edges, err := s.connect(ctx, s.withGraph(nodes), nodes)
	if err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}

	var res MergeResult
	s.graph.Batch(func() {
		res = s.merge(Elements{Nodes: nodes}, false, false)
		res.Edges = s.merge(Elements{Edges: edges}, false, false).Edges
	})
	s.logger.Info("corpus loaded", zap.Int("nodes", len(res.Merged)), zap.Int("edges", len(res.Edges)))
	s.recompute(true)
	return &res, nil
}

// Refresh re-reads nodes after their documents changed. Nodes whose
// document is gone are removed; the others get fresh attributes and their
// outgoing edges rebuilt. Identities not in the graph are ignored.
func (s *Session) Refresh(ctx context.Context, ids []graph.Identity) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.unlock()

	var fresh []*graph.Node
	var gone []graph.Identity
	for _, id := range uniqueIDs(ids) {
		if !s.graph.HasNode(id) {
			continue
		}
		st, ok := s.storeFor(id.StoreID)
		if !ok {
			s.logger.Debug("refresh of unowned node", zap.Stringer("id", id))
			continue
		}
		n, err := st.Get(ctx, id)
		if errors.Is(err, graph.ErrNotFound) {
			gone = append(gone, id)
			continue
		}
		if err != nil {
			return fmt.Errorf("refresh: %w", err)
		}
		fresh = append(fresh, n)
	}
	if len(fresh) == 0 && len(gone) == 0 {
		return nil
	}
	edges, err := s.connect(ctx, s.withGraph(fresh), fresh)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	s.layout.Stop()

	s.graph.Batch(func() {
		var hard []*graph.Node
		for _, n := range fresh {
			old, _ := s.graph.Node(n.ID)
			if old.HasClass(graph.ClassFilteredHard) {
				hard = append(hard, old)
			}
			var stale []string
			for _, e := range s.graph.OutEdges(n.ID) {
				stale = append(stale, e.ID)
			}
			s.graph.RemoveEdges(stale...)
		}
		s.merge(Elements{Nodes: fresh}, false, false)
		for _, n := range hard {
			n.AddClass(graph.ClassFilteredHard)
		}
		s.removeNodes(gone, false)
		s.merge(Elements{Edges: edges}, false, false)
	})
	s.recompute(true)
	s.emit(events.TypeRefresh, append(nodeIDs(fresh), gone...)...)
	return nil
}
