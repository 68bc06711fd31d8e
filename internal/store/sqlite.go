package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/agentic-research/loom/internal/graph"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// ArchiveStoreID is the default store id of a SQLite archive.
const ArchiveStoreID = "archive"

// SQLiteStore serves a read-only archive written by SQLiteWriter.
// Link targets that match no document row are dangling.
type SQLiteStore struct {
	db   *sql.DB
	opts options
}

// OpenSQLiteStore opens the archive at dbPath read-only.
func OpenSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	o := buildOptions(ArchiveStoreID, opts)
	if err := graph.NewIdentity("", o.storeID).Validate(); err != nil {
		return nil, fmt.Errorf("archive store id: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(4)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	return &SQLiteStore{db: db, opts: o}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) StoreID() string { return s.opts.storeID }

func (s *SQLiteStore) id(name string) graph.Identity {
	return graph.NewIdentity(name, s.opts.storeID)
}

// node loads name as a document, or as a dangling node if only links name it.
func (s *SQLiteStore) node(ctx context.Context, name string) (*graph.Node, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT attrs FROM documents WHERE name = ?`, name).Scan(&raw)
	if err == nil {
		attrs := map[string]any{}
		if raw.Valid && raw.String != "" {
			if err := json.Unmarshal([]byte(raw.String), &attrs); err != nil {
				return nil, fmt.Errorf("decode attrs of %s: %w", name, err)
			}
		}
		if _, ok := attrs["name"]; !ok {
			attrs["name"] = name
		}
		return graph.NewNode(s.id(name), attrs, graph.ClassNote), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("query document %s: %w", name, err)
	}

	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM links WHERE target = ? LIMIT 1`, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, graph.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query links to %s: %w", name, err)
	}
	return DanglingNode(name, s.opts.storeID), nil
}

func (s *SQLiteStore) Get(ctx context.Context, id graph.Identity) (*graph.Node, error) {
	if id.StoreID != s.opts.storeID {
		return nil, fmt.Errorf("get %s: %w", id, graph.ErrNotFound)
	}
	n, err := s.node(ctx, id.Name)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	return n, nil
}

func (s *SQLiteStore) column(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) targets(ctx context.Context, name string) ([]string, error) {
	return s.column(ctx, `SELECT target FROM links WHERE source = ? GROUP BY target ORDER BY MIN(ord)`, name)
}

func (s *SQLiteStore) sources(ctx context.Context, name string) ([]string, error) {
	return s.column(ctx, `SELECT DISTINCT source FROM links WHERE target = ? ORDER BY source`, name)
}

func (s *SQLiteStore) Neighbourhood(ctx context.Context, ids []graph.Identity) ([]*graph.Node, error) {
	c := newCollector()
	for _, id := range ids {
		if id.StoreID != s.opts.storeID {
			continue
		}
		self, err := s.node(ctx, id.Name)
		if errors.Is(err, graph.ErrNotFound) {
			s.opts.logger.Debug("neighbourhood of unknown document", zap.Stringer("id", id))
			continue
		}
		if err != nil {
			return nil, err
		}
		c.add(self)

		outs, err := s.targets(ctx, id.Name)
		if err != nil {
			return nil, fmt.Errorf("links from %s: %w", id, err)
		}
		ins, err := s.sources(ctx, id.Name)
		if err != nil {
			return nil, fmt.Errorf("links to %s: %w", id, err)
		}
		for _, name := range append(outs, ins...) {
			if _, dup := c.seen[s.id(name)]; dup {
				continue
			}
			n, err := s.node(ctx, name)
			if errors.Is(err, graph.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			c.add(n)
		}
	}
	return c.nodes, nil
}

func (s *SQLiteStore) ConnectNodes(ctx context.Context, existing, candidates []*graph.Node) ([]*graph.Edge, error) {
	present := presence(existing)
	counter := pairCounter{}
	var edges []*graph.Edge
	for _, cand := range candidates {
		if cand.ID.StoreID != s.opts.storeID {
			continue
		}
		rows, err := s.db.QueryContext(ctx,
			`SELECT target, COALESCE(raw, target), COALESCE(line, '') FROM links WHERE source = ? ORDER BY ord`,
			cand.ID.Name)
		if err != nil {
			return nil, fmt.Errorf("links from %s: %w", cand.ID, err)
		}
		for rows.Next() {
			var target, raw, line string
			if err := rows.Scan(&target, &raw, &line); err != nil {
				_ = rows.Close()
				return nil, err
			}
			tgt := s.id(target)
			if _, ok := present[tgt]; !ok {
				continue
			}
			edges = append(edges, typedEdge(s.opts.parser, counter.next(cand.ID, tgt), cand.ID, tgt, raw, line))
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return edges, nil
}

func (s *SQLiteStore) All(ctx context.Context) ([]graph.Identity, error) {
	names, err := s.column(ctx, `SELECT name FROM documents ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	out := make([]graph.Identity, len(names))
	for i, n := range names {
		out[i] = s.id(n)
	}
	return out, nil
}

func (s *SQLiteStore) OutLinks(ctx context.Context, id graph.Identity) ([]graph.Identity, error) {
	if id.StoreID != s.opts.storeID {
		return nil, nil
	}
	names, err := s.targets(ctx, id.Name)
	if err != nil {
		return nil, fmt.Errorf("links from %s: %w", id, err)
	}
	return s.ids(names), nil
}

func (s *SQLiteStore) InLinks(ctx context.Context, id graph.Identity) ([]graph.Identity, error) {
	if id.StoreID != s.opts.storeID {
		return nil, nil
	}
	names, err := s.sources(ctx, id.Name)
	if err != nil {
		return nil, fmt.Errorf("links to %s: %w", id, err)
	}
	sort.Strings(names)
	return s.ids(names), nil
}

func (s *SQLiteStore) ids(names []string) []graph.Identity {
	out := make([]graph.Identity, len(names))
	for i, n := range names {
		out[i] = s.id(n)
	}
	return out
}

var (
	_ DataStore  = (*SQLiteStore)(nil)
	_ Enumerator = (*SQLiteStore)(nil)
	_ LinkIndex  = (*SQLiteStore)(nil)
)
