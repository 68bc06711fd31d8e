// Package mcpserver exposes a live session as MCP tools, so an agent can
// grow, prune and read the graph over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/agentic-research/loom/internal/graph"
	"github.com/agentic-research/loom/internal/session"
	"github.com/agentic-research/loom/internal/store"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Handlers holds the tool handlers for one session.
type Handlers struct {
	session *session.Session
	logger  *zap.Logger
}

// NewHandlers returns the handlers for s.
func NewHandlers(s *session.Session, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{session: s, logger: logger}
}

// New creates the MCP server with every tool registered.
func New(s *session.Session, logger *zap.Logger) *server.MCPServer {
	h := NewHandlers(s, logger)
	srv := server.NewMCPServer(
		"loom",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)
	h.Register(srv)
	return srv
}

const instructions = `loom keeps a graph of interlinked documents. Node ids are "<name>:<store>"; a bare name means the core store.
Start with loom_expand on a document, read the result with loom_snapshot, and use loom_filter or loom_condense to keep it small.`

var idsArg = mcp.WithArray("ids",
	mcp.Required(),
	mcp.Description(`Node ids, "<name>:<store>" or a bare core document name`),
	mcp.WithStringItems(),
)

// Register adds every tool to srv.
func (h *Handlers) Register(srv *server.MCPServer) {
	srv.AddTool(mcp.NewTool("loom_expand",
		mcp.WithDescription("Pull the neighbourhood of the given nodes into the graph."),
		idsArg,
		mcp.WithBoolean("out_links", mcp.Description("Follow outgoing references (default true)")),
		mcp.WithBoolean("in_links", mcp.Description("Follow incoming references (default true)")),
	), h.Expand)

	srv.AddTool(mcp.NewTool("loom_remove",
		mcp.WithDescription("Remove nodes and their edges from the graph."),
		idsArg,
	), h.Remove)

	srv.AddTool(mcp.NewTool("loom_hide",
		mcp.WithDescription("Hide nodes from the view. Expanding a neighbour brings them back."),
		idsArg,
	), h.Hide)

	srv.AddTool(mcp.NewTool("loom_collapse",
		mcp.WithDescription("Fold the neighbourhood of the given nodes back."),
		idsArg,
	), h.Collapse)

	srv.AddTool(mcp.NewTool("loom_pin",
		mcp.WithDescription("Pin or unpin nodes. Pinned nodes survive collapse."),
		idsArg,
		mcp.WithBoolean("unpin", mcp.Description("Remove the pin instead")),
	), h.Pin)

	srv.AddTool(mcp.NewTool("loom_condense",
		mcp.WithDescription("Remove visible nodes with few incoming references and reconnect what is left."),
		mcp.WithNumber("min_in_degree", mcp.Description("Keep nodes with at least this many visible incoming edges")),
	), h.Condense)

	srv.AddTool(mcp.NewTool("loom_filter",
		mcp.WithDescription("Tag nodes not matching a JSONPath filter as filtered. An empty query clears the filter."),
		mcp.WithString("query", mcp.Description(`e.g. @.status == 'draft'`)),
	), h.Filter)

	srv.AddTool(mcp.NewTool("loom_snapshot",
		mcp.WithDescription("Return the graph as JSON."),
		mcp.WithBoolean("visible_only", mcp.Description("Drop filtered nodes")),
		mcp.WithBoolean("include_content", mcp.Description("Keep document bodies")),
	), h.Snapshot)

	srv.AddTool(mcp.NewTool("loom_load",
		mcp.WithDescription("Load every document of every store into the graph."),
	), h.Load)

	srv.AddTool(mcp.NewTool("loom_set_active",
		mcp.WithDescription("Mark the document being read."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Core document id or name")),
	), h.SetActive)
}

// ParseID reads a composed id. A string whose suffix after the last
// separator is not one of storeIDs names a core document as a whole, so
// "Meeting: notes" is the core document of that name.
func ParseID(s string, storeIDs []string) (graph.Identity, error) {
	if !strings.Contains(s, graph.Separator) {
		return graph.NewIdentity(s, store.CoreStoreID), nil
	}
	id, err := graph.Parse(s)
	if err != nil {
		return graph.Identity{}, err
	}
	if !slices.Contains(storeIDs, id.StoreID) {
		return graph.NewIdentity(s, store.CoreStoreID), nil
	}
	return id, nil
}

// StoreIDs lists the ids of the stores s was built with.
func StoreIDs(s *session.Session) []string {
	stores := s.Stores()
	out := make([]string, len(stores))
	for i, st := range stores {
		out[i] = st.StoreID()
	}
	return out
}

func (h *Handlers) ids(req mcp.CallToolRequest) ([]graph.Identity, error) {
	raw, err := req.RequireStringSlice("ids")
	if err != nil {
		return nil, err
	}
	known := StoreIDs(h.session)
	out := make([]graph.Identity, 0, len(raw))
	for _, r := range raw {
		id, err := ParseID(r, known)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

type changeSummary struct {
	Nodes []string `json:"nodes"`
	Edges int      `json:"edges,omitempty"`
	Total int      `json:"total_nodes"`
}

func (h *Handlers) summary(nodes []*graph.Node, edges int) changeSummary {
	out := changeSummary{Nodes: []string{}, Edges: edges}
	for _, n := range nodes {
		out.Nodes = append(out.Nodes, n.ID.String())
	}
	h.session.View(func(g *graph.Graph) { out.Total = g.NodeCount() })
	return out
}

func (h *Handlers) fail(tool string, err error) (*mcp.CallToolResult, error) {
	h.logger.Debug("tool failed", zap.String("tool", tool), zap.Error(err))
	return mcp.NewToolResultErrorFromErr(tool+" failed", err), nil
}

// Expand handles loom_expand.
func (h *Handlers) Expand(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	frontier, err := h.ids(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	opts := session.ExpandOptions{
		IncludeOutLinks: req.GetBool("out_links", true),
		IncludeInLinks:  req.GetBool("in_links", true),
	}
	if !opts.IncludeOutLinks && !opts.IncludeInLinks {
		return mcp.NewToolResultError("out_links and in_links cannot both be false"), nil
	}
	res, err := h.session.Expand(ctx, frontier, opts)
	if err != nil {
		return h.fail("expand", err)
	}
	return jsonResult(h.summary(res.Added, len(res.Edges)))
}

// Remove handles loom_remove.
func (h *Handlers) Remove(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	target, err := h.ids(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	removed, err := h.session.RemoveNodes(ctx, target)
	if err != nil {
		return h.fail("remove", err)
	}
	return jsonResult(h.summary(removed, 0))
}

// Hide handles loom_hide.
func (h *Handlers) Hide(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	target, err := h.ids(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	hidden, err := h.session.Hide(ctx, target)
	if err != nil {
		return h.fail("hide", err)
	}
	return jsonResult(h.summary(hidden, 0))
}

// Collapse handles loom_collapse.
func (h *Handlers) Collapse(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	target, err := h.ids(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	removed, err := h.session.Collapse(ctx, target)
	if err != nil {
		return h.fail("collapse", err)
	}
	return jsonResult(h.summary(removed, 0))
}

// Pin handles loom_pin.
func (h *Handlers) Pin(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	target, err := h.ids(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if req.GetBool("unpin", false) {
		err = h.session.Unpin(target...)
	} else {
		err = h.session.Pin(target...)
	}
	if err != nil {
		return h.fail("pin", err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("%d node(s) updated", len(target))), nil
}

// Condense handles loom_condense.
func (h *Handlers) Condense(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var pred session.ImportancePredicate
	if k := req.GetInt("min_in_degree", -1); k >= 0 {
		pred = session.MinInDegree(k)
	}
	res, err := h.session.Condense(ctx, pred)
	if err != nil {
		return h.fail("condense", err)
	}
	out := struct {
		changeSummary
		Orphans     int `json:"orphans"`
		Synthesized int `json:"synthesized_edges"`
	}{
		changeSummary: h.summary(res.Removed, 0),
		Orphans:       len(res.Orphans),
		Synthesized:   len(res.Synthesized),
	}
	return jsonResult(out)
}

// Filter handles loom_filter.
func (h *Handlers) Filter(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q := req.GetString("query", "")
	if err := h.session.SearchFilter(q); err != nil {
		return h.fail("filter", err)
	}
	var visible, total int
	h.session.View(func(g *graph.Graph) {
		visible = len(g.Visible())
		total = g.NodeCount()
	})
	return mcp.NewToolResultText(fmt.Sprintf("%d of %d node(s) visible", visible, total)), nil
}

// Snapshot handles loom_snapshot.
func (h *Handlers) Snapshot(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := h.session.Snapshot(session.SnapshotOptions{
		VisibleOnly: req.GetBool("visible_only", false),
		OmitContent: !req.GetBool("include_content", false),
	})
	if err != nil {
		return h.fail("snapshot", err)
	}
	return jsonResult(snap)
}

// Load handles loom_load.
func (h *Handlers) Load(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := h.session.LoadCorpus(ctx)
	if err != nil {
		return h.fail("load", err)
	}
	return jsonResult(h.summary(res.Added, len(res.Edges)))
}

// SetActive handles loom_set_active.
func (h *Handlers) SetActive(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := ParseID(raw, StoreIDs(h.session))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := h.session.SetActive(id); err != nil {
		return h.fail("set active", err)
	}
	return mcp.NewToolResultText("active: " + id.String()), nil
}

// ServeStdio serves srv on stdin/stdout until the client disconnects.
func ServeStdio(srv *server.MCPServer) error {
	return server.ServeStdio(srv)
}
