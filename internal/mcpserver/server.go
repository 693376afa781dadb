// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Odal tools for LLM integration via stdio transport.
//
// Tool calls that read or mutate the graph are routed through the plugin
// sandbox, so the MCP surface is bound by the same capability grants and
// resource limits as any other plugin.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/odal/internal/graphservice"
	"github.com/starford/odal/internal/plugin"
	"github.com/starford/odal/internal/query"
	"github.com/starford/odal/internal/vault"
)

// pluginID is the sandbox identity the MCP server acts under.
const pluginID = "mcp"

// Server wraps the MCP server with Odal tools.
type Server struct {
	mcp    *server.MCPServer
	host   *plugin.Host
	engine *query.Engine
	svc    *graphservice.Service
}

// New creates a new MCP server with all Odal tools registered. It registers
// itself with the plugin host under the "mcp" identity.
func New(svc *graphservice.Service, host *plugin.Host, engine *query.Engine) (*Server, error) {
	err := host.Register(plugin.Descriptor{
		ID: pluginID,
		Permissions: []plugin.Capability{
			plugin.CapDBQuery,
			plugin.CapEditorInsert,
			plugin.CapEditorUpdate,
		},
		Limits: plugin.ResourceLimits{Timeout: 10 * time.Second, MaxResultBytes: 4 << 20},
	})
	if err != nil {
		return nil, fmt.Errorf("mcpserver: register sandbox identity: %w", err)
	}

	s := &Server{host: host, engine: engine, svc: svc}

	s.mcp = server.NewMCPServer(
		"Odal",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_blocks",
		mcp.WithDescription("Substring search through block content across all pages."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search term")),
	), s.searchBlocks)

	s.mcp.AddTool(mcp.NewTool("read_page",
		mcp.WithDescription("Read a page as a Markdown outline (one block per bullet, tabs for nesting)."),
		mcp.WithString("page", mcp.Required(), mcp.Description("Page name (case-insensitive)")),
	), s.readPage)

	s.mcp.AddTool(mcp.NewTool("insert_block",
		mcp.WithDescription("Insert a new block. Content MUST follow the outline format contract "+
			"([[page references]] and #tags are indexed). Read the contract first via the "+
			"get_outline_contract tool or the odal://outline-format resource."),
		mcp.WithString("page", mcp.Description("Page for root blocks (ignored when parent is set)")),
		mcp.WithString("parent", mcp.Description("Parent block UUID (empty for a root block)")),
		mcp.WithString("left", mcp.Description("Left sibling UUID (empty to insert first)")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Block text")),
	), s.insertBlock)

	s.mcp.AddTool(mcp.NewTool("update_block",
		mcp.WithDescription("Replace a block's text. The block keeps its ID and position."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Block UUID")),
		mcp.WithString("content", mcp.Required(), mcp.Description("New block text")),
	), s.updateBlock)

	s.mcp.AddTool(mcp.NewTool("get_backlinks",
		mcp.WithDescription("Find all blocks that reference the given page."),
		mcp.WithString("page", mcp.Required(), mcp.Description("Page name to find backlinks for")),
	), s.getBacklinks)

	s.mcp.AddTool(mcp.NewTool("related_pages",
		mcp.WithDescription("Rank pages by reference overlap with the given page (Jaccard similarity)."),
		mcp.WithString("page", mcp.Required(), mcp.Description("Base page name")),
		mcp.WithString("threshold", mcp.Description("Minimum similarity score, 0..1 (default 0)")),
	), s.relatedPages)

	s.mcp.AddTool(mcp.NewTool("page_rank",
		mcp.WithDescription("Rank all pages by PageRank over the reference graph."),
	), s.pageRank)

	s.mcp.AddTool(mcp.NewTool("get_outline_contract",
		mcp.WithDescription("Returns the canonical Odal outline format contract. "+
			"Call this before creating or updating blocks to ensure correct structure."),
	), s.getOutlineContract)

	// Resource: outline format contract.
	s.mcp.AddResource(
		mcp.NewResource("odal://outline-format", "Outline Format Contract",
			mcp.WithResourceDescription("Canonical outline format that all pages follow."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readOutlineFormatResource,
	)

	return s, nil
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) searchBlocks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result, err := s.host.Call(ctx, pluginID, plugin.CapDBQuery, map[string]any{
		"kind": "search",
		"term": q,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(result, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readPage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	page, err := req.RequireString("page")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	lines, err := s.svc.ExportPage(page)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", page)), nil
	}
	return mcp.NewToolResultText(string(vault.Encode(lines))), nil
}

func (s *Server) insertBlock(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	args := map[string]any{"content": content}
	for _, key := range []string{"page", "parent", "left"} {
		if v, reqErr := req.RequireString(key); reqErr == nil && v != "" {
			args[key] = v
		}
	}
	result, err := s.host.Call(ctx, pluginID, plugin.CapEditorInsert, args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.Marshal(result)
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) updateBlock(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result, err := s.host.Call(ctx, pluginID, plugin.CapEditorUpdate, map[string]any{
		"id":      id,
		"content": content,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.Marshal(result)
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getBacklinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	page, err := req.RequireString("page")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result, err := s.host.Call(ctx, pluginID, plugin.CapDBQuery, map[string]any{
		"kind": "backlinks",
		"page": page,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(result, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) relatedPages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	page, err := req.RequireString("page")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	threshold := 0.0
	if v, reqErr := req.RequireString("threshold"); reqErr == nil && v != "" {
		threshold, err = strconv.ParseFloat(v, 64)
		if err != nil {
			return mcp.NewToolResultError("threshold must be a number"), nil
		}
	}
	related, err := s.engine.RelatedPages(ctx, page, threshold)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(related) == 0 {
		return mcp.NewToolResultText("no related pages found"), nil
	}
	out, _ := json.MarshalIndent(related, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) pageRank(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ranks, err := s.engine.PageRank(ctx, 0.85, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	names := make([]string, 0, len(ranks))
	for name := range ranks {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if ranks[names[i]] != ranks[names[j]] {
			return ranks[names[i]] > ranks[names[j]]
		}
		return names[i] < names[j]
	})
	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%.6f\t%s\n", ranks[name], name)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) getOutlineContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(OutlineFormatContract), nil
}

func (s *Server) readOutlineFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "odal://outline-format",
			MIMEType: "text/markdown",
			Text:     OutlineFormatContract,
		},
	}, nil
}
