// Package query implements the read-only query and graph-analytics layer.
// Queries never mutate the store; long computations work against a snapshot
// and honour context cancellation between iteration steps.
package query

import (
	"context"
	"sort"
	"strings"

	"github.com/starford/odal/internal/linkindex"
	"github.com/starford/odal/internal/model"
	"github.com/starford/odal/internal/store"
)

// Engine serves queries against a block store and its link index.
type Engine struct {
	store *store.Store
	idx   *linkindex.Indexer
}

// NewEngine creates a query engine.
func NewEngine(s *store.Store, x *linkindex.Indexer) *Engine {
	return &Engine{store: s, idx: x}
}

// Search returns blocks whose content contains term, case-insensitively.
// Order is stable for a fixed store state: creation time, then ID.
func (e *Engine) Search(ctx context.Context, term string) ([]*model.Block, error) {
	needle := strings.ToLower(strings.TrimSpace(term))
	if needle == "" {
		return nil, nil
	}
	blocks, _ := e.store.Snapshot()
	var out []*model.Block
	for _, b := range blocks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if strings.Contains(strings.ToLower(b.Content), needle) {
			out = append(out, b)
		}
	}
	sortBlocks(out)
	return out, nil
}

// FindByProperty returns blocks carrying an exact property key/value pair.
func (e *Engine) FindByProperty(ctx context.Context, key, value string) ([]*model.Block, error) {
	blocks, _ := e.store.Snapshot()
	var out []*model.Block
	for _, b := range blocks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if v, ok := b.Properties[key]; ok && v == value {
			out = append(out, b)
		}
	}
	sortBlocks(out)
	return out, nil
}

// Backlinks resolves the blocks that mention a page. Absence of the page is
// an empty result, not an error.
func (e *Engine) Backlinks(pageName string) []*model.Block {
	var out []*model.Block
	for _, id := range e.idx.Backlinks(pageName) {
		if b, ok := e.store.GetBlock(id); ok {
			out = append(out, b)
		}
	}
	return out
}

// OrphanedPages returns pages with zero incoming block references, sorted by
// name. Orphaned pages are a query result, never purged.
func (e *Engine) OrphanedPages() []*model.Page {
	var out []*model.Page
	for _, p := range e.store.Pages() {
		if !e.idx.HasBacklinks(p.Name) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func sortBlocks(bs []*model.Block) {
	sort.Slice(bs, func(i, j int) bool {
		if !bs[i].CreatedAt.Equal(bs[j].CreatedAt) {
			return bs[i].CreatedAt.Before(bs[j].CreatedAt)
		}
		return bs[i].ID.String() < bs[j].ID.String()
	})
}

// pageGraph is a snapshot of the page-reference graph: an edge A -> B exists
// when some block on page A references page B.
type pageGraph struct {
	names []string // sorted, for deterministic iteration
	out   map[string]map[string]struct{}
	in    map[string]map[string]struct{}
}

func (e *Engine) buildGraph() *pageGraph {
	blocks, pages := e.store.Snapshot()
	g := &pageGraph{
		out: make(map[string]map[string]struct{}, len(pages)),
		in:  make(map[string]map[string]struct{}, len(pages)),
	}
	for _, p := range pages {
		g.names = append(g.names, p.Name)
		g.out[p.Name] = make(map[string]struct{})
		g.in[p.Name] = make(map[string]struct{})
	}
	sort.Strings(g.names)

	addEdge := func(from, to string) {
		if g.out[from] == nil || g.in[to] == nil {
			return
		}
		g.out[from][to] = struct{}{}
		g.in[to][from] = struct{}{}
	}
	for _, b := range blocks {
		for _, ref := range b.Refs {
			addEdge(b.Page, ref)
		}
		for _, tag := range b.Tags {
			addEdge(b.Page, tag)
		}
	}
	return g
}
