package linkindex

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/starford/odal/internal/store"
)

// Indexer keeps every block's refs/tags in sync with its content and
// maintains a live reverse index from page name to referencing blocks.
// Backlink queries are O(1) amortized; only Reindex and Forget mutate the
// reverse index, and only in response to a content change from the store.
type Indexer struct {
	store *store.Store

	mu   sync.RWMutex
	back map[string]map[uuid.UUID]struct{} // page name -> blocks whose refs/tags mention it
	fwd  map[uuid.UUID][]string            // last indexed targets per block
}

// New creates an indexer over the given store.
func New(s *store.Store) *Indexer {
	return &Indexer{
		store: s,
		back:  make(map[string]map[uuid.UUID]struct{}),
		fwd:   make(map[uuid.UUID][]string),
	}
}

// Reindex re-derives the refs/tags of a block from its current content.
// Referenced pages are created first, then the block's stored refs/tags are
// replaced in one step, then the reverse index is updated. Re-running on an
// unchanged block is a no-op. A block referencing its own page is indexed
// like any other reference.
func (x *Indexer) Reindex(id uuid.UUID) error {
	b, ok := x.store.GetBlock(id)
	if !ok {
		return fmt.Errorf("linkindex: reindex %s: block gone", id)
	}

	pageNames, tagNames := Extract(b.Content)

	// Resolve names to pages before touching the block, so the block never
	// points at a half-created page. EnsurePage resolves aliases.
	refs := make([]string, 0, len(pageNames))
	for _, name := range pageNames {
		refs = append(refs, x.store.EnsurePage(name).Name)
	}
	tags := make([]string, 0, len(tagNames))
	for _, name := range tagNames {
		tags = append(tags, x.store.EnsurePage(name).Name)
	}

	if err := x.store.SetRefs(id, refs, tags); err != nil {
		return fmt.Errorf("linkindex: %w", err)
	}

	targets := append(append([]string(nil), refs...), tags...)

	x.mu.Lock()
	defer x.mu.Unlock()
	for _, old := range x.fwd[id] {
		if set := x.back[old]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(x.back, old)
			}
		}
	}
	for _, target := range targets {
		if x.back[target] == nil {
			x.back[target] = make(map[uuid.UUID]struct{})
		}
		x.back[target][id] = struct{}{}
	}
	if len(targets) == 0 {
		delete(x.fwd, id)
	} else {
		x.fwd[id] = targets
	}
	return nil
}

// Forget removes a deleted block from the reverse index.
func (x *Indexer) Forget(id uuid.UUID) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, target := range x.fwd[id] {
		if set := x.back[target]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(x.back, target)
			}
		}
	}
	delete(x.fwd, id)
}

// Backlinks returns the IDs of blocks that mention the page, sorted for
// deterministic output. A page nobody mentions yields an empty result.
func (x *Indexer) Backlinks(pageName string) []uuid.UUID {
	key := store.Normalize(pageName)
	if p, ok := x.store.GetPage(pageName); ok {
		key = p.Name
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	set := x.back[key]
	out := make([]uuid.UUID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// HasBacklinks reports whether any block references the page.
func (x *Indexer) HasBacklinks(pageName string) bool {
	key := store.Normalize(pageName)
	if p, ok := x.store.GetPage(pageName); ok {
		key = p.Name
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.back[key]) > 0
}
