package store

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/starford/odal/internal/apperr"
	"github.com/starford/odal/internal/model"
)

// childrenLocked walks a sibling chain from its head and returns the ordered
// block IDs.
func (s *Store) childrenLocked(key chainKey) []uuid.UUID {
	head, ok := s.heads[key]
	if !ok {
		return nil
	}
	out := make([]uuid.UUID, 0, len(s.members[key]))
	// Bound the walk by the chain size; a longer walk means a cycle, which
	// verifyChainLocked turns into a panic.
	limit := len(s.members[key])
	for cur := head; cur != uuid.Nil && len(out) <= limit; {
		out = append(out, cur)
		cur = s.right[cur]
	}
	return out
}

// Children returns the ordered child IDs of a block.
func (s *Store) Children(id uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[id]
	if !ok {
		return nil, fmt.Errorf("store: children of %s: %w", id, apperr.ErrUnknownBlock)
	}
	return s.childrenLocked(keyFor(b.Page, b.ID)), nil
}

// RootBlocks returns the ordered root-level block IDs of a page. A missing
// page yields an empty result.
func (s *Store) RootBlocks(page string) []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.childrenLocked(chainKey{page: s.resolveLocked(page)})
}

// Tree returns the subtree rooted at id, depth-bounded. maxDepth <= 0 uses
// DefaultTreeDepth.
func (s *Store) Tree(id uuid.UUID, maxDepth int) (*model.BlockTree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[id]
	if !ok {
		return nil, fmt.Errorf("store: tree of %s: %w", id, apperr.ErrUnknownBlock)
	}
	if maxDepth <= 0 {
		maxDepth = DefaultTreeDepth
	}
	return s.treeLocked(b, maxDepth), nil
}

// PageTree returns the full forest of a page, depth-bounded per root.
func (s *Store) PageTree(page string, maxDepth int) []*model.BlockTree {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if maxDepth <= 0 {
		maxDepth = DefaultTreeDepth
	}
	var out []*model.BlockTree
	for _, id := range s.childrenLocked(chainKey{page: s.resolveLocked(page)}) {
		out = append(out, s.treeLocked(s.blocks[id], maxDepth))
	}
	return out
}

func (s *Store) treeLocked(b *model.Block, depth int) *model.BlockTree {
	node := &model.BlockTree{Block: b.Clone()}
	if depth <= 1 {
		return node
	}
	for _, cid := range s.childrenLocked(keyFor(b.Page, b.ID)) {
		node.Children = append(node.Children, s.treeLocked(s.blocks[cid], depth-1))
	}
	return node
}

// Snapshot returns consistent copies of all blocks and pages. Analytics run
// against a snapshot so they never hold the store lock across iterations.
func (s *Store) Snapshot() ([]*model.Block, []*model.Page) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blocks := make([]*model.Block, 0, len(s.blocks))
	for _, b := range s.blocks {
		blocks = append(blocks, b.Clone())
	}
	pages := make([]*model.Page, 0, len(s.pages))
	for _, p := range s.pages {
		pages = append(pages, p.Clone())
	}
	return blocks, pages
}

// RestorePage loads a persisted page without touching timestamps.
func (s *Store) RestorePage(p *model.Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[p.Name] = p.Clone()
	for _, a := range p.Aliases {
		s.aliases[a] = p.Name
	}
}

// RestoreBlocks loads persisted blocks in one pass and rebuilds the chain
// indexes from the stored Left handles. Input order does not matter.
func (s *Store) RestoreBlocks(bs []*model.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range bs {
		c := b.Clone()
		s.blocks[c.ID] = c
		s.ensurePageLocked(c.Page)
	}
	touched := make(map[chainKey]struct{})
	for _, b := range bs {
		c := s.blocks[b.ID]
		key := keyFor(c.Page, c.Parent)
		touched[key] = struct{}{}
		if s.members[key] == nil {
			s.members[key] = make(map[uuid.UUID]struct{})
		}
		s.members[key][c.ID] = struct{}{}
		if c.Left == uuid.Nil {
			s.heads[key] = c.ID
		} else {
			s.right[c.Left] = c.ID
		}
	}
	for key := range touched {
		if err := s.checkChainLocked(key); err != nil {
			return fmt.Errorf("store: restore: %w", err)
		}
	}
	return nil
}

// verifyChainLocked asserts the sibling-chain invariants for one chain after
// a mutation was applied. A violation here is a logic defect, not a user
// error, so it panics rather than returning.
func (s *Store) verifyChainLocked(key chainKey) {
	if err := s.checkChainLocked(key); err != nil {
		panic(fmt.Sprintf("store: invariant violation: %v", err))
	}
}

// checkChainLocked walks the chain and verifies it is a single acyclic linked
// order covering every member exactly once, with Left handles matching the
// walk. An empty chain is valid.
func (s *Store) checkChainLocked(key chainKey) error {
	members := s.members[key]
	head, hasHead := s.heads[key]
	if len(members) == 0 {
		if hasHead {
			return fmt.Errorf("chain %v: head set on empty chain", key)
		}
		return nil
	}
	if !hasHead {
		return fmt.Errorf("chain %v: no head for %d members", key, len(members))
	}

	seen := make(map[uuid.UUID]struct{}, len(members))
	prev := uuid.Nil
	cur := head
	for cur != uuid.Nil {
		if _, dup := seen[cur]; dup {
			return fmt.Errorf("chain %v: cycle at %s", key, cur)
		}
		seen[cur] = struct{}{}
		b, ok := s.blocks[cur]
		if !ok {
			return fmt.Errorf("chain %v: dangling link to %s", key, cur)
		}
		if _, member := members[cur]; !member {
			return fmt.Errorf("chain %v: %s linked but not a member", key, cur)
		}
		if b.Left != prev {
			return fmt.Errorf("chain %v: %s has left %s, expected %s", key, cur, b.Left, prev)
		}
		prev = cur
		cur = s.right[cur]
	}
	if len(seen) != len(members) {
		return fmt.Errorf("chain %v: walk covered %d of %d members", key, len(seen), len(members))
	}
	return nil
}
