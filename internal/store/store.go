// Package store implements the block store: the single source of truth for
// pages, blocks, and their hierarchy.
//
// Blocks live in a flat UUID-keyed map. Hierarchy is expressed through Parent
// and Left handles on each block; for every sibling chain the store also
// maintains the derived successor index and chain head so splices stay O(1).
// Every structural mutation either returns an error with the store unchanged,
// or leaves the chain invariants holding before it returns. A violation found
// after a mutation was applied is a logic defect and panics.
package store

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/odal/internal/apperr"
	"github.com/starford/odal/internal/model"
)

// DefaultTreeDepth bounds tree reads against malformed data.
const DefaultTreeDepth = 10

// chainKey identifies one sibling chain: the children of a parent block, or
// the root blocks of a page (parent == uuid.Nil, page set).
type chainKey struct {
	parent uuid.UUID
	page   string
}

func keyFor(page string, parent uuid.UUID) chainKey {
	if parent != uuid.Nil {
		return chainKey{parent: parent}
	}
	return chainKey{page: page}
}

// Store holds all pages and blocks of one graph replica.
//
// Concurrency model: one logical writer (local edits and applied remote ops
// are sequential), any number of snapshot readers. The RWMutex protects the
// maps; long-running analytics take a Snapshot and release the lock.
type Store struct {
	mu      sync.RWMutex
	blocks  map[uuid.UUID]*model.Block
	pages   map[string]*model.Page
	aliases map[string]string // normalized alias -> page name

	members map[chainKey]map[uuid.UUID]struct{}
	right   map[uuid.UUID]uuid.UUID // sibling successor
	heads   map[chainKey]uuid.UUID  // first block of a chain
}

// New creates an empty store.
func New() *Store {
	return &Store{
		blocks:  make(map[uuid.UUID]*model.Block),
		pages:   make(map[string]*model.Page),
		aliases: make(map[string]string),
		members: make(map[chainKey]map[uuid.UUID]struct{}),
		right:   make(map[uuid.UUID]uuid.UUID),
		heads:   make(map[chainKey]uuid.UUID),
	}
}

// Normalize maps a page name or alias to its store key.
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// resolveLocked follows the alias table to a page key.
func (s *Store) resolveLocked(name string) string {
	key := Normalize(name)
	if target, ok := s.aliases[key]; ok {
		return target
	}
	return key
}

// ensurePageLocked returns the page for name, creating it if missing.
// Forward references auto-create pages; they are never silently destroyed.
func (s *Store) ensurePageLocked(name string) *model.Page {
	key := s.resolveLocked(name)
	if p, ok := s.pages[key]; ok {
		return p
	}
	now := time.Now()
	p := &model.Page{
		Name:         key,
		OriginalName: strings.TrimSpace(name),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.pages[key] = p
	return p
}

// EnsurePage creates the page if it does not exist and returns a copy.
func (s *Store) EnsurePage(name string) *model.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensurePageLocked(name).Clone()
}

// GetPage returns a copy of the page, resolving aliases.
func (s *Store) GetPage(name string) (*model.Page, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pages[s.resolveLocked(name)]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// AddAlias registers alias as another name for page. The alias must not
// collide with an existing page or alias.
func (s *Store) AddAlias(page, alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.resolveLocked(page)
	p, ok := s.pages[key]
	if !ok {
		return fmt.Errorf("store: alias target %q: %w", page, apperr.ErrNotFound)
	}
	a := Normalize(alias)
	if _, exists := s.pages[a]; exists {
		return fmt.Errorf("store: alias %q: %w", alias, apperr.ErrAlreadyExists)
	}
	if _, exists := s.aliases[a]; exists {
		return fmt.Errorf("store: alias %q: %w", alias, apperr.ErrAlreadyExists)
	}
	s.aliases[a] = key
	p.Aliases = append(p.Aliases, a)
	p.UpdatedAt = time.Now()
	return nil
}

// UpsertPageMeta sets page-level metadata (file binding, properties, tags),
// creating the page if needed.
func (s *Store) UpsertPageMeta(name, file string, props map[string]string, tags []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.ensurePageLocked(name)
	if file != "" {
		p.File = file
	}
	for k, v := range props {
		if p.Properties == nil {
			p.Properties = make(map[string]string)
		}
		p.Properties[k] = v
	}
	if len(tags) > 0 {
		p.Tags = mergeStrings(p.Tags, tags)
	}
	p.UpdatedAt = time.Now()
}

// Pages returns copies of all pages, unordered.
func (s *Store) Pages() []*model.Page {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Page, 0, len(s.pages))
	for _, p := range s.pages {
		out = append(out, p.Clone())
	}
	return out
}

// GetBlock returns a copy of the block.
func (s *Store) GetBlock(id uuid.UUID) (*model.Block, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[id]
	if !ok {
		return nil, false
	}
	return b.Clone(), true
}

// Contains reports whether the block exists on this replica.
func (s *Store) Contains(id uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blocks[id]
	return ok
}

// Insert splices a new block into the hierarchy. If b.ID is unset a fresh
// UUID is assigned. With left set, the block lands immediately after left in
// its sibling chain; otherwise it becomes the chain head. The page named by
// b.Page (or inherited from the parent) is auto-created.
func (s *Store) Insert(b *model.Block, parent, left uuid.UUID) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if parent != uuid.Nil {
		pb, ok := s.blocks[parent]
		if !ok {
			return uuid.Nil, fmt.Errorf("store: insert parent %s: %w", parent, apperr.ErrUnknownBlock)
		}
		b.Page = pb.Page
	}
	if left != uuid.Nil {
		lb, ok := s.blocks[left]
		if !ok {
			return uuid.Nil, fmt.Errorf("store: insert left %s: %w", left, apperr.ErrUnknownBlock)
		}
		if lb.Parent != parent || (parent == uuid.Nil && b.Page != "" && lb.Page != Normalize(b.Page)) {
			return uuid.Nil, fmt.Errorf("store: left %s is not a child of the given parent: %w", left, apperr.ErrInvalidPosition)
		}
		if parent == uuid.Nil {
			b.Page = lb.Page
		}
	}
	if b.Page == "" {
		return uuid.Nil, fmt.Errorf("store: insert without page: %w", apperr.ErrInvalidPosition)
	}

	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	} else if _, exists := s.blocks[b.ID]; exists {
		return uuid.Nil, fmt.Errorf("store: block %s: %w", b.ID, apperr.ErrAlreadyExists)
	}

	page := s.ensurePageLocked(b.Page)
	b.Page = page.Name
	b.Parent = parent
	now := time.Now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now

	s.blocks[b.ID] = b
	s.spliceLocked(b, left)
	s.verifyChainLocked(keyFor(b.Page, b.Parent))
	return b.ID, nil
}

// Update mutates content and/or properties in place. Identity and hierarchy
// position are untouched. Returns whether the content actually changed so the
// caller can trigger reindexing.
func (s *Store) Update(id uuid.UUID, content *string, props map[string]string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[id]
	if !ok {
		return false, fmt.Errorf("store: update %s: %w", id, apperr.ErrUnknownBlock)
	}
	changed := false
	if content != nil && *content != b.Content {
		b.Content = *content
		changed = true
	}
	for k, v := range props {
		if b.Properties == nil {
			b.Properties = make(map[string]string)
		}
		b.Properties[k] = v
	}
	if changed || len(props) > 0 {
		b.UpdatedAt = time.Now()
	}
	return changed, nil
}

// SetRefs replaces the derived refs/tags of a block. Used by the link indexer
// only; does not bump UpdatedAt because refs are derived state.
func (s *Store) SetRefs(id uuid.UUID, refs, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[id]
	if !ok {
		return fmt.Errorf("store: set refs %s: %w", id, apperr.ErrUnknownBlock)
	}
	b.Refs = refs
	b.Tags = tags
	return nil
}

// SetMarker sets the free-form status marker and priority of a block.
func (s *Store) SetMarker(id uuid.UUID, marker, priority string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[id]
	if !ok {
		return fmt.Errorf("store: set marker %s: %w", id, apperr.ErrUnknownBlock)
	}
	b.Marker = marker
	b.Priority = priority
	b.UpdatedAt = time.Now()
	return nil
}

// Move atomically detaches the block from its current chain and re-splices it
// after newLeft under newParent. Moving a block under its own descendant is
// rejected with ErrCycleDetected.
func (s *Store) Move(id, newParent, newLeft uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.blocks[id]
	if !ok {
		return fmt.Errorf("store: move %s: %w", id, apperr.ErrUnknownBlock)
	}
	if newLeft == id {
		return fmt.Errorf("store: move %s after itself: %w", id, apperr.ErrInvalidPosition)
	}
	if newParent == id {
		return fmt.Errorf("store: move %s under itself: %w", id, apperr.ErrCycleDetected)
	}

	targetPage := b.Page
	if newParent != uuid.Nil {
		pb, ok := s.blocks[newParent]
		if !ok {
			return fmt.Errorf("store: move parent %s: %w", newParent, apperr.ErrUnknownBlock)
		}
		// Walk ancestors of the new parent; hitting the moved block means the
		// move would create a cycle.
		for cur := pb; cur != nil; {
			if cur.ID == id {
				return fmt.Errorf("store: move %s under its descendant %s: %w", id, newParent, apperr.ErrCycleDetected)
			}
			cur = s.blocks[cur.Parent]
		}
		targetPage = pb.Page
	}
	if newLeft != uuid.Nil {
		lb, ok := s.blocks[newLeft]
		if !ok {
			return fmt.Errorf("store: move left %s: %w", newLeft, apperr.ErrUnknownBlock)
		}
		if lb.Parent != newParent {
			return fmt.Errorf("store: left %s is not a child of the new parent: %w", newLeft, apperr.ErrInvalidPosition)
		}
		if newParent == uuid.Nil {
			targetPage = lb.Page
		}
	}

	oldKey := keyFor(b.Page, b.Parent)
	s.detachLocked(b)

	if targetPage != b.Page {
		s.repageLocked(b, targetPage)
	}
	b.Parent = newParent
	b.UpdatedAt = time.Now()
	s.spliceLocked(b, newLeft)

	s.verifyChainLocked(oldKey)
	s.verifyChainLocked(keyFor(b.Page, b.Parent))
	return nil
}

// Delete removes a block and returns the IDs that were removed. With cascade
// the whole subtree goes; without it the block's children are re-parented
// into its former position, preserving their order. The left/right
// neighbours at the block's own level are relinked either way.
func (s *Store) Delete(id uuid.UUID, cascade bool) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.blocks[id]
	if !ok {
		return nil, fmt.Errorf("store: delete %s: %w", id, apperr.ErrUnknownBlock)
	}
	key := keyFor(b.Page, b.Parent)

	if cascade {
		removed := s.subtreeIDsLocked(b)
		s.detachLocked(b)
		s.removeSubtreeLocked(b)
		s.verifyChainLocked(key)
		return removed, nil
	}

	children := s.childrenLocked(keyFor(b.Page, b.ID))
	oldLeft := b.Left
	s.detachLocked(b)

	// Splice the children chain into the deleted block's former slot.
	left := oldLeft
	for _, cid := range children {
		c := s.blocks[cid]
		s.removeFromChainIndexLocked(c)
		c.Parent = b.Parent
		s.spliceLocked(c, left)
		left = cid
	}
	delete(s.blocks, id)

	s.verifyChainLocked(key)
	return []uuid.UUID{id}, nil
}

// subtreeIDsLocked returns id plus all descendant IDs, parents first.
func (s *Store) subtreeIDsLocked(b *model.Block) []uuid.UUID {
	out := []uuid.UUID{b.ID}
	for _, cid := range s.childrenLocked(keyFor(b.Page, b.ID)) {
		if c, ok := s.blocks[cid]; ok {
			out = append(out, s.subtreeIDsLocked(c)...)
		}
	}
	return out
}

// DescendantIDs returns all descendants of a block, parents first, without
// the block itself.
func (s *Store) DescendantIDs(id uuid.UUID) []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[id]
	if !ok {
		return nil
	}
	return s.subtreeIDsLocked(b)[1:]
}

// spliceLocked links b into the chain after left (uuid.Nil = become head).
// b.Parent and b.Page must already be final.
func (s *Store) spliceLocked(b *model.Block, left uuid.UUID) {
	key := keyFor(b.Page, b.Parent)
	if s.members[key] == nil {
		s.members[key] = make(map[uuid.UUID]struct{})
	}
	s.members[key][b.ID] = struct{}{}

	if left == uuid.Nil {
		b.Left = uuid.Nil
		if head, ok := s.heads[key]; ok {
			s.right[b.ID] = head
			s.blocks[head].Left = b.ID
		}
		s.heads[key] = b.ID
		return
	}

	b.Left = left
	if oldRight, ok := s.right[left]; ok {
		s.right[b.ID] = oldRight
		s.blocks[oldRight].Left = b.ID
	}
	s.right[left] = b.ID
}

// detachLocked unlinks b from its sibling chain, relinking its neighbours.
func (s *Store) detachLocked(b *model.Block) {
	key := keyFor(b.Page, b.Parent)
	next, hasNext := s.right[b.ID]

	if b.Left != uuid.Nil {
		if hasNext {
			s.right[b.Left] = next
		} else {
			delete(s.right, b.Left)
		}
	} else {
		if hasNext {
			s.heads[key] = next
		} else {
			delete(s.heads, key)
		}
	}
	if hasNext {
		s.blocks[next].Left = b.Left
	}

	delete(s.right, b.ID)
	delete(s.members[key], b.ID)
	if len(s.members[key]) == 0 {
		delete(s.members, key)
	}
	b.Left = uuid.Nil
}

// removeFromChainIndexLocked drops b's chain bookkeeping without relinking
// neighbours. Only valid when the whole chain is being consumed.
func (s *Store) removeFromChainIndexLocked(b *model.Block) {
	key := keyFor(b.Page, b.Parent)
	delete(s.right, b.ID)
	delete(s.members[key], b.ID)
	if len(s.members[key]) == 0 {
		delete(s.members, key)
	}
	delete(s.heads, key)
	b.Left = uuid.Nil
}

// removeSubtreeLocked deletes b and all descendants from every index.
// b must already be detached from its own chain.
func (s *Store) removeSubtreeLocked(b *model.Block) {
	for _, cid := range s.childrenLocked(keyFor(b.Page, b.ID)) {
		if c, ok := s.blocks[cid]; ok {
			s.removeSubtreeLocked(c)
		}
	}
	childKey := keyFor(b.Page, b.ID)
	delete(s.members, childKey)
	delete(s.heads, childKey)
	delete(s.blocks, b.ID)
	delete(s.right, b.ID)
}

// repageLocked rebinds b and all descendants to a different page. Chain keys
// of descendant chains are parent-keyed and unaffected.
func (s *Store) repageLocked(b *model.Block, page string) {
	b.Page = page
	for _, cid := range s.childrenLocked(keyFor(b.Page, b.ID)) {
		if c, ok := s.blocks[cid]; ok {
			s.repageLocked(c, page)
		}
	}
}

func mergeStrings(dst, add []string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, v := range dst {
		seen[v] = struct{}{}
	}
	for _, v := range add {
		if _, dup := seen[v]; !dup {
			seen[v] = struct{}{}
			dst = append(dst, v)
		}
	}
	return dst
}
