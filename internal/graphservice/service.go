// Package graphservice coordinates the block store, link indexer and
// persistence layer behind a single mutation surface. Every write path in the
// system (HTTP handlers, collaboration engine, plugins, vault sync) goes
// through it, so derived state never drifts from the store.
package graphservice

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/starford/odal/internal/apperr"
	"github.com/starford/odal/internal/collab"
	"github.com/starford/odal/internal/linkindex"
	"github.com/starford/odal/internal/model"
	"github.com/starford/odal/internal/store"
)

// Notifier receives change events for connected clients. The SSE broker
// implements it; a nil notifier disables events.
type Notifier interface {
	PublishBlockEvent(kind, page, id string)
	PublishPageEvent(kind, page string)
}

// Writer persists graph mutations. The SQLite layer implements it; a nil
// writer keeps the graph in memory only.
type Writer interface {
	UpsertBlock(b *model.Block) error
	DeleteBlocks(ids []uuid.UUID) error
	UpsertPage(p *model.Page) error
}

// Service coordinates store, index, persistence and notification.
type Service struct {
	store  *store.Store
	idx    *linkindex.Indexer
	db     Writer
	broker Notifier
}

// NewService creates a graph service. db and broker may be nil.
func NewService(st *store.Store, idx *linkindex.Indexer, db Writer, broker Notifier) *Service {
	return &Service{store: st, idx: idx, db: db, broker: broker}
}

// Store exposes the underlying store for read-only consumers.
func (s *Service) Store() *store.Store { return s.store }

// Index exposes the link indexer for read-only consumers.
func (s *Service) Index() *linkindex.Indexer { return s.idx }

// InsertBlock creates a block at the given position, indexes its references
// and persists it.
func (s *Service) InsertBlock(page string, parent, left uuid.UUID, content string, props map[string]string) (uuid.UUID, error) {
	b := &model.Block{Page: page, Content: content, Properties: props}
	id, err := s.store.Insert(b, parent, left)
	if err != nil {
		return uuid.Nil, err
	}
	if err := s.idx.Reindex(id); err != nil {
		return uuid.Nil, err
	}
	s.persistBlock(id)
	s.notifyBlock("block.created", b.Page, id)
	return id, nil
}

// insertWithID creates a block under a caller-chosen ID. Remote operations
// carry fixed IDs so replicas converge on identity.
func (s *Service) insertWithID(id uuid.UUID, page string, parent, left uuid.UUID, content string, props map[string]string) error {
	b := &model.Block{ID: id, Page: page, Content: content, Properties: props}
	if _, err := s.store.Insert(b, parent, left); err != nil {
		return err
	}
	if err := s.idx.Reindex(id); err != nil {
		return err
	}
	s.persistBlock(id)
	s.notifyBlock("block.created", b.Page, id)
	return nil
}

// UpdateBlock changes content and/or properties. A nil content leaves the
// text untouched. Reindexing runs only when the text actually changed.
func (s *Service) UpdateBlock(id uuid.UUID, content *string, props map[string]string) error {
	changed, err := s.store.Update(id, content, props)
	if err != nil {
		return err
	}
	if changed {
		if err := s.idx.Reindex(id); err != nil {
			return err
		}
	}
	s.persistBlock(id)
	if b, ok := s.store.GetBlock(id); ok {
		s.notifyBlock("block.updated", b.Page, id)
	}
	return nil
}

// SetMarker sets the status marker and priority of a block.
func (s *Service) SetMarker(id uuid.UUID, marker, priority string) error {
	if err := s.store.SetMarker(id, marker, priority); err != nil {
		return err
	}
	s.persistBlock(id)
	if b, ok := s.store.GetBlock(id); ok {
		s.notifyBlock("block.updated", b.Page, id)
	}
	return nil
}

// MoveBlock relocates a block (and implicitly its subtree) to a new position.
// On a cross-page move every descendant changes page, so the whole subtree is
// re-persisted.
func (s *Service) MoveBlock(id, newParent, newLeft uuid.UUID) error {
	if err := s.store.Move(id, newParent, newLeft); err != nil {
		return err
	}
	s.persistBlock(id)
	for _, did := range s.store.DescendantIDs(id) {
		s.persistBlock(did)
	}
	if b, ok := s.store.GetBlock(id); ok {
		s.notifyBlock("block.moved", b.Page, id)
	}
	return nil
}

// DeleteBlock removes a block. With cascade the whole subtree goes; without
// it children are re-parented into the deleted block's place. Every removed
// block leaves the link index and persistence.
func (s *Service) DeleteBlock(id uuid.UUID, cascade bool) error {
	page := ""
	if b, ok := s.store.GetBlock(id); ok {
		page = b.Page
	}
	removed, err := s.store.Delete(id, cascade)
	if err != nil {
		return err
	}
	for _, rid := range removed {
		s.idx.Forget(rid)
	}
	if s.db != nil {
		if err := s.db.DeleteBlocks(removed); err != nil {
			slog.Error("persist delete failed", "block", id, "error", err)
		}
	}
	s.notifyBlock("block.deleted", page, id)
	return nil
}

// GetBlock returns a copy of the block.
func (s *Service) GetBlock(id uuid.UUID) (*model.Block, error) {
	b, ok := s.store.GetBlock(id)
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return b, nil
}

// Children returns the ordered child IDs of a block.
func (s *Service) Children(id uuid.UUID) ([]uuid.UUID, error) {
	return s.store.Children(id)
}

// Tree returns the subtree rooted at id, depth-bounded.
func (s *Service) Tree(id uuid.UUID, maxDepth int) (*model.BlockTree, error) {
	return s.store.Tree(id, maxDepth)
}

// PageTree returns the full forest of a page, depth-bounded.
func (s *Service) PageTree(page string, maxDepth int) ([]*model.BlockTree, error) {
	if _, ok := s.store.GetPage(page); !ok {
		return nil, apperr.ErrNotFound
	}
	return s.store.PageTree(page, maxDepth), nil
}

// CreatePage creates an empty page. Existing pages (including alias matches)
// are an error; block insertion auto-creates pages, so this is only for
// explicit page creation.
func (s *Service) CreatePage(name string) (*model.Page, error) {
	if _, ok := s.store.GetPage(name); ok {
		return nil, fmt.Errorf("page %q: %w", name, apperr.ErrAlreadyExists)
	}
	p := s.store.EnsurePage(name)
	s.persistPage(p)
	s.notifyPage("page.created", p.Name)
	return p, nil
}

// GetPage resolves a page by name or alias.
func (s *Service) GetPage(name string) (*model.Page, error) {
	p, ok := s.store.GetPage(name)
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return p, nil
}

// Pages lists all pages sorted by name.
func (s *Service) Pages() []*model.Page { return s.store.Pages() }

// AddAlias registers an alternate name for a page.
func (s *Service) AddAlias(page, alias string) error {
	if err := s.store.AddAlias(page, alias); err != nil {
		return err
	}
	if p, ok := s.store.GetPage(page); ok {
		s.persistPage(p)
	}
	return nil
}

func (s *Service) persistBlock(id uuid.UUID) {
	if s.db == nil {
		return
	}
	b, ok := s.store.GetBlock(id)
	if !ok {
		return
	}
	if err := s.db.UpsertBlock(b); err != nil {
		slog.Error("persist block failed", "block", id, "error", err)
	}
}

func (s *Service) persistPage(p *model.Page) {
	if s.db == nil {
		return
	}
	if err := s.db.UpsertPage(p); err != nil {
		slog.Error("persist page failed", "page", p.Name, "error", err)
	}
}

func (s *Service) notifyBlock(kind, page string, id uuid.UUID) {
	if s.broker != nil {
		s.broker.PublishBlockEvent(kind, page, id.String())
	}
}

func (s *Service) notifyPage(kind, page string) {
	if s.broker != nil {
		s.broker.PublishPageEvent(kind, page)
	}
}

// Contains reports whether a block exists. Part of the collaboration
// engine's view of the replica.
func (s *Service) Contains(id uuid.UUID) bool { return s.store.Contains(id) }

// LeftOf returns the current left neighbour of a block, or uuid.Nil.
func (s *Service) LeftOf(id uuid.UUID) uuid.UUID {
	b, ok := s.store.GetBlock(id)
	if !ok {
		return uuid.Nil
	}
	return b.Left
}

// PageOf returns the page a block currently sits on, or "".
func (s *Service) PageOf(id uuid.UUID) string {
	b, ok := s.store.GetBlock(id)
	if !ok {
		return ""
	}
	return b.Page
}

// Apply executes one already-transformed collaboration operation against the
// local replica.
func (s *Service) Apply(op collab.Op) error {
	switch op.Type {
	case collab.TypeInsert:
		return s.insertWithID(op.BlockID, op.Page, op.ParentID, op.LeftID, op.Content, op.Properties)
	case collab.TypeUpdate:
		content := op.Content
		return s.UpdateBlock(op.BlockID, &content, op.Properties)
	case collab.TypeMove:
		return s.MoveBlock(op.BlockID, op.ParentID, op.LeftID)
	case collab.TypeDelete:
		return s.DeleteBlock(op.BlockID, op.Cascade)
	default:
		return fmt.Errorf("graphservice: unknown op type %q", op.Type)
	}
}
