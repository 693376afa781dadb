package graphservice

import (
	"github.com/google/uuid"

	"github.com/starford/odal/internal/apperr"
	"github.com/starford/odal/internal/model"
)

// ImportPage replaces the content of a page with the given flat outline. Each
// line becomes one block; Indent expresses nesting relative to the previous
// lines. An indent deeper than the previous line plus one is clamped, so
// malformed outlines still import without gaps in the hierarchy.
func (s *Service) ImportPage(page string, lines []model.OutlineLine) error {
	for _, rid := range s.store.RootBlocks(page) {
		if err := s.DeleteBlock(rid, true); err != nil {
			return err
		}
	}
	s.store.EnsurePage(page)

	type frame struct {
		parent uuid.UUID
		last   uuid.UUID
	}
	stack := []frame{{parent: uuid.Nil, last: uuid.Nil}}
	for _, ln := range lines {
		depth := ln.Indent
		if depth < 0 {
			depth = 0
		}
		if depth > len(stack)-1 {
			depth = len(stack) - 1
		}
		stack = stack[:depth+1]
		id, err := s.InsertBlock(page, stack[depth].parent, stack[depth].last, ln.Content, nil)
		if err != nil {
			return err
		}
		stack[depth].last = id
		stack = append(stack, frame{parent: id, last: uuid.Nil})
	}
	return nil
}

// ExportPage flattens a page back into outline lines in sibling order, depth
// first. Importing the result reproduces an isomorphic hierarchy.
func (s *Service) ExportPage(page string) ([]model.OutlineLine, error) {
	if _, ok := s.store.GetPage(page); !ok {
		return nil, apperr.ErrNotFound
	}
	var out []model.OutlineLine
	var walk func(id uuid.UUID, depth int) error
	walk = func(id uuid.UUID, depth int) error {
		b, ok := s.store.GetBlock(id)
		if !ok {
			return apperr.ErrNotFound
		}
		out = append(out, model.OutlineLine{Content: b.Content, Indent: depth})
		kids, err := s.store.Children(id)
		if err != nil {
			return err
		}
		for _, kid := range kids {
			if err := walk(kid, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	for _, rid := range s.store.RootBlocks(page) {
		if err := walk(rid, 0); err != nil {
			return nil, err
		}
	}
	return out, nil
}
