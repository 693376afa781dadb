// Package model defines the domain types for Odal.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Block is the atomic content unit. Its ID is immutable and stable across
// edits; hierarchy position is expressed through Parent and Left handles
// (uuid.Nil means "none"), never through owning pointers.
type Block struct {
	ID         uuid.UUID         `json:"id"`
	Page       string            `json:"page"` // normalized page name
	Parent     uuid.UUID         `json:"parent,omitempty"`
	Left       uuid.UUID         `json:"left,omitempty"`
	Content    string            `json:"content"`
	Properties map[string]string `json:"properties,omitempty"`
	Marker     string            `json:"marker,omitempty"`
	Priority   string            `json:"priority,omitempty"`
	PreBlock   bool              `json:"pre_block,omitempty"`
	Refs       []string          `json:"refs,omitempty"` // normalized page names
	Tags       []string          `json:"tags,omitempty"`
	File       string            `json:"file,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Clone returns a deep copy so readers can hold a block across store mutations.
func (b *Block) Clone() *Block {
	c := *b
	if b.Properties != nil {
		c.Properties = make(map[string]string, len(b.Properties))
		for k, v := range b.Properties {
			c.Properties[k] = v
		}
	}
	c.Refs = append([]string(nil), b.Refs...)
	c.Tags = append([]string(nil), b.Tags...)
	return &c
}

// Page is a named collection of root blocks. Name is the normalized form used
// as the store key; OriginalName preserves the display spelling.
type Page struct {
	Name         string            `json:"name"`
	OriginalName string            `json:"original_name"`
	Aliases      []string          `json:"aliases,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	Properties   map[string]string `json:"properties,omitempty"`
	File         string            `json:"file,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Clone returns a deep copy of the page.
func (p *Page) Clone() *Page {
	c := *p
	c.Aliases = append([]string(nil), p.Aliases...)
	c.Tags = append([]string(nil), p.Tags...)
	if p.Properties != nil {
		c.Properties = make(map[string]string, len(p.Properties))
		for k, v := range p.Properties {
			c.Properties[k] = v
		}
	}
	return &c
}

// BlockTree is a block together with its children, as returned by tree reads.
type BlockTree struct {
	Block    *Block       `json:"block"`
	Children []*BlockTree `json:"children,omitempty"`
}

// OutlineLine is one bullet of a flat page outline: the block content plus its
// nesting depth. Import and export use it as the interchange form between the
// block hierarchy and Markdown bullet lists.
type OutlineLine struct {
	Content string `json:"content"`
	Indent  int    `json:"indent"`
}
