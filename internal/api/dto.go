package api

import (
	"github.com/starford/odal/internal/model"
	"github.com/starford/odal/internal/query"
)

// CreatePageRequest is the request body for creating a page.
type CreatePageRequest struct {
	Name string `json:"name" example:"projects/odal" validate:"required"`
}

// ImportPageRequest replaces a page's content with a flat outline.
type ImportPageRequest struct {
	Lines []model.OutlineLine `json:"lines" validate:"required"`
}

// InsertBlockRequest is the request body for inserting a block.
type InsertBlockRequest struct {
	Page       string            `json:"page" example:"home"`
	Parent     string            `json:"parent,omitempty"`
	Left       string            `json:"left,omitempty"`
	Content    string            `json:"content" example:"call [[Alice]] #urgent"`
	Properties map[string]string `json:"properties,omitempty"`
}

// UpdateBlockRequest is the request body for updating a block. A nil Content
// leaves the text untouched; Properties merge into the existing set.
type UpdateBlockRequest struct {
	Content    *string           `json:"content,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// MoveBlockRequest is the request body for moving a block.
type MoveBlockRequest struct {
	Parent string `json:"parent,omitempty"`
	Left   string `json:"left,omitempty"`
}

// PageResponse is a page with its block forest.
type PageResponse struct {
	Page   *model.Page        `json:"page" validate:"required"`
	Blocks []*model.BlockTree `json:"blocks" validate:"required"`
}

// PageListResponse wraps page listings.
type PageListResponse struct {
	Pages []*model.Page `json:"pages" validate:"required"`
	Total int           `json:"total" example:"42" validate:"required"`
}

// BlockListResponse wraps block search results.
type BlockListResponse struct {
	Blocks []*model.Block `json:"blocks" validate:"required"`
	Total  int            `json:"total" example:"7" validate:"required"`
}

// OutlineResponse wraps an exported page outline.
type OutlineResponse struct {
	Page  string              `json:"page" validate:"required"`
	Lines []model.OutlineLine `json:"lines" validate:"required"`
}

// RelatedResponse wraps related-page scores.
type RelatedResponse struct {
	Related []query.PageScore `json:"related" validate:"required"`
}

// PageRankResponse wraps PageRank scores keyed by page name.
type PageRankResponse struct {
	Ranks map[string]float64 `json:"ranks" validate:"required"`
}

// CommunitiesResponse wraps community assignments keyed by page name.
type CommunitiesResponse struct {
	Communities map[string]int `json:"communities" validate:"required"`
	Modularity  float64        `json:"modularity"`
}

// SubmitOpResponse acknowledges an accepted collaboration operation.
type SubmitOpResponse struct {
	Accepted bool `json:"accepted" validate:"required"`
}

// SessionStateResponse reports a collaboration session's lifecycle state.
type SessionStateResponse struct {
	Session string `json:"session" validate:"required"`
	State   string `json:"state" example:"active" validate:"required"`
}
