package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/starford/odal/internal/graphservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *graphservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *graphservice.Service) *Handler {
	return &Handler{svc: svc}
}

// pageName extracts the page name from the URL. Supports encoded slashes
// from OpenAPI clients (e.g. projects%2Fodal).
func pageName(r *http.Request) string {
	raw := chi.URLParam(r, "name")
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// blockID parses the {id} URL param as a UUID.
func blockID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	return id, err == nil
}

// optionalID parses an optional UUID field; empty means uuid.Nil.
func optionalID(s string) (uuid.UUID, bool) {
	if s == "" {
		return uuid.Nil, true
	}
	id, err := uuid.Parse(s)
	return id, err == nil
}

// ListPages handles GET /api/pages.
//
//	@Summary		List all pages
//	@Tags			pages
//	@Produce		json
//	@Success		200	{object}	PageListResponse
//	@Security		BearerAuth
//	@Router			/pages [get]
func (h *Handler) ListPages(w http.ResponseWriter, _ *http.Request) {
	pages := h.svc.Pages()
	writeJSON(w, http.StatusOK, PageListResponse{Pages: pages, Total: len(pages)})
}

// CreatePage handles POST /api/pages.
//
//	@Summary		Create an empty page
//	@Tags			pages
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreatePageRequest	true	"Page to create"
//	@Success		201		{object}	model.Page
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pages [post]
func (h *Handler) CreatePage(w http.ResponseWriter, r *http.Request) {
	var req CreatePageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("name is required"))
		return
	}
	p, err := h.svc.CreatePage(req.Name)
	if err != nil {
		writeError(w, err, "create page")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// GetPage handles GET /api/pages/{name}.
//
//	@Summary		Get a page with its block forest
//	@Tags			pages
//	@Produce		json
//	@Param			name	path		string	true	"Page name"
//	@Param			depth	query		int		false	"Max tree depth"
//	@Success		200		{object}	PageResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pages/{name} [get]
func (h *Handler) GetPage(w http.ResponseWriter, r *http.Request) {
	name := pageName(r)
	p, err := h.svc.GetPage(name)
	if err != nil {
		writeError(w, err, "get page")
		return
	}
	depth, _ := strconv.Atoi(r.URL.Query().Get("depth"))
	blocks, err := h.svc.PageTree(name, depth)
	if err != nil {
		writeError(w, err, "get page tree")
		return
	}
	writeJSON(w, http.StatusOK, PageResponse{Page: p, Blocks: blocks})
}

// ExportPage handles GET /api/pages/{name}/outline.
//
//	@Summary		Export a page as a flat outline
//	@Tags			pages
//	@Produce		json
//	@Param			name	path		string	true	"Page name"
//	@Success		200		{object}	OutlineResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pages/{name}/outline [get]
func (h *Handler) ExportPage(w http.ResponseWriter, r *http.Request) {
	name := pageName(r)
	lines, err := h.svc.ExportPage(name)
	if err != nil {
		writeError(w, err, "export page")
		return
	}
	writeJSON(w, http.StatusOK, OutlineResponse{Page: name, Lines: lines})
}

// ImportPage handles PUT /api/pages/{name}/outline.
//
//	@Summary		Replace a page's content with a flat outline
//	@Tags			pages
//	@Accept			json
//	@Produce		json
//	@Param			name	path		string				true	"Page name"
//	@Param			body	body		ImportPageRequest	true	"Outline lines"
//	@Success		200		{object}	OutlineResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pages/{name}/outline [put]
func (h *Handler) ImportPage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	name := pageName(r)
	var req ImportPageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := h.svc.ImportPage(name, req.Lines); err != nil {
		writeError(w, err, "import page")
		return
	}
	lines, err := h.svc.ExportPage(name)
	if err != nil {
		writeError(w, err, "export page")
		return
	}
	writeJSON(w, http.StatusOK, OutlineResponse{Page: name, Lines: lines})
}

// InsertBlock handles POST /api/blocks.
//
//	@Summary		Insert a block at a position
//	@Tags			blocks
//	@Accept			json
//	@Produce		json
//	@Param			body	body		InsertBlockRequest	true	"Block to insert"
//	@Success		201		{object}	model.Block
//	@Failure		400		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/blocks [post]
func (h *Handler) InsertBlock(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req InsertBlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	parent, ok := optionalID(req.Parent)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid parent id"))
		return
	}
	left, ok := optionalID(req.Left)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid left id"))
		return
	}
	if req.Page == "" && parent == uuid.Nil && left == uuid.Nil {
		writeJSON(w, http.StatusBadRequest, errorBody("page is required for root blocks"))
		return
	}
	id, err := h.svc.InsertBlock(req.Page, parent, left, req.Content, req.Properties)
	if err != nil {
		writeError(w, err, "insert block")
		return
	}
	b, err := h.svc.GetBlock(id)
	if err != nil {
		writeError(w, err, "read inserted block")
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// GetBlock handles GET /api/blocks/{id}.
//
//	@Summary		Get a block, optionally with its subtree
//	@Tags			blocks
//	@Produce		json
//	@Param			id		path		string	true	"Block ID"
//	@Param			depth	query		int		false	"Subtree depth (0 = block only)"
//	@Success		200		{object}	model.BlockTree
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/blocks/{id} [get]
func (h *Handler) GetBlock(w http.ResponseWriter, r *http.Request) {
	id, ok := blockID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid block id"))
		return
	}
	if depthStr := r.URL.Query().Get("depth"); depthStr != "" {
		depth, _ := strconv.Atoi(depthStr)
		tree, err := h.svc.Tree(id, depth)
		if err != nil {
			writeError(w, err, "get block tree")
			return
		}
		writeJSON(w, http.StatusOK, tree)
		return
	}
	b, err := h.svc.GetBlock(id)
	if err != nil {
		writeError(w, err, "get block")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// UpdateBlock handles PUT /api/blocks/{id}.
//
//	@Summary		Update a block's content and/or properties
//	@Tags			blocks
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Block ID"
//	@Param			body	body		UpdateBlockRequest	true	"Changes"
//	@Success		200		{object}	model.Block
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/blocks/{id} [put]
func (h *Handler) UpdateBlock(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	id, ok := blockID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid block id"))
		return
	}
	var req UpdateBlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := h.svc.UpdateBlock(id, req.Content, req.Properties); err != nil {
		writeError(w, err, "update block")
		return
	}
	b, err := h.svc.GetBlock(id)
	if err != nil {
		writeError(w, err, "read updated block")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// MoveBlock handles POST /api/blocks/{id}/move.
//
//	@Summary		Move a block (and its subtree) to a new position
//	@Tags			blocks
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Block ID"
//	@Param			body	body		MoveBlockRequest	true	"Target position"
//	@Success		200		{object}	model.Block
//	@Failure		404		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/blocks/{id}/move [post]
func (h *Handler) MoveBlock(w http.ResponseWriter, r *http.Request) {
	id, ok := blockID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid block id"))
		return
	}
	var req MoveBlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	parent, ok := optionalID(req.Parent)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid parent id"))
		return
	}
	left, ok := optionalID(req.Left)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid left id"))
		return
	}
	if err := h.svc.MoveBlock(id, parent, left); err != nil {
		writeError(w, err, "move block")
		return
	}
	b, err := h.svc.GetBlock(id)
	if err != nil {
		writeError(w, err, "read moved block")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// DeleteBlock handles DELETE /api/blocks/{id}.
//
//	@Summary		Delete a block
//	@Tags			blocks
//	@Param			id		path	string	true	"Block ID"
//	@Param			cascade	query	bool	false	"Delete the whole subtree"
//	@Success		204		"Block deleted"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/blocks/{id} [delete]
func (h *Handler) DeleteBlock(w http.ResponseWriter, r *http.Request) {
	id, ok := blockID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid block id"))
		return
	}
	cascade := r.URL.Query().Get("cascade") == "true"
	if err := h.svc.DeleteBlock(id, cascade); err != nil {
		writeError(w, err, "delete block")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
