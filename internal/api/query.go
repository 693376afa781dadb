package api

import (
	"net/http"
	"strconv"

	"github.com/starford/odal/internal/query"
)

// QueryHandler holds read-only search and analytics handlers.
type QueryHandler struct {
	engine *query.Engine
}

// NewQueryHandler creates a new QueryHandler.
func NewQueryHandler(engine *query.Engine) *QueryHandler {
	return &QueryHandler{engine: engine}
}

// Search handles GET /api/search.
//
//	@Summary		Substring search across block content
//	@Tags			search
//	@Produce		json
//	@Param			q	query		string	true	"Search term"
//	@Success		200	{object}	BlockListResponse
//	@Failure		400	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *QueryHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	blocks, err := h.engine.Search(r.Context(), q)
	if err != nil {
		writeError(w, err, "search")
		return
	}
	writeJSON(w, http.StatusOK, BlockListResponse{Blocks: blocks, Total: len(blocks)})
}

// FindByProperty handles GET /api/search/property.
//
//	@Summary		Find blocks carrying a property key/value pair
//	@Tags			search
//	@Produce		json
//	@Param			key		query		string	true	"Property key"
//	@Param			value	query		string	false	"Property value (empty matches any)"
//	@Success		200		{object}	BlockListResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search/property [get]
func (h *QueryHandler) FindByProperty(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'key' is required"))
		return
	}
	blocks, err := h.engine.FindByProperty(r.Context(), key, r.URL.Query().Get("value"))
	if err != nil {
		writeError(w, err, "find by property")
		return
	}
	writeJSON(w, http.StatusOK, BlockListResponse{Blocks: blocks, Total: len(blocks)})
}

// Backlinks handles GET /api/pages/{name}/backlinks.
//
//	@Summary		List blocks referencing a page
//	@Tags			pages
//	@Produce		json
//	@Param			name	path		string	true	"Page name"
//	@Success		200		{object}	BlockListResponse
//	@Security		BearerAuth
//	@Router			/pages/{name}/backlinks [get]
func (h *QueryHandler) Backlinks(w http.ResponseWriter, r *http.Request) {
	blocks := h.engine.Backlinks(pageName(r))
	writeJSON(w, http.StatusOK, BlockListResponse{Blocks: blocks, Total: len(blocks)})
}

// Related handles GET /api/pages/{name}/related.
//
//	@Summary		Rank pages by reference overlap (Jaccard similarity)
//	@Tags			analytics
//	@Produce		json
//	@Param			name		path		string	true	"Page name"
//	@Param			threshold	query		number	false	"Minimum similarity score"
//	@Success		200			{object}	RelatedResponse
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pages/{name}/related [get]
func (h *QueryHandler) Related(w http.ResponseWriter, r *http.Request) {
	threshold := 0.0
	if s := r.URL.Query().Get("threshold"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid threshold"))
			return
		}
		threshold = v
	}
	related, err := h.engine.RelatedPages(r.Context(), pageName(r), threshold)
	if err != nil {
		writeError(w, err, "related pages")
		return
	}
	if related == nil {
		related = []query.PageScore{}
	}
	writeJSON(w, http.StatusOK, RelatedResponse{Related: related})
}

// PageRank handles GET /api/analytics/pagerank.
//
//	@Summary		PageRank over the page reference graph
//	@Tags			analytics
//	@Produce		json
//	@Param			damping		query		number	false	"Damping factor (default 0.85)"
//	@Param			iterations	query		int		false	"Iteration count (default 20)"
//	@Success		200			{object}	PageRankResponse
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/analytics/pagerank [get]
func (h *QueryHandler) PageRank(w http.ResponseWriter, r *http.Request) {
	damping := 0.85
	if s := r.URL.Query().Get("damping"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid damping"))
			return
		}
		damping = v
	}
	iterations := 20
	if s := r.URL.Query().Get("iterations"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid iterations"))
			return
		}
		iterations = v
	}
	ranks, err := h.engine.PageRank(r.Context(), damping, iterations)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, PageRankResponse{Ranks: ranks})
}

// Orphans handles GET /api/analytics/orphans.
//
//	@Summary		List pages with no incoming references
//	@Tags			analytics
//	@Produce		json
//	@Success		200	{object}	PageListResponse
//	@Security		BearerAuth
//	@Router			/analytics/orphans [get]
func (h *QueryHandler) Orphans(w http.ResponseWriter, _ *http.Request) {
	pages := h.engine.OrphanedPages()
	writeJSON(w, http.StatusOK, PageListResponse{Pages: pages, Total: len(pages)})
}

// Communities handles GET /api/analytics/communities.
//
//	@Summary		Detect page communities by modularity maximization
//	@Tags			analytics
//	@Produce		json
//	@Success		200	{object}	CommunitiesResponse
//	@Security		BearerAuth
//	@Router			/analytics/communities [get]
func (h *QueryHandler) Communities(w http.ResponseWriter, r *http.Request) {
	communities, err := h.engine.DetectCommunities(r.Context())
	if err != nil {
		writeError(w, err, "detect communities")
		return
	}
	writeJSON(w, http.StatusOK, CommunitiesResponse{
		Communities: communities,
		Modularity:  h.engine.Modularity(communities),
	})
}
