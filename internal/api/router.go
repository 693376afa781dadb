package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/odal/internal/collab"
	"github.com/starford/odal/internal/graphservice"
	"github.com/starford/odal/internal/query"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *graphservice.Service, engine *query.Engine, ce *collab.Engine, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)
	qh := NewQueryHandler(engine)
	ch := NewCollabHandler(ce)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Pages.
	r.Get("/pages", h.ListPages)
	r.Post("/pages", h.CreatePage)
	r.Get("/pages/{name}", h.GetPage)
	r.Get("/pages/{name}/outline", h.ExportPage)
	r.Put("/pages/{name}/outline", h.ImportPage)
	r.Get("/pages/{name}/backlinks", qh.Backlinks)
	r.Get("/pages/{name}/related", qh.Related)

	// Blocks.
	r.Post("/blocks", h.InsertBlock)
	r.Get("/blocks/{id}", h.GetBlock)
	r.Put("/blocks/{id}", h.UpdateBlock)
	r.Post("/blocks/{id}/move", h.MoveBlock)
	r.Delete("/blocks/{id}", h.DeleteBlock)

	// Search.
	r.Get("/search", qh.Search)
	r.Get("/search/property", qh.FindByProperty)

	// Analytics.
	r.Get("/analytics/pagerank", qh.PageRank)
	r.Get("/analytics/orphans", qh.Orphans)
	r.Get("/analytics/communities", qh.Communities)

	// Collaboration sessions.
	r.Get("/collab/{session}", ch.SessionState)
	r.Get("/collab/{session}/events", ch.Events)
	r.Post("/collab/{session}/ops", ch.SubmitOp)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
