package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/starford/odal/internal/collab"
)

// CollabHandler exposes shared editing sessions over HTTP. Event delivery
// uses the same SSE framing as the global event stream; each connected
// participant gets its own stream.
type CollabHandler struct {
	engine *collab.Engine
}

// NewCollabHandler creates a new CollabHandler.
func NewCollabHandler(engine *collab.Engine) *CollabHandler {
	return &CollabHandler{engine: engine}
}

func sessionName(r *http.Request) string {
	return chi.URLParam(r, "session")
}

// Events handles GET /api/collab/{session}/events. Connecting joins the
// session; disconnecting leaves it.
//
//	@Summary		Join a session and stream its events
//	@Tags			collab
//	@Produce		text/event-stream
//	@Param			session		path	string	true	"Session name"
//	@Param			participant	query	string	true	"Participant name"
//	@Success		200	"SSE stream of session events"
//	@Failure		400	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/collab/{session}/events [get]
func (h *CollabHandler) Events(w http.ResponseWriter, r *http.Request) {
	participant := r.URL.Query().Get("participant")
	if participant == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'participant' is required"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	session := sessionName(r)
	events, err := h.engine.Join(session, participant)
	if err != nil {
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
		return
	}
	defer h.engine.Leave(session, participant)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if _, err := w.Write([]byte("event: " + ev.Kind + "\ndata: ")); err != nil {
				return
			}
			if err := enc.Encode(ev); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// SubmitOp handles POST /api/collab/{session}/ops.
//
//	@Summary		Submit an operation to a session
//	@Tags			collab
//	@Accept			json
//	@Produce		json
//	@Param			session	path		string		true	"Session name"
//	@Param			body	body		collab.Op	true	"Operation"
//	@Success		202		{object}	SubmitOpResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/collab/{session}/ops [post]
func (h *CollabHandler) SubmitOp(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var op collab.Op
	if err := json.NewDecoder(r.Body).Decode(&op); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if op.Origin == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("origin_participant is required"))
		return
	}
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now()
	}
	if err := h.engine.Submit(sessionName(r), op); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusAccepted, SubmitOpResponse{Accepted: true})
}

// SessionState handles GET /api/collab/{session}.
//
//	@Summary		Report a session's lifecycle state
//	@Tags			collab
//	@Produce		json
//	@Param			session	path		string	true	"Session name"
//	@Success		200		{object}	SessionStateResponse
//	@Security		BearerAuth
//	@Router			/collab/{session} [get]
func (h *CollabHandler) SessionState(w http.ResponseWriter, r *http.Request) {
	session := sessionName(r)
	writeJSON(w, http.StatusOK, SessionStateResponse{
		Session: session,
		State:   h.engine.State(session),
	})
}
