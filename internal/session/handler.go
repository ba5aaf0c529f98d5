package session

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/boxmark/boxmark/internal/auth"
	"github.com/boxmark/boxmark/internal/db"
	"github.com/boxmark/boxmark/internal/document"
	"github.com/boxmark/boxmark/internal/engine"
)

const maxConfigSize = 1 << 20

type Handler struct {
	hub            *Hub
	auth           *auth.Service
	originPatterns []string
}

func NewHandler(hub *Hub, authSvc *auth.Service, originPatterns []string) *Handler {
	return &Handler{hub: hub, auth: authSvc, originPatterns: originPatterns}
}

type createResponse struct {
	ID    string       `json:"id"`
	Token string       `json:"token"`
	State engine.State `json:"state"`
}

type sessionResponse struct {
	ID        string       `json:"id"`
	Connected bool         `json:"connected"`
	Seq       int64        `json:"seq"`
	State     engine.State `json:"state"`
}

type commitResponse struct {
	Commit *document.Commit `json:"commit"`
	Value  any              `json:"value"`
}

// Create handles POST /api/sessions. The body is the session config.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxConfigSize)

	var cfg document.SessionConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	sess, err := h.hub.Create(r.Context(), &cfg)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	token, err := h.auth.IssueSessionToken(sess.ID)
	if err != nil {
		slog.Error("issue session token", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	st, _ := sess.State()
	writeJSON(w, http.StatusCreated, createResponse{ID: sess.ID, Token: token, State: st})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.hub.Get(mux.Vars(r)["sessionId"])
	if err != nil {
		handleServiceError(w, err)
		return
	}

	st, seq := sess.State()
	writeJSON(w, http.StatusOK, sessionResponse{
		ID:        sess.ID,
		Connected: sess.Connected(),
		Seq:       seq,
		State:     st,
	})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.hub.Delete(mux.Vars(r)["sessionId"]); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Commit handles POST /api/sessions/{sessionId}/commit, the host-side
// equivalent of the editor's commit event.
func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	sess, err := h.hub.Get(sessionID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	c, err := h.hub.Commit(r.Context(), sessionID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, commitResponse{
		Commit: c,
		Value:  c.HostPayload(sess.Config().IncludeSnapshot),
	})
}

func (h *Handler) GetLatestCommit(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	if _, err := h.hub.Get(sessionID); err != nil {
		handleServiceError(w, err)
		return
	}

	c, err := h.hub.Latest(r.Context(), sessionID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ServeWS handles /ws/session/{sessionId}?token=. The token must have been
// issued for that session.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	if err := h.auth.AuthorizeSession(r.URL.Query().Get("token"), sessionID); err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	if _, err := h.hub.Get(sessionID); err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Error("websocket accept", "error", err)
		return
	}

	client := NewClient(h.hub, conn, sessionID, uuid.New().String())
	h.hub.Register(client)

	ctx := r.Context()
	go client.WritePump(ctx)
	client.ReadPump(ctx)
}

func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidID):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session id"})
	case errors.Is(err, ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
	case errors.Is(err, db.ErrNoCommits):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no commits yet"})
	case errors.Is(err, ErrInvalidConfig), errors.Is(err, ErrImageSize):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		slog.Error("service error", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
