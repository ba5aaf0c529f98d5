package export

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/boxmark/boxmark/internal/session"
	"github.com/boxmark/boxmark/internal/snapshot"
)

// SceneSource assembles the drawing of a session.
type SceneSource interface {
	Scene(ctx context.Context, sessionID string, scale float64) (snapshot.Scene, error)
}

type Handler struct {
	scenes   SceneSource
	renderer *snapshot.Renderer
}

func NewHandler(scenes SceneSource, renderer *snapshot.Renderer) *Handler {
	return &Handler{scenes: scenes, renderer: renderer}
}

// ExportPNG handles GET /api/sessions/{sessionId}/snapshot.png. Optional
// query parameters: scale in (0, 1] and name for the download filename.
func (h *Handler) ExportPNG(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	scale := 1.0
	if s := r.URL.Query().Get("scale"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v <= 0 || v > 1 {
			http.Error(w, "invalid scale: must be in (0, 1]", http.StatusBadRequest)
			return
		}
		scale = v
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		name = "annotation"
	}
	// Sanitize filename
	name = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			return r
		}
		return '-'
	}, name)

	scene, err := h.scenes.Scene(r.Context(), sessionID, scale)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidID):
			http.Error(w, "invalid session id", http.StatusBadRequest)
		case errors.Is(err, session.ErrNotFound):
			http.Error(w, "session not found", http.StatusNotFound)
		default:
			slog.Error("assemble scene", "error", err, "session", sessionID)
			http.Error(w, "background image unavailable", http.StatusBadGateway)
		}
		return
	}

	img, err := h.renderer.Render(scene)
	if err != nil {
		slog.Error("render snapshot", "error", err, "session", sessionID)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		slog.Error("encode snapshot", "error", err)
		http.Error(w, "encode failed", http.StatusInternalServerError)
		return
	}

	slog.Info("snapshot exported", "session", sessionID, "scale", scale, "size", buf.Len())

	w.Header().Set("Content-Type", snapshot.MimeType)
	w.Header().Set("Content-Disposition", "attachment; filename=\""+name+".png\"")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Write(buf.Bytes())
}
