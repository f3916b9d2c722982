package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/captured-thinkings/internal/auth"
	"github.com/sakif/captured-thinkings/internal/service"
)

// InteractionHandler serves /rest/v1/poem_likes and /rest/v1/poem_comments.
// Every route is authenticated.
type InteractionHandler struct {
	svc    *service.InteractionService
	logger *slog.Logger
}

func NewInteractionHandler(svc *service.InteractionService, logger *slog.Logger) *InteractionHandler {
	return &InteractionHandler{svc: svc, logger: logger}
}

type likeRequest struct {
	PoemID string `json:"poem_id"`
}

// HTTP: POST /rest/v1/poem_likes  {"poem_id": "..."}
func (h *InteractionHandler) HandleLike(w http.ResponseWriter, r *http.Request) {
	var req likeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	uid, _ := auth.UserIDFromContext(r.Context())
	like, err := h.svc.Like(r.Context(), req.PoemID, uid)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, like)
}

// HTTP: DELETE /rest/v1/poem_likes?poem_id=...
func (h *InteractionHandler) HandleUnlike(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	if err := h.svc.Unlike(r.Context(), r.URL.Query().Get("poem_id"), uid); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type commentRequest struct {
	PoemID  string `json:"poem_id"`
	Content string `json:"content"`
}

// HTTP: POST /rest/v1/poem_comments  {"poem_id": "...", "content": "..."}
func (h *InteractionHandler) HandleAddComment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	uid, _ := auth.UserIDFromContext(r.Context())
	c, err := h.svc.AddComment(r.Context(), req.PoemID, uid, req.Content)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// HTTP: DELETE /rest/v1/poem_comments/{id}
func (h *InteractionHandler) HandleDeleteComment(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	if err := h.svc.DeleteComment(r.Context(), chi.URLParam(r, "id"), uid); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
