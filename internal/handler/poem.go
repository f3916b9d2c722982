package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/captured-thinkings/internal/apperror"
	"github.com/sakif/captured-thinkings/internal/auth"
	"github.com/sakif/captured-thinkings/internal/model"
	"github.com/sakif/captured-thinkings/internal/service"
)

// PoemHandler serves /rest/v1/poems.
type PoemHandler struct {
	svc    *service.PoemService
	logger *slog.Logger
}

func NewPoemHandler(svc *service.PoemService, logger *slog.Logger) *PoemHandler {
	return &PoemHandler{svc: svc, logger: logger}
}

// HandleList returns poems joined with their likes and comments, newest first.
//
// HTTP: GET /rest/v1/poems?listed=true|false
//
// "listed" defaults to true, so a bare request only sees published poems.
func (h *PoemHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	listedOnly := true
	if v := r.URL.Query().Get("listed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, h.logger, apperror.ValidationFailed("listed", "listed must be true or false"))
			return
		}
		listedOnly = b
	}

	poems, err := h.svc.ListJoined(r.Context(), listedOnly)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, poems)
}

type countResponse struct {
	Count int `json:"count"`
}

// HandleCount is the cheapest read the API offers; clients use it as a
// connectivity probe.
//
// HTTP: GET /rest/v1/poems/count
func (h *PoemHandler) HandleCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.Count(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Count: n})
}

// HTTP: GET /rest/v1/poems/{id}
func (h *PoemHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	poem, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, poem)
}

// HandleCreate stores a new poem owned by the caller.
//
// HTTP: POST /rest/v1/poems  (authenticated)  body: model.PoemInput
func (h *PoemHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var in model.PoemInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, err)
		return
	}

	uid, _ := auth.UserIDFromContext(r.Context())
	row, err := h.svc.Create(r.Context(), uid, in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, row)
}

// HandleUpdate applies a partial update.
//
// HTTP: PATCH /rest/v1/poems/{id}  (authenticated)  body: model.PoemPatch
func (h *PoemHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var patch model.PoemPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, h.logger, err)
		return
	}

	row, err := h.svc.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// HTTP: DELETE /rest/v1/poems/{id}  (authenticated)
func (h *PoemHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
