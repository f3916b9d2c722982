package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/captured-thinkings/internal/apperror"
	"github.com/sakif/captured-thinkings/internal/auth"
	"github.com/sakif/captured-thinkings/internal/model"
	"github.com/sakif/captured-thinkings/internal/service"
)

// AuthHandler serves /auth/v1.
type AuthHandler struct {
	svc    *service.AuthService
	logger *slog.Logger
}

func NewAuthHandler(svc *service.AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{svc: svc, logger: logger}
}

// HandleSignUp creates an account and returns its first session.
//
// HTTP: POST /auth/v1/signup  {"email": "...", "password": "..."}
func (h *AuthHandler) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	var creds model.Credentials
	if err := decodeJSON(w, r, &creds); err != nil {
		writeError(w, h.logger, err)
		return
	}
	sess, err := h.svc.SignUp(r.Context(), creds)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// HandleToken issues a session.
//
// HTTP: POST /auth/v1/token?grant_type=password       {"email","password"}
//
//	POST /auth/v1/token?grant_type=refresh_token  {"refresh_token"}
func (h *AuthHandler) HandleToken(w http.ResponseWriter, r *http.Request) {
	var (
		sess *model.Session
		err  error
	)

	switch grant := r.URL.Query().Get("grant_type"); grant {
	case "password":
		var creds model.Credentials
		if err := decodeJSON(w, r, &creds); err != nil {
			writeError(w, h.logger, err)
			return
		}
		sess, err = h.svc.SignIn(r.Context(), creds)
	case "refresh_token":
		var req refreshRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, h.logger, err)
			return
		}
		sess, err = h.svc.Refresh(r.Context(), req.RefreshToken)
	default:
		err = apperror.ValidationFailed("grant_type", "unsupported grant_type "+grant)
	}

	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// HandleLogout revokes the caller's refresh session.
//
// HTTP: POST /auth/v1/logout  (authenticated)
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	sid, _ := auth.SessionIDFromContext(r.Context())
	if err := h.svc.SignOut(r.Context(), sid); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleUser returns the authenticated account.
//
// HTTP: GET /auth/v1/user  (authenticated)
func (h *AuthHandler) HandleUser(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	user, err := h.svc.User(r.Context(), uid)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
