package main

import (
	"errors"
	"net/http"

	"github.com/mcclellann/casafacil/pkg/auth"
	"github.com/mcclellann/casafacil/pkg/store"
	"go.uber.org/zap"
)

type adminView struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, maxSmallBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	admin, token, expires, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid email or password")
			return
		}
		s.fail(w, "api.login", err)
		return
	}

	s.logger.Info("admin logged in", zap.String("op", "api.login"), zap.String("email", admin.Email))
	http.SetCookie(w, auth.SessionCookie(token, expires, s.cookieSecure))
	writeJSON(w, http.StatusOK, map[string]any{
		"user":      adminView{Email: admin.Email, Role: auth.RoleAdmin},
		"expiresAt": expires,
	})
}

func (s *Server) logoutHandler(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, auth.ClearedCookie(s.cookieSecure))
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) verifyHandler(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"user":          adminView{Email: claims.Email, Role: claims.Role},
	})
}

func (s *Server) changePasswordHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.ChangePasswordRequest
	if err := decodeJSON(w, r, maxSmallBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	claims, _ := auth.ClaimsFromContext(r.Context())
	err := s.auth.ChangePassword(r.Context(), claims.Email, req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	case errors.Is(err, auth.ErrPasswordTooShort),
		errors.Is(err, auth.ErrPasswordMismatch),
		errors.Is(err, auth.ErrWrongPassword):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "admin account not found")
	default:
		s.fail(w, "api.changePassword", err)
	}
}
