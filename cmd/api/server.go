package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mcclellann/casafacil/pkg/auth"
	"github.com/mcclellann/casafacil/pkg/ledger"
	"github.com/mcclellann/casafacil/pkg/ratelimit"
	"go.uber.org/zap"
)

const (
	maxBodyBytes      = 2 << 20 // signatures travel as base64 data URLs
	maxSmallBodyBytes = 16 << 10
)

// Server holds the ledger and the admin auth service behind the HTTP API.
type Server struct {
	ledger       *ledger.Ledger
	auth         *auth.Service
	limiter      *ratelimit.Limiter
	logger       *zap.Logger
	cookieSecure bool
}

func NewServer(l *ledger.Ledger, a *auth.Service, limiter *ratelimit.Limiter, logger *zap.Logger, cookieSecure bool) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		ledger:       l,
		auth:         a,
		limiter:      limiter,
		logger:       logger,
		cookieSecure: cookieSecure,
	}
}

// Router wires every endpoint. Public writes are rate limited; reads of
// stored proposals require an admin session.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(corsMiddleware)

	limited := func(h http.HandlerFunc) http.Handler { return s.limiter.Middleware(h) }
	admin := func(h http.HandlerFunc) http.Handler { return s.auth.Issuer().Middleware(h) }

	api := router.PathPrefix("/api").Subrouter()
	api.PathPrefix("/").HandlerFunc(preflightHandler).Methods(http.MethodOptions)

	api.Handle("/simulations", limited(s.simulateHandler)).Methods(http.MethodPost)
	api.HandleFunc("/proposals/number", s.nextNumberHandler).Methods(http.MethodGet)
	api.Handle("/proposals", limited(s.createProposalHandler)).Methods(http.MethodPost)
	api.Handle("/proposals", admin(s.listProposalsHandler)).Methods(http.MethodGet)
	api.Handle("/proposals/{number}/summary", admin(s.proposalSummaryHandler)).Methods(http.MethodGet)
	api.Handle("/proposals/{number}", admin(s.getProposalHandler)).Methods(http.MethodGet)
	api.Handle("/stats", admin(s.statsHandler)).Methods(http.MethodGet)

	api.HandleFunc("/admin/login", s.loginHandler).Methods(http.MethodPost)
	api.HandleFunc("/admin/logout", s.logoutHandler).Methods(http.MethodPost)
	api.Handle("/admin/verify", admin(s.verifyHandler)).Methods(http.MethodGet)
	api.Handle("/admin/users", admin(s.listUsersHandler)).Methods(http.MethodGet)
	api.Handle("/admin/change-password", admin(s.changePasswordHandler)).Methods(http.MethodPost)

	return router
}

// corsMiddleware allows any origin on the API without credentials, so a
// foreign page can never ride on the admin session cookie.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, Accept, Origin")
		h.Set("Access-Control-Max-Age", "86400")
		next.ServeHTTP(w, r)
	})
}

func preflightHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, limit)).Decode(v)
}

// fail maps ledger and auth errors to responses. Anything unexpected is
// logged and reported as a 500 without details.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	var verr *ledger.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, verr)
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, ledger.ErrDuplicateNumber):
		writeError(w, http.StatusConflict, "a proposal with this number already exists")
	case errors.Is(err, ledger.ErrNumbersExhausted):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("request failed", zap.String("op", op), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
