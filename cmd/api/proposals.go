package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/casafacil/pkg/format"
	"github.com/mcclellann/casafacil/pkg/ledger"
	"github.com/mcclellann/casafacil/pkg/simulation"
)

func (s *Server) simulateHandler(w http.ResponseWriter, r *http.Request) {
	var in simulation.Input
	if err := decodeJSON(w, r, maxSmallBodyBytes, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := s.ledger.Simulate(in)
	if err != nil {
		s.fail(w, "api.simulate", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) nextNumberHandler(w http.ResponseWriter, r *http.Request) {
	number, err := s.ledger.NextProposalNumber(r.Context())
	if err != nil {
		s.fail(w, "api.nextNumber", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"number": number})
}

type createdProposal struct {
	ID        uuid.UUID `json:"id"`
	Number    string    `json:"number"`
	UserID    uuid.UUID `json:"userId"`
	UserTaxID string    `json:"userTaxId"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Server) createProposalHandler(w http.ResponseWriter, r *http.Request) {
	var sub ledger.Submission
	if err := decodeJSON(w, r, maxBodyBytes, &sub); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	p, err := s.ledger.SubmitProposal(r.Context(), sub)
	if err != nil {
		s.fail(w, "api.createProposal", err)
		return
	}

	resp := createdProposal{
		ID:        p.ID,
		Number:    p.Number,
		UserID:    p.UserID,
		CreatedAt: p.CreatedAt,
	}
	if p.User != nil {
		resp.UserTaxID = p.User.TaxID
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) listProposalsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if taxID := q.Get("taxId"); taxID != "" {
		proposals, err := s.ledger.ListProposalsByTaxID(r.Context(), taxID)
		if err != nil {
			s.fail(w, "api.listProposals", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"data":  proposals,
			"total": len(proposals),
		})
		return
	}

	// Unparseable values fall back to the ledger defaults.
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	result, err := s.ledger.ListProposals(r.Context(), page, limit)
	if err != nil {
		s.fail(w, "api.listProposals", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) getProposalHandler(w http.ResponseWriter, r *http.Request) {
	p, err := s.ledger.GetProposal(r.Context(), mux.Vars(r)["number"])
	if err != nil {
		s.fail(w, "api.getProposal", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) proposalSummaryHandler(w http.ResponseWriter, r *http.Request) {
	p, err := s.ledger.GetProposal(r.Context(), mux.Vars(r)["number"])
	if err != nil {
		s.fail(w, "api.proposalSummary", err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="proposta-`+p.Number+`.txt"`)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(format.Summary(p, s.ledger.Rules().AnnualRate, nil)))
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	if taxID := r.URL.Query().Get("taxId"); taxID != "" {
		stats, err := s.ledger.UserStats(r.Context(), taxID)
		if err != nil {
			s.fail(w, "api.stats", err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
		return
	}

	stats, err := s.ledger.GeneralStats(r.Context())
	if err != nil {
		s.fail(w, "api.stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) listUsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := s.ledger.ListUsers(r.Context())
	if err != nil {
		s.fail(w, "api.listUsers", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  users,
		"total": len(users),
	})
}
