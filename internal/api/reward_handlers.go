package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/culturebridge/learning-engine/internal/models"
	"github.com/culturebridge/learning-engine/internal/rewards"
)

func (s *Server) handleGrantReward(w http.ResponseWriter, r *http.Request) {
	var req models.GrantRewardRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Kind == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "kind is required")
		return
	}

	userID := chi.URLParam(r, "userID")
	if client := ClientFromContext(r.Context()); client != nil {
		slog.Info("external reward requested", "client", client.Name, "user_id", userID, "kind", req.Kind)
	}

	result, err := s.deps.Rewards.Grant(r.Context(), rewards.GrantRequest{
		UserID:      userID,
		Kind:        req.Kind,
		Amount:      req.Amount,
		Description: req.Description,
	})
	if err != nil {
		respondServiceError(w, r, err, "grant reward")
		return
	}

	status := http.StatusCreated
	if !result.Granted {
		status = http.StatusOK
	}
	respondJSON(w, status, result)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.deps.Rewards.Balance(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		respondServiceError(w, r, err, "load balance")
		return
	}
	respondJSON(w, http.StatusOK, balance)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	txs, err := s.deps.Repo.ListTransactions(r.Context(), chi.URLParam(r, "userID"), limit, offset)
	if err != nil {
		respondServiceError(w, r, err, "list transactions")
		return
	}
	if txs == nil {
		txs = []*models.Transaction{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txs,
		"limit":        limit,
		"offset":       offset,
	})
}
