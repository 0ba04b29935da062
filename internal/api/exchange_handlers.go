package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/culturebridge/learning-engine/internal/exchange"
)

func (s *Server) handleListExchanges(w http.ResponseWriter, r *http.Request) {
	limit, _ := pagination(r)

	list, err := s.deps.Exchanges.ListForUser(r.Context(), chi.URLParam(r, "userID"), limit)
	if err != nil {
		respondServiceError(w, r, err, "list exchanges")
		return
	}
	if list == nil {
		list = []exchange.Exchange{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"exchanges": list,
		"total":     len(list),
	})
}

func (s *Server) handleCreateExchange(w http.ResponseWriter, r *http.Request) {
	var req exchange.CreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	out, err := s.deps.Exchanges.Create(r.Context(), chi.URLParam(r, "userID"), req)
	if err != nil {
		respondServiceError(w, r, err, "create exchange")
		return
	}
	respondJSON(w, http.StatusCreated, out)
}

func (s *Server) handleJoinExchange(w http.ResponseWriter, r *http.Request) {
	out, err := s.deps.Exchanges.Join(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "userID"))
	if err != nil {
		respondServiceError(w, r, err, "join exchange")
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetExchange(w http.ResponseWriter, r *http.Request) {
	detail, err := s.deps.Exchanges.Get(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "userID"))
	if err != nil {
		respondServiceError(w, r, err, "get exchange")
		return
	}
	respondJSON(w, http.StatusOK, detail)
}
