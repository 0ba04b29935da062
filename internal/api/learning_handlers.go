package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/culturebridge/learning-engine/internal/models"
)

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	limit, offset := pagination(r)
	status := models.SessionStatus(r.URL.Query().Get("status"))

	sessions, err := s.deps.Learning.ListSessions(r.Context(), userID, status, limit, offset)
	if err != nil {
		respondServiceError(w, r, err, "list sessions")
		return
	}
	if sessions == nil {
		sessions = []*models.LearningSession{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req models.CreateSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := s.deps.Learning.CreateSession(r.Context(), chi.URLParam(r, "userID"), &req)
	if err != nil {
		respondServiceError(w, r, err, "create session")
		return
	}
	respondJSON(w, http.StatusCreated, session)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.deps.Learning.GetSession(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err, "get session")
		return
	}
	respondJSON(w, http.StatusOK, session)
}

func (s *Server) handleCompleteExercise(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "exercise index must be an integer")
		return
	}

	var req models.CompleteExerciseRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := s.deps.Learning.CompleteExercise(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "id"), index, &req)
	if err != nil {
		respondServiceError(w, r, err, "complete exercise")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleCompleteSession(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Learning.CompleteSession(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err, "complete session")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleAbandonSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.deps.Learning.AbandonSession(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err, "abandon session")
		return
	}
	respondJSON(w, http.StatusOK, session)
}

func (s *Server) handleUserStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Learning.GetUserLearningStats(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		respondServiceError(w, r, err, "load stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	recs, err := s.deps.Learning.GetRecommendedContent(r.Context(), chi.URLParam(r, "userID"), r.URL.Query().Get("language"))
	if err != nil {
		respondServiceError(w, r, err, "recommend content")
		return
	}
	if recs == nil {
		recs = []models.Recommendation{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"recommendations": recs,
	})
}
