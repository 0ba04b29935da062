package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/culturebridge/learning-engine/internal/achievements"
	"github.com/culturebridge/learning-engine/internal/apperr"
	"github.com/culturebridge/learning-engine/internal/content"
	"github.com/culturebridge/learning-engine/internal/health"
	"github.com/culturebridge/learning-engine/internal/models"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Response helpers

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: false,
		Error: &apiError{
			Code:    code,
			Message: message,
		},
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// respondServiceError maps a service error onto the envelope. Internal errors are
// logged and reported without detail.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error, action string) {
	status, code := apperr.Classify(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "action", action, "path", r.URL.Path, "error", err)
		if status == http.StatusInternalServerError {
			respondError(w, status, code, "failed to "+action)
			return
		}
	}
	respondError(w, status, code, err.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	return true
}

// pagination reads limit and offset, clamping the limit to maxPageSize
func pagination(r *http.Request) (int, int) {
	limit, offset := defaultPageSize, 0
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	results := s.deps.Health.CheckAll(r.Context())

	checks := make(map[string]string, len(results))
	for name, err := range results {
		checks[name] = "ok"
		if err != nil {
			slog.Warn("readiness check failed", "check", name, "error", err)
			checks[name] = err.Error()
		}
	}

	if !health.Healthy(results) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(apiResponse{
			Success: false,
			Data:    map[string]interface{}{"status": "not_ready", "checks": checks},
			Error:   &apiError{Code: "not_ready", Message: "service not ready"},
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ready",
		"checks": checks,
	})
}

// Catalog handlers

func (s *Server) handleRewardCatalog(w http.ResponseWriter, r *http.Request) {
	cat := s.deps.Rewards.Catalog()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"token_price_usd": cat.TokenPriceUSD,
		"daily_user_cap":  cat.DailyUserCap,
		"rewards":         cat.SortedRewards(),
		"utility_prices":  cat.UtilityPrices,
		"learning":        cat.Learning,
	})
}

func (s *Server) handleAchievementCatalog(w http.ResponseWriter, r *http.Request) {
	list := achievements.Definitions
	if s.deps.Learning != nil {
		list = s.deps.Learning.Achievements()
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"achievements": list,
		"total":        len(list),
	})
}

func (s *Server) handleListContent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items := s.deps.Library.List(content.Filter{
		Language: q.Get("language"),
		Type:     models.SessionType(q.Get("type")),
		Level:    models.ProficiencyLevel(q.Get("level")),
	})

	summaries := make([]models.ContentSummary, 0, len(items))
	for _, item := range items {
		summaries = append(summaries, item.Summary())
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"content": summaries,
		"total":   len(summaries),
	})
}

func (s *Server) handleGetContent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	item := s.deps.Library.Get(id)
	if item == nil {
		respondError(w, http.StatusNotFound, "not_found", "content not found")
		return
	}
	// answers stay server side
	respondJSON(w, http.StatusOK, item.Summary())
}
