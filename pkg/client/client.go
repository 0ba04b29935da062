// Package client is a Go SDK for the learning engine API
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/culturebridge/learning-engine/internal/models"
)

// Client is a Go SDK for the learning engine API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures the client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the client timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new learning engine client
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError is an error envelope returned by the engine
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s - %s", e.Status, e.Code, e.Message)
}

// RewardResult is the outcome of one grant
type RewardResult struct {
	Granted       bool               `json:"granted"`
	Amount        models.Amount      `json:"amount"`
	Reason        string             `json:"reason"`
	Kind          models.TriggerKind `json:"kind"`
	TransactionID string             `json:"transaction_id,omitempty"`
}

// UnlockedAchievement is an achievement granted by a completion
type UnlockedAchievement struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Reward     models.Amount `json:"reward"`
	UnlockedAt time.Time     `json:"unlocked_at"`
}

// CompletionResult is returned when a session is completed
type CompletionResult struct {
	Session       *models.LearningSession  `json:"session"`
	Progress      *models.LanguageProgress `json:"progress"`
	Streak        models.Streak            `json:"streak"`
	SessionReward *RewardResult            `json:"session_reward,omitempty"`
	Achievements  []UnlockedAchievement    `json:"achievements"`
	Warnings      []string                 `json:"warnings,omitempty"`
}

// ExerciseResult is returned after each answer
type ExerciseResult struct {
	SessionID string                    `json:"session_id"`
	Exercise  *models.CompletedExercise `json:"exercise"`
	Score     float64                   `json:"score"`
	Answered  int                       `json:"answered"`
	Total     int                       `json:"total"`
}

// ListOptions pages list calls
type ListOptions struct {
	Status string
	Limit  int
	Offset int
}

func (o ListOptions) query() string {
	q := url.Values{}
	if o.Status != "" {
		q.Set("status", o.Status)
	}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Offset > 0 {
		q.Set("offset", strconv.Itoa(o.Offset))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

func userPath(userID, rest string) string {
	return "/api/v1/users/" + url.PathEscape(userID) + rest
}

// CreateSession starts a learning session for userID
func (c *Client) CreateSession(ctx context.Context, userID string, req models.CreateSessionRequest) (*models.LearningSession, error) {
	var session models.LearningSession
	if err := c.call(ctx, http.MethodPost, userPath(userID, "/sessions"), req, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetSession retrieves one of the user's sessions
func (c *Client) GetSession(ctx context.Context, userID, sessionID string) (*models.LearningSession, error) {
	var session models.LearningSession
	if err := c.call(ctx, http.MethodGet, userPath(userID, "/sessions/"+url.PathEscape(sessionID)), nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// ListSessions lists the user's sessions, newest first
func (c *Client) ListSessions(ctx context.Context, userID string, opts ListOptions) ([]*models.LearningSession, error) {
	var result struct {
		Sessions []*models.LearningSession `json:"sessions"`
	}
	if err := c.call(ctx, http.MethodGet, userPath(userID, "/sessions"+opts.query()), nil, &result); err != nil {
		return nil, err
	}
	return result.Sessions, nil
}

// CompleteExercise answers exercise index of a session
func (c *Client) CompleteExercise(ctx context.Context, userID, sessionID string, index int, req models.CompleteExerciseRequest) (*ExerciseResult, error) {
	path := userPath(userID, fmt.Sprintf("/sessions/%s/exercises/%d", url.PathEscape(sessionID), index))
	var result ExerciseResult
	if err := c.call(ctx, http.MethodPost, path, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CompleteSession finishes a session and returns its rewards
func (c *Client) CompleteSession(ctx context.Context, userID, sessionID string) (*CompletionResult, error) {
	var result CompletionResult
	if err := c.call(ctx, http.MethodPost, userPath(userID, "/sessions/"+url.PathEscape(sessionID)+"/complete"), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// AbandonSession abandons an in-progress session
func (c *Client) AbandonSession(ctx context.Context, userID, sessionID string) (*models.LearningSession, error) {
	var session models.LearningSession
	if err := c.call(ctx, http.MethodPost, userPath(userID, "/sessions/"+url.PathEscape(sessionID)+"/abandon"), nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GrantReward triggers an externally earned reward for userID
func (c *Client) GrantReward(ctx context.Context, userID string, req models.GrantRewardRequest) (*RewardResult, error) {
	var result RewardResult
	if err := c.call(ctx, http.MethodPost, userPath(userID, "/rewards"), req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Balance returns the user's token balance and today's grants
func (c *Client) Balance(ctx context.Context, userID string) (*models.BalanceResponse, error) {
	var balance models.BalanceResponse
	if err := c.call(ctx, http.MethodGet, userPath(userID, "/balance"), nil, &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

// ListTransactions lists the user's ledger entries, newest first
func (c *Client) ListTransactions(ctx context.Context, userID string, opts ListOptions) ([]*models.Transaction, error) {
	var result struct {
		Transactions []*models.Transaction `json:"transactions"`
	}
	if err := c.call(ctx, http.MethodGet, userPath(userID, "/transactions"+opts.query()), nil, &result); err != nil {
		return nil, err
	}
	return result.Transactions, nil
}

// Recommendations returns content suggestions for the user's weakest skills
func (c *Client) Recommendations(ctx context.Context, userID, language string) ([]models.Recommendation, error) {
	var result struct {
		Recommendations []models.Recommendation `json:"recommendations"`
	}
	path := userPath(userID, "/recommendations?language="+url.QueryEscape(language))
	if err := c.call(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Recommendations, nil
}

// ListContent lists content summaries for language ("" for all)
func (c *Client) ListContent(ctx context.Context, language string) ([]models.ContentSummary, error) {
	path := "/api/v1/content"
	if language != "" {
		path += "?language=" + url.QueryEscape(language)
	}
	var result struct {
		Content []models.ContentSummary `json:"content"`
	}
	if err := c.call(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Content, nil
}

// Health checks if the service is healthy
func (c *Client) Health(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/health", nil, nil)
}

// call sends body as JSON and decodes the envelope's data into out
func (c *Client) call(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	status, resp, err := c.doRequest(ctx, method, path, reader)
	if err != nil {
		return err
	}

	var result struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *APIError       `json:"error"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return fmt.Errorf("failed to unmarshal response (HTTP %d): %w", status, err)
	}

	if !result.Success {
		apiErr := result.Error
		if apiErr == nil {
			apiErr = &APIError{Code: "unknown", Message: http.StatusText(status)}
		}
		apiErr.Status = status
		return apiErr
	}

	if out == nil || len(result.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(result.Data, out); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}
	return nil
}

// doRequest performs an HTTP request
func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}

	return resp.StatusCode, respBody, nil
}
