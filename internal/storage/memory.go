package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/culturebridge/learning-engine/internal/apperr"
	"github.com/culturebridge/learning-engine/internal/models"
)

// MemoryRepository implements Repository in process memory.
// Records are copied on the way in and out so callers never share state with the store.
type MemoryRepository struct {
	mu           sync.RWMutex
	sessions     map[string]*models.LearningSession
	progress     map[string]*models.UserLearningProgress
	transactions map[string]*models.Transaction
	userTx       map[string][]string
	balances     map[string]models.Amount
	pool         *models.Amount
	clients      map[string]*models.ApiClient
}

// NewMemoryRepository creates an empty repository with the given API clients
func NewMemoryRepository(clients ...*models.ApiClient) *MemoryRepository {
	r := &MemoryRepository{
		sessions:     make(map[string]*models.LearningSession),
		progress:     make(map[string]*models.UserLearningProgress),
		transactions: make(map[string]*models.Transaction),
		userTx:       make(map[string][]string),
		balances:     make(map[string]models.Amount),
		clients:      make(map[string]*models.ApiClient),
	}
	for _, c := range clients {
		r.AddClient(c)
	}
	return r
}

// AddClient registers an API client
func (r *MemoryRepository) AddClient(c *models.ApiClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	cp.Permissions = append([]string(nil), c.Permissions...)
	r.clients[c.ApiKey] = &cp
}

// Ping always succeeds
func (r *MemoryRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op
func (r *MemoryRepository) Close() error {
	return nil
}

// CreateSession stores a new session
func (r *MemoryRepository) CreateSession(ctx context.Context, s *models.LearningSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[s.ID]; exists {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	r.sessions[s.ID] = cloneSession(s)
	return nil
}

// GetSession returns the session with id, or nil
func (r *MemoryRepository) GetSession(ctx context.Context, id string) (*models.LearningSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	return cloneSession(s), nil
}

// UpdateSession replaces a stored session
func (r *MemoryRepository) UpdateSession(ctx context.Context, s *models.LearningSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.ID]; !ok {
		return apperr.NotFound("session", s.ID)
	}
	r.sessions[s.ID] = cloneSession(s)
	return nil
}

// ListSessions returns sessions matching filters, newest first
func (r *MemoryRepository) ListSessions(ctx context.Context, filters SessionFilters) ([]*models.LearningSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.LearningSession
	for _, s := range r.sessions {
		if filters.UserID != "" && s.UserID != filters.UserID {
			continue
		}
		if filters.Status != "" && s.Status != filters.Status {
			continue
		}
		out = append(out, cloneSession(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	return page(out, filters.Limit, filters.Offset), nil
}

// ListStaleSessions returns IN_PROGRESS sessions started before the cutoff, oldest first
func (r *MemoryRepository) ListStaleSessions(ctx context.Context, startedBefore time.Time) ([]*models.LearningSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.LearningSession
	for _, s := range r.sessions {
		if s.Status == models.SessionInProgress && s.Progress.StartedAt.Before(startedBefore) {
			out = append(out, cloneSession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Progress.StartedAt.Before(out[j].Progress.StartedAt) })
	return out, nil
}

// GetProgress returns the user's progress record, or nil
func (r *MemoryRepository) GetProgress(ctx context.Context, userID string) (*models.UserLearningProgress, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.progress[userID]
	if !ok {
		return nil, nil
	}
	return cloneProgress(p), nil
}

// SaveProgress upserts a progress record. The granted achievement set is owned by
// GrantAchievement and is not overwritten here.
func (r *MemoryRepository) SaveProgress(ctx context.Context, p *models.UserLearningProgress) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.saveProgressLocked(p)
	return nil
}

func (r *MemoryRepository) saveProgressLocked(p *models.UserLearningProgress) {
	cp := cloneProgress(p)
	if existing, ok := r.progress[p.UserID]; ok {
		cp.Achievements = existing.Achievements
	} else {
		cp.Achievements = make(map[string]time.Time)
	}
	r.progress[p.UserID] = cp
}

// CompleteLearningSession stores the finished session and its progress together
func (r *MemoryRepository) CompleteLearningSession(ctx context.Context, s *models.LearningSession, p *models.UserLearningProgress) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.sessions[s.ID]
	if !ok {
		return apperr.NotFound("session", s.ID)
	}
	if stored.IsTerminal() {
		return fmt.Errorf("session %s is %s: %w", s.ID, stored.Status, apperr.ErrSessionAlreadyTerminal)
	}

	r.sessions[s.ID] = cloneSession(s)
	r.saveProgressLocked(p)
	return nil
}

// GrantAchievement records an achievement once per user
func (r *MemoryRepository) GrantAchievement(ctx context.Context, userID, achievementID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.progress[userID]
	if !ok {
		p = models.NewUserLearningProgress(userID, at)
		r.progress[userID] = p
	}
	if p.Achievements == nil {
		p.Achievements = make(map[string]time.Time)
	}
	if _, granted := p.Achievements[achievementID]; granted {
		return false, nil
	}
	p.Achievements[achievementID] = at
	return true, nil
}

// Credit appends a transaction, raises the balance and draws down the reward pool
func (r *MemoryRepository) Credit(ctx context.Context, tx *models.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if tx.Amount <= 0 {
		return apperr.Validation("credit amount must be positive")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.transactions[tx.ID]; exists {
		return fmt.Errorf("transaction %s already exists", tx.ID)
	}
	if r.pool != nil {
		if *r.pool < tx.Amount {
			return fmt.Errorf("pool has %s, need %s: %w", r.pool.String(), tx.Amount.String(), apperr.ErrInsufficientCapacity)
		}
		*r.pool -= tx.Amount
	}

	cp := *tx
	r.transactions[tx.ID] = &cp
	r.userTx[tx.UserID] = append(r.userTx[tx.UserID], tx.ID)
	r.balances[tx.UserID] += tx.Amount
	return nil
}

// DailyTotal sums the user's credits created at or after since
func (r *MemoryRepository) DailyTotal(ctx context.Context, userID string, since time.Time) (models.Amount, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var total models.Amount
	for _, id := range r.userTx[userID] {
		tx := r.transactions[id]
		if !tx.CreatedAt.Before(since) {
			total += tx.Amount
		}
	}
	return total, nil
}

// Balance returns the user's balance
func (r *MemoryRepository) Balance(ctx context.Context, userID string) (models.Amount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.balances[userID], nil
}

// ListTransactions returns the user's credits, newest first
func (r *MemoryRepository) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]*models.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.userTx[userID]
	out := make([]*models.Transaction, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		cp := *r.transactions[ids[i]]
		out = append(out, &cp)
	}
	return page(out, limit, offset), nil
}

// GetTransaction returns the transaction with id, or nil
func (r *MemoryRepository) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tx, ok := r.transactions[id]
	if !ok {
		return nil, nil
	}
	cp := *tx
	return &cp, nil
}

// MarkMirrored stores the chain reference of a transaction
func (r *MemoryRepository) MarkMirrored(ctx context.Context, id, ref string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, ok := r.transactions[id]
	if !ok {
		return apperr.NotFound("transaction", id)
	}
	tx.MirrorRef = ref
	tx.MirroredAt = &at
	return nil
}

// EnsureRewardPool seeds the pool if it has not been seeded
func (r *MemoryRepository) EnsureRewardPool(ctx context.Context, size models.Amount) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pool == nil {
		remaining := size
		r.pool = &remaining
	}
	return nil
}

// RewardPoolRemaining returns what is left in the pool and whether it was seeded
func (r *MemoryRepository) RewardPoolRemaining(ctx context.Context) (models.Amount, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.pool == nil {
		return 0, false, nil
	}
	return *r.pool, true, nil
}

// GetClientByApiKey returns the client with apiKey, or nil
func (r *MemoryRepository) GetClientByApiKey(ctx context.Context, apiKey string) (*models.ApiClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[apiKey]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

// UpdateClientLastUsed stamps the client's last use
func (r *MemoryRepository) UpdateClientLastUsed(ctx context.Context, apiKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[apiKey]; ok {
		now := time.Now()
		c.LastUsedAt = &now
	}
	return nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func cloneSession(s *models.LearningSession) *models.LearningSession {
	cp := *s
	cp.Exercises = make([]models.Exercise, len(s.Exercises))
	for i, e := range s.Exercises {
		e.Options = append([]string(nil), e.Options...)
		cp.Exercises[i] = e
	}
	cp.Progress.CompletedExercises = append([]models.CompletedExercise(nil), s.Progress.CompletedExercises...)
	if s.Progress.EndedAt != nil {
		ended := *s.Progress.EndedAt
		cp.Progress.EndedAt = &ended
	}
	return &cp
}

func cloneProgress(p *models.UserLearningProgress) *models.UserLearningProgress {
	cp := *p
	cp.Languages = make(map[string]*models.LanguageProgress, len(p.Languages))
	for lang, lp := range p.Languages {
		l := *lp
		l.Skills = make(map[models.SkillType]models.SkillProgress, len(lp.Skills))
		for k, v := range lp.Skills {
			l.Skills[k] = v
		}
		if lp.LastStudiedAt != nil {
			at := *lp.LastStudiedAt
			l.LastStudiedAt = &at
		}
		cp.Languages[lang] = &l
	}
	cp.Achievements = make(map[string]time.Time, len(p.Achievements))
	for k, v := range p.Achievements {
		cp.Achievements[k] = v
	}
	return &cp
}
