package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/culturebridge/learning-engine/internal/apperr"
	"github.com/culturebridge/learning-engine/internal/models"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	DSN          string
	MaxOpenConns int32
	MaxIdleConns int32
	MaxLifetime  time.Duration
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (*PostgresRepository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = cfg.MaxOpenConns
	} else {
		poolConfig.MaxConns = 25
	}

	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = cfg.MaxIdleConns
	} else {
		poolConfig.MinConns = 5
	}

	if cfg.MaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxLifetime
	} else {
		poolConfig.MaxConnLifetime = 30 * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// Pool exposes the connection pool for migrations
func (r *PostgresRepository) Pool() *pgxpool.Pool {
	return r.pool
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// --- Learning sessions ---

const sessionColumns = `id, user_id, type, target_language, native_language, level, content_id,
	exercises, progress, status, reward, started_at, created_at, updated_at`

// CreateSession inserts a new learning session
func (r *PostgresRepository) CreateSession(ctx context.Context, s *models.LearningSession) error {
	exercisesJSON, progressJSON, err := marshalSession(s)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO learning_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err = r.pool.Exec(ctx, query,
		s.ID,
		s.UserID,
		string(s.Type),
		s.TargetLanguage,
		s.NativeLanguage,
		string(s.Level),
		nullString(s.ContentID),
		exercisesJSON,
		progressJSON,
		string(s.Status),
		int64(s.Reward),
		s.Progress.StartedAt,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// GetSession retrieves a learning session by ID
func (r *PostgresRepository) GetSession(ctx context.Context, id string) (*models.LearningSession, error) {
	// ids are UUID columns; anything else cannot match a row
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	query := `SELECT ` + sessionColumns + ` FROM learning_sessions WHERE id = $1`

	s, err := scanSession(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// UpdateSession stores the mutable parts of a session
func (r *PostgresRepository) UpdateSession(ctx context.Context, s *models.LearningSession) error {
	tag, err := r.updateSession(ctx, r.pool, s, false)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("session", s.ID)
	}
	return nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func (r *PostgresRepository) updateSession(ctx context.Context, db execer, s *models.LearningSession, onlyInProgress bool) (pgconn.CommandTag, error) {
	exercisesJSON, progressJSON, err := marshalSession(s)
	if err != nil {
		return pgconn.CommandTag{}, err
	}

	query := `
		UPDATE learning_sessions
		SET exercises = $2, progress = $3, status = $4, reward = $5, updated_at = $6
		WHERE id = $1
	`
	if onlyInProgress {
		query += ` AND status = 'IN_PROGRESS'`
	}

	tag, err := db.Exec(ctx, query,
		s.ID,
		exercisesJSON,
		progressJSON,
		string(s.Status),
		int64(s.Reward),
		s.UpdatedAt,
	)
	if err != nil {
		return tag, fmt.Errorf("failed to update session: %w", err)
	}
	return tag, nil
}

// ListSessions returns sessions matching filters, newest first
func (r *PostgresRepository) ListSessions(ctx context.Context, filters SessionFilters) ([]*models.LearningSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM learning_sessions WHERE 1=1`
	args := make([]interface{}, 0)
	argNum := 1

	if filters.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argNum)
		args = append(args, filters.UserID)
		argNum++
	}

	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, string(filters.Status))
		argNum++
	}

	query += " ORDER BY created_at DESC"

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filters.Limit)
		argNum++
	}

	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filters.Offset)
	}

	return r.querySessions(ctx, query, args...)
}

// ListStaleSessions returns IN_PROGRESS sessions started before the cutoff
func (r *PostgresRepository) ListStaleSessions(ctx context.Context, startedBefore time.Time) ([]*models.LearningSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM learning_sessions
		WHERE status = 'IN_PROGRESS'
		  AND started_at < $1
		ORDER BY started_at ASC
	`
	return r.querySessions(ctx, query, startedBefore)
}

func (r *PostgresRepository) querySessions(ctx context.Context, query string, args ...interface{}) ([]*models.LearningSession, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.LearningSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}

	return sessions, rows.Err()
}

func scanSession(row pgx.Row) (*models.LearningSession, error) {
	var s models.LearningSession
	var typeStr, levelStr, statusStr string
	var contentID sql.NullString
	var reward int64
	var startedAt time.Time
	var exercisesJSON, progressJSON []byte

	err := row.Scan(
		&s.ID,
		&s.UserID,
		&typeStr,
		&s.TargetLanguage,
		&s.NativeLanguage,
		&levelStr,
		&contentID,
		&exercisesJSON,
		&progressJSON,
		&statusStr,
		&reward,
		&startedAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Type = models.SessionType(typeStr)
	s.Level = models.ProficiencyLevel(levelStr)
	s.Status = models.SessionStatus(statusStr)
	s.ContentID = contentID.String
	s.Reward = models.Amount(reward)

	if err := json.Unmarshal(exercisesJSON, &s.Exercises); err != nil {
		return nil, fmt.Errorf("failed to unmarshal exercises: %w", err)
	}
	if err := json.Unmarshal(progressJSON, &s.Progress); err != nil {
		return nil, fmt.Errorf("failed to unmarshal progress: %w", err)
	}
	s.Progress.StartedAt = startedAt

	return &s, nil
}

func marshalSession(s *models.LearningSession) ([]byte, []byte, error) {
	exercisesJSON, err := json.Marshal(s.Exercises)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal exercises: %w", err)
	}
	progressJSON, err := json.Marshal(s.Progress)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal progress: %w", err)
	}
	return exercisesJSON, progressJSON, nil
}

// --- Progress ---

// GetProgress loads a user's progress record with its granted achievements
func (r *PostgresRepository) GetProgress(ctx context.Context, userID string) (*models.UserLearningProgress, error) {
	query := `
		SELECT user_id, languages, streak_current, streak_longest, last_session_date,
		       total_lessons, total_study_seconds, created_at, updated_at
		FROM learning_progress
		WHERE user_id = $1
	`

	var p models.UserLearningProgress
	var languagesJSON []byte
	var lastDate sql.NullString

	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&p.UserID,
		&languagesJSON,
		&p.Streak.Current,
		&p.Streak.Longest,
		&lastDate,
		&p.TotalLessons,
		&p.TotalStudySeconds,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get progress: %w", err)
	}

	p.Streak.LastSessionDate = lastDate.String
	if err := json.Unmarshal(languagesJSON, &p.Languages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal languages: %w", err)
	}
	if p.Languages == nil {
		p.Languages = make(map[string]*models.LanguageProgress)
	}

	achievements, err := r.getAchievements(ctx, userID)
	if err != nil {
		return nil, err
	}
	p.Achievements = achievements

	return &p, nil
}

func (r *PostgresRepository) getAchievements(ctx context.Context, userID string) (map[string]time.Time, error) {
	rows, err := r.pool.Query(ctx, `SELECT achievement_id, granted_at FROM user_achievements WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get achievements: %w", err)
	}
	defer rows.Close()

	achievements := make(map[string]time.Time)
	for rows.Next() {
		var id string
		var at time.Time
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("failed to scan achievement: %w", err)
		}
		achievements[id] = at
	}
	return achievements, rows.Err()
}

// SaveProgress upserts a progress record. Achievements are written by GrantAchievement.
func (r *PostgresRepository) SaveProgress(ctx context.Context, p *models.UserLearningProgress) error {
	return r.saveProgress(ctx, r.pool, p)
}

func (r *PostgresRepository) saveProgress(ctx context.Context, db execer, p *models.UserLearningProgress) error {
	languagesJSON, err := json.Marshal(p.Languages)
	if err != nil {
		return fmt.Errorf("failed to marshal languages: %w", err)
	}

	query := `
		INSERT INTO learning_progress (user_id, languages, streak_current, streak_longest, last_session_date,
		                               total_lessons, total_study_seconds, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE
		SET languages = EXCLUDED.languages,
		    streak_current = EXCLUDED.streak_current,
		    streak_longest = EXCLUDED.streak_longest,
		    last_session_date = EXCLUDED.last_session_date,
		    total_lessons = EXCLUDED.total_lessons,
		    total_study_seconds = EXCLUDED.total_study_seconds,
		    updated_at = EXCLUDED.updated_at
	`

	_, err = db.Exec(ctx, query,
		p.UserID,
		languagesJSON,
		p.Streak.Current,
		p.Streak.Longest,
		nullString(p.Streak.LastSessionDate),
		p.TotalLessons,
		p.TotalStudySeconds,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}
	return nil
}

// CompleteLearningSession stores the session and progress in one transaction
func (r *PostgresRepository) CompleteLearningSession(ctx context.Context, s *models.LearningSession, p *models.UserLearningProgress) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := r.updateSession(ctx, tx, s, true)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", s.ID, apperr.ErrSessionAlreadyTerminal)
	}

	if err := r.saveProgress(ctx, tx, p); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit session completion: %w", err)
	}
	return nil
}

// GrantAchievement inserts the achievement if absent
func (r *PostgresRepository) GrantAchievement(ctx context.Context, userID, achievementID string, at time.Time) (bool, error) {
	query := `
		INSERT INTO user_achievements (user_id, achievement_id, granted_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, achievement_id) DO NOTHING
	`

	tag, err := r.pool.Exec(ctx, query, userID, achievementID, at)
	if err != nil {
		return false, fmt.Errorf("failed to grant achievement: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// --- Ledger ---

// Credit draws down the reward pool, inserts the transaction and raises the
// balance in a single database transaction.
func (r *PostgresRepository) Credit(ctx context.Context, t *models.Transaction) error {
	if t.Amount <= 0 {
		return apperr.Validation("credit amount must be positive")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	amount := int64(t.Amount)

	tag, err := tx.Exec(ctx,
		`UPDATE reward_pool SET remaining = remaining - $1 WHERE id = 1 AND remaining >= $1`,
		amount,
	)
	if err != nil {
		return fmt.Errorf("failed to draw from reward pool: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var seeded bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM reward_pool WHERE id = 1)`).Scan(&seeded); err != nil {
			return fmt.Errorf("failed to check reward pool: %w", err)
		}
		if seeded {
			return fmt.Errorf("credit of %s: %w", t.Amount.String(), apperr.ErrInsufficientCapacity)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO reward_transactions (id, user_id, amount, kind, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.ID, t.UserID, amount, string(t.Kind), t.Description, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO user_balances (user_id, balance, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET balance = user_balances.balance + EXCLUDED.balance,
		    updated_at = EXCLUDED.updated_at
	`, t.UserID, amount, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit credit: %w", err)
	}
	return nil
}

// DailyTotal sums the user's credits created at or after since
func (r *PostgresRepository) DailyTotal(ctx context.Context, userID string, since time.Time) (models.Amount, error) {
	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM reward_transactions WHERE user_id = $1 AND created_at >= $2`,
		userID, since,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum daily credits: %w", err)
	}
	return models.Amount(total), nil
}

// Balance returns the user's balance, zero when the user has none
func (r *PostgresRepository) Balance(ctx context.Context, userID string) (models.Amount, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, `SELECT balance FROM user_balances WHERE user_id = $1`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return models.Amount(balance), nil
}

const transactionColumns = `id, user_id, amount, kind, description, created_at, mirror_ref, mirrored_at`

// ListTransactions returns the user's credits, newest first
func (r *PostgresRepository) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM reward_transactions WHERE user_id = $1 ORDER BY created_at DESC`
	args := []interface{}{userID}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, limit)
	}
	if offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", len(args)+1)
		args = append(args, offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []*models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// GetTransaction retrieves a transaction by ID
func (r *PostgresRepository) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	query := `SELECT ` + transactionColumns + ` FROM reward_transactions WHERE id = $1`

	t, err := scanTransaction(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return t, nil
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var t models.Transaction
	var amount int64
	var kind string
	var mirrorRef sql.NullString
	var mirroredAt sql.NullTime

	if err := row.Scan(&t.ID, &t.UserID, &amount, &kind, &t.Description, &t.CreatedAt, &mirrorRef, &mirroredAt); err != nil {
		return nil, err
	}

	t.Amount = models.Amount(amount)
	t.Kind = models.TriggerKind(kind)
	t.MirrorRef = mirrorRef.String
	if mirroredAt.Valid {
		t.MirroredAt = &mirroredAt.Time
	}
	return &t, nil
}

// MarkMirrored stores the chain reference of a transaction
func (r *PostgresRepository) MarkMirrored(ctx context.Context, id, ref string, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE reward_transactions SET mirror_ref = $2, mirrored_at = $3 WHERE id = $1`,
		id, ref, at,
	)
	if err != nil {
		return fmt.Errorf("failed to mark transaction mirrored: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("transaction", id)
	}
	return nil
}

// EnsureRewardPool seeds the single pool row if it does not exist
func (r *PostgresRepository) EnsureRewardPool(ctx context.Context, size models.Amount) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO reward_pool (id, total, remaining)
		VALUES (1, $1, $1)
		ON CONFLICT (id) DO NOTHING
	`, int64(size))
	if err != nil {
		return fmt.Errorf("failed to seed reward pool: %w", err)
	}
	return nil
}

// RewardPoolRemaining returns what is left in the pool and whether it was seeded
func (r *PostgresRepository) RewardPoolRemaining(ctx context.Context) (models.Amount, bool, error) {
	var remaining int64
	err := r.pool.QueryRow(ctx, `SELECT remaining FROM reward_pool WHERE id = 1`).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to read reward pool: %w", err)
	}
	return models.Amount(remaining), true, nil
}

// --- API clients ---

// GetClientByApiKey retrieves an API client by its key
func (r *PostgresRepository) GetClientByApiKey(ctx context.Context, apiKey string) (*models.ApiClient, error) {
	query := `
		SELECT id, name, api_key, is_active, created_at, last_used_at, permissions, metadata
		FROM api_clients
		WHERE api_key = $1
	`

	var client models.ApiClient
	var lastUsedAt sql.NullTime
	var permissionsJSON, metadataJSON []byte

	err := r.pool.QueryRow(ctx, query, apiKey).Scan(
		&client.ID,
		&client.Name,
		&client.ApiKey,
		&client.IsActive,
		&client.CreatedAt,
		&lastUsedAt,
		&permissionsJSON,
		&metadataJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get api client: %w", err)
	}

	if lastUsedAt.Valid {
		client.LastUsedAt = &lastUsedAt.Time
	}

	if permissionsJSON != nil {
		if err := json.Unmarshal(permissionsJSON, &client.Permissions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
		}
	}

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &client.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &client, nil
}

// UpdateClientLastUsed updates the last_used_at timestamp for a client
func (r *PostgresRepository) UpdateClientLastUsed(ctx context.Context, apiKey string) error {
	_, err := r.pool.Exec(ctx, `UPDATE api_clients SET last_used_at = NOW() WHERE api_key = $1`, apiKey)
	if err != nil {
		return fmt.Errorf("failed to update client last_used_at: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
