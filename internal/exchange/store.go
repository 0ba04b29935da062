// Package exchange keeps cultural exchanges and their participants. It is the
// source of participation counts for achievements.
package exchange

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Exchange is a cultural exchange hosted by a user
type Exchange struct {
	ID          string    `db:"id" json:"id"`
	HostUserID  string    `db:"host_user_id" json:"host_user_id"`
	Title       string    `db:"title" json:"title"`
	Language    string    `db:"language" json:"language"`
	Description string    `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Participant is one user's membership of an exchange
type Participant struct {
	ExchangeID string    `db:"exchange_id" json:"exchange_id"`
	UserID     string    `db:"user_id" json:"user_id"`
	JoinedAt   time.Time `db:"joined_at" json:"joined_at"`
}

// Store persists exchanges with sqlx on postgres or sqlite
type Store struct {
	db *sqlx.DB
}

// Open connects to driver ("postgres" or "sqlite3") and creates the schema
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case "postgres", "sqlite3":
	default:
		return nil, fmt.Errorf("unsupported exchange driver %q", driver)
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to exchange database: %w", err)
	}

	if driver == "sqlite3" {
		// sqlite allows a single writer; in-memory databases exist per connection
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS cultural_exchanges (
			id TEXT PRIMARY KEY,
			host_user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			language TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS exchange_participants (
			exchange_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			joined_at TIMESTAMP NOT NULL,
			PRIMARY KEY (exchange_id, user_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_exchange_participants_user ON exchange_participants (user_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create exchange schema: %w", err)
		}
	}
	return nil
}

// Create stores an exchange and enrolls its host as the first participant
func (s *Store) Create(ctx context.Context, ex *Exchange) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO cultural_exchanges (id, host_user_id, title, language, description, created_at)
		VALUES (:id, :host_user_id, :title, :language, :description, :created_at)
	`, ex)
	if err != nil {
		return fmt.Errorf("failed to create exchange: %w", err)
	}

	if _, err := s.join(ctx, tx, ex.ID, ex.HostUserID, ex.CreatedAt); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit exchange: %w", err)
	}
	return nil
}

// Get returns the exchange with id, or nil
func (s *Store) Get(ctx context.Context, id string) (*Exchange, error) {
	var ex Exchange
	err := s.db.GetContext(ctx, &ex, s.db.Rebind(`SELECT * FROM cultural_exchanges WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get exchange: %w", err)
	}
	return &ex, nil
}

// Join enrolls userID in the exchange and reports whether it was a new enrollment
func (s *Store) Join(ctx context.Context, exchangeID, userID string, at time.Time) (bool, error) {
	return s.join(ctx, s.db, exchangeID, userID, at)
}

func (s *Store) join(ctx context.Context, db sqlx.ExtContext, exchangeID, userID string, at time.Time) (bool, error) {
	query := db.Rebind(`
		INSERT INTO exchange_participants (exchange_id, user_id, joined_at)
		VALUES (?, ?, ?)
		ON CONFLICT (exchange_id, user_id) DO NOTHING
	`)

	res, err := db.ExecContext(ctx, query, exchangeID, userID, at)
	if err != nil {
		return false, fmt.Errorf("failed to join exchange: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read join result: %w", err)
	}
	return n == 1, nil
}

// Participants lists the members of an exchange in join order
func (s *Store) Participants(ctx context.Context, exchangeID string) ([]Participant, error) {
	var out []Participant
	err := s.db.SelectContext(ctx, &out,
		s.db.Rebind(`SELECT * FROM exchange_participants WHERE exchange_id = ? ORDER BY joined_at ASC`),
		exchangeID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	return out, nil
}

// ListForUser returns the exchanges userID takes part in, newest first
func (s *Store) ListForUser(ctx context.Context, userID string, limit int) ([]Exchange, error) {
	query := `
		SELECT e.id, e.host_user_id, e.title, e.language, e.description, e.created_at
		FROM cultural_exchanges e
		JOIN exchange_participants p ON p.exchange_id = e.id
		WHERE p.user_id = ?
		ORDER BY e.created_at DESC
	`
	args := []interface{}{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var out []Exchange
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(strings.TrimSpace(query)), args...); err != nil {
		return nil, fmt.Errorf("failed to list exchanges: %w", err)
	}
	return out, nil
}

// ParticipationCount returns how many exchanges userID takes part in
func (s *Store) ParticipationCount(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		s.db.Rebind(`SELECT COUNT(*) FROM exchange_participants WHERE user_id = ?`),
		userID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to count participations: %w", err)
	}
	return n, nil
}
