// Package store provides SQLite-based persistence for users, sessions,
// chat history and learning progress. The schema is created on open.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// Errors returned by the store.
var (
	ErrNotFound      = errors.New("record not found")
	ErrUsernameTaken = errors.New("username is already taken")
)

// Chat message senders.
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS user_profiles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
		full_name TEXT NOT NULL,
		details TEXT,
		created_at DATETIME NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS chats (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		message TEXT NOT NULL,
		sender TEXT NOT NULL,
		timestamp DATETIME NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_chats_user_time ON chats(user_id, timestamp);`,
	`CREATE TABLE IF NOT EXISTS progress (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		milestone TEXT NOT NULL,
		notes TEXT,
		created_at DATETIME NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS sessions (
		token TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		expires_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL
	);`,
}

// User is a persisted account with credentials.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Profile holds the optional metadata captured during registration.
type Profile struct {
	FullName  string    `json:"full_name"`
	Details   string    `json:"details,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Turn is a single chat message between a user and the assistant persona.
type Turn struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Message   string    `json:"message"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

// Progress is a recorded learning milestone.
type Progress struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Milestone string    `json:"milestone"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is a server-side login session addressed by its cookie token.
type Session struct {
	Token     string
	UserID    int64
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and applies
// the schema. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_busy_timeout=10000&_fk=1")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer; a single pooled connection also keeps
	// ":memory:" databases visible across queries.
	db.SetMaxOpenConns(1)
	for _, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateUser inserts a new account together with its profile in one
// transaction. Returns ErrUsernameTaken when the username already exists.
func (s *Store) CreateUser(ctx context.Context, username, passwordHash string, profile Profile) (User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return User{}, err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM users WHERE username = ?;`, username).Scan(&exists)
	if err != nil {
		return User{}, err
	}
	if exists > 0 {
		return User{}, ErrUsernameTaken
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, created_at) VALUES (?,?,?);`,
		username, passwordHash, now)
	if err != nil {
		return User{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return User{}, err
	}

	details := sql.NullString{String: profile.Details, Valid: profile.Details != ""}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_profiles (user_id, full_name, details, created_at) VALUES (?,?,?,?);`,
		id, profile.FullName, details, now); err != nil {
		return User{}, err
	}

	if err := tx.Commit(); err != nil {
		return User{}, err
	}
	return User{ID: id, Username: username, PasswordHash: passwordHash, CreatedAt: now}, nil
}

// UserByUsername looks up an account by its unique username.
func (s *Store) UserByUsername(ctx context.Context, username string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE username = ?;`, username))
}

// UserByID looks up an account by id.
func (s *Store) UserByID(ctx context.Context, id int64) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE id = ?;`, id))
}

func (s *Store) scanUser(row *sql.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// ProfileByUserID returns the registration profile for a user, if any.
func (s *Store) ProfileByUserID(ctx context.Context, userID int64) (Profile, error) {
	var p Profile
	var details sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT full_name, details, created_at FROM user_profiles WHERE user_id = ?;`, userID).
		Scan(&p.FullName, &details, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	p.Details = details.String
	return p, nil
}

// AppendTurn persists one chat message and returns the stored record.
func (s *Store) AppendTurn(ctx context.Context, userID int64, sender, message string) (Turn, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (user_id, message, sender, timestamp) VALUES (?,?,?,?);`,
		userID, message, sender, now)
	if err != nil {
		return Turn{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Turn{}, err
	}
	return Turn{ID: id, UserID: userID, Message: message, Sender: sender, Timestamp: now}, nil
}

// RecentTurns returns up to limit of the user's most recent chat messages,
// most recent first.
func (s *Store) RecentTurns(ctx context.Context, userID int64, limit int) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, message, sender, timestamp FROM chats
		 WHERE user_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?;`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.UserID, &t.Message, &t.Sender, &t.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// AddProgress persists a learning milestone for the user.
func (s *Store) AddProgress(ctx context.Context, userID int64, milestone, notes string) (Progress, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO progress (user_id, milestone, notes, created_at) VALUES (?,?,?,?);`,
		userID, milestone, sql.NullString{String: notes, Valid: notes != ""}, now)
	if err != nil {
		return Progress{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Progress{}, err
	}
	return Progress{ID: id, UserID: userID, Milestone: milestone, Notes: notes, CreatedAt: now}, nil
}

// ListProgress returns the user's milestones, newest first.
func (s *Store) ListProgress(ctx context.Context, userID int64) ([]Progress, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, milestone, notes, created_at FROM progress
		 WHERE user_id = ? ORDER BY created_at DESC, id DESC;`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Progress
	for rows.Next() {
		var p Progress
		var notes sql.NullString
		if err := rows.Scan(&p.ID, &p.UserID, &p.Milestone, &notes, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Notes = notes.String
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreateSession stores a login session.
func (s *Store) CreateSession(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (token, user_id, expires_at, created_at) VALUES (?,?,?,?);`,
		sess.Token, sess.UserID, sess.ExpiresAt, sess.CreatedAt)
	return err
}

// SessionByToken returns the session for a cookie token. Expired sessions are
// deleted on sight and reported as ErrNotFound.
func (s *Store) SessionByToken(ctx context.Context, token string) (Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx,
		`SELECT token, user_id, expires_at, created_at FROM sessions WHERE token = ?;`, token).
		Scan(&sess.Token, &sess.UserID, &sess.ExpiresAt, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	if time.Now().After(sess.ExpiresAt) {
		_ = s.DeleteSession(ctx, token)
		return Session{}, ErrNotFound
	}
	return sess, nil
}

// DeleteSession removes a session, logging the user out.
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?;`, token)
	return err
}
