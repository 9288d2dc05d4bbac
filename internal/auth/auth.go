// Package auth provides password credentials and cookie-backed login
// sessions on top of the SQLite store.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/lalmba/akinyi-chat/internal/logger"
	"github.com/lalmba/akinyi-chat/internal/store"
)

// CookieName is the session cookie set on login and registration.
const CookieName = "akinyi_session"

const minPasswordLen = 4

// Errors returned by the authentication service.
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrNotAuthenticated   = errors.New("authentication required")
)

// FieldErrors maps input field names to validation messages.
type FieldErrors map[string]string

func (f FieldErrors) Error() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return "invalid registration data: " + strings.Join(keys, ", ")
}

// RegisterRequest carries the registration form fields.
type RegisterRequest struct {
	Username string
	Password string
	FullName string
	Details  string
	Remember bool
}

// Service issues and resolves login sessions.
type Service struct {
	store       *store.Store
	ttl         time.Duration
	rememberTTL time.Duration
}

// NewService creates an authentication service. rememberTTL applies when the
// caller asks to stay logged in.
func NewService(st *store.Store, ttl, rememberTTL time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if rememberTTL < ttl {
		rememberTTL = ttl
	}
	return &Service{store: st, ttl: ttl, rememberTTL: rememberTTL}
}

// HashPassword hashes a raw password with bcrypt.
func HashPassword(raw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword validates a raw password against a stored bcrypt hash.
func CheckPassword(hash, raw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw)) == nil
}

// Register creates a new account plus profile and opens a session for it.
// Returns FieldErrors for bad input and store.ErrUsernameTaken on conflict.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (store.User, store.Session, error) {
	username := strings.TrimSpace(req.Username)
	password := strings.TrimSpace(req.Password)
	fullName := strings.TrimSpace(req.FullName)

	fields := FieldErrors{}
	if username == "" {
		fields["username"] = "Username is required."
	}
	if password == "" {
		fields["password"] = "Password/PIN is required."
	} else if len(password) < minPasswordLen {
		fields["password"] = fmt.Sprintf("Password must be at least %d characters.", minPasswordLen)
	}
	if fullName == "" {
		fields["name"] = "Name is required."
	}
	if len(fields) > 0 {
		return store.User{}, store.Session{}, fields
	}

	hash, err := HashPassword(password)
	if err != nil {
		return store.User{}, store.Session{}, err
	}

	user, err := s.store.CreateUser(ctx, username, hash, store.Profile{
		FullName: fullName,
		Details:  strings.TrimSpace(req.Details),
	})
	if err != nil {
		return store.User{}, store.Session{}, err
	}
	logger.L.Info("user registered", "user_id", user.ID, "username", user.Username)

	sess, err := s.StartSession(ctx, user.ID, req.Remember)
	if err != nil {
		return store.User{}, store.Session{}, err
	}
	return user, sess, nil
}

// Login verifies credentials and opens a session.
func (s *Service) Login(ctx context.Context, username, password string, remember bool) (store.User, store.Session, error) {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)
	if username == "" || password == "" {
		return store.User{}, store.Session{}, ErrInvalidCredentials
	}

	user, err := s.store.UserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, store.Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.User{}, store.Session{}, err
	}
	if !CheckPassword(user.PasswordHash, password) {
		return store.User{}, store.Session{}, ErrInvalidCredentials
	}

	sess, err := s.StartSession(ctx, user.ID, remember)
	if err != nil {
		return store.User{}, store.Session{}, err
	}
	return user, sess, nil
}

// StartSession persists a new session with a random token.
func (s *Service) StartSession(ctx context.Context, userID int64, remember bool) (store.Session, error) {
	ttl := s.ttl
	if remember {
		ttl = s.rememberTTL
	}
	now := time.Now().UTC()
	sess := store.Session{
		Token:     uuid.NewString(),
		UserID:    userID,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return store.Session{}, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// Logout deletes the session for the given token.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.store.DeleteSession(ctx, token)
}

// Authenticate resolves a session token to its user.
func (s *Service) Authenticate(ctx context.Context, token string) (store.User, error) {
	if token == "" {
		return store.User{}, ErrNotAuthenticated
	}
	sess, err := s.store.SessionByToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, ErrNotAuthenticated
	}
	if err != nil {
		return store.User{}, err
	}
	user, err := s.store.UserByID(ctx, sess.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, ErrNotAuthenticated
	}
	return user, err
}
