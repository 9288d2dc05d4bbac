// Package api exposes the chat backend over HTTP for the browser frontend.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/cors"

	"github.com/lalmba/akinyi-chat/internal/auth"
	"github.com/lalmba/akinyi-chat/internal/chat"
	"github.com/lalmba/akinyi-chat/internal/config"
	"github.com/lalmba/akinyi-chat/internal/logger"
	"github.com/lalmba/akinyi-chat/internal/ollama"
	"github.com/lalmba/akinyi-chat/internal/store"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// HealthChecker probes the inference daemon.
type HealthChecker interface {
	Health(ctx context.Context) (ollama.Health, error)
	DefaultModel() string
}

// Server wires the HTTP routes to the auth, chat and store services.
type Server struct {
	cfg   config.Config
	store *store.Store
	auth  *auth.Service
	chat  *chat.Service
	probe HealthChecker
}

// NewServer constructs the API server.
func NewServer(cfg config.Config, st *store.Store, authSvc *auth.Service, chatSvc *chat.Service, probe HealthChecker) *Server {
	return &Server{cfg: cfg, store: st, auth: authSvc, chat: chatSvc, probe: probe}
}

// Handler builds the route table wrapped in CORS for the browser dev origin.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.Handle("POST /auth/logout", s.auth.Require(http.HandlerFunc(s.handleLogout)))
	mux.HandleFunc("GET /auth/session", s.handleSession)

	mux.Handle("POST /chat", s.auth.Require(http.HandlerFunc(s.handleChat)))
	mux.Handle("GET /chat", s.auth.Require(http.HandlerFunc(s.handleHistory)))
	mux.HandleFunc("GET /ollama/health", s.handleOllamaHealth)

	mux.Handle("GET /progress", s.auth.Require(http.HandlerFunc(s.handleListProgress)))
	mux.Handle("POST /progress", s.auth.Require(http.HandlerFunc(s.handleAddProgress)))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.CORS.Origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	})
	return c.Handler(mux)
}

// Start serves HTTP until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Server.Host + ":" + s.cfg.Server.Port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.L.Info("backend listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Name     string `json:"name"`
		FullName string `json:"full_name"`
		Details  string `json:"details"`
		Remember bool   `json:"remember"`
	}
	_ = json.NewDecoder(r.Body).Decode(&payload)

	fullName := payload.Name
	if fullName == "" {
		fullName = payload.FullName
	}

	user, sess, err := s.auth.Register(r.Context(), auth.RegisterRequest{
		Username: payload.Username,
		Password: payload.Password,
		FullName: fullName,
		Details:  payload.Details,
		Remember: payload.Remember,
	})
	var fields auth.FieldErrors
	switch {
	case errors.As(err, &fields):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"message": "Invalid registration data",
			"details": fields,
		})
		return
	case errors.Is(err, store.ErrUsernameTaken):
		writeJSON(w, http.StatusConflict, map[string]any{
			"message": "Username is already taken.",
			"details": map[string]string{"username": "Please choose a different username."},
		})
		return
	case err != nil:
		logger.L.Error("registration failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "Registration failed"})
		return
	}

	http.SetCookie(w, auth.SessionCookie(sess.Token, s.cookieMaxAge(payload.Remember)))
	writeJSON(w, http.StatusCreated, map[string]any{"user": s.userPayload(r.Context(), user)})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Remember bool   `json:"remember"`
	}
	_ = json.NewDecoder(r.Body).Decode(&payload)

	user, sess, err := s.auth.Login(r.Context(), payload.Username, payload.Password, payload.Remember)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid username or password."})
		return
	}
	if err != nil {
		logger.L.Error("login failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "Login failed"})
		return
	}

	http.SetCookie(w, auth.SessionCookie(sess.Token, s.cookieMaxAge(payload.Remember)))
	writeJSON(w, http.StatusOK, map[string]any{"user": s.userPayload(r.Context(), user)})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(auth.CookieName); err == nil {
		if err := s.auth.Logout(r.Context(), cookie.Value); err != nil {
			logger.L.Warn("logout failed", "error", err)
		}
	}
	http.SetCookie(w, auth.ClearCookie())
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(auth.CookieName)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"user": nil})
		return
	}
	user, err := s.auth.Authenticate(r.Context(), cookie.Value)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"user": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": s.userPayload(r.Context(), user)})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	var req chat.Request
	_ = json.NewDecoder(r.Body).Decode(&req)

	reply, err := s.chat.Handle(r.Context(), user, req)
	if errors.Is(err, chat.ErrEmptyMessage) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Message is required"})
		return
	}
	var derr *chat.DaemonError
	if errors.As(err, &derr) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": "Mama Akinyi is offline.",
			"details": map[string]any{
				"reason":     derr.Reason(),
				"suggestion": derr.Suggestion,
				"model":      derr.Model,
			},
		})
		return
	}
	if err != nil {
		logger.L.Error("chat turn failed", "user_id", user.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Chat failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"reply": reply.Text,
		"chat": map[string]any{
			"user_message":      reply.UserTurn,
			"assistant_message": reply.AssistantTurn,
		},
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	limit = max(1, min(limit, maxHistoryLimit))

	turns, err := s.store.RecentTurns(r.Context(), user.ID, limit)
	if err != nil {
		logger.L.Error("history fetch failed", "user_id", user.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Could not load history"})
		return
	}
	// Chronological order for display.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	if turns == nil {
		turns = []store.Turn{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": turns})
}

func (s *Server) handleOllamaHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.probe.Health(r.Context())
	if err != nil {
		logger.L.Warn("ollama health check failed", "error", err)
		reason := ""
		var oerr *ollama.Error
		if errors.As(err, &oerr) {
			reason = oerr.Reason
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "offline",
			"error":  err.Error(),
			"details": map[string]any{
				"reason":     reason,
				"suggestion": "Ensure the Ollama daemon is running (e.g. run `ollama run " + s.probe.DefaultModel() + "`).",
			},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "online", "ollama": health})
}

func (s *Server) handleListProgress(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	entries, err := s.store.ListProgress(r.Context(), user.ID)
	if err != nil {
		logger.L.Error("progress fetch failed", "user_id", user.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Could not load progress"})
		return
	}
	if entries == nil {
		entries = []store.Progress{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"progress": entries})
}

func (s *Server) handleAddProgress(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	var payload struct {
		Milestone string `json:"milestone"`
		Notes     string `json:"notes"`
	}
	_ = json.NewDecoder(r.Body).Decode(&payload)

	milestone := strings.TrimSpace(payload.Milestone)
	if milestone == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Milestone is required"})
		return
	}

	entry, err := s.store.AddProgress(r.Context(), user.ID, milestone, strings.TrimSpace(payload.Notes))
	if err != nil {
		logger.L.Error("progress write failed", "user_id", user.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Could not save progress"})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"progress": entry})
}

// userPayload composes the user response with its registration profile.
func (s *Server) userPayload(ctx context.Context, user store.User) map[string]any {
	payload := map[string]any{
		"id":         user.ID,
		"username":   user.Username,
		"created_at": user.CreatedAt,
	}
	profile, err := s.store.ProfileByUserID(ctx, user.ID)
	if err != nil {
		payload["profile"] = nil
		return payload
	}
	payload["profile"] = profile
	return payload
}

func (s *Server) cookieMaxAge(remember bool) int {
	if !remember {
		return 0 // session-scoped cookie
	}
	return int(s.cfg.Session.RememberTTL.Seconds())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

