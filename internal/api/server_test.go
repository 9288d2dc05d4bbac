package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lalmba/akinyi-chat/internal/auth"
	"github.com/lalmba/akinyi-chat/internal/chat"
	"github.com/lalmba/akinyi-chat/internal/config"
	"github.com/lalmba/akinyi-chat/internal/ollama"
	"github.com/lalmba/akinyi-chat/internal/store"
)

type fakeGenerator struct {
	reply string
	err   error
}

func (f *fakeGenerator) Generate(_ context.Context, _, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeGenerator) DefaultModel() string { return "llama2" }

type fakeProbe struct {
	health ollama.Health
	err    error
}

func (f *fakeProbe) Health(_ context.Context) (ollama.Health, error) {
	if f.err != nil {
		return ollama.Health{}, f.err
	}
	return f.health, nil
}

func (f *fakeProbe) DefaultModel() string { return "llama2" }

func newTestServer(t *testing.T, gen *fakeGenerator, probe *fakeProbe) *httptest.Server {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.Config{
		CORS:    config.CORSConfig{Origins: []string{"http://localhost:3000"}},
		Session: config.SessionConfig{TTL: time.Hour, RememberTTL: 24 * time.Hour},
	}
	authSvc := auth.NewService(st, cfg.Session.TTL, cfg.Session.RememberTTL)
	chatSvc := chat.New(st, gen)

	srv := httptest.NewServer(NewServer(cfg, st, authSvc, chatSvc, probe).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}

func postJSON(t *testing.T, client *http.Client, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := client.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func register(t *testing.T, client *http.Client, base, username string) {
	t.Helper()
	resp := postJSON(t, client, base+"/auth/register", map[string]any{
		"username": username,
		"password": "1234",
		"name":     "Juma Otieno",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
}

func TestRegisterLoginSession(t *testing.T) {
	srv := newTestServer(t, &fakeGenerator{reply: "sawa"}, &fakeProbe{})
	client := newClient(t)

	// Invalid registration.
	resp := postJSON(t, client, srv.URL+"/auth/register", map[string]any{"username": "", "password": "ab"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode(t, resp)
	require.Equal(t, "Invalid registration data", body["message"])

	register(t, client, srv.URL, "juma")

	// Duplicate username.
	other := newClient(t)
	resp = postJSON(t, other, srv.URL+"/auth/register", map[string]any{
		"username": "juma", "password": "1234", "name": "Another",
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	// Registration set a session cookie.
	resp, err := client.Get(srv.URL + "/auth/session")
	require.NoError(t, err)
	body = decode(t, resp)
	user, ok := body["user"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "juma", user["username"])
	profile, ok := user["profile"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "Juma Otieno", profile["full_name"])

	// Bad login.
	resp = postJSON(t, newClient(t), srv.URL+"/auth/login", map[string]any{
		"username": "juma", "password": "wrong",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	// Good login from a fresh client.
	fresh := newClient(t)
	resp = postJSON(t, fresh, srv.URL+"/auth/login", map[string]any{
		"username": "juma", "password": "1234",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Logout clears the session.
	resp = postJSON(t, fresh, srv.URL+"/auth/logout", map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	resp, err = fresh.Get(srv.URL + "/auth/session")
	require.NoError(t, err)
	body = decode(t, resp)
	require.Nil(t, body["user"])
}

func TestChatRequiresAuth(t *testing.T) {
	srv := newTestServer(t, &fakeGenerator{reply: "sawa"}, &fakeProbe{})

	resp := postJSON(t, newClient(t), srv.URL+"/chat", map[string]any{"message": "Niaje"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestChatRoundTripAndHistory(t *testing.T) {
	srv := newTestServer(t, &fakeGenerator{reply: "Karibu, mwanangu."}, &fakeProbe{})
	client := newClient(t)
	register(t, client, srv.URL, "juma")

	resp := postJSON(t, client, srv.URL+"/chat", map[string]any{"message": "Nina shida"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	require.Equal(t, "Karibu, mwanangu.", body["reply"])
	turns, ok := body["chat"].(map[string]any)
	require.True(t, ok)
	require.NotNil(t, turns["user_message"])
	require.NotNil(t, turns["assistant_message"])

	// Blank message.
	resp = postJSON(t, client, srv.URL+"/chat", map[string]any{"message": "   "})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// History comes back oldest first.
	resp, err := client.Get(srv.URL + "/chat?limit=50")
	require.NoError(t, err)
	body = decode(t, resp)
	history, ok := body["history"].([]any)
	require.True(t, ok)
	require.Len(t, history, 2)
	first := history[0].(map[string]any)
	last := history[1].(map[string]any)
	require.Equal(t, "user", first["sender"])
	require.Equal(t, "Nina shida", first["message"])
	require.Equal(t, "assistant", last["sender"])
}

func TestChatDaemonOffline(t *testing.T) {
	gen := &fakeGenerator{err: &ollama.Error{Kind: ollama.KindUnreachable, Reason: "connection refused"}}
	srv := newTestServer(t, gen, &fakeProbe{})
	client := newClient(t)
	register(t, client, srv.URL, "juma")

	resp := postJSON(t, client, srv.URL+"/chat", map[string]any{"message": "Niaje", "model": "mistral"})
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	body := decode(t, resp)
	require.Equal(t, "Mama Akinyi is offline.", body["error"])
	details := body["details"].(map[string]any)
	require.Equal(t, "connection refused", details["reason"])
	require.Equal(t, "mistral", details["model"])
	require.Contains(t, details["suggestion"], "ollama run mistral")

	// The user's message is retained despite the failure.
	resp, err := client.Get(srv.URL + "/chat")
	require.NoError(t, err)
	body = decode(t, resp)
	history := body["history"].([]any)
	require.Len(t, history, 1)
}

func TestOllamaHealthEndpoint(t *testing.T) {
	probe := &fakeProbe{health: ollama.Health{Models: []string{"llama2"}, BaseURL: "http://localhost:11434"}}
	srv := newTestServer(t, &fakeGenerator{reply: "sawa"}, probe)

	resp, err := http.Get(srv.URL + "/ollama/health")
	require.NoError(t, err)
	body := decode(t, resp)
	require.Equal(t, "online", body["status"])

	probe.err = &ollama.Error{Kind: ollama.KindUnreachable, Reason: "connection refused"}
	resp, err = http.Get(srv.URL + "/ollama/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	body = decode(t, resp)
	require.Equal(t, "offline", body["status"])
	details := body["details"].(map[string]any)
	require.Equal(t, "connection refused", details["reason"])
	require.Contains(t, details["suggestion"], "ollama run llama2")
}

func TestProgressEndpoints(t *testing.T) {
	srv := newTestServer(t, &fakeGenerator{reply: "sawa"}, &fakeProbe{})
	client := newClient(t)
	register(t, client, srv.URL, "juma")

	resp := postJSON(t, client, srv.URL+"/progress", map[string]any{"milestone": "  "})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, client, srv.URL+"/progress", map[string]any{
		"milestone": "Learned greetings",
		"notes":     "Niaje, habari",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp, err := client.Get(srv.URL + "/progress")
	require.NoError(t, err)
	body := decode(t, resp)
	entries := body["progress"].([]any)
	require.Len(t, entries, 1)
	entry := entries[0].(map[string]any)
	require.Equal(t, "Learned greetings", entry["milestone"])
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeGenerator{reply: "sawa"}, &fakeProbe{})
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	body := decode(t, resp)
	require.Equal(t, true, body["ok"])
}
