package chat

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/gethome/companion/backend/internal/auth"
	"github.com/gethome/companion/backend/internal/config"
	middlewarePkg "github.com/gethome/companion/backend/internal/middleware"
	"github.com/gethome/companion/backend/internal/service/ai"
	chatservice "github.com/gethome/companion/backend/internal/service/chat"
	profileservice "github.com/gethome/companion/backend/internal/service/profile"
)

const testSecret = "test-secret"

type testEnv struct {
	router        *chi.Mux
	profileCalls  *atomic.Int32
	profileStatus *atomic.Int32
}

func setupRouter(t *testing.T) *testEnv {
	t.Helper()

	calls := &atomic.Int32{}
	status := &atomic.Int32{}
	status.Store(http.StatusServiceUnavailable)
	profileSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if code := int(status.Load()); code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"alias":"Mia","interests":["jazz"]}`))
	}))
	t.Cleanup(profileSrv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	validator, err := auth.NewValidator(config.AuthConfig{Algorithm: "HS256", Secret: testSecret})
	if err != nil {
		t.Fatalf("NewValidator err: %v", err)
	}
	fetcher := profileservice.NewFetcher(config.ProfileConfig{
		URLTemplate: profileSrv.URL + "/api/users/{user_id}/profile",
		Timeout:     time.Second,
	})
	factory := ai.NewFactory(config.AIConfig{
		Provider: config.ProviderOpenAI,
		APIKey:   config.PlaceholderAPIKey,
		Model:    "gpt-3.5-turbo",
	}, logger)
	gateway := chatservice.NewGateway(validator, fetcher, factory, chatservice.NewRegistry(), chatservice.WithLogger(logger))

	r := chi.NewRouter()
	r.Use(middlewarePkg.QueryCredential(QueryCredentialParam))
	New(gateway, logger, []string{"http://localhost:3000"}).RegisterRoutes(r)
	return &testEnv{router: r, profileCalls: calls, profileStatus: status}
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func tokenFor(t *testing.T, subject string) string {
	return signToken(t, jwt.MapClaims{"sub": subject, "exp": time.Now().Add(time.Hour).Unix()})
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(v)
	default:
		payload, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	e.router.ServeHTTP(resp, req)
	return resp
}

func (e *testEnv) openSession(t *testing.T, token string) string {
	t.Helper()

	resp := e.do(t, http.MethodPost, "/chat/sessions", token, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var created struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if created.SessionID == "" {
		t.Fatal("expected a session id")
	}
	return created.SessionID
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body["error"]
}

func TestOpenSendCloseDegraded(t *testing.T) {
	env := setupRouter(t)
	token := tokenFor(t, "u1")

	id := env.openSession(t, token)
	if env.profileCalls.Load() != 1 {
		t.Fatalf("expected one profile lookup, got %d", env.profileCalls.Load())
	}

	resp := env.do(t, http.MethodPost, "/chat/sessions/"+id+"/message", token, map[string]string{"message": "hello"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var reply struct {
		Reply     string    `json:"reply"`
		Timestamp time.Time `json:"timestamp"`
		Emergency bool      `json:"emergency"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if !strings.Contains(reply.Reply, "hello") {
		t.Fatalf("expected reply to echo the message, got %q", reply.Reply)
	}
	if reply.Timestamp.IsZero() || reply.Emergency {
		t.Fatalf("unexpected reply metadata: %+v", reply)
	}

	second := env.do(t, http.MethodPost, "/chat/sessions/"+id+"/message", token, map[string]string{"message": "how far?"})
	if second.Code != http.StatusOK || !strings.Contains(second.Body.String(), "how far?") {
		t.Fatalf("expected an independent second reply, got %d: %s", second.Code, second.Body.String())
	}

	closed := env.do(t, http.MethodPost, "/chat/sessions/"+id, token, nil)
	if closed.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", closed.Code)
	}
	if closed.Body.Len() != 0 {
		t.Fatalf("expected empty body, got %q", closed.Body.String())
	}

	after := env.do(t, http.MethodPost, "/chat/sessions/"+id+"/message", token, map[string]string{"message": "hello"})
	if after.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after close, got %d", after.Code)
	}
}

func TestOpenSessionWithProfile(t *testing.T) {
	env := setupRouter(t)
	env.profileStatus.Store(http.StatusOK)

	env.openSession(t, tokenFor(t, "u1"))
	if env.profileCalls.Load() != 1 {
		t.Fatalf("expected one profile lookup, got %d", env.profileCalls.Load())
	}
}

func TestOpenSessionRejectsBadCredentials(t *testing.T) {
	env := setupRouter(t)
	expired := signToken(t, jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(-time.Hour).Unix()})

	for name, token := range map[string]string{
		"missing":   "",
		"malformed": "not-a-jwt",
		"expired":   expired,
	} {
		t.Run(name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/chat/sessions", token, nil)
			if resp.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", resp.Code)
			}
		})
	}
	if env.profileCalls.Load() != 0 {
		t.Fatal("profile service must not be called for rejected credentials")
	}
}

func TestOpenSessionMissingSubject(t *testing.T) {
	env := setupRouter(t)
	token := signToken(t, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})

	resp := env.do(t, http.MethodPost, "/chat/sessions", token, nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if msg := decodeError(t, resp); msg != msgMissingSubject {
		t.Fatalf("unexpected error message %q", msg)
	}
}

func TestForeignSessionIsNotFound(t *testing.T) {
	env := setupRouter(t)
	owner := tokenFor(t, "u1")
	other := tokenFor(t, "u2")
	id := env.openSession(t, owner)

	send := env.do(t, http.MethodPost, "/chat/sessions/"+id+"/message", other, map[string]string{"message": "hello"})
	if send.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign send, got %d", send.Code)
	}
	if msg := decodeError(t, send); msg != msgSessionNotFound {
		t.Fatalf("unexpected error message %q", msg)
	}

	closeResp := env.do(t, http.MethodPost, "/chat/sessions/"+id, other, nil)
	if closeResp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign close, got %d", closeResp.Code)
	}

	// The owner's session survives the foreign attempts.
	ok := env.do(t, http.MethodPost, "/chat/sessions/"+id+"/message", owner, map[string]string{"message": "hello"})
	if ok.Code != http.StatusOK {
		t.Fatalf("expected 200 for owner, got %d", ok.Code)
	}
}

func TestSessionScopedRequestsRequireCredentials(t *testing.T) {
	env := setupRouter(t)
	id := env.openSession(t, tokenFor(t, "u1"))

	send := env.do(t, http.MethodPost, "/chat/sessions/"+id+"/message", "", map[string]string{"message": "hello"})
	if send.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", send.Code)
	}
	closeResp := env.do(t, http.MethodPost, "/chat/sessions/"+id, "garbage", nil)
	if closeResp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", closeResp.Code)
	}

	noSubject := signToken(t, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	resp := env.do(t, http.MethodPost, "/chat/sessions/"+id+"/message", noSubject, map[string]string{"message": "hello"})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for token without subject, got %d", resp.Code)
	}
}

func TestSendMessageUnknownSession(t *testing.T) {
	env := setupRouter(t)

	resp := env.do(t, http.MethodPost, "/chat/sessions/does-not-exist/message", tokenFor(t, "u1"), map[string]string{"message": "hello"})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	closeResp := env.do(t, http.MethodPost, "/chat/sessions/does-not-exist", tokenFor(t, "u1"), nil)
	if closeResp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", closeResp.Code)
	}
}

func TestSendMessageBadBody(t *testing.T) {
	env := setupRouter(t)
	token := tokenFor(t, "u1")
	id := env.openSession(t, token)

	cases := map[string]any{
		"not json":      "{",
		"empty message": map[string]string{"message": "  "},
		"no message":    map[string]string{},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/chat/sessions/"+id+"/message", token, body)
			if resp.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.Code)
			}
		})
	}
}

func TestSendMessageChecksSessionBeforeBody(t *testing.T) {
	env := setupRouter(t)
	id := env.openSession(t, tokenFor(t, "u1"))
	other := tokenFor(t, "u2")

	cases := map[string]struct {
		path string
		body any
	}{
		"foreign session, empty message":  {path: "/chat/sessions/" + id + "/message", body: map[string]string{"message": ""}},
		"foreign session, malformed body": {path: "/chat/sessions/" + id + "/message", body: "{"},
		"unknown session, malformed body": {path: "/chat/sessions/missing/message", body: "{"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, tc.path, other, tc.body)
			if resp.Code != http.StatusNotFound {
				t.Fatalf("expected 404, got %d", resp.Code)
			}
		})
	}
}

func TestSendMessageDistressInDegradedMode(t *testing.T) {
	env := setupRouter(t)
	token := tokenFor(t, "u1")
	id := env.openSession(t, token)

	resp := env.do(t, http.MethodPost, "/chat/sessions/"+id+"/message", token, map[string]string{"message": "someone is following me"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var reply struct {
		Reply     string `json:"reply"`
		Emergency bool   `json:"emergency"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if !reply.Emergency || !strings.HasPrefix(reply.Reply, ai.EmergencyMarkerPrefix) {
		t.Fatalf("expected an emergency reply, got %+v", reply)
	}
}
