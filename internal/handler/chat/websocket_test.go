package chat

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialSession(t *testing.T, env *testEnv, id, token string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/sessions/" + id + "/ws"
	if token != "" {
		u += "?" + QueryCredentialParam + "=" + url.QueryEscape(token)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(u, header)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func TestWebSocketChat(t *testing.T) {
	env := setupRouter(t)
	token := tokenFor(t, "u1")
	id := env.openSession(t, token)

	conn, _, err := dialSession(t, env, id, token, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := conn.WriteJSON(map[string]string{"message": "hello"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var reply struct {
		Reply     string `json:"reply"`
		Emergency bool   `json:"emergency"`
		Error     string `json:"error"`
	}
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read: %v", err)
	}
	if reply.Error != "" || !strings.Contains(reply.Reply, "hello") {
		t.Fatalf("unexpected frame: %+v", reply)
	}

	if err := conn.WriteJSON(map[string]string{"message": " "}); err != nil {
		t.Fatalf("write: %v", err)
	}
	reply.Reply, reply.Error = "", ""
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read: %v", err)
	}
	if reply.Error == "" {
		t.Fatalf("expected an error frame for an empty message, got %+v", reply)
	}
}

func TestWebSocketEndsWhenSessionCloses(t *testing.T) {
	env := setupRouter(t)
	token := tokenFor(t, "u1")
	id := env.openSession(t, token)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := dialSession(t, env, id, "", header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if resp := env.do(t, http.MethodPost, "/chat/sessions/"+id, token, nil); resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}

	if err := conn.WriteJSON(map[string]string{"message": "hello"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var frame struct {
		Error string `json:"error"`
	}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read: %v", err)
	}
	if frame.Error != msgSessionNotFound {
		t.Fatalf("expected session error frame, got %+v", frame)
	}
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal closure, got %v", err)
	}
}

func TestWebSocketRejectsHandshake(t *testing.T) {
	env := setupRouter(t)
	owner := tokenFor(t, "u1")
	id := env.openSession(t, owner)

	cases := []struct {
		name   string
		token  string
		header http.Header
		want   int
	}{
		{name: "no credential", want: http.StatusUnauthorized},
		{name: "foreign owner", token: tokenFor(t, "u2"), want: http.StatusNotFound},
		{name: "disallowed origin", token: owner, header: http.Header{"Origin": []string{"http://evil.example"}}, want: http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, resp, err := dialSession(t, env, id, tc.token, tc.header)
			if err == nil {
				t.Fatal("expected handshake to fail")
			}
			if resp == nil || resp.StatusCode != tc.want {
				t.Fatalf("expected status %d, got %+v", tc.want, resp)
			}
		})
	}
}
