package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/nbianchi/tasktalk/internal/agent"
	"github.com/nbianchi/tasktalk/internal/config"
	"github.com/nbianchi/tasktalk/internal/conversation"
	"github.com/nbianchi/tasktalk/internal/identity"
	"github.com/nbianchi/tasktalk/internal/orchestrator"
	"github.com/nbianchi/tasktalk/internal/reliability"
	"github.com/nbianchi/tasktalk/internal/taskstore"
)

const testSecret = "test-secret"

func signToken(t *testing.T, userID string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func newTestServer(t *testing.T) (*httptest.Server, conversation.Store) {
	t.Helper()
	convs := conversation.NewInMemoryStore()
	tasks := taskstore.NewInMemoryStore()
	policy := reliability.Policy{Retries: 2, Delay: 0}
	orch := orchestrator.New(convs, tasks, agent.NewMockAgent(), policy, nil, nil, orchestrator.Options{})

	cfg := config.Config{AllowAnyOrigin: true}
	srv := New(cfg, identity.NewJWTVerifier(testSecret), orch, convs, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, convs
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealthEndpointsUnauthenticated(t *testing.T) {
	ts, _ := newTestServer(t)
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s: status %d", path, resp.StatusCode)
		}
	}
}

func TestAuthRejectionIsUniform(t *testing.T) {
	ts, _ := newTestServer(t)

	cases := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"garbage", "not-a-token"},
		{"wrong key", func() string {
			tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "alice"})
			s, _ := tok.SignedString([]byte("other-secret"))
			return s
		}()},
	}
	for _, tc := range cases {
		resp := doJSON(t, http.MethodGet, ts.URL+"/v1/conversations", tc.token, nil)
		body := decodeBody[errorResponse](t, resp)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s token: status %d, want 401", tc.name, resp.StatusCode)
		}
		if body.Code != "unauthorized" {
			t.Fatalf("%s token: code %q, want identical rejection", tc.name, body.Code)
		}
	}
}

func TestTurnRoundTrip(t *testing.T) {
	ts, _ := newTestServer(t)
	token := signToken(t, "alice")

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/turns", token, orchestrator.TurnRequest{Message: "add buy milk"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /v1/turns: status %d", resp.StatusCode)
	}
	res := decodeBody[orchestrator.TurnResult](t, resp)
	if res.ConversationID == "" {
		t.Fatal("expected a conversation id")
	}
	if res.Response == "" {
		t.Fatal("expected a non-empty response")
	}
	if len(res.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(res.Messages))
	}

	// The follow-up turn continues the same conversation.
	resp = doJSON(t, http.MethodPost, ts.URL+"/v1/turns", token, orchestrator.TurnRequest{
		ConversationID: res.ConversationID,
		Message:        "list my tasks",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second turn: status %d", resp.StatusCode)
	}
	second := decodeBody[orchestrator.TurnResult](t, resp)
	if second.ConversationID != res.ConversationID {
		t.Fatalf("conversation id changed across turns: %q != %q", second.ConversationID, res.ConversationID)
	}
}

func TestTurnValidation(t *testing.T) {
	ts, _ := newTestServer(t)
	token := signToken(t, "alice")

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/turns", token, orchestrator.TurnRequest{Message: "  "})
	body := decodeBody[errorResponse](t, resp)
	if resp.StatusCode != http.StatusBadRequest || body.Code != "empty_message" {
		t.Fatalf("empty message: status %d code %q", resp.StatusCode, body.Code)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/v1/turns", token, orchestrator.TurnRequest{Message: strings.Repeat("x", 10001)})
	body = decodeBody[errorResponse](t, resp)
	if resp.StatusCode != http.StatusBadRequest || body.Code != "message_too_long" {
		t.Fatalf("long message: status %d code %q", resp.StatusCode, body.Code)
	}
}

func TestConversationEndpointsAreScoped(t *testing.T) {
	ts, _ := newTestServer(t)
	alice := signToken(t, "alice")
	bob := signToken(t, "bob")

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/turns", alice, orchestrator.TurnRequest{Message: "hello"})
	turn := decodeBody[orchestrator.TurnResult](t, resp)
	convURL := fmt.Sprintf("%s/v1/conversations/%s/messages", ts.URL, turn.ConversationID)

	// The owner sees the log.
	resp = doJSON(t, http.MethodGet, convURL, alice, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("owner read: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Someone else gets the same 404 a missing conversation would get.
	resp = doJSON(t, http.MethodGet, convURL, bob, nil)
	body := decodeBody[errorResponse](t, resp)
	if resp.StatusCode != http.StatusNotFound || body.Code != "conversation_not_found" {
		t.Fatalf("foreign read: status %d code %q", resp.StatusCode, body.Code)
	}

	resp = doJSON(t, http.MethodGet, fmt.Sprintf("%s/v1/conversations/%s/messages", ts.URL, "missing"), alice, nil)
	body = decodeBody[errorResponse](t, resp)
	if resp.StatusCode != http.StatusNotFound || body.Code != "conversation_not_found" {
		t.Fatalf("missing read: status %d code %q", resp.StatusCode, body.Code)
	}

	// Bob's listing does not include alice's conversation.
	resp = doJSON(t, http.MethodGet, ts.URL+"/v1/conversations", bob, nil)
	listing := decodeBody[struct {
		Conversations []conversation.Conversation `json:"conversations"`
	}](t, resp)
	if len(listing.Conversations) != 0 {
		t.Fatalf("bob sees %d foreign conversations", len(listing.Conversations))
	}
}

func TestDeleteConversation(t *testing.T) {
	ts, _ := newTestServer(t)
	alice := signToken(t, "alice")
	bob := signToken(t, "bob")

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/turns", alice, orchestrator.TurnRequest{Message: "hello"})
	turn := decodeBody[orchestrator.TurnResult](t, resp)
	delURL := fmt.Sprintf("%s/v1/conversations/%s", ts.URL, turn.ConversationID)

	// A foreign delete reads as not found and leaves the conversation alone.
	resp = doJSON(t, http.MethodDelete, delURL, bob, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign delete: status %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodDelete, delURL, alice, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("owner delete: status %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodDelete, delURL, alice, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("repeat delete: status %d", resp.StatusCode)
	}
}

func TestTurnWebsocket(t *testing.T) {
	ts, _ := newTestServer(t)
	token := signToken(t, "alice")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/turns/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	if err := conn.WriteJSON(orchestrator.TurnRequest{Message: "add buy milk"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var first orchestrator.TurnResult
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read: %v", err)
	}
	if first.ConversationID == "" || first.Response == "" {
		t.Fatalf("incomplete turn result: %+v", first)
	}

	// An invalid frame gets an error event, not a dropped connection.
	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write invalid: %v", err)
	}
	var ev wsError
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read error event: %v", err)
	}
	if ev.Type != "error" || ev.Code != "invalid_request" {
		t.Fatalf("unexpected error event %+v", ev)
	}

	// The connection keeps serving turns afterwards.
	if err := conn.WriteJSON(orchestrator.TurnRequest{ConversationID: first.ConversationID, Message: "list"}); err != nil {
		t.Fatalf("write second: %v", err)
	}
	var second orchestrator.TurnResult
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("read second: %v", err)
	}
	if second.ConversationID != first.ConversationID {
		t.Fatalf("websocket turn switched conversations: %q != %q", second.ConversationID, first.ConversationID)
	}
}

func TestTurnWebsocketRejectsBadToken(t *testing.T) {
	ts, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/turns/ws?token=garbage"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		conn.Close()
		t.Fatal("expected the dial to be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 handshake response, got %+v", resp)
	}
	if resp != nil {
		resp.Body.Close()
	}
}
