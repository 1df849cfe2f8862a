package hubstub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/cursor-sync/internal/hubproto"
)

// dialHub negotiates and completes the handshake with a raw websocket.
func dialHub(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()

	resp, err := http.Post(server.URL+DefaultHubPath+"/negotiate?negotiateVersion=1", "text/plain", nil)
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	defer resp.Body.Close()

	var neg hubproto.NegotiateResponse
	if err := json.NewDecoder(resp.Body).Decode(&neg); err != nil {
		t.Fatalf("decode negotiate: %v", err)
	}
	if !neg.SupportsWebSockets() || neg.Token() == "" {
		t.Fatalf("unexpected negotiate response %+v", neg)
	}

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + DefaultHubPath + "?id=" + neg.Token()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	if err := conn.WriteMessage(websocket.TextMessage, hubproto.EncodeHandshake()); err != nil {
		t.Fatalf("write handshake: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read handshake: %v", err)
	}
	if _, err := hubproto.ParseHandshakeResponse(data); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	return conn
}

func invoke(t *testing.T, conn *websocket.Conn, id, target string, args ...any) {
	t.Helper()
	msg, err := hubproto.NewInvocation(id, target, args...)
	if err != nil {
		t.Fatalf("NewInvocation: %v", err)
	}
	data, _ := hubproto.Encode(msg)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// next reads the next non-ping record.
func next(t *testing.T, conn *websocket.Conn) hubproto.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		for _, rec := range hubproto.Split(data) {
			msg, err := hubproto.Decode(rec)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if msg.Type != hubproto.TypePing {
				return msg
			}
		}
	}
}

func stringArg(t *testing.T, msg hubproto.Message) string {
	t.Helper()
	if len(msg.Arguments) == 0 {
		t.Fatalf("%s has no arguments", msg.Target)
	}
	var s string
	if err := json.Unmarshal(msg.Arguments[0], &s); err != nil {
		t.Fatalf("unmarshal argument: %v", err)
	}
	return s
}

func TestServer_CreateJoinBroadcast(t *testing.T) {
	hub := New(WithKeepAlive(0))
	server := httptest.NewServer(hub.Handler())
	defer server.Close()

	host := dialHub(t, server)
	defer host.Close()
	guest := dialHub(t, server)
	defer guest.Close()

	invoke(t, host, "1", "CreateRoom", "room-1")
	if msg := next(t, host); msg.Target != "RoomCreated" || stringArg(t, msg) != "room-1" {
		t.Fatalf("expected RoomCreated(room-1), got %+v", msg)
	}
	if msg := next(t, host); msg.Type != hubproto.TypeCompletion || msg.InvocationID != "1" || msg.Error != "" {
		t.Fatalf("expected completion for 1, got %+v", msg)
	}

	invoke(t, guest, "1", "JoinRoom", "room-1")
	if msg := next(t, guest); msg.Target != "UserJoinedRoom" {
		t.Fatalf("expected UserJoinedRoom, got %+v", msg)
	}
	if msg := next(t, guest); msg.Type != hubproto.TypeCompletion || msg.Error != "" {
		t.Fatalf("expected successful completion, got %+v", msg)
	}
	if msg := next(t, host); msg.Target != "UserJoinedRoom" {
		t.Fatalf("host expected UserJoinedRoom, got %+v", msg)
	}
	if hub.Members("room-1") != 2 {
		t.Errorf("members = %d, want 2", hub.Members("room-1"))
	}

	invoke(t, host, "", "SendCursorPosition", "room-1", map[string]float64{"x": 10, "y": 20})
	msg := next(t, guest)
	if msg.Target != "ReceiveCursorPosition" {
		t.Fatalf("expected ReceiveCursorPosition, got %+v", msg)
	}
	var pos position
	if err := json.Unmarshal(msg.Arguments[0], &pos); err != nil {
		t.Fatalf("unmarshal position: %v", err)
	}
	if pos.X != 10 || pos.Y != 20 || pos.Timestamp == nil {
		t.Errorf("position = %+v", pos)
	}
}

func TestServer_JoinUnknownRoom(t *testing.T) {
	hub := New(WithKeepAlive(0))
	server := httptest.NewServer(hub.Handler())
	defer server.Close()

	conn := dialHub(t, server)
	defer conn.Close()

	invoke(t, conn, "5", "JoinRoom", "nope")
	msg := next(t, conn)
	if msg.Type != hubproto.TypeCompletion || msg.InvocationID != "5" {
		t.Fatalf("expected completion, got %+v", msg)
	}
	if !strings.Contains(msg.Error, "does not exist") {
		t.Errorf("error = %q", msg.Error)
	}
}

func TestServer_NonBlockingErrorBecomesEvent(t *testing.T) {
	hub := New(WithKeepAlive(0))
	server := httptest.NewServer(hub.Handler())
	defer server.Close()

	conn := dialHub(t, server)
	defer conn.Close()

	invoke(t, conn, "", "SendCursorPosition", "room-x", map[string]float64{"x": 1, "y": 1})
	msg := next(t, conn)
	if msg.Target != "Error" {
		t.Fatalf("expected Error event, got %+v", msg)
	}
	if !strings.Contains(stringArg(t, msg), "not a member") {
		t.Errorf("error = %q", stringArg(t, msg))
	}
}

func TestServer_CustomCursorEvent(t *testing.T) {
	hub := New(WithKeepAlive(0), WithCursorEvent("cursorPositionReceived"))
	server := httptest.NewServer(hub.Handler())
	defer server.Close()

	a := dialHub(t, server)
	defer a.Close()
	b := dialHub(t, server)
	defer b.Close()

	invoke(t, a, "1", "CreateRoom", "r")
	next(t, a)
	next(t, a)
	invoke(t, b, "1", "JoinRoom", "r")
	next(t, b)
	next(t, b)

	invoke(t, a, "", "SendCursorPosition", "r", map[string]float64{"x": 1, "y": 2})
	if msg := next(t, b); msg.Target != "cursorPositionReceived" {
		t.Errorf("target = %q, want cursorPositionReceived", msg.Target)
	}
}

func TestServer_RefuseConnections(t *testing.T) {
	hub := New()
	server := httptest.NewServer(hub.Handler())
	defer server.Close()

	hub.RefuseConnections(2)

	for i, want := range []int{503, 503, 200} {
		resp, err := http.Post(server.URL+DefaultHubPath+"/negotiate", "text/plain", nil)
		if err != nil {
			t.Fatalf("negotiate: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("request %d: status = %d, want %d", i, resp.StatusCode, want)
		}
	}
	if hub.Negotiations() != 1 {
		t.Errorf("negotiations = %d, want 1", hub.Negotiations())
	}
}

func TestServer_HealthAndWhoAmI(t *testing.T) {
	hub := New(WithInstance("backend-2"), WithDomain("example.test"))
	server := httptest.NewServer(hub.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + HealthPath)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}

	hub.SetHealthy(false)
	resp, err = http.Get(server.URL + HealthPath)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("health status = %d, want 503", resp.StatusCode)
	}

	resp, err = http.Get(server.URL + DefaultWhoAmIPath)
	if err != nil {
		t.Fatalf("whoami: %v", err)
	}
	defer resp.Body.Close()

	var info WhoAmI
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode whoami: %v", err)
	}
	if info.Instance != "backend-2" || info.Domain != "example.test" {
		t.Errorf("whoami = %+v", info)
	}
	if _, err := time.Parse(time.RFC3339, info.Time); err != nil {
		t.Errorf("time %q is not RFC3339: %v", info.Time, err)
	}
}

func TestServer_DropConnections(t *testing.T) {
	hub := New(WithKeepAlive(0))
	server := httptest.NewServer(hub.Handler())
	defer server.Close()

	conn := dialHub(t, server)
	defer conn.Close()

	invoke(t, conn, "1", "CreateRoom", "r")
	next(t, conn)
	next(t, conn)

	hub.DropConnections()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected read error after drop")
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectionCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.ConnectionCount() != 0 {
		t.Errorf("connections = %d, want 0", hub.ConnectionCount())
	}
	if len(hub.Rooms()) != 0 {
		t.Errorf("rooms = %v, want none", hub.Rooms())
	}
}
