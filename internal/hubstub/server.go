package hubstub

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/cursor-sync/internal/hubproto"
)

// Default routes served by the stub.
const (
	DefaultHubPath    = "/hubs/cursor"
	DefaultWhoAmIPath = "/api/room/whoami"
	HealthPath        = "/health"
)

// position mirrors the wire shape of a cursor position.
type position struct {
	X         float64    `json:"x"`
	Y         float64    `json:"y"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// WhoAmI is the diagnostic payload served at the whoami route.
type WhoAmI struct {
	Instance string `json:"instance"`
	Time     string `json:"time"`
	Domain   string `json:"domain,omitempty"`
}

// Option configures a Server.
type Option func(*Server)

// WithInstance sets the instance name reported by whoami.
func WithInstance(name string) Option {
	return func(s *Server) { s.instance = name }
}

// WithDomain sets the domain reported by whoami.
func WithDomain(domain string) Option {
	return func(s *Server) { s.domain = domain }
}

// WithCursorEvent sets the event name used to broadcast positions.
func WithCursorEvent(name string) Option {
	return func(s *Server) { s.cursorEvent = name }
}

// WithHubPath sets the hub route.
func WithHubPath(path string) Option {
	return func(s *Server) { s.hubPath = path }
}

// WithKeepAlive sets how often the hub pings each connection.
func WithKeepAlive(d time.Duration) Option {
	return func(s *Server) { s.keepAlive = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// hubConn is one connected client.
type hubConn struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

func (c *hubConn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *hubConn) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Server is a minimal in-process cursor hub: negotiation, the JSON hub
// protocol, room groups, health and whoami.
type Server struct {
	instance    string
	domain      string
	cursorEvent string
	hubPath     string
	keepAlive   time.Duration
	logger      *slog.Logger
	upgrader    websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*hubConn
	rooms map[string]map[string]*hubConn

	healthy     atomic.Bool
	refuse      atomic.Int32
	negotiated  atomic.Int64
	invocations atomic.Int64
}

// New creates a hub stub.
func New(opts ...Option) *Server {
	s := &Server{
		instance:    "hubstub",
		cursorEvent: "ReceiveCursorPosition",
		hubPath:     DefaultHubPath,
		keepAlive:   15 * time.Second,
		conns:       make(map[string]*hubConn),
		rooms:       make(map[string]map[string]*hubConn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "hubstub", "instance", s.instance)
	s.healthy.Store(true)
	return s
}

// Handler returns the HTTP handler serving every stub route.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.hubPath+"/negotiate", s.handleNegotiate)
	mux.HandleFunc(s.hubPath, s.handleHub)
	mux.HandleFunc(HealthPath, s.handleHealth)
	mux.HandleFunc(DefaultWhoAmIPath, s.handleWhoAmI)
	return mux
}

// SetHealthy switches the /health answer between 200 and 503.
func (s *Server) SetHealthy(healthy bool) {
	s.healthy.Store(healthy)
}

// RefuseConnections makes the next n negotiations fail with 503.
func (s *Server) RefuseConnections(n int) {
	s.refuse.Store(int32(n))
}

// DropConnections closes every websocket without a close record.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := make([]*hubConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

// Rooms returns the ids of rooms with at least one member.
func (s *Server) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Members returns the number of connections in a room.
func (s *Server) Members(roomID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms[roomID])
}

// ConnectionCount returns the number of open hub connections.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Negotiations returns how many negotiate requests succeeded.
func (s *Server) Negotiations() int64 {
	return s.negotiated.Load()
}

// Invocations returns how many invocation records the hub received.
func (s *Server) Invocations() int64 {
	return s.invocations.Load()
}

func (s *Server) handleNegotiate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if n := s.refuse.Load(); n > 0 && s.refuse.CompareAndSwap(n, n-1) {
		s.logger.Debug("refusing negotiation", "remaining", n-1)
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	s.negotiated.Add(1)
	resp := hubproto.NegotiateResponse{
		ConnectionID:     uuid.NewString(),
		ConnectionToken:  uuid.NewString(),
		NegotiateVersion: hubproto.NegotiateVersion,
		AvailableTransports: []hubproto.AvailableTransport{
			{Transport: "WebSockets", TransferFormats: []string{"Text"}},
		},
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.healthy.Load() {
		http.Error(w, "Unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Healthy"))
}

func (s *Server) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, WhoAmI{
		Instance: s.instance,
		Time:     time.Now().UTC().Format(time.RFC3339),
		Domain:   s.domain,
	})
}

func (s *Server) handleHub(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", "error", err)
		return
	}

	conn.SetReadDeadline(time.Now().Add(15 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return
	}
	_, rest, err := hubproto.ParseHandshakeRequest(data)
	if err != nil {
		conn.WriteMessage(websocket.TextMessage, hubproto.EncodeHandshakeResponse(err.Error()))
		conn.Close()
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, hubproto.EncodeHandshakeResponse("")); err != nil {
		conn.Close()
		return
	}
	conn.SetReadDeadline(time.Time{})

	hc := &hubConn{
		id:   uuid.NewString(),
		conn: conn,
		done: make(chan struct{}),
	}

	s.mu.Lock()
	s.conns[hc.id] = hc
	s.mu.Unlock()

	logger := s.logger.With("conn_id", hc.id)
	logger.Debug("client connected")

	go s.pingLoop(hc)
	defer s.remove(hc)

	if len(rest) > 0 {
		s.handleFrame(hc, rest, logger)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			logger.Debug("client disconnected", "error", err)
			return
		}
		if !s.handleFrame(hc, data, logger) {
			return
		}
	}
}

// handleFrame processes every record in a frame. It returns false when the
// client asked to close.
func (s *Server) handleFrame(hc *hubConn, data []byte, logger *slog.Logger) bool {
	for _, record := range hubproto.Split(data) {
		msg, err := hubproto.Decode(record)
		if err != nil {
			logger.Warn("malformed record", "error", err)
			continue
		}
		switch msg.Type {
		case hubproto.TypeInvocation:
			s.invocations.Add(1)
			s.handleInvocation(hc, msg, logger)
		case hubproto.TypeClose:
			return false
		}
	}
	return true
}

func (s *Server) handleInvocation(hc *hubConn, msg hubproto.Message, logger *slog.Logger) {
	var err error
	switch msg.Target {
	case "CreateRoom":
		err = s.createRoom(hc, msg.Arguments)
	case "JoinRoom":
		err = s.joinRoom(hc, msg.Arguments)
	case "SendCursorPosition":
		err = s.sendCursorPosition(hc, msg.Arguments)
	default:
		err = fmt.Errorf("unknown hub method %q", msg.Target)
	}

	if err != nil {
		logger.Debug("invocation failed", "target", msg.Target, "error", err)
	}

	if msg.InvocationID == "" {
		if err != nil {
			s.sendEvent(hc, "Error", err.Error())
		}
		return
	}

	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	reply, cerr := hubproto.NewCompletion(msg.InvocationID, nil, errMsg)
	if cerr != nil {
		return
	}
	if data, cerr := hubproto.Encode(reply); cerr == nil {
		hc.write(data)
	}
}

func roomArg(args []json.RawMessage) (string, error) {
	if len(args) < 1 {
		return "", errors.New("missing room id")
	}
	var roomID string
	if err := json.Unmarshal(args[0], &roomID); err != nil {
		return "", fmt.Errorf("invalid room id: %w", err)
	}
	if strings.TrimSpace(roomID) == "" {
		return "", errors.New("room id is required")
	}
	return roomID, nil
}

func (s *Server) createRoom(hc *hubConn, args []json.RawMessage) error {
	roomID, err := roomArg(args)
	if err != nil {
		return err
	}

	s.mu.Lock()
	members, ok := s.rooms[roomID]
	if !ok {
		members = make(map[string]*hubConn)
		s.rooms[roomID] = members
	}
	members[hc.id] = hc
	s.mu.Unlock()

	s.sendEvent(hc, "RoomCreated", roomID)
	return nil
}

func (s *Server) joinRoom(hc *hubConn, args []json.RawMessage) error {
	roomID, err := roomArg(args)
	if err != nil {
		return err
	}

	s.mu.Lock()
	members, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("room %s does not exist", roomID)
	}
	members[hc.id] = hc
	targets := snapshot(members)
	s.mu.Unlock()

	message := fmt.Sprintf("User %s joined room %s", hc.id, roomID)
	for _, c := range targets {
		s.sendEvent(c, "UserJoinedRoom", message)
	}
	return nil
}

func (s *Server) sendCursorPosition(hc *hubConn, args []json.RawMessage) error {
	roomID, err := roomArg(args)
	if err != nil {
		return err
	}
	if len(args) < 2 {
		return errors.New("missing position")
	}
	var pos position
	if err := json.Unmarshal(args[1], &pos); err != nil {
		return fmt.Errorf("invalid position: %w", err)
	}
	if pos.Timestamp == nil {
		now := time.Now().UTC()
		pos.Timestamp = &now
	}

	s.mu.Lock()
	members, ok := s.rooms[roomID]
	if !ok || members[hc.id] == nil {
		s.mu.Unlock()
		return fmt.Errorf("not a member of room %s", roomID)
	}
	targets := snapshot(members)
	s.mu.Unlock()

	for _, c := range targets {
		if c.id == hc.id {
			continue
		}
		s.sendEvent(c, s.cursorEvent, pos)
	}
	return nil
}

func (s *Server) sendEvent(hc *hubConn, target string, args ...any) {
	msg, err := hubproto.NewInvocation("", target, args...)
	if err != nil {
		return
	}
	data, err := hubproto.Encode(msg)
	if err != nil {
		return
	}
	if err := hc.write(data); err != nil {
		s.logger.Debug("event write failed", "conn_id", hc.id, "target", target, "error", err)
	}
}

func (s *Server) pingLoop(hc *hubConn) {
	if s.keepAlive <= 0 {
		return
	}
	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	ping, _ := hubproto.Encode(hubproto.Ping())
	for {
		select {
		case <-hc.done:
			return
		case <-ticker.C:
			if err := hc.write(ping); err != nil {
				return
			}
		}
	}
}

// remove drops a connection from every room. Empty rooms are deleted.
func (s *Server) remove(hc *hubConn) {
	hc.close()

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.conns, hc.id)
	for id, members := range s.rooms {
		delete(members, hc.id)
		if len(members) == 0 {
			delete(s.rooms, id)
		}
	}
}

func snapshot(members map[string]*hubConn) []*hubConn {
	out := make([]*hubConn, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
