package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/rickgao/cursor-sync/internal/hubproto"
	"github.com/rickgao/cursor-sync/internal/metrics"
)

// completion is delivered to a pending Invoke.
type completion struct {
	msg hubproto.Message
	err error
}

// Session owns one persistent hub connection to a single endpoint and keeps
// it alive.
type Session struct {
	id        string
	cfg       SessionConfig
	logger    *slog.Logger
	clock     clock.Clock
	newClient ClientFactory

	mu                sync.Mutex
	state             State
	client            Client
	gen               uint64             // Bumped whenever the attached transport changes
	connCancel        context.CancelFunc // Stops read and reconnect loops of the attachment
	connectCancel     context.CancelFunc // Cancels an in-flight connect
	reconnectAttempts int
	lastErr           error
	disposed          bool

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	// Invocation/completion correlation
	pendingMu sync.Mutex
	pending   map[string]chan completion
	invokeID  atomic.Int64

	wg sync.WaitGroup
}

// NewSession creates a Channel Session bound to cfg.Client.URL. No
// connection is made until Connect.
func NewSession(cfg SessionConfig, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.NewClient == nil {
		cfg.NewClient = NewClient
	}

	id := uuid.NewString()
	return &Session{
		id:        id,
		cfg:       cfg,
		logger:    logger.With("session_id", id, "endpoint", cfg.Client.URL),
		clock:     cfg.Clock,
		newClient: cfg.NewClient,
		state:     StateDisconnected,
		handlers:  make(map[string]Handler),
		pending:   make(map[string]chan completion),
	}
}

// ID returns the session's unique id.
func (s *Session) ID() string {
	return s.id
}

// URL returns the endpoint the session is bound to.
func (s *Session) URL() string {
	return s.cfg.Client.URL
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsActive is true iff the session is exactly Connected.
func (s *Session) IsActive() bool {
	return s.State() == StateConnected
}

// ReconnectAttempts returns the attempt number of the running auto-reconnect
// cycle (0 when not reconnecting).
func (s *Session) ReconnectAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnectAttempts
}

// LastError returns the most recent connection failure, if any.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// setStateLocked must be called with s.mu held.
func (s *Session) setStateLocked(to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to

	metrics.SessionTransitions.WithLabelValues(string(to)).Inc()
	if to == StateConnected {
		metrics.SessionsConnected.Inc()
	} else if from == StateConnected {
		metrics.SessionsConnected.Dec()
	}

	s.logger.Debug("session state changed", "from", from, "to", to)
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(from, to)
	}
}

// Connect makes a single connection attempt.
func (s *Session) Connect(ctx context.Context) error {
	return s.ConnectWithRetry(ctx, RetryPolicy{MaxAttempts: 1})
}

// ConnectWithRetry connects, retrying transport failures per policy. It is a
// no-op when already Connected and returns immediately, without a second
// attempt, while another connect or reconnect is in progress. Cancellation
// of ctx aborts without retry and leaves the session Aborted; an exhausted
// budget leaves it Failed and returns a *ConnectError.
func (s *Session) ConnectWithRetry(ctx context.Context, policy RetryPolicy) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	switch s.state {
	case StateConnected:
		s.mu.Unlock()
		return nil
	case StateConnecting, StateReconnecting:
		s.mu.Unlock()
		s.logger.Debug("connect already in progress")
		return nil
	case StateClosing:
		s.mu.Unlock()
		return ErrConnectionClosed
	}

	ctx, cancel := context.WithCancel(ctx)
	s.connectCancel = cancel
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()
	defer cancel()

	attempts := policy.attempts()
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := policy.Delay(attempt - 1)
			if policy.OnRetry != nil {
				policy.OnRetry(attempt, delay, lastErr)
			}
			s.logger.Info("retrying connect",
				"attempt", attempt+1,
				"max_attempts", attempts,
				"delay", delay,
			)
			if err := sleep(ctx, s.clock, delay); err != nil {
				return s.abort(err)
			}
		}

		client, err := s.dial(ctx)
		if err == nil {
			if s.attach(ctx, client) {
				metrics.ConnectAttempts.WithLabelValues("success").Inc()
				s.logger.Info("session connected", "attempt", attempt+1)
				return nil
			}
			client.Close()
			return s.abort(ctx.Err())
		}

		if ctx.Err() != nil || IsAbort(err) {
			return s.abort(err)
		}

		metrics.ConnectAttempts.WithLabelValues("failure").Inc()
		s.logger.Warn("connect attempt failed",
			"attempt", attempt+1,
			"max_attempts", attempts,
			"error", err,
		)
		lastErr = err
	}

	connErr := &ConnectError{URL: s.URL(), Attempts: attempts, Err: lastErr}

	s.mu.Lock()
	s.connectCancel = nil
	s.lastErr = connErr
	s.setStateLocked(StateFailed)
	s.mu.Unlock()

	s.logger.Error("connect failed", "attempts", attempts, "error", lastErr)
	return connErr
}

// abort moves a connecting session to Aborted.
func (s *Session) abort(cause error) error {
	err := ErrAborted
	if cause != nil && !errors.Is(cause, ErrAborted) {
		err = fmt.Errorf("%w: %w", ErrAborted, cause)
	}

	metrics.ConnectAttempts.WithLabelValues("aborted").Inc()

	s.mu.Lock()
	s.connectCancel = nil
	s.lastErr = err
	if s.state == StateConnecting {
		s.setStateLocked(StateAborted)
	}
	s.mu.Unlock()

	s.logger.Info("connect aborted", "error", cause)
	return err
}

// dial builds a fresh transport and connects it.
func (s *Session) dial(ctx context.Context) (Client, error) {
	client := s.newClient(s.cfg.Client, s.logger)
	if err := client.Connect(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// attach installs a freshly connected transport after an initial connect.
// It refuses when the connect was cancelled or the session disposed.
func (s *Session) attach(ctx context.Context, client Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed || ctx.Err() != nil || s.state != StateConnecting {
		return false
	}

	connCtx, cancel := context.WithCancel(context.Background())
	s.connectCancel = nil
	s.connCancel = cancel
	s.client = client
	s.gen++
	s.reconnectAttempts = 0
	s.lastErr = nil
	s.setStateLocked(StateConnected)

	s.wg.Add(1)
	go s.readLoop(connCtx, client, s.gen)
	return true
}

// Disconnect closes the connection. It is a no-op when there is nothing to
// close; while Connecting it cancels the attempt, which then ends Aborted.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateDisconnected, StateClosing, StateAborted:
		s.mu.Unlock()
		return nil
	case StateFailed:
		// Release the reconnect context of an exhausted attachment.
		if s.connCancel != nil {
			s.connCancel()
			s.connCancel = nil
		}
		s.mu.Unlock()
		return nil
	case StateConnecting:
		cancel := s.connectCancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil
	}

	client := s.client
	cancel := s.connCancel
	s.client = nil
	s.connCancel = nil
	s.gen++
	s.reconnectAttempts = 0
	s.setStateLocked(StateClosing)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var err error
	if client != nil {
		err = client.Close()
	}
	s.failPending(ErrConnectionClosed)

	s.mu.Lock()
	s.setStateLocked(StateDisconnected)
	s.mu.Unlock()

	s.logger.Info("session disconnected")

	if err != nil {
		return fmt.Errorf("close transport: %w", err)
	}
	return nil
}

// Dispose disconnects, drops every handler and waits for background
// goroutines. The session cannot be reused afterwards. Dispose must not be
// called from inside an event handler.
func (s *Session) Dispose() error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	s.mu.Unlock()

	err := s.Disconnect(context.Background())

	s.handlersMu.Lock()
	s.handlers = make(map[string]Handler)
	s.handlersMu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	if s.connCancel != nil {
		s.connCancel()
		s.connCancel = nil
	}
	lastErr := s.lastErr
	s.mu.Unlock()

	if err != nil {
		return multierr.Append(err, lastErr)
	}
	return nil
}

// On registers the handler for an inbound event name, replacing any
// previous handler for the same name.
func (s *Session) On(event string, handler Handler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()

	if handler == nil {
		delete(s.handlers, event)
		return
	}
	s.handlers[event] = handler
}

// Off removes the handler for an event name.
func (s *Session) Off(event string) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	delete(s.handlers, event)
}

// activeClient returns the transport when Connected.
func (s *Session) activeClient() (Client, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected || s.client == nil {
		return nil, false
	}
	return s.client, true
}

// Send performs a non-blocking invocation: the hub does not answer it.
func (s *Session) Send(method string, args ...any) error {
	client, ok := s.activeClient()
	if !ok {
		return ErrNotConnected
	}

	msg, err := hubproto.NewInvocation("", method, args...)
	if err != nil {
		return err
	}
	data, err := hubproto.Encode(msg)
	if err != nil {
		return err
	}

	if err := client.Send(data); err != nil {
		metrics.Invocations.WithLabelValues(method, "error").Inc()
		return fmt.Errorf("send %s: %w", method, err)
	}
	metrics.Invocations.WithLabelValues(method, "sent").Inc()
	return nil
}

// Invoke calls a hub method and waits for its completion.
func (s *Session) Invoke(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	client, ok := s.activeClient()
	if !ok {
		return nil, ErrNotConnected
	}

	id := strconv.FormatInt(s.invokeID.Add(1), 10)
	msg, err := hubproto.NewInvocation(id, method, args...)
	if err != nil {
		return nil, err
	}
	data, err := hubproto.Encode(msg)
	if err != nil {
		return nil, err
	}

	respCh := make(chan completion, 1)

	s.pendingMu.Lock()
	s.pending[id] = respCh
	s.pendingMu.Unlock()

	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}()

	if err := client.Send(data); err != nil {
		metrics.Invocations.WithLabelValues(method, "error").Inc()
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	var timeout <-chan time.Time
	if s.cfg.InvokeTimeout > 0 {
		timer := s.clock.Timer(s.cfg.InvokeTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	// Wait for completion
	select {
	case <-ctx.Done():
		metrics.Invocations.WithLabelValues(method, "cancelled").Inc()
		return nil, ctx.Err()
	case <-timeout:
		metrics.Invocations.WithLabelValues(method, "timeout").Inc()
		return nil, ErrTimeout
	case resp := <-respCh:
		if resp.err != nil {
			metrics.Invocations.WithLabelValues(method, "error").Inc()
			return nil, resp.err
		}
		if resp.msg.Error != "" {
			metrics.Invocations.WithLabelValues(method, "rejected").Inc()
			return nil, &HubError{Method: method, Message: resp.msg.Error}
		}
		metrics.Invocations.WithLabelValues(method, "ok").Inc()
		return resp.msg.Result, nil
	}
}

// failPending unblocks every waiting Invoke with err.
func (s *Session) failPending(err error) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	for id, ch := range s.pending {
		select {
		case ch <- completion{err: err}:
		default:
		}
		delete(s.pending, id)
	}
}

// routeCompletion sends a completion to the waiting Invoke.
func (s *Session) routeCompletion(msg hubproto.Message) {
	s.pendingMu.Lock()
	ch, ok := s.pending[msg.InvocationID]
	if ok {
		delete(s.pending, msg.InvocationID)
	}
	s.pendingMu.Unlock()

	if !ok {
		s.logger.Debug("completion for unknown invocation", "invocation_id", msg.InvocationID)
		return
	}
	select {
	case ch <- completion{msg: msg}:
	default:
	}
}

// dispatch hands an inbound invocation to its handler.
func (s *Session) dispatch(client Client, msg hubproto.Message) {
	metrics.InboundEvents.WithLabelValues(msg.Target).Inc()

	s.handlersMu.RLock()
	handler, ok := s.handlers[msg.Target]
	s.handlersMu.RUnlock()

	if !ok {
		s.logger.Debug("no handler for event", "target", msg.Target)
	} else {
		handler(msg.Arguments)
	}

	// The hub expects a result for invocations carrying an id; clients
	// here never return results.
	if msg.InvocationID != "" {
		reply, err := hubproto.NewCompletion(msg.InvocationID, nil, "Client did not provide a result.")
		if err != nil {
			return
		}
		if data, err := hubproto.Encode(reply); err == nil {
			if err := client.Send(data); err != nil {
				s.logger.Debug("failed to answer server invocation", "error", err)
			}
		}
	}
}

// readLoop consumes frames from one attached transport. It exits when ctx
// is cancelled or the transport fails.
func (s *Session) readLoop(ctx context.Context, client Client, gen uint64) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case err := <-client.Errors():
			s.logger.Warn("transport error", "error", err)
			s.handleDrop(ctx, gen, err)
			return

		case msg, ok := <-client.Messages():
			if !ok {
				s.handleDrop(ctx, gen, ErrConnectionLost)
				return
			}

			for _, record := range hubproto.Split(msg.Data) {
				hm, err := hubproto.Decode(record)
				if err != nil {
					s.logger.Warn("dropping malformed hub record", "error", err)
					continue
				}

				switch hm.Type {
				case hubproto.TypeInvocation:
					s.dispatch(client, hm)
				case hubproto.TypeCompletion:
					s.routeCompletion(hm)
				case hubproto.TypePing:
				case hubproto.TypeClose:
					s.handleServerClose(ctx, gen, hm)
					return
				default:
					s.logger.Debug("ignoring hub record", "type", hm.Type)
				}
			}
		}
	}
}

// handleServerClose reacts to a close record from the hub.
func (s *Session) handleServerClose(ctx context.Context, gen uint64, msg hubproto.Message) {
	var cause error = ErrConnectionClosed
	if msg.Error != "" {
		cause = &HubError{Message: msg.Error}
	}

	if msg.AllowReconnect {
		s.handleDrop(ctx, gen, cause)
		return
	}

	s.mu.Lock()
	if gen != s.gen || s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	client := s.client
	cancel := s.connCancel
	s.client = nil
	s.connCancel = nil
	s.gen++
	s.lastErr = cause
	s.setStateLocked(StateDisconnected)
	s.mu.Unlock()

	s.logger.Warn("hub closed the connection", "error", cause)
	if cancel != nil {
		cancel()
	}
	if client != nil {
		client.Close()
	}
	s.failPending(cause)
}

// handleDrop moves a Connected session to Reconnecting and starts the
// auto-reconnect cycle. Drops from superseded transports are ignored.
func (s *Session) handleDrop(ctx context.Context, gen uint64, cause error) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateConnected || ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	client := s.client
	s.client = nil
	s.gen++
	s.lastErr = cause
	s.setStateLocked(StateReconnecting)
	s.wg.Add(1)
	go s.reconnect(ctx, s.gen)
	s.mu.Unlock()

	if client != nil {
		client.Close()
	}
	s.failPending(ErrConnectionLost)
}

// reconnect re-dials the endpoint with backoff until the budget runs out.
func (s *Session) reconnect(ctx context.Context, gen uint64) {
	defer s.wg.Done()

	policy := s.cfg.Reconnect
	attempts := policy.attempts()
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		delay := policy.Delay(attempt)

		s.mu.Lock()
		if gen != s.gen || s.state != StateReconnecting {
			s.mu.Unlock()
			return
		}
		s.reconnectAttempts = attempt + 1
		s.mu.Unlock()

		s.logger.Info("attempting reconnection",
			"attempt", attempt+1,
			"max_attempts", attempts,
			"delay", delay,
		)

		if err := sleep(ctx, s.clock, delay); err != nil {
			return
		}

		client, err := s.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.ReconnectAttempts.WithLabelValues("failure").Inc()
			s.logger.Warn("reconnection failed", "attempt", attempt+1, "error", err)
			lastErr = err
			continue
		}

		s.mu.Lock()
		if ctx.Err() != nil || gen != s.gen || s.state != StateReconnecting {
			s.mu.Unlock()
			client.Close()
			return
		}
		s.client = client
		s.gen++
		s.reconnectAttempts = 0
		s.lastErr = nil
		s.setStateLocked(StateConnected)
		s.wg.Add(1)
		go s.readLoop(ctx, client, s.gen)
		s.mu.Unlock()

		metrics.ReconnectAttempts.WithLabelValues("success").Inc()
		s.logger.Info("reconnected", "attempt", attempt+1)
		return
	}

	s.mu.Lock()
	if gen == s.gen && s.state == StateReconnecting {
		s.lastErr = &ConnectError{URL: s.URL(), Attempts: attempts, Err: lastErr}
		s.reconnectAttempts = 0
		if s.connCancel != nil {
			s.connCancel()
			s.connCancel = nil
		}
		s.setStateLocked(StateFailed)
	}
	s.mu.Unlock()

	s.logger.Error("reconnect budget exhausted", "attempts", attempts, "error", lastErr)
}
