package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/rickgao/cursor-sync/internal/activity"
	"github.com/rickgao/cursor-sync/internal/connection"
	"github.com/rickgao/cursor-sync/internal/room"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithClock sets the clock driving debounce, warning, poll and throttle.
func WithClock(clk clock.Clock) Option {
	return func(o *Orchestrator) { o.clock = clk }
}

// WithObserver sets the output callbacks.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// run is one mount: a single connect cycle and everything it owns.
type run struct {
	alive    atomic.Bool // Captured by every handler of this run
	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}

	settleOnce sync.Once
	settled    chan struct{}
	err        error // Valid once settled is closed

	mu      sync.Mutex
	session Session
	room    *room.Client
}

func (r *run) settle(err error) {
	r.settleOnce.Do(func() {
		r.err = err
		close(r.settled)
	})
}

func (r *run) stop() {
	r.stopOnce.Do(func() {
		r.alive.Store(false)
		r.cancel()
	})
}

// Orchestrator drives one room slot: it picks an endpoint, owns the Channel
// Session bound to it, enters the room and republishes the session state.
// At most one session per slot is live at a time.
type Orchestrator struct {
	cfg      Config
	selector EndpointSelector
	factory  SessionFactory
	observer Observer
	logger   *slog.Logger
	clock    clock.Clock
	log      *activity.Log

	lifecycle sync.Mutex // Serializes Start, Stop and Close

	mu         sync.Mutex
	run        *run
	session    Session // Most recent session of the slot, disposed before the next is built
	snap       Snapshot
	lastSent   *room.CursorPosition
	lastRecv   *room.CursorPosition
	lastSendAt time.Time
}

// New creates an orchestrator. Zero durations in cfg other than Debounce,
// ConnectTimeoutWarning and CursorThrottle take their defaults.
func New(cfg Config, selector EndpointSelector, factory SessionFactory, opts ...Option) (*Orchestrator, error) {
	if cfg.RoomID == "" {
		return nil, errors.New("room id is required")
	}
	if _, err := ParseRole(string(cfg.Role)); err != nil {
		return nil, err
	}
	if selector == nil || factory == nil {
		return nil, errors.New("endpoint selector and session factory are required")
	}

	defaults := DefaultConfig(cfg.RoomID, cfg.Role)
	if cfg.ConnectRetry.MaxAttempts < 1 {
		cfg.ConnectRetry.MaxAttempts = defaults.ConnectRetry.MaxAttempts
	}
	if cfg.ConnectRetry.BaseDelay <= 0 {
		cfg.ConnectRetry.BaseDelay = defaults.ConnectRetry.BaseDelay
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}

	o := &Orchestrator{
		cfg:      cfg,
		selector: selector,
		factory:  factory,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.clock == nil {
		o.clock = clock.New()
	}
	o.logger = o.logger.With("room_id", cfg.RoomID, "role", cfg.Role)
	o.log = activity.NewLog(cfg.LogCapacity, o.clock)
	o.snap = Snapshot{State: connection.StateDisconnected, RoomID: cfg.RoomID, Role: cfg.Role}
	return o, nil
}

// Start mounts a new connect cycle, tearing down the previous one first.
// It returns immediately; use Wait to block until the cycle settles.
func (o *Orchestrator) Start(ctx context.Context) {
	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()

	o.mu.Lock()
	prev := o.run
	o.mu.Unlock()
	if prev != nil {
		prev.stop()
		<-prev.done
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{
		cancel:  cancel,
		done:    make(chan struct{}),
		settled: make(chan struct{}),
	}
	r.alive.Store(true)

	o.mu.Lock()
	o.run = r
	o.snap = Snapshot{State: connection.StateDisconnected, RoomID: o.cfg.RoomID, Role: o.cfg.Role}
	o.mu.Unlock()

	go o.loop(runCtx, r)
}

// Stop tears down the current cycle and waits for its teardown to finish.
// It is idempotent and safe while a connect is in flight.
func (o *Orchestrator) Stop() {
	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()

	o.mu.Lock()
	r := o.run
	o.mu.Unlock()
	if r == nil {
		return
	}
	r.stop()
	<-r.done
}

// Close stops the cycle and disposes the slot's session.
func (o *Orchestrator) Close() error {
	o.Stop()

	o.mu.Lock()
	sess := o.session
	o.session = nil
	o.mu.Unlock()

	if sess == nil {
		return nil
	}
	if err := sess.Dispose(); err != nil {
		return fmt.Errorf("dispose session: %w", err)
	}
	return nil
}

// Wait blocks until the current cycle has either entered the room or
// given up, and returns the outcome.
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	r := o.run
	o.mu.Unlock()
	if r == nil {
		return ErrNotStarted
	}

	select {
	case <-r.settled:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the current status.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snap
}

// Logs returns the activity log lines, most recent first.
func (o *Orchestrator) Logs() []string {
	return o.log.Lines()
}

// ActivityLog returns the underlying activity log.
func (o *Orchestrator) ActivityLog() *activity.Log {
	return o.log
}

// LastReceived returns the most recent inbound position.
func (o *Orchestrator) LastReceived() (room.CursorPosition, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastRecv == nil {
		return room.CursorPosition{}, false
	}
	return *o.lastRecv, true
}

// LastSent returns the most recent position handed to the room layer.
func (o *Orchestrator) LastSent() (room.CursorPosition, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastSent == nil {
		return room.CursorPosition{}, false
	}
	return *o.lastSent, true
}

// DisplayPosition is the position a view of this slot shows: the last sent
// one for a host, the last received one for a guest.
func (o *Orchestrator) DisplayPosition() (room.CursorPosition, bool) {
	if o.cfg.Role == RoleHost {
		return o.LastSent()
	}
	return o.LastReceived()
}

// SendCursorPosition broadcasts pos when connected. Positions arriving
// faster than the throttle are dropped; nothing is queued. It reports
// whether pos was handed to the room layer. Send failures go to the
// activity log.
func (o *Orchestrator) SendCursorPosition(ctx context.Context, pos room.CursorPosition) bool {
	o.mu.Lock()
	r := o.run
	if r == nil || !r.alive.Load() || !o.snap.IsConnected {
		o.mu.Unlock()
		return false
	}
	r.mu.Lock()
	rc := r.room
	r.mu.Unlock()
	if rc == nil {
		o.mu.Unlock()
		return false
	}
	now := o.clock.Now()
	if o.cfg.CursorThrottle > 0 && !o.lastSendAt.IsZero() && now.Sub(o.lastSendAt) < o.cfg.CursorThrottle {
		o.mu.Unlock()
		return false
	}
	o.lastSendAt = now
	p := pos
	o.lastSent = &p
	o.mu.Unlock()

	rc.SendCursorPosition(ctx, o.cfg.RoomID, pos)
	return true
}

// loop is the body of one mount. Its teardown runs exactly once, on every
// exit path.
func (o *Orchestrator) loop(ctx context.Context, r *run) {
	defer close(r.done)
	defer o.teardown(r)
	defer r.settle(connection.ErrAborted)

	if o.cfg.Debounce > 0 {
		t := o.clock.Timer(o.cfg.Debounce)
		select {
		case <-ctx.Done():
			t.Stop()
			r.settle(fmt.Errorf("%w: %w", connection.ErrAborted, ctx.Err()))
			return
		case <-t.C:
		}
	}

	o.mu.Lock()
	prev := o.session
	o.session = nil
	o.mu.Unlock()
	if prev != nil {
		if err := prev.Dispose(); err != nil {
			o.logger.Warn("dispose previous session", "error", err)
		}
	}

	endpoint, healthy := o.selector.SelectEndpoint()
	if endpoint == "" {
		o.fail(r, ErrNoEndpoint, 0)
		return
	}
	if !healthy {
		o.addLog(r, "No healthy endpoints, trying %s", endpoint)
	}

	sess, err := o.factory(endpoint)
	if err != nil {
		o.fail(r, fmt.Errorf("create session for %s: %w", endpoint, err), 0)
		return
	}

	logger := o.logger.With("session_id", sess.ID(), "endpoint", endpoint)
	rc := room.NewClient(sess,
		room.WithLogger(logger),
		room.WithDropHandler(func(_ room.CursorPosition, err error) {
			o.addLog(r, "Error sending cursor position: %v", err)
		}),
	)
	o.register(r, rc)

	r.mu.Lock()
	r.session = sess
	r.room = rc
	r.mu.Unlock()

	o.mu.Lock()
	o.session = sess
	o.mu.Unlock()

	o.update(r, func(s *Snapshot) {
		s.State = connection.StateConnecting
		s.IsConnected = false
		s.Endpoint = endpoint
		s.EndpointHealthy = healthy
		s.SessionID = sess.ID()
	})

	if err := o.connect(ctx, r, sess, logger); err != nil {
		if connection.IsAbort(err) {
			// An abort that did not come from Stop leaves the slot Aborted
			// until the next Stop or Start.
			if ctx.Err() == nil {
				<-ctx.Done()
			}
			return
		}
		o.poll(ctx, r, sess)
		return
	}

	if err := o.enterRoom(ctx, r, rc); err != nil {
		if ctx.Err() != nil {
			r.settle(fmt.Errorf("%w: %w", connection.ErrAborted, ctx.Err()))
			return
		}
		if derr := sess.Disconnect(context.Background()); derr != nil {
			logger.Warn("disconnect after room failure", "error", derr)
		}
		o.fail(r, err, 1)
		<-ctx.Done()
		return
	}

	r.settle(nil)
	o.poll(ctx, r, sess)
}

// connect runs connect-with-retry and records the outcome.
func (o *Orchestrator) connect(ctx context.Context, r *run, sess Session, logger *slog.Logger) error {
	var warning *clock.Timer
	if o.cfg.ConnectTimeoutWarning > 0 {
		warning = o.clock.AfterFunc(o.cfg.ConnectTimeoutWarning, func() {
			switch sess.State() {
			case connection.StateConnecting, connection.StateReconnecting:
				o.addLog(r, "Connection timeout - still trying...")
			}
		})
	}

	policy := o.cfg.ConnectRetry
	maxAttempts := policy.MaxAttempts
	policy.OnRetry = func(failed int, delay time.Duration, err error) {
		o.addLog(r, "Connection failed, retrying in %dms... (attempt %d/%d)", delay.Milliseconds(), failed, maxAttempts)
		o.update(r, func(s *Snapshot) { s.RetryCount = failed })
	}

	err := sess.ConnectWithRetry(ctx, policy)
	if warning != nil {
		warning.Stop()
	}

	switch {
	case err == nil:
		logger.Info("connected")
		o.addLog(r, "Connected to %s", sess.URL())
		o.update(r, func(s *Snapshot) {
			s.State = connection.StateConnected
			s.IsConnected = true
			s.RetryCount = 0
		})
		return nil

	case connection.IsAbort(err):
		logger.Info("connect aborted", "error", err)
		o.addLog(r, "Connection was aborted")
		o.update(r, func(s *Snapshot) {
			s.State = connection.StateAborted
			s.IsConnected = false
			s.RetryCount = 0
		})
		r.settle(err)
		return err

	default:
		attempts := maxAttempts
		var ce *connection.ConnectError
		if errors.As(err, &ce) {
			attempts = ce.Attempts
		}
		o.fail(r, err, attempts)
		return err
	}
}

// enterRoom issues exactly one of CreateRoom or JoinRoom.
func (o *Orchestrator) enterRoom(ctx context.Context, r *run, rc *room.Client) error {
	if o.cfg.Role == RoleHost {
		if err := rc.CreateRoom(ctx, o.cfg.RoomID); err != nil {
			return err
		}
		o.addLog(r, "Created room: %s", o.cfg.RoomID)
		return nil
	}

	if err := rc.JoinRoom(ctx, o.cfg.RoomID); err != nil {
		return err
	}
	o.addLog(r, "Joined room: %s", o.cfg.RoomID)
	return nil
}

// fail records a terminal failure of the cycle. retries is added to
// RetryCount when the failure was not a connect exhaustion.
func (o *Orchestrator) fail(r *run, err error, retries int) {
	o.logger.Error("connection cycle failed", "error", err)
	o.addLog(r, "Connection failed: %v", err)

	var ce *connection.ConnectError
	o.update(r, func(s *Snapshot) {
		s.State = connection.StateFailed
		s.IsConnected = false
		if errors.As(err, &ce) {
			s.RetryCount = retries
		} else {
			s.RetryCount += retries
		}
	})
	r.settle(err)
}

// register installs the room handlers. Each one checks the liveness of the
// run it was registered for, so a superseded session stays silent.
func (o *Orchestrator) register(r *run, rc *room.Client) {
	obs := o.observer

	rc.OnCursorPositionReceived(func(p room.CursorPosition) {
		if !r.alive.Load() {
			return
		}
		o.mu.Lock()
		o.lastRecv = &p
		o.mu.Unlock()
		o.addLog(r, "Received cursor position: x=%g, y=%g", p.X, p.Y)
		if obs.OnCursorPosition != nil {
			obs.OnCursorPosition(p)
		}
	})

	rc.OnRoomCreated(func(roomID string) {
		if !r.alive.Load() {
			return
		}
		o.addLog(r, "Room created: %s", roomID)
		if obs.OnRoomCreated != nil {
			obs.OnRoomCreated(roomID)
		}
	})

	rc.OnUserJoinedRoom(func(message string) {
		if !r.alive.Load() {
			return
		}
		o.addLog(r, "User joined: %s", message)
		if obs.OnUserJoinedRoom != nil {
			obs.OnUserJoinedRoom(message)
		}
	})

	rc.OnError(func(message string) {
		if !r.alive.Load() {
			return
		}
		o.addLog(r, "Error: %s", message)
		if obs.OnError != nil {
			obs.OnError(message)
		}
	})
}

// poll republishes the session state until ctx is done. The session's
// own reconnect transitions are only observed here.
func (o *Orchestrator) poll(ctx context.Context, r *run, sess Session) {
	ticker := o.clock.Ticker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state := sess.State()
			active := sess.IsActive()

			var changed bool
			o.update(r, func(s *Snapshot) {
				changed = s.State != state
				s.State = state
				s.IsConnected = active
			})
			if changed {
				o.addLog(r, "Connection state: %s", state)
			}
		}
	}
}

// teardown releases everything the run owns.
func (o *Orchestrator) teardown(r *run) {
	r.alive.Store(false)
	r.cancel()

	r.mu.Lock()
	sess, rc := r.session, r.room
	r.mu.Unlock()

	if rc != nil {
		rc.Close()
	}
	if sess != nil {
		if err := sess.Disconnect(context.Background()); err != nil {
			o.logger.Warn("disconnect on teardown", "error", err)
		}
	}

	o.mu.Lock()
	if o.run != r {
		o.mu.Unlock()
		return
	}
	o.snap.State = connection.StateDisconnected
	o.snap.IsConnected = false
	snap := o.snap
	o.mu.Unlock()

	o.logger.Info("connection cycle torn down")
	if o.observer.OnSnapshot != nil {
		o.observer.OnSnapshot(snap)
	}
}

// update mutates the snapshot of r if r is still the live run and
// publishes the result.
func (o *Orchestrator) update(r *run, fn func(*Snapshot)) {
	o.mu.Lock()
	if o.run != r || !r.alive.Load() {
		o.mu.Unlock()
		return
	}
	fn(&o.snap)
	snap := o.snap
	o.mu.Unlock()

	if o.observer.OnSnapshot != nil {
		o.observer.OnSnapshot(snap)
	}
}

func (o *Orchestrator) addLog(r *run, format string, args ...any) {
	if !r.alive.Load() {
		return
	}
	o.log.Addf(format, args...)
}
