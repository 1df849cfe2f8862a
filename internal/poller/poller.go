package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// ErrAlreadyStarted is returned by Start on a running poller.
var ErrAlreadyStarted = errors.New("poller already started")

// Task is one unit of periodic work. A returned error is logged and the
// poller keeps ticking.
type Task interface {
	Run(ctx context.Context) error
}

// TaskFunc is a function adapter for Task.
type TaskFunc func(ctx context.Context) error

func (f TaskFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Config holds poller configuration.
type Config struct {
	Name      string        // Used in log lines
	Interval  time.Duration // Tick interval (default: 30s)
	Timeout   time.Duration // Per-run timeout, 0 for none
	Immediate bool          // Run once on Start before the first tick
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Name:      "poller",
		Interval:  30 * time.Second,
		Immediate: true,
	}
}

// Poller runs a Task on a fixed interval until stopped. Runs never overlap;
// ticks that arrive during a slow run are coalesced.
type Poller struct {
	cfg    Config
	task   Task
	clock  clock.Clock
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	runs   int
	fails  int
}

// New creates a new Poller. A nil clock uses the wall clock.
func New(cfg Config, task Task, clk clock.Clock, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.New()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Name == "" {
		cfg.Name = DefaultConfig().Name
	}
	return &Poller{
		cfg:    cfg,
		task:   task,
		clock:  clk,
		logger: logger.With("poller", cfg.Name),
	}
}

// Start begins the polling loop. It returns immediately.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return ErrAlreadyStarted
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})

	// The ticker is created before the goroutine so a mock clock advanced
	// right after Start always fires it.
	ticker := p.clock.Ticker(p.cfg.Interval)
	go p.run(ctx, ticker, p.done)

	p.logger.Info("poller started", "interval", p.cfg.Interval)
	return nil
}

// Stop cancels the loop and waits for the in-flight run, bounded by ctx.
// Stopping a poller that is not running is a no-op.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		p.logger.Info("poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the number of completed runs and how many of them failed.
func (p *Poller) Stats() (runs, failures int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runs, p.fails
}

// run is the main polling loop.
func (p *Poller) run(ctx context.Context, ticker *clock.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	if p.cfg.Immediate {
		p.runOnce(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

// RunOnce executes the task synchronously, outside the loop.
func (p *Poller) RunOnce(ctx context.Context) error {
	return p.runOnce(ctx)
}

func (p *Poller) runOnce(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	runCtx := ctx
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	start := p.clock.Now()
	err := p.task.Run(runCtx)

	p.mu.Lock()
	p.runs++
	if err != nil {
		p.fails++
	}
	p.mu.Unlock()

	if err != nil {
		p.logger.Warn("poll run failed", "err", err)
		return err
	}
	p.logger.Debug("poll run complete", "duration", p.clock.Since(start))
	return nil
}
