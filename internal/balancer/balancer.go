package balancer

import (
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/rickgao/cursor-sync/internal/api"
	"github.com/rickgao/cursor-sync/internal/metrics"
)

// DefaultProbeTimeout bounds a single health probe.
const DefaultProbeTimeout = 5 * time.Second

// Option configures a Balancer.
type Option func(*Balancer)

// WithStrategy sets the initial strategy.
func WithStrategy(s Strategy) Option {
	return func(b *Balancer) { b.strategy = s }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Balancer) { b.logger = logger }
}

// WithRand sets the random source used by Random and Sticky.
func WithRand(r *rand.Rand) Option {
	return func(b *Balancer) { b.rng = r }
}

// WithClock sets the clock used for LastCheckedAt.
func WithClock(clk clock.Clock) Option {
	return func(b *Balancer) { b.clock = clk }
}

// WithProber sets the health prober (default: api.Client).
func WithProber(p Prober) Option {
	return func(b *Balancer) { b.prober = p }
}

// WithRecorder persists every probe result.
func WithRecorder(r ProbeRecorder) Option {
	return func(b *Balancer) { b.recorder = r }
}

// WithProbeTimeout bounds each health probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(b *Balancer) { b.probeTimeout = d }
}

// Balancer is the backend registry and endpoint selector. It is safe for
// concurrent use.
type Balancer struct {
	logger       *slog.Logger
	clock        clock.Clock
	prober       Prober
	recorder     ProbeRecorder
	probeTimeout time.Duration

	mu        sync.Mutex
	endpoints []*Endpoint // Registration order; endpoints[0] is the fallback
	strategy  Strategy
	rrIndex   int
	sticky    string
	rng       *rand.Rand
}

// New creates a balancer over urls. Duplicate and blank URLs are dropped;
// an empty result is a configuration error. Every endpoint starts healthy.
func New(urls []string, opts ...Option) (*Balancer, error) {
	b := &Balancer{
		strategy:     StrategyRandom,
		probeTimeout: DefaultProbeTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	if b.clock == nil {
		b.clock = clock.New()
	}
	if b.rng == nil {
		b.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if b.prober == nil {
		b.prober = api.NewClient(api.WithLogger(b.logger), api.WithTimeout(b.probeTimeout))
	}

	for _, u := range urls {
		b.addLocked(u)
	}
	if len(b.endpoints) == 0 {
		return nil, ErrNoEndpoints
	}

	b.logger.Info("load balancer initialized",
		"endpoints", len(b.endpoints),
		"strategy", b.strategy,
	)
	return b, nil
}

func normalize(url string) string {
	return strings.TrimRight(strings.TrimSpace(url), "/")
}

// addLocked must be called with b.mu held (or before b is shared).
func (b *Balancer) addLocked(url string) bool {
	url = normalize(url)
	if url == "" || b.findLocked(url) != nil {
		return false
	}
	b.endpoints = append(b.endpoints, &Endpoint{URL: url, Healthy: true})
	metrics.EndpointHealthy.WithLabelValues(url).Set(1)
	return true
}

func (b *Balancer) findLocked(url string) *Endpoint {
	for _, ep := range b.endpoints {
		if ep.URL == url {
			return ep
		}
	}
	return nil
}

func (b *Balancer) healthyLocked() []string {
	healthy := make([]string, 0, len(b.endpoints))
	for _, ep := range b.endpoints {
		if ep.Healthy {
			healthy = append(healthy, ep.URL)
		}
	}
	return healthy
}

// SelectEndpoint chooses an endpoint per the active strategy among healthy
// endpoints. When none is healthy it degrades to the first registered
// endpoint and reports healthy=false. It never fails; an emptied registry
// yields "".
func (b *Balancer) SelectEndpoint() (url string, healthy bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.endpoints) == 0 {
		b.logger.Error("no endpoints registered")
		metrics.Selections.WithLabelValues(string(b.strategy), "empty").Inc()
		return "", false
	}

	candidates := b.healthyLocked()
	if len(candidates) == 0 {
		fallback := b.endpoints[0].URL
		b.logger.Warn("no healthy endpoints, falling back to first endpoint", "endpoint", fallback)
		metrics.Selections.WithLabelValues(string(b.strategy), "fallback").Inc()
		return fallback, false
	}

	switch b.strategy {
	case StrategyRoundRobin:
		// The index wraps modulo the current healthy set.
		url = candidates[b.rrIndex%len(candidates)]
		b.rrIndex = (b.rrIndex + 1) % len(candidates)
	case StrategySticky:
		if b.sticky != "" {
			if ep := b.findLocked(b.sticky); ep != nil && ep.Healthy {
				url = b.sticky
				break
			}
		}
		url = candidates[b.rng.IntN(len(candidates))]
		b.sticky = url
	default:
		url = candidates[b.rng.IntN(len(candidates))]
	}

	metrics.Selections.WithLabelValues(string(b.strategy), "healthy").Inc()
	b.logger.Debug("selected endpoint", "endpoint", url, "strategy", b.strategy)
	return url, true
}

// AddEndpoint registers url as healthy. It reports whether url was new.
func (b *Balancer) AddEndpoint(url string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	added := b.addLocked(url)
	if added {
		b.logger.Info("endpoint added", "endpoint", normalize(url))
	}
	return added
}

// RemoveEndpoint unregisters url, clearing the sticky choice if it pointed
// there. It reports whether url was present.
func (b *Balancer) RemoveEndpoint(url string) bool {
	url = normalize(url)

	b.mu.Lock()
	defer b.mu.Unlock()

	for i, ep := range b.endpoints {
		if ep.URL != url {
			continue
		}
		b.endpoints = append(b.endpoints[:i], b.endpoints[i+1:]...)
		if b.sticky == url {
			b.sticky = ""
		}
		metrics.EndpointHealthy.DeleteLabelValues(url)
		metrics.EndpointResponseSeconds.DeleteLabelValues(url)
		b.logger.Info("endpoint removed", "endpoint", url)
		return true
	}
	return false
}

// MarkHealthy flags url healthy. Unknown URLs are ignored.
func (b *Balancer) MarkHealthy(url string) {
	b.setHealth(url, true, nil)
}

// MarkUnhealthy flags url unhealthy. Unknown URLs are ignored.
func (b *Balancer) MarkUnhealthy(url string) {
	b.setHealth(url, false, nil)
}

func (b *Balancer) setHealth(url string, healthy bool, responseTime *time.Duration) bool {
	url = normalize(url)

	b.mu.Lock()
	defer b.mu.Unlock()

	ep := b.findLocked(url)
	if ep == nil {
		return false
	}
	if ep.Healthy != healthy {
		b.logger.Info("endpoint health changed", "endpoint", url, "healthy", healthy)
	}
	ep.Healthy = healthy
	ep.LastCheckedAt = b.clock.Now()
	if responseTime != nil {
		rt := *responseTime
		ep.LastResponseTime = &rt
		metrics.EndpointResponseSeconds.WithLabelValues(url).Set(rt.Seconds())
	}
	metrics.EndpointHealthy.WithLabelValues(url).Set(metrics.BoolGauge(healthy))
	return true
}

// SetStrategy switches strategy. Leaving Sticky clears the pinned endpoint.
func (b *Balancer) SetStrategy(s Strategy) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s != StrategySticky {
		b.sticky = ""
	}
	if b.strategy != s {
		b.logger.Info("strategy changed", "from", b.strategy, "to", s)
	}
	b.strategy = s
}

// Strategy returns the active strategy.
func (b *Balancer) Strategy() Strategy {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.strategy
}

// Endpoints returns a copy of every registered endpoint.
func (b *Balancer) Endpoints() []Endpoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.copyLocked(func(*Endpoint) bool { return true })
}

// HealthyEndpoints returns a copy of the healthy endpoints.
func (b *Balancer) HealthyEndpoints() []Endpoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.copyLocked(func(ep *Endpoint) bool { return ep.Healthy })
}

func (b *Balancer) copyLocked(keep func(*Endpoint) bool) []Endpoint {
	out := make([]Endpoint, 0, len(b.endpoints))
	for _, ep := range b.endpoints {
		if keep(ep) {
			out = append(out, *ep)
		}
	}
	return out
}

// URLs returns the registered endpoint URLs in registration order.
func (b *Balancer) URLs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	urls := make([]string, len(b.endpoints))
	for i, ep := range b.endpoints {
		urls[i] = ep.URL
	}
	return urls
}

// ResetHealth marks every endpoint healthy.
func (b *Balancer) ResetHealth() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	for _, ep := range b.endpoints {
		ep.Healthy = true
		ep.LastCheckedAt = now
		metrics.EndpointHealthy.WithLabelValues(ep.URL).Set(1)
	}
}
