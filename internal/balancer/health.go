package balancer

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/cursor-sync/internal/metrics"
)

// RunHealthCheck probes every endpoint concurrently and waits for all of
// them. Each probe is bounded by the probe timeout; one slow or failing
// endpoint never affects another. Failures are recorded as endpoint state,
// never returned.
func (b *Balancer) RunHealthCheck(ctx context.Context) {
	urls := b.URLs()

	var g errgroup.Group
	for _, url := range urls {
		g.Go(func() error {
			b.probe(ctx, url)
			return nil
		})
	}
	g.Wait()

	b.logger.Debug("health check complete",
		"endpoints", len(urls),
		"healthy", len(b.HealthyEndpoints()),
	)
}

func (b *Balancer) probe(ctx context.Context, url string) {
	pctx, cancel := context.WithTimeout(ctx, b.probeTimeout)
	defer cancel()

	rt, err := b.prober.CheckHealth(pctx, url)

	result := ProbeResult{
		URL:       url,
		Healthy:   err == nil,
		CheckedAt: b.clock.Now(),
	}
	if err != nil {
		result.Error = err.Error()
		metrics.HealthProbes.WithLabelValues("unhealthy").Inc()
		b.logger.Warn("health check failed", "endpoint", url, "error", err)
		b.setHealth(url, false, nil)
	} else {
		result.ResponseTime = rt
		metrics.HealthProbes.WithLabelValues("healthy").Inc()
		b.setHealth(url, true, &rt)
	}

	if b.recorder != nil {
		if err := b.recorder.RecordProbe(ctx, result); err != nil {
			b.logger.Warn("failed to record probe", "endpoint", url, "error", err)
		}
	}
}
