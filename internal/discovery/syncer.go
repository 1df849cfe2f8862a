package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.uber.org/multierr"
)

// Registry is the part of the balancer the syncer mutates.
type Registry interface {
	URLs() []string
	AddEndpoint(url string) bool
	RemoveEndpoint(url string) bool
}

// Diff is the outcome of one sync.
type Diff struct {
	Added   []string
	Removed []string
}

// Empty reports whether the sync changed nothing.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// Syncer reconciles the registry with the union of its sources.
//
// Endpoints are only removed when every source answered; a failing source
// can add nothing but also never shrinks the registry. An empty union is
// ignored so the registry never drops to zero endpoints.
type Syncer struct {
	registry Registry
	sources  []Source
	logger   *slog.Logger
}

// NewSyncer creates a syncer.
func NewSyncer(registry Registry, logger *slog.Logger, sources ...Source) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{registry: registry, sources: sources, logger: logger}
}

// Sync runs one reconciliation. Source errors are combined and returned
// after the reachable sources have been applied.
func (s *Syncer) Sync(ctx context.Context) (Diff, error) {
	var (
		diff    Diff
		errs    error
		failed  int
		desired = make(map[string]struct{})
		order   []string
	)

	for _, src := range s.sources {
		urls, err := src.Endpoints(ctx)
		if err != nil {
			errs = multierr.Append(errs, err)
			failed++
			continue
		}
		for _, u := range urls {
			u = strings.TrimRight(strings.TrimSpace(u), "/")
			if u == "" {
				continue
			}
			if _, ok := desired[u]; !ok {
				desired[u] = struct{}{}
				order = append(order, u)
			}
		}
	}

	if failed == len(s.sources) && failed > 0 {
		return diff, fmt.Errorf("all discovery sources failed: %w", errs)
	}

	for _, u := range order {
		if s.registry.AddEndpoint(u) {
			diff.Added = append(diff.Added, u)
		}
	}

	if failed == 0 && len(desired) > 0 {
		for _, u := range s.registry.URLs() {
			if _, ok := desired[u]; ok {
				continue
			}
			if s.registry.RemoveEndpoint(u) {
				diff.Removed = append(diff.Removed, u)
			}
		}
	}

	if !diff.Empty() {
		s.logger.Info("backend registry updated",
			"added", diff.Added,
			"removed", diff.Removed,
		)
	}
	return diff, errs
}

// Run adapts Sync to a poller task.
func (s *Syncer) Run(ctx context.Context) error {
	_, err := s.Sync(ctx)
	return err
}
