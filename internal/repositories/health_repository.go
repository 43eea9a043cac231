package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	domain "github.com/folioshelf/api/internal/domain"
)

const defaultProbeTimeout = 2 * time.Second

// Probe checks one dependency. Critical probes turn the report to error when they fail;
// the rest only degrade it.
type Probe struct {
	Name     string
	Critical bool
	Timeout  time.Duration
	Check    func(context.Context) error
}

// ProbeOption customises the prober.
type ProbeOption func(*probeSet)

// WithProbeTimeout sets the timeout used by probes that do not declare one.
func WithProbeTimeout(timeout time.Duration) ProbeOption {
	return func(p *probeSet) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

// WithProbeClock injects the clock, for tests.
func WithProbeClock(clock func() time.Time) ProbeOption {
	return func(p *probeSet) {
		if clock != nil {
			p.now = clock
		}
	}
}

type probeSet struct {
	probes  []Probe
	timeout time.Duration
	now     func() time.Time
}

var _ HealthRepository = (*probeSet)(nil)

// NewProbeSet validates probes and returns a HealthRepository running them concurrently.
func NewProbeSet(probes []Probe, opts ...ProbeOption) (HealthRepository, error) {
	if len(probes) == 0 {
		return nil, errors.New("health: at least one probe is required")
	}
	seen := make(map[string]struct{}, len(probes))
	for _, probe := range probes {
		name := strings.TrimSpace(probe.Name)
		if name == "" {
			return nil, errors.New("health: probe name is required")
		}
		if probe.Check == nil {
			return nil, fmt.Errorf("health: probe %s has no check", name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("health: duplicate probe %s", name)
		}
		seen[name] = struct{}{}
	}

	set := &probeSet{
		probes:  append([]Probe(nil), probes...),
		timeout: defaultProbeTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(set)
		}
	}
	return set, nil
}

func (p *probeSet) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	var (
		mu      sync.Mutex
		results = make(map[string]domain.DependencyHealth, len(p.probes))
	)

	// Probe failures are reported in the result, never returned, so one slow dependency does
	// not cancel the others.
	var g errgroup.Group
	for _, probe := range p.probes {
		g.Go(func() error {
			result := p.run(ctx, probe)
			mu.Lock()
			results[probe.Name] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	status := domain.HealthStatusOK
	for _, result := range results {
		switch result.Status {
		case domain.HealthStatusError:
			status = domain.HealthStatusError
		case domain.HealthStatusDegraded:
			if status == domain.HealthStatusOK {
				status = domain.HealthStatusDegraded
			}
		}
	}
	return domain.SystemHealthReport{
		Status:      status,
		Checks:      results,
		GeneratedAt: p.now(),
	}, nil
}

func (p *probeSet) run(ctx context.Context, probe Probe) domain.DependencyHealth {
	timeout := probe.Timeout
	if timeout <= 0 {
		timeout = p.timeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := p.now()
	err := probe.Check(probeCtx)
	end := p.now()

	result := domain.DependencyHealth{
		Status:    domain.HealthStatusOK,
		Critical:  probe.Critical,
		Detail:    "ok",
		Latency:   end.Sub(start),
		CheckedAt: end,
	}
	if err == nil {
		err = probeCtx.Err()
	}
	if err == nil {
		return result
	}

	result.Status = domain.HealthStatusDegraded
	if probe.Critical {
		result.Status = domain.HealthStatusError
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		result.Detail = "timeout"
	case errors.Is(err, context.Canceled):
		result.Detail = "cancelled"
	default:
		result.Detail = err.Error()
	}
	return result
}
