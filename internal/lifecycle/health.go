package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Proton-105/site-pulse/internal/health"
)

// HealthChecker exposes liveness and readiness probes.
type HealthChecker interface {
	Liveness(ctx context.Context) error
	Readiness(ctx context.Context) (health.Report, error)
}

// Probes answers liveness unconditionally and readiness from the dependency checker.
type Probes struct {
	checker *health.Checker
	log     *slog.Logger
}

// NewProbes creates a new Probes instance.
func NewProbes(checker *health.Checker, log *slog.Logger) *Probes {
	if log == nil {
		log = slog.Default()
	}
	return &Probes{checker: checker, log: log}
}

// Liveness reports success while the process is serving.
func (p *Probes) Liveness(ctx context.Context) error {
	p.log.Debug("liveness probe called")
	return nil
}

// Readiness fails when any registered dependency is unreachable.
func (p *Probes) Readiness(ctx context.Context) (health.Report, error) {
	if p.checker == nil {
		return health.Report{}, nil
	}

	report := p.checker.Check(ctx)
	if failing := report.Failing(); len(failing) > 0 {
		return report, fmt.Errorf("not ready: %s", strings.Join(failing, ", "))
	}
	return report, nil
}
