package quota

import (
	"context"
	"log/slog"
	"time"

	"github.com/perimeterhq/perimeter/internal/metricsource"
)

// TenantLister supplies the tenant IDs the monitor evaluates each tick.
type TenantLister interface {
	ListTenantIDs(ctx context.Context) ([]string, error)
}

// TenantListerFunc adapts a function to TenantLister.
type TenantListerFunc func(ctx context.Context) ([]string, error)

func (f TenantListerFunc) ListTenantIDs(ctx context.Context) ([]string, error) { return f(ctx) }

// Monitor periodically samples host resources and runs the enforcer over
// every tenant that carries a policy for a host-level resource type. Tenants
// without such policies are skipped without error.
type Monitor struct {
	enforcer *Enforcer
	source   metricsource.Source
	tenants  TenantLister
	interval time.Duration
	logger   *slog.Logger
}

// NewMonitor creates a monitor. interval <= 0 defaults to 30s.
func NewMonitor(enforcer *Enforcer, source metricsource.Source, tenants TenantLister, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		enforcer: enforcer,
		source:   source,
		tenants:  tenants,
		interval: interval,
		logger:   logger,
	}
}

// Run samples and evaluates until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	sample, err := m.source.Sample(ctx)
	if err != nil {
		m.logger.Error("host sample failed", "error", err)
		return
	}

	ids, err := m.tenants.ListTenantIDs(ctx)
	if err != nil {
		m.logger.Error("tenant listing failed", "error", err)
		return
	}

	readings := []struct {
		rt    ResourceType
		usage int64
	}{
		{ResourceCPU, int64(sample.CPUPercent)},
		{ResourceMemory, sample.MemoryUsedMB},
		{ResourceDisk, sample.DiskUsedMB},
		{ResourceBandwidth, sample.NetworkKBps},
	}

	for _, id := range ids {
		for _, r := range readings {
			_, _, err := m.enforcer.Evaluate(ctx, id, r.rt, r.usage)
			if err != nil && err != ErrPolicyNotFound {
				m.logger.Error("resource evaluation failed",
					"tenant", id, "resource", r.rt, "error", err)
			}
		}
	}
}
