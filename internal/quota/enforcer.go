package quota

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"go.opentelemetry.io/otel/codes"

	"github.com/perimeterhq/perimeter/internal/idgen"
	"github.com/perimeterhq/perimeter/internal/metrics"
	"github.com/perimeterhq/perimeter/internal/traces"
)

// Enforcer evaluates usage samples against policies, records alerts, and
// raises limits automatically for policies that opt in.
type Enforcer struct {
	policies *CachedPolicies
	alerts   AlertStore
	logger   *slog.Logger
}

// NewEnforcer creates an enforcer.
func NewEnforcer(policies *CachedPolicies, alerts AlertStore, logger *slog.Logger) *Enforcer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enforcer{policies: policies, alerts: alerts, logger: logger}
}

// Evaluate classifies one usage sample against the key's policy. Every
// warning-or-worse evaluation emits a fresh alert: a tenant that stays
// critical keeps alerting until usage drops or the limit is raised.
//
// Auto-scaling fires on critical, not on exceeded: past the hard limit the
// tenant is already being rejected and a silent limit raise would mask it.
func (e *Enforcer) Evaluate(ctx context.Context, tenantID string, rt ResourceType, currentUsage int64) (ResourceStatus, *ResourceAlert, error) {
	ctx, span := traces.StartSpan(ctx, "quota.Evaluate",
		traces.TenantID(tenantID), traces.Resource(string(rt)))
	defer span.End()

	p, err := e.policies.Get(ctx, tenantID, rt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "policy lookup failed")
		return StatusNormal, nil, err
	}

	pct := float64(currentUsage) / float64(p.HardLimit) * 100

	var (
		status    ResourceStatus
		alertType AlertType
	)
	switch {
	case pct >= 100:
		status, alertType = StatusExceeded, AlertExceeded
	case pct >= p.CriticalThreshold:
		status, alertType = StatusCritical, AlertExceeded
	case pct >= p.WarningThreshold:
		status, alertType = StatusWarning, AlertWarning
	default:
		return StatusNormal, nil, nil
	}

	alert := &ResourceAlert{
		ID:           idgen.WithPrefix("alr_"),
		TenantID:     tenantID,
		AlertType:    alertType,
		ResourceType: rt,
		CurrentUsage: currentUsage,
		Limit:        p.HardLimit,
		ThresholdPct: pct,
		Message:      fmt.Sprintf("%s usage at %.1f%% of limit %d", rt, pct, p.HardLimit),
	}
	if err := e.alerts.Create(ctx, alert); err != nil {
		// The evaluation verdict stands even when the alert record is lost.
		e.logger.Error("failed to record resource alert",
			"tenant", tenantID, "resource", rt, "error", err)
	}
	metrics.QuotaAlertsTotal.WithLabelValues(string(alertType)).Inc()

	if status == StatusCritical && p.AutoScale {
		if err := e.autoScale(ctx, p); err != nil {
			// The caller still gets the pre-scale verdict; next evaluation
			// retries the scale.
			e.logger.Error("auto-scale failed",
				"tenant", tenantID, "resource", rt, "error", err)
			metrics.QuotaAutoScalesTotal.WithLabelValues(string(rt), "error").Inc()
		} else {
			metrics.QuotaAutoScalesTotal.WithLabelValues(string(rt), "ok").Inc()
		}
	}

	return status, alert, nil
}

func (e *Enforcer) autoScale(ctx context.Context, p *QuotaPolicy) error {
	newHard := int64(math.Round(float64(p.HardLimit) * p.AutoScaleFactor))
	newSoft := newHard * 80 / 100

	scaled := *p
	scaled.HardLimit = newHard
	scaled.SoftLimit = newSoft

	// Update pushes the new limits to the ledger too, so policy and ledger
	// move together.
	if err := e.policies.Update(ctx, &scaled); err != nil {
		return err
	}

	e.logger.Info("auto-scaled resource limit",
		"tenant", p.TenantID,
		"resource", p.ResourceType,
		"old_limit", p.HardLimit,
		"new_limit", newHard,
		"new_soft_limit", newSoft)
	return nil
}
