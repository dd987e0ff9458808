// Package quota tracks per-tenant resource consumption against configured
// policies.
//
// Three pieces cooperate:
//  1. Ledger: live counters with atomic check-and-consume per
//     (tenant, resource type) key.
//  2. CachedPolicies: hard/soft limits and thresholds per key, cached in
//     memory and refreshed on write.
//  3. Enforcer: evaluates usage against policy, emits alerts, and raises
//     limits automatically when a policy opts in.
package quota

import (
	"errors"
	"time"
)

// Errors
var (
	ErrQuotaExceeded  = errors.New("quota: exceeded")
	ErrQuotaNotFound  = errors.New("quota: not provisioned for tenant")
	ErrPolicyNotFound = errors.New("quota: policy not found")
	ErrPolicyExists   = errors.New("quota: policy already exists")
	ErrAlertNotFound  = errors.New("quota: alert not found")
	ErrInvalidAmount  = errors.New("quota: amount must be positive")
	ErrInvalidPolicy  = errors.New("quota: invalid policy")
)

// ResourceType identifies a governed resource.
type ResourceType string

const (
	ResourceUsers     ResourceType = "users"
	ResourceStorage   ResourceType = "storage_mb"
	ResourceAPICalls  ResourceType = "api_calls"
	ResourceDatabases ResourceType = "databases"

	// Host-level types sampled by the enforcer monitor loop.
	ResourceCPU       ResourceType = "cpu_pct"
	ResourceMemory    ResourceType = "memory_mb"
	ResourceDisk      ResourceType = "disk_mb"
	ResourceBandwidth ResourceType = "bandwidth_kbps"
)

// ResourceStatus is the enforcer's verdict for one evaluation.
type ResourceStatus string

const (
	StatusNormal   ResourceStatus = "normal"
	StatusWarning  ResourceStatus = "warning"
	StatusCritical ResourceStatus = "critical"
	StatusExceeded ResourceStatus = "exceeded"
)

// AlertType classifies a resource alert. Critical and exceeded evaluations
// share AlertExceeded; callers branch on ResourceStatus, not alert type.
type AlertType string

const (
	AlertWarning  AlertType = "warning"
	AlertExceeded AlertType = "exceeded"
)

// ResourceQuota is a live ledger row: how much of a resource a tenant may
// use and how much it has used. Invariant: 0 <= Used <= Limit after every
// successful consume.
type ResourceQuota struct {
	TenantID     string       `json:"tenantId"`
	ResourceType ResourceType `json:"resourceType"`
	Limit        int64        `json:"limit"`
	Used         int64        `json:"used"`
	SoftLimit    int64        `json:"softLimit"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// QuotaPolicy configures limits and alerting thresholds for one
// (tenant, resource type) pair. Mutated only by the enforcer's auto-scale
// action or an administrative update.
type QuotaPolicy struct {
	TenantID          string       `json:"tenantId"`
	ResourceType      ResourceType `json:"resourceType"`
	HardLimit         int64        `json:"hardLimit"`
	SoftLimit         int64        `json:"softLimit"`
	WarningThreshold  float64      `json:"warningThreshold"`  // percent of hard limit
	CriticalThreshold float64      `json:"criticalThreshold"` // percent of hard limit
	AutoScale         bool         `json:"autoScale"`
	AutoScaleFactor   float64      `json:"autoScaleFactor"`
	CostPerUnit       float64      `json:"costPerUnit"`
	CreatedAt         time.Time    `json:"createdAt"`
	UpdatedAt         time.Time    `json:"updatedAt"`
}

// Validate checks policy invariants before a create or update.
func (p *QuotaPolicy) Validate() error {
	if p.TenantID == "" || p.ResourceType == "" {
		return ErrInvalidPolicy
	}
	if p.HardLimit <= 0 || p.SoftLimit < 0 || p.SoftLimit > p.HardLimit {
		return ErrInvalidPolicy
	}
	if p.WarningThreshold <= 0 || p.CriticalThreshold <= 0 || p.WarningThreshold > p.CriticalThreshold {
		return ErrInvalidPolicy
	}
	if p.AutoScale && p.AutoScaleFactor <= 1.0 {
		return ErrInvalidPolicy
	}
	return nil
}

// ResourceAlert is an immutable threshold-crossing event. Never mutated
// except to mark resolved.
type ResourceAlert struct {
	ID           string       `json:"id"`
	TenantID     string       `json:"tenantId"`
	AlertType    AlertType    `json:"alertType"`
	ResourceType ResourceType `json:"resourceType"`
	CurrentUsage int64        `json:"currentUsage"`
	Limit        int64        `json:"limit"`
	ThresholdPct float64      `json:"thresholdPct"`
	Message      string       `json:"message"`
	CreatedAt    time.Time    `json:"createdAt"`
	Resolved     bool         `json:"resolved"`
}

// UsageEvent records one successful consumption for analytics.
type UsageEvent struct {
	ID           string       `json:"id"`
	TenantID     string       `json:"tenantId"`
	ResourceType ResourceType `json:"resourceType"`
	Amount       int64        `json:"amount"`
	CreatedAt    time.Time    `json:"createdAt"`
}
