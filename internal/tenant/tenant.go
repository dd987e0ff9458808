// Package tenant provides the tenant model and directory for the Perimeter gateway.
package tenant

import (
	"errors"
	"time"
)

// Errors
var (
	ErrTenantNotFound = errors.New("tenant: not found")
	ErrDomainTaken    = errors.New("tenant: domain already taken")
	ErrInvalidPlan    = errors.New("tenant: unknown plan")
	ErrInvalidStatus  = errors.New("tenant: unknown status")
)

// Status represents a tenant's lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
	StatusPending   Status = "pending"
	StatusTrial     Status = "trial"
)

// ValidStatus returns true if the status name is recognised.
func ValidStatus(s Status) bool {
	switch s {
	case StatusActive, StatusSuspended, StatusCancelled, StatusPending, StatusTrial:
		return true
	}
	return false
}

// Plan identifies the subscription tier.
type Plan string

const (
	PlanFree         Plan = "free"
	PlanStarter      Plan = "starter"
	PlanProfessional Plan = "professional"
	PlanEnterprise   Plan = "enterprise"
	PlanCustom       Plan = "custom"
)

// Tenant represents an isolated customer account.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Domain    string    `json:"domain"` // Subdomain label used for Host-based resolution
	Plan      Plan      `json:"plan"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsActive returns true when requests for this tenant may proceed.
func (t *Tenant) IsActive() bool {
	return t.Status == StatusActive
}
