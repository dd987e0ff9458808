package gateway

import "context"

// Store persists request analytics and rate-limit violations.
type Store interface {
	RecordRequest(ctx context.Context, rec *RequestRecord) error
	ListRequests(ctx context.Context, tenantID string, limit int) ([]*RequestRecord, error)
	Stats(ctx context.Context, tenantID string) (*RequestStats, error)

	RecordViolation(ctx context.Context, v *RateLimitViolation) error
	ListViolations(ctx context.Context, tenantID string, limit int) ([]*RateLimitViolation, error)
}
