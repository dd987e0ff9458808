package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/perimeterhq/perimeter/internal/idgen"
	"github.com/perimeterhq/perimeter/internal/metrics"
)

// Recorder buffers request records and rate-limit violations and writes
// them out of band, so analytics never adds latency to the proxy path.
// Both buffers are bounded: under pressure the oldest queued entry is
// dropped, the newest kept.
type Recorder struct {
	store      Store
	queue      chan *RequestRecord
	violations chan *RateLimitViolation
	logger     *slog.Logger
}

// NewRecorder creates a recorder with the given queue capacity. Pass
// capacity<=0 for the default of 4096.
func NewRecorder(store Store, capacity int, logger *slog.Logger) *Recorder {
	if capacity <= 0 {
		capacity = 4096
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:      store,
		queue:      make(chan *RequestRecord, capacity),
		violations: make(chan *RateLimitViolation, capacity),
		logger:     logger,
	}
}

// Record enqueues one request record without blocking. When the queue is
// full the oldest record is discarded to make room.
func (r *Recorder) Record(rec *RequestRecord) {
	if rec.ID == "" {
		rec.ID = idgen.WithPrefix("req_")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	for {
		select {
		case r.queue <- rec:
			metrics.AnalyticsQueueDepth.Set(float64(len(r.queue)))
			return
		default:
		}
		select {
		case <-r.queue:
			metrics.AnalyticsDroppedTotal.Inc()
		default:
		}
	}
}

// RecordViolation enqueues one rate-limit violation without blocking,
// under the same drop-oldest discipline as Record.
func (r *Recorder) RecordViolation(v *RateLimitViolation) {
	if v.ID == "" {
		v.ID = idgen.WithPrefix("rlv_")
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}

	for {
		select {
		case r.violations <- v:
			return
		default:
		}
		select {
		case <-r.violations:
			metrics.AnalyticsDroppedTotal.Inc()
		default:
		}
	}
}

// Run drains both queues until the context is cancelled, then flushes
// whatever is left.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return
		case rec := <-r.queue:
			r.persist(ctx, rec)
		case v := <-r.violations:
			r.persistViolation(ctx, v)
		}
	}
}

func (r *Recorder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case rec := <-r.queue:
			r.persist(ctx, rec)
		case v := <-r.violations:
			r.persistViolation(ctx, v)
		default:
			return
		}
	}
}

func (r *Recorder) persist(ctx context.Context, rec *RequestRecord) {
	if err := r.store.RecordRequest(ctx, rec); err != nil {
		r.logger.Warn("failed to persist request record",
			"tenant", rec.TenantID, "service", rec.Service, "error", err)
	}
	metrics.AnalyticsQueueDepth.Set(float64(len(r.queue)))
}

func (r *Recorder) persistViolation(ctx context.Context, v *RateLimitViolation) {
	if err := r.store.RecordViolation(ctx, v); err != nil {
		r.logger.Warn("failed to persist rate limit violation",
			"tenant", v.TenantID, "error", err)
	}
}
