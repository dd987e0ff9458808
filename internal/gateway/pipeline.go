package gateway

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/perimeterhq/perimeter/internal/circuitbreaker"
	"github.com/perimeterhq/perimeter/internal/identity"
	"github.com/perimeterhq/perimeter/internal/logging"
	"github.com/perimeterhq/perimeter/internal/metrics"
	"github.com/perimeterhq/perimeter/internal/quota"
	"github.com/perimeterhq/perimeter/internal/ratelimit"
	"github.com/perimeterhq/perimeter/internal/registry"
	"github.com/perimeterhq/perimeter/internal/tenant"
)

// CredentialVerifier authenticates a request's credentials.
type CredentialVerifier interface {
	Verify(ctx context.Context, apiKey, bearer string) (*identity.Identity, error)
}

// Pipeline is the proxy request path. Every step that can reject does so
// with a distinct status code; quota and rate-limit rejections are normal
// traffic and are never logged as errors.
type Pipeline struct {
	resolver  *Resolver
	verifier  CredentialVerifier
	limiter   ratelimit.Limiter
	ledger    *quota.Ledger
	services  registry.Store
	breaker   *circuitbreaker.Breaker
	forwarder *Forwarder
	cache     Cache
	recorder  *Recorder
}

// NewPipeline wires the proxy request path.
func NewPipeline(
	resolver *Resolver,
	verifier CredentialVerifier,
	limiter ratelimit.Limiter,
	ledger *quota.Ledger,
	services registry.Store,
	breaker *circuitbreaker.Breaker,
	forwarder *Forwarder,
	cache Cache,
	recorder *Recorder,
) *Pipeline {
	return &Pipeline{
		resolver:  resolver,
		verifier:  verifier,
		limiter:   limiter,
		ledger:    ledger,
		services:  services,
		breaker:   breaker,
		forwarder: forwarder,
		cache:     cache,
		recorder:  recorder,
	}
}

// RegisterRoutes mounts the proxy on both addressing forms.
func (p *Pipeline) RegisterRoutes(r *gin.Engine) {
	r.Any("/api/v1/:service/*rest", p.Handle)
	r.Any("/tenant/:tenant/api/v1/:service/*rest", p.Handle)
}

// Handle runs one request through the pipeline.
func (p *Pipeline) Handle(c *gin.Context) {
	start := time.Now()
	ctx := c.Request.Context()
	log := logging.L(ctx)

	// Step 1: who is calling.
	t, err := p.resolver.Resolve(ctx, c.Request)
	if err != nil {
		if errors.Is(err, ErrTenantNotResolved) || errors.Is(err, tenant.ErrTenantNotFound) {
			p.reply(c, http.StatusNotFound, "tenant_not_found", "no tenant matches this request", start)
			return
		}
		log.Error("tenant resolution failed", "error", err)
		p.reply(c, http.StatusInternalServerError, "internal_error", "tenant lookup failed", start)
		return
	}

	// Step 2: are they who they say. The API key wins when both are sent.
	id, err := p.verifier.Verify(ctx, c.GetHeader("X-API-Key"), c.GetHeader("Authorization"))
	if err != nil || id.TenantID != t.ID {
		p.reply(c, http.StatusUnauthorized, "unauthenticated", "missing or invalid credentials", start)
		return
	}

	// Step 3: plan-tier rate limit. Read per request so a plan change takes
	// effect immediately. Runs ahead of the status check so every
	// authenticated response carries the rate-limit headers.
	cfg := tenant.ConfigForPlan(t.Plan)
	d, err := p.limiter.Allow(ctx, t.ID, int(cfg.RateLimitPerHour), RateLimitWindow)
	if err != nil {
		// Fail open: a broken limiter backend must not take the API down.
		log.Warn("rate limiter unavailable", "tenant", t.ID, "error", err)
	} else {
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
		if !d.Allowed {
			p.recordViolation(t.ID, c.Request.URL.Path, int(cfg.RateLimitPerHour))
			p.reply(c, http.StatusTooManyRequests, "rate_limit_exceeded", "plan rate limit exceeded", start)
			return
		}
	}

	// Step 4: is the tenant in good standing. Trial and pending tenants do
	// not pass; only active does.
	if !t.IsActive() {
		p.reply(c, http.StatusForbidden, "tenant_not_active", "tenant is not active", start)
		return
	}

	// Step 5: API-call quota. A tenant without a provisioned api_calls row
	// is ungoverned and passes through.
	if err := p.ledger.TryConsume(ctx, t.ID, quota.ResourceAPICalls, 1); err != nil {
		switch {
		case errors.Is(err, quota.ErrQuotaExceeded):
			p.reply(c, http.StatusServiceUnavailable, "quota_exceeded", "monthly API call quota exhausted", start)
			return
		case errors.Is(err, quota.ErrQuotaNotFound):
			// ungoverned tenant
		default:
			log.Error("quota consume failed", "tenant", t.ID, "error", err)
			p.reply(c, http.StatusInternalServerError, "internal_error", "quota check failed", start)
			return
		}
	}

	// Route to a registered backend.
	path := StripTenantPrefix(c.Request.URL.Path)
	serviceName, backendPath := splitServicePath(path)
	if serviceName == "" {
		p.reply(c, http.StatusNotFound, "no_route", "no backend service for path", start)
		return
	}
	svc, err := p.services.Get(ctx, serviceName)
	if err != nil {
		if errors.Is(err, registry.ErrServiceNotFound) {
			p.reply(c, http.StatusNotFound, "no_route", "unknown service "+serviceName, start)
			return
		}
		log.Error("service lookup failed", "service", serviceName, "error", err)
		p.reply(c, http.StatusInternalServerError, "internal_error", "service lookup failed", start)
		return
	}
	if !svc.Healthy {
		p.reply(c, http.StatusServiceUnavailable, "service_unavailable", "service is marked unhealthy", start)
		return
	}

	// Step 6: response cache.
	query := c.Request.URL.RawQuery
	if cached := p.cache.Get(ctx, t.ID, c.Request.Method, path, query); cached != nil {
		p.writeResponse(c, cached, start)
		p.recordRequest(t, id, svc.Name, backendPath, c.Request.Method, cached.StatusCode, start, true)
		return
	}

	// Step 7: circuit-broken forward.
	if !p.breaker.Allow(svc.Name) {
		metrics.ProxyRequestsTotal.WithLabelValues(svc.Name, "circuit_open").Inc()
		p.reply(c, http.StatusServiceUnavailable, "circuit_open", "service temporarily unavailable", start)
		return
	}

	// The backend call survives a client disconnect so the breaker sees
	// its real outcome; only the response write is skipped.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.forwarder.client.Timeout)
	defer cancel()

	resp, err := p.forwarder.Forward(fctx, svc.BaseURL, backendPath, query, c.Request, t.ID)
	if err != nil {
		p.breaker.RecordFailure(svc.Name)
		metrics.ProxyRequestsTotal.WithLabelValues(svc.Name, "error").Inc()
		status, code, msg := http.StatusBadGateway, "backend_unreachable", "backend request failed"
		if errors.Is(err, ErrBackendTimeout) {
			status, code, msg = http.StatusGatewayTimeout, "backend_timeout", "backend timed out"
		}
		log.Error("backend call failed", "tenant", t.ID, "service", svc.Name, "error", err)
		p.reply(c, status, code, msg, start)
		p.recordRequest(t, id, svc.Name, backendPath, c.Request.Method, status, start, false)
		return
	}

	if resp.Failed() {
		p.breaker.RecordFailure(svc.Name)
		metrics.ProxyRequestsTotal.WithLabelValues(svc.Name, "backend_error").Inc()
	} else {
		p.breaker.RecordSuccess(svc.Name)
		metrics.ProxyRequestsTotal.WithLabelValues(svc.Name, "ok").Inc()
		p.cache.Put(fctx, t.ID, c.Request.Method, path, query, resp)
	}
	metrics.ProxyLatency.WithLabelValues(svc.Name).Observe(float64(resp.LatencyMs) / 1000)

	// A client that hung up gets nothing, but the request still counted.
	if ctx.Err() == nil {
		p.writeResponse(c, resp, start)
	}
	p.recordRequest(t, id, svc.Name, backendPath, c.Request.Method, resp.StatusCode, start, false)
}

func (p *Pipeline) writeResponse(c *gin.Context, resp *ForwardResponse, start time.Time) {
	c.Header("X-Response-Time", strconv.FormatInt(time.Since(start).Milliseconds(), 10)+"ms")
	for k, vv := range resp.Header {
		if k == "Content-Length" || skipHeaders[k] {
			continue
		}
		for _, v := range vv {
			c.Writer.Header().Add(k, v)
		}
	}
	c.Data(resp.StatusCode, resp.Header.Get("Content-Type"), resp.Body)
}

func (p *Pipeline) reply(c *gin.Context, status int, code, message string, start time.Time) {
	c.Header("X-Response-Time", strconv.FormatInt(time.Since(start).Milliseconds(), 10)+"ms")
	c.JSON(status, gin.H{"error": code, "message": message})
}

func (p *Pipeline) recordRequest(t *tenant.Tenant, id *identity.Identity, service, endpoint, method string, status int, start time.Time, cacheHit bool) {
	p.recorder.Record(&RequestRecord{
		TenantID:   t.ID,
		UserID:     id.UserID,
		Service:    service,
		Endpoint:   endpoint,
		Method:     method,
		StatusCode: status,
		LatencyMs:  time.Since(start).Milliseconds(),
		CacheHit:   cacheHit,
	})
}

func (p *Pipeline) recordViolation(tenantID, endpoint string, limit int) {
	p.recorder.RecordViolation(&RateLimitViolation{
		TenantID: tenantID,
		Endpoint: endpoint,
		Limit:    limit,
	})
}

// splitServicePath extracts the service name and backend path from
// /api/v1/{service}/{rest}. The backend sees /{rest}.
func splitServicePath(path string) (service, rest string) {
	const prefix = "/api/v1/"
	if !strings.HasPrefix(path, prefix) {
		return "", ""
	}
	remainder := path[len(prefix):]
	if i := strings.IndexByte(remainder, '/'); i >= 0 {
		return remainder[:i], remainder[i:]
	}
	return remainder, "/"
}
