package tenant

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/perimeterhq/perimeter/internal/idgen"
)

var validDomain = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}[a-z0-9]$`)

// PolicySeeder seeds default quota policies when a tenant is created.
type PolicySeeder interface {
	SeedDefaults(ctx context.Context, tenantID string, plan Plan) error
}

// KeyIssuer mints an initial API key for a new tenant.
type KeyIssuer interface {
	IssueKey(ctx context.Context, tenantID, name string) (rawKey, keyID string, err error)
}

// Handler provides HTTP endpoints for tenant management.
type Handler struct {
	store    Store
	dir      *Directory
	policies PolicySeeder
	keys     KeyIssuer
}

// NewHandler creates a new tenant handler.
func NewHandler(store Store, dir *Directory, policies PolicySeeder, keys KeyIssuer) *Handler {
	return &Handler{store: store, dir: dir, policies: policies, keys: keys}
}

// RegisterAdminRoutes sets up admin-only tenant management routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/tenants", h.CreateTenant)
	r.GET("/tenants", h.ListTenants)
	r.GET("/tenants/:id", h.GetTenant)
	r.POST("/tenants/:id/plan", h.ChangePlan)
	r.POST("/tenants/:id/status", h.ChangeStatus)
}

// CreateTenant handles POST /admin/v1/tenants.
func (h *Handler) CreateTenant(c *gin.Context) {
	var req struct {
		Name   string `json:"name" binding:"required"`
		Domain string `json:"domain" binding:"required"`
		Plan   Plan   `json:"plan"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "name and domain required"})
		return
	}

	req.Domain = strings.ToLower(strings.TrimSpace(req.Domain))
	if !validDomain.MatchString(req.Domain) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_domain",
			"message": "domain must be 3-64 lowercase alphanumeric/hyphens, start/end with alphanumeric",
		})
		return
	}

	if req.Plan == "" {
		req.Plan = PlanFree
	}
	if !ValidPlan(req.Plan) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_plan", "message": "unknown plan"})
		return
	}

	now := time.Now()
	t := &Tenant{
		ID:        idgen.WithPrefix("tn_"),
		Name:      strings.TrimSpace(req.Name),
		Domain:    req.Domain,
		Plan:      req.Plan,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.store.Create(c.Request.Context(), t); err != nil {
		if errors.Is(err, ErrDomainTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "domain_taken", "message": "domain already in use"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create tenant"})
		return
	}

	// Seed plan-default quota policies. Failure is surfaced but the tenant
	// stands: policies can be created via the admin policy endpoint.
	if h.policies != nil {
		if err := h.policies.SeedDefaults(c.Request.Context(), t.ID, t.Plan); err != nil {
			c.JSON(http.StatusCreated, gin.H{
				"tenant":  t,
				"warning": "Tenant created but default quota seeding failed. Seed policies via the admin API.",
			})
			return
		}
	}

	resp := gin.H{"tenant": t}
	if h.keys != nil {
		rawKey, keyID, err := h.keys.IssueKey(c.Request.Context(), t.ID, "Primary key")
		if err == nil {
			resp["apiKey"] = rawKey
			resp["keyId"] = keyID
			resp["warning"] = "Store this API key securely. It will not be shown again."
		}
	}

	c.JSON(http.StatusCreated, resp)
}

// GetTenant handles GET /admin/v1/tenants/:id.
func (h *Handler) GetTenant(c *gin.Context) {
	t, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "tenant not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant": t})
}

// ListTenants handles GET /admin/v1/tenants.
func (h *Handler) ListTenants(c *gin.Context) {
	tenants, err := h.store.List(c.Request.Context(), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenants": tenants, "count": len(tenants)})
}

// ChangePlan handles POST /admin/v1/tenants/:id/plan.
// Plan transitions invalidate cached lookups so the next request picks up the
// new rate-limit tier.
func (h *Handler) ChangePlan(c *gin.Context) {
	var req struct {
		Plan Plan `json:"plan" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "plan required"})
		return
	}

	t, err := h.dir.ChangePlan(c.Request.Context(), c.Param("id"), req.Plan)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidPlan):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_plan", "message": "unknown plan"})
		case errors.Is(err, ErrTenantNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "tenant not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to change plan"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant": t})
}

// ChangeStatus handles POST /admin/v1/tenants/:id/status.
func (h *Handler) ChangeStatus(c *gin.Context) {
	var req struct {
		Status Status `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "status required"})
		return
	}

	t, err := h.dir.ChangeStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidStatus):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status", "message": "unknown status"})
		case errors.Is(err, ErrTenantNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "tenant not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to change status"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant": t})
}
