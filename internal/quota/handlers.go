package quota

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for quota inspection and policy
// administration.
type Handler struct {
	ledger   *Ledger
	policies *CachedPolicies
	alerts   AlertStore
	usage    UsageStore
}

// NewHandler creates a new quota handler.
func NewHandler(ledger *Ledger, policies *CachedPolicies, alerts AlertStore, usage UsageStore) *Handler {
	return &Handler{ledger: ledger, policies: policies, alerts: alerts, usage: usage}
}

// RegisterAdminRoutes sets up admin-only quota routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/tenants/:id/usage", h.GetUsage)
	r.GET("/tenants/:id/policies", h.ListPolicies)
	r.POST("/tenants/:id/policies", h.CreatePolicy)
	r.PUT("/tenants/:id/policies/:resource", h.UpdatePolicy)
	r.GET("/tenants/:id/alerts", h.ListAlerts)
	r.POST("/alerts/:id/resolve", h.ResolveAlert)
	r.GET("/tenants/:id/events", h.ListEvents)
}

// GetUsage handles GET /admin/v1/tenants/:id/usage.
func (h *Handler) GetUsage(c *gin.Context) {
	quotas, err := h.ledger.Snapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load usage"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"usage": quotas, "count": len(quotas)})
}

// ListPolicies handles GET /admin/v1/tenants/:id/policies.
func (h *Handler) ListPolicies(c *gin.Context) {
	policies, err := h.policies.ListByTenant(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load policies"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"policies": policies, "count": len(policies)})
}

type policyRequest struct {
	ResourceType      ResourceType `json:"resourceType" binding:"required"`
	HardLimit         int64        `json:"hardLimit" binding:"required"`
	SoftLimit         int64        `json:"softLimit"`
	WarningThreshold  float64      `json:"warningThreshold"`
	CriticalThreshold float64      `json:"criticalThreshold"`
	AutoScale         bool         `json:"autoScale"`
	AutoScaleFactor   float64      `json:"autoScaleFactor"`
	CostPerUnit       float64      `json:"costPerUnit"`
}

func (r *policyRequest) toPolicy(tenantID string) *QuotaPolicy {
	p := &QuotaPolicy{
		TenantID:          tenantID,
		ResourceType:      r.ResourceType,
		HardLimit:         r.HardLimit,
		SoftLimit:         r.SoftLimit,
		WarningThreshold:  r.WarningThreshold,
		CriticalThreshold: r.CriticalThreshold,
		AutoScale:         r.AutoScale,
		AutoScaleFactor:   r.AutoScaleFactor,
		CostPerUnit:       r.CostPerUnit,
	}
	if p.SoftLimit == 0 {
		p.SoftLimit = p.HardLimit * 80 / 100
	}
	if p.WarningThreshold == 0 {
		p.WarningThreshold = DefaultWarningThreshold
	}
	if p.CriticalThreshold == 0 {
		p.CriticalThreshold = DefaultCriticalThreshold
	}
	if p.AutoScaleFactor == 0 {
		p.AutoScaleFactor = DefaultAutoScaleFactor
	}
	return p
}

// CreatePolicy handles POST /admin/v1/tenants/:id/policies.
func (h *Handler) CreatePolicy(c *gin.Context) {
	var req policyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "resourceType and hardLimit required"})
		return
	}

	p := req.toPolicy(c.Param("id"))
	if err := h.policies.Create(c.Request.Context(), p); err != nil {
		switch {
		case errors.Is(err, ErrInvalidPolicy):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_policy", "message": "policy fails validation"})
		case errors.Is(err, ErrPolicyExists):
			c.JSON(http.StatusConflict, gin.H{"error": "policy_exists", "message": "policy already exists for this resource"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create policy"})
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{"policy": p})
}

// UpdatePolicy handles PUT /admin/v1/tenants/:id/policies/:resource.
func (h *Handler) UpdatePolicy(c *gin.Context) {
	var req struct {
		HardLimit         int64   `json:"hardLimit" binding:"required"`
		SoftLimit         int64   `json:"softLimit"`
		WarningThreshold  float64 `json:"warningThreshold"`
		CriticalThreshold float64 `json:"criticalThreshold"`
		AutoScale         bool    `json:"autoScale"`
		AutoScaleFactor   float64 `json:"autoScaleFactor"`
		CostPerUnit       float64 `json:"costPerUnit"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "hardLimit required"})
		return
	}
	full := policyRequest{
		ResourceType:      ResourceType(c.Param("resource")),
		HardLimit:         req.HardLimit,
		SoftLimit:         req.SoftLimit,
		WarningThreshold:  req.WarningThreshold,
		CriticalThreshold: req.CriticalThreshold,
		AutoScale:         req.AutoScale,
		AutoScaleFactor:   req.AutoScaleFactor,
		CostPerUnit:       req.CostPerUnit,
	}

	p := full.toPolicy(c.Param("id"))
	if err := h.policies.Update(c.Request.Context(), p); err != nil {
		switch {
		case errors.Is(err, ErrInvalidPolicy):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_policy", "message": "policy fails validation"})
		case errors.Is(err, ErrPolicyNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "policy not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to update policy"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"policy": p})
}

// ListAlerts handles GET /admin/v1/tenants/:id/alerts.
func (h *Handler) ListAlerts(c *gin.Context) {
	unresolvedOnly := c.Query("unresolved") == "true"
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	alerts, err := h.alerts.ListByTenant(c.Request.Context(), c.Param("id"), unresolvedOnly, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load alerts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

// ResolveAlert handles POST /admin/v1/alerts/:id/resolve.
func (h *Handler) ResolveAlert(c *gin.Context) {
	if err := h.alerts.Resolve(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, ErrAlertNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "alert not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to resolve alert"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolved": true})
}

// ListEvents handles GET /admin/v1/tenants/:id/events.
func (h *Handler) ListEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	events, err := h.usage.ListByTenant(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load usage events"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}
