package gateway

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler exposes per-tenant traffic analytics.
type Handler struct {
	store Store
}

// NewHandler creates a new analytics handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterAdminRoutes sets up admin-only analytics routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/tenants/:id/requests", h.ListRequests)
	r.GET("/tenants/:id/requests/stats", h.GetStats)
	r.GET("/tenants/:id/violations", h.ListViolations)
}

// ListRequests handles GET /admin/v1/tenants/:id/requests.
func (h *Handler) ListRequests(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	requests, err := h.store.ListRequests(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load requests"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": requests, "count": len(requests)})
}

// GetStats handles GET /admin/v1/tenants/:id/requests/stats.
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load stats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// ListViolations handles GET /admin/v1/tenants/:id/violations.
func (h *Handler) ListViolations(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	violations, err := h.store.ListViolations(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load violations"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"violations": violations, "count": len(violations)})
}
