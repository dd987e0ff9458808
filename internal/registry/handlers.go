package registry

import (
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

var validName = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)

// Handler provides HTTP endpoints for service registration.
type Handler struct {
	store Store
}

// NewHandler creates a new registry handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterAdminRoutes sets up admin-only service management routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/services", h.RegisterService)
	r.GET("/services", h.ListServices)
	r.GET("/services/:name", h.GetService)
	r.PUT("/services/:name", h.UpdateService)
	r.DELETE("/services/:name", h.DeleteService)
}

func validBaseURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// RegisterService handles POST /admin/v1/services.
func (h *Handler) RegisterService(c *gin.Context) {
	var req struct {
		Name    string `json:"name" binding:"required"`
		BaseURL string `json:"baseUrl" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "name and baseUrl required"})
		return
	}

	req.Name = strings.ToLower(strings.TrimSpace(req.Name))
	if !validName.MatchString(req.Name) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_name", "message": "name must be lowercase alphanumeric/hyphens"})
		return
	}
	if !validBaseURL(req.BaseURL) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_base_url", "message": "baseUrl must be an absolute http(s) URL"})
		return
	}

	now := time.Now()
	svc := &Service{
		Name:      req.Name,
		BaseURL:   strings.TrimRight(req.BaseURL, "/"),
		Healthy:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.Create(c.Request.Context(), svc); err != nil {
		if errors.Is(err, ErrServiceExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "service_exists", "message": "service name already registered"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to register service"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"service": svc})
}

// GetService handles GET /admin/v1/services/:name.
func (h *Handler) GetService(c *gin.Context) {
	svc, err := h.store.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		if errors.Is(err, ErrServiceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "service not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load service"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"service": svc})
}

// ListServices handles GET /admin/v1/services.
func (h *Handler) ListServices(c *gin.Context) {
	services, err := h.store.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list services"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"services": services, "count": len(services)})
}

// UpdateService handles PUT /admin/v1/services/:name.
func (h *Handler) UpdateService(c *gin.Context) {
	var req struct {
		BaseURL string `json:"baseUrl"`
		Healthy *bool  `json:"healthy"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "malformed body"})
		return
	}

	svc, err := h.store.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		if errors.Is(err, ErrServiceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "service not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load service"})
		return
	}

	if req.BaseURL != "" {
		if !validBaseURL(req.BaseURL) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_base_url", "message": "baseUrl must be an absolute http(s) URL"})
			return
		}
		svc.BaseURL = strings.TrimRight(req.BaseURL, "/")
	}
	if req.Healthy != nil {
		svc.Healthy = *req.Healthy
	}
	svc.UpdatedAt = time.Now()

	if err := h.store.Update(c.Request.Context(), svc); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to update service"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"service": svc})
}

// DeleteService handles DELETE /admin/v1/services/:name.
func (h *Handler) DeleteService(c *gin.Context) {
	if err := h.store.Delete(c.Request.Context(), c.Param("name")); err != nil {
		if errors.Is(err, ErrServiceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "service not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to delete service"})
		return
	}
	c.Status(http.StatusNoContent)
}
