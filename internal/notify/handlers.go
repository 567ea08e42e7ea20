package notify

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for webhook endpoint management and
// delivery inspection.
type Handler struct {
	registry   *Registry
	store      Store
	dispatcher *Dispatcher
}

// NewHandler creates a new notification handler.
func NewHandler(registry *Registry, store Store, dispatcher *Dispatcher) *Handler {
	return &Handler{registry: registry, store: store, dispatcher: dispatcher}
}

// RegisterProtectedRoutes sets up auth-required notification routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks", h.CreateEndpoint)
	r.GET("/webhooks", h.ListEndpoints)
	r.GET("/webhooks/:id", h.GetEndpoint)
	r.PUT("/webhooks/:id", h.UpdateEndpoint)
	r.DELETE("/webhooks/:id", h.DeleteEndpoint)
	r.GET("/runs/:id/deliveries", h.ListDeliveries)
}

// CreateEndpoint handles POST /v1/webhooks
func (h *Handler) CreateEndpoint(c *gin.Context) {
	var in RegisterInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	ep, err := h.registry.Register(c.Request.Context(), c.GetString("authUserID"), in)
	if err != nil {
		h.writeEndpointError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"endpoint": ep})
}

// ListEndpoints handles GET /v1/webhooks
func (h *Handler) ListEndpoints(c *gin.Context) {
	endpoints, err := h.store.ListEndpointsByOwner(c.Request.Context(), c.GetString("authUserID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"endpoints": endpoints,
		"count":     len(endpoints),
	})
}

// GetEndpoint handles GET /v1/webhooks/:id
func (h *Handler) GetEndpoint(c *gin.Context) {
	ep, err := h.store.GetEndpoint(c.Request.Context(), c.Param("id"))
	if err != nil || ep.OwnerID != c.GetString("authUserID") {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Webhook endpoint not found",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"endpoint": ep})
}

// UpdateEndpoint handles PUT /v1/webhooks/:id
func (h *Handler) UpdateEndpoint(c *gin.Context) {
	var in RegisterInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	ep, err := h.registry.Update(c.Request.Context(), c.GetString("authUserID"), c.Param("id"), in)
	if err != nil {
		h.writeEndpointError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"endpoint": ep})
}

// DeleteEndpoint handles DELETE /v1/webhooks/:id
func (h *Handler) DeleteEndpoint(c *gin.Context) {
	if err := h.registry.Delete(c.Request.Context(), c.GetString("authUserID"), c.Param("id")); err != nil {
		h.writeEndpointError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// ListDeliveries handles GET /v1/runs/:id/deliveries
func (h *Handler) ListDeliveries(c *gin.Context) {
	deliveries, err := h.store.ListDeliveriesByRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"deliveries": deliveries,
		"count":      len(deliveries),
	})
}

func (h *Handler) writeEndpointError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrEndpointNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Webhook endpoint not found",
		})
	case errors.Is(err, ErrDuplicateEndpoint):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "duplicate_endpoint",
			"message": "An endpoint with this name already exists",
		})
	case strings.Contains(err.Error(), "invalid target url") || strings.Contains(err.Error(), "unknown event type"):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
}
