package approval

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for approval operations.
type Handler struct {
	engine *Engine
	store  Store
}

// NewHandler creates a new approval handler.
func NewHandler(engine *Engine, store Store) *Handler {
	return &Handler{engine: engine, store: store}
}

// RegisterProtectedRoutes sets up auth-required approval routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/approvals/:id", h.GetRequest)
	r.GET("/approvals/:id/decisions", h.ListDecisions)
	r.GET("/agents/:id/approvals", h.ListByAgent)
	r.POST("/approvals/:id/decide", h.Decide)
	r.POST("/approvals/:id/cancel", h.Cancel)
}

// DecideRequest is the body for POST /v1/approvals/:id/decide.
type DecideRequest struct {
	Decision string         `json:"decision" binding:"required"`
	Reason   string         `json:"reason"`
	Metadata map[string]any `json:"metadata"`
}

// Decide handles POST /v1/approvals/:id/decide
func (h *Handler) Decide(c *gin.Context) {
	var req DecideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	decision := DecisionType(req.Decision)
	if decision != DecisionApprove && decision != DecisionReject {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "decision must be approve or reject",
		})
		return
	}

	actor := actorFrom(c)
	outcome, err := h.engine.Decide(c.Request.Context(), c.Param("id"), actor,
		decision, ChannelDashboard, req.Reason, req.Metadata)
	if err != nil {
		h.writeDecideError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"outcome": outcome})
}

// Cancel handles POST /v1/approvals/:id/cancel
func (h *Handler) Cancel(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)

	actor := actorFrom(c)
	request, err := h.engine.Cancel(c.Request.Context(), c.Param("id"), actor, req.Reason)
	if err != nil {
		h.writeDecideError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"request": request})
}

// GetRequest handles GET /v1/approvals/:id
func (h *Handler) GetRequest(c *gin.Context) {
	request, err := h.store.GetRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrRequestNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Approval request not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"request": request})
}

// ListDecisions handles GET /v1/approvals/:id/decisions
func (h *Handler) ListDecisions(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.store.GetRequest(c.Request.Context(), id); err != nil {
		if errors.Is(err, ErrRequestNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Approval request not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	decisions, err := h.store.ListDecisions(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"decisions": decisions,
		"count":     len(decisions),
	})
}

// ListByAgent handles GET /v1/agents/:id/approvals
func (h *Handler) ListByAgent(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	requests, err := h.store.ListByAgent(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"requests": requests,
		"count":    len(requests),
	})
}

func (h *Handler) writeDecideError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrRequestNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Approval request not found",
		})
	case errors.Is(err, ErrConflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "conflict",
			"message": "Approval request is no longer pending",
		})
	case errors.Is(err, ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "permission_denied",
			"message": "You are not allowed to decide this request",
		})
	case errors.Is(err, ErrDuplicateVote):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "duplicate_vote",
			"message": "You have already decided this request",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
}

func actorFrom(c *gin.Context) Actor {
	return Actor{
		ID:         c.GetString("authUserID"),
		IsOperator: c.GetBool("authIsOperator"),
	}
}
