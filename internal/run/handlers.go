package run

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/indranandjha1993/agentic-zerodha-platform/internal/agent"
)

// Handler provides HTTP endpoints for the analysis run lifecycle.
type Handler struct {
	service *Service
}

// NewHandler creates a new run handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up auth-required run routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/runs", h.Start)
	r.GET("/runs/:id", h.Get)
	r.GET("/agents/:id/runs", h.ListByAgent)
	r.POST("/runs/:id/complete", h.Complete)
	r.POST("/runs/:id/fail", h.Fail)
	r.POST("/runs/:id/cancel", h.Cancel)
}

// Start handles POST /v1/runs
func (h *Handler) Start(c *gin.Context) {
	var in StartInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if in.RequestedBy == "" {
		in.RequestedBy = c.GetString("authUserID")
	}

	r, err := h.service.Start(c.Request.Context(), in)
	if err != nil {
		if errors.Is(err, agent.ErrAgentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Agent not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"run": r})
}

// Get handles GET /v1/runs/:id
func (h *Handler) Get(c *gin.Context) {
	r, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Analysis run not found",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": r})
}

// ListByAgent handles GET /v1/agents/:id/runs
func (h *Handler) ListByAgent(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	runs, err := h.service.ListByAgent(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"count": len(runs),
	})
}

type finishRequest struct {
	StepsExecuted int    `json:"stepsExecuted"`
	ErrorMessage  string `json:"errorMessage"`
}

// Complete handles POST /v1/runs/:id/complete
func (h *Handler) Complete(c *gin.Context) {
	var req finishRequest
	c.ShouldBindJSON(&req)

	r, err := h.service.Complete(c.Request.Context(), c.Param("id"), req.StepsExecuted)
	if err != nil {
		h.writeFinishError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": r})
}

// Fail handles POST /v1/runs/:id/fail
func (h *Handler) Fail(c *gin.Context) {
	var req finishRequest
	c.ShouldBindJSON(&req)

	r, err := h.service.Fail(c.Request.Context(), c.Param("id"), req.StepsExecuted, req.ErrorMessage)
	if err != nil {
		h.writeFinishError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": r})
}

// Cancel handles POST /v1/runs/:id/cancel
func (h *Handler) Cancel(c *gin.Context) {
	r, err := h.service.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeFinishError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": r})
}

func (h *Handler) writeFinishError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrRunNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Analysis run not found",
		})
	case errors.Is(err, ErrRunFinished):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "run_finished",
			"message": "Analysis run already reached a terminal state",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
}
