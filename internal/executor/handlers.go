package executor

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/indranandjha1993/agentic-zerodha-platform/internal/agent"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/intent"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/pagination"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/validation"
)

// Handler provides HTTP endpoints for trade intent submission and inspection.
type Handler struct {
	service *Service
	intents intent.Store
}

// NewHandler creates a new executor handler.
func NewHandler(service *Service, intents intent.Store) *Handler {
	return &Handler{service: service, intents: intents}
}

// RegisterProtectedRoutes sets up auth-required intent routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/agents/:id/intents", h.Submit)
	r.GET("/agents/:id/intents", h.ListByAgent)
	r.GET("/intents/:id", h.Get)
}

// Submit handles POST /v1/agents/:id/intents
func (h *Handler) Submit(c *gin.Context) {
	var in SubmitInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	in.Symbol = validation.SanitizeSymbol(in.Symbol)
	if errs := validation.Validate(
		validation.ValidSymbol("symbol", in.Symbol),
		validation.PositiveQuantity("quantity", in.Quantity),
		validation.NonNegativePrice("price", in.Price),
		validation.NonNegativePrice("triggerPrice", in.TriggerPrice),
		validation.OneOf("side", in.Side, string(intent.SideBuy), string(intent.SideSell)),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	it, err := h.service.Submit(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		switch {
		case errors.Is(err, agent.ErrAgentNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Agent not found",
			})
		case errors.Is(err, ErrAgentInactive):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "agent_inactive",
				"message": "Agent must be active to submit intents",
			})
		case errors.Is(err, intent.ErrDuplicateKey):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "duplicate_intent",
				"message": "An intent with this idempotency key already exists",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "intent_failed",
				"message": "Failed to process trade intent",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"intent": it})
}

// Get handles GET /v1/intents/:id
func (h *Handler) Get(c *gin.Context) {
	it, err := h.intents.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, intent.ErrIntentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Trade intent not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"intent": it})
}

// ListByAgent handles GET /v1/agents/:id/intents
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

	var opts []intent.ListOption
	if cursor := c.Query("cursor"); cursor != "" {
		opts = append(opts, intent.WithCursor(cursor))
	}

	// Fetch one extra row to learn whether another page exists.
	intents, err := h.intents.ListByAgent(c.Request.Context(), c.Param("id"), limit+1, opts...)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	intents, nextCursor, hasMore := pagination.ComputePage(intents, limit, func(t *intent.TradeIntent) (time.Time, string) {
		return t.CreatedAt, t.ID
	})

	c.JSON(http.StatusOK, gin.H{
		"intents":    intents,
		"count":      len(intents),
		"nextCursor": nextCursor,
		"hasMore":    hasMore,
	})
}
