package risk

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/indranandjha1993/agentic-zerodha-platform/internal/idgen"
)

// Handler provides HTTP endpoints for risk policy management.
type Handler struct {
	store Store
}

// NewHandler creates a new risk policy handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterProtectedRoutes sets up auth-required risk policy routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/risk-policies", h.Create)
	r.GET("/risk-policies", h.List)
	r.GET("/risk-policies/:id", h.Get)
	r.PUT("/risk-policies/:id", h.Update)
}

// PolicyInput is the request body for creating or updating a policy.
type PolicyInput struct {
	Name                string   `json:"name" binding:"required"`
	MaxOrderNotional    float64  `json:"maxOrderNotional"`
	MaxPositionNotional float64  `json:"maxPositionNotional"`
	MaxDailyLoss        float64  `json:"maxDailyLoss"`
	MaxOrdersPerDay     int      `json:"maxOrdersPerDay"`
	AllowedSymbols      []string `json:"allowedSymbols"`
	RequireMarketHours  bool     `json:"requireMarketHours"`
	AllowShorting       bool     `json:"allowShorting"`
	IsDefault           bool     `json:"isDefault"`
}

// Create handles POST /v1/risk-policies
func (h *Handler) Create(c *gin.Context) {
	var in PolicyInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	now := time.Now()
	p := &Policy{
		ID:                  idgen.WithPrefix("rp_"),
		OwnerID:             c.GetString("authUserID"),
		Name:                in.Name,
		MaxOrderNotional:    in.MaxOrderNotional,
		MaxPositionNotional: in.MaxPositionNotional,
		MaxDailyLoss:        in.MaxDailyLoss,
		MaxOrdersPerDay:     in.MaxOrdersPerDay,
		AllowedSymbols:      in.AllowedSymbols,
		RequireMarketHours:  in.RequireMarketHours,
		AllowShorting:       in.AllowShorting,
		IsDefault:           in.IsDefault,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := h.store.Create(c.Request.Context(), p); err != nil {
		if errors.Is(err, ErrDuplicateName) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "duplicate_policy",
				"message": "A policy with this name already exists",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"policy": p})
}

// List handles GET /v1/risk-policies
func (h *Handler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	policies, err := h.store.ListByOwner(c.Request.Context(), c.GetString("authUserID"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"policies": policies,
		"count":    len(policies),
	})
}

// Get handles GET /v1/risk-policies/:id
func (h *Handler) Get(c *gin.Context) {
	p, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Risk policy not found",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"policy": p})
}

// Update handles PUT /v1/risk-policies/:id
func (h *Handler) Update(c *gin.Context) {
	p, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Risk policy not found",
		})
		return
	}
	if p.OwnerID != c.GetString("authUserID") && !c.GetBool("authIsOperator") {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "You do not own this policy",
		})
		return
	}

	var in PolicyInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	p.Name = in.Name
	p.MaxOrderNotional = in.MaxOrderNotional
	p.MaxPositionNotional = in.MaxPositionNotional
	p.MaxDailyLoss = in.MaxDailyLoss
	p.MaxOrdersPerDay = in.MaxOrdersPerDay
	p.AllowedSymbols = in.AllowedSymbols
	p.RequireMarketHours = in.RequireMarketHours
	p.AllowShorting = in.AllowShorting
	p.IsDefault = in.IsDefault
	p.UpdatedAt = time.Now()

	if err := h.store.Update(c.Request.Context(), p); err != nil {
		if errors.Is(err, ErrDuplicateName) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "duplicate_policy",
				"message": "A policy with this name already exists",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"policy": p})
}
