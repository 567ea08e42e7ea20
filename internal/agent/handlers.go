package agent

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/indranandjha1993/agentic-zerodha-platform/internal/idgen"
)

// Handler provides HTTP endpoints for agent management.
type Handler struct {
	store Store
}

// NewHandler creates a new agent handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterProtectedRoutes sets up auth-required agent routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/agents", h.Create)
	r.GET("/agents", h.List)
	r.GET("/agents/:id", h.Get)
	r.PUT("/agents/:id", h.Update)
	r.POST("/agents/:id/pause", h.Pause)
	r.POST("/agents/:id/activate", h.Activate)
}

// CreateInput is the request body for creating an agent.
type CreateInput struct {
	Name              string         `json:"name" binding:"required"`
	ExecutionMode     ExecutionMode  `json:"executionMode"`
	ApprovalMode      ApprovalMode   `json:"approvalMode"`
	RequiredApprovals int            `json:"requiredApprovals"`
	Approvers         []string       `json:"approvers"`
	RiskPolicyID      string         `json:"riskPolicyId"`
	Config            map[string]any `json:"config"`
}

// Create handles POST /v1/agents
func (h *Handler) Create(c *gin.Context) {
	var in CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if in.ExecutionMode == "" {
		in.ExecutionMode = ModePaper
	}
	if in.ApprovalMode == "" {
		in.ApprovalMode = ApprovalRiskBased
	}
	if !validExecutionMode(in.ExecutionMode) || !validApprovalMode(in.ApprovalMode) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "Unknown execution or approval mode",
		})
		return
	}
	if in.RequiredApprovals < 1 {
		in.RequiredApprovals = DefaultRequiredApprovals
	}

	now := time.Now()
	a := &Agent{
		ID:                idgen.WithPrefix("agt_"),
		OwnerID:           c.GetString("authUserID"),
		Name:              in.Name,
		Slug:              Slugify(in.Name),
		Status:            StatusActive,
		ExecutionMode:     in.ExecutionMode,
		ApprovalMode:      in.ApprovalMode,
		RequiredApprovals: in.RequiredApprovals,
		Approvers:         in.Approvers,
		RiskPolicyID:      in.RiskPolicyID,
		IsAutoEnabled:     true,
		Config:            in.Config,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := h.store.Create(c.Request.Context(), a); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"agent": a})
}

// List handles GET /v1/agents
func (h *Handler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	agents, err := h.store.ListByOwner(c.Request.Context(), c.GetString("authUserID"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"agents": agents,
		"count":  len(agents),
	})
}

// Get handles GET /v1/agents/:id
func (h *Handler) Get(c *gin.Context) {
	a, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Agent not found",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent": a})
}

// UpdateInput is the request body for updating an agent.
type UpdateInput struct {
	Name              *string        `json:"name"`
	ExecutionMode     *ExecutionMode `json:"executionMode"`
	ApprovalMode      *ApprovalMode  `json:"approvalMode"`
	RequiredApprovals *int           `json:"requiredApprovals"`
	Approvers         []string       `json:"approvers"`
	RiskPolicyID      *string        `json:"riskPolicyId"`
	IsAutoEnabled     *bool          `json:"isAutoEnabled"`
	Config            map[string]any `json:"config"`
}

// Update handles PUT /v1/agents/:id
func (h *Handler) Update(c *gin.Context) {
	a, ok := h.ownedAgent(c)
	if !ok {
		return
	}

	var in UpdateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if in.Name != nil {
		a.Name = *in.Name
		a.Slug = Slugify(*in.Name)
	}
	if in.ExecutionMode != nil {
		if !validExecutionMode(*in.ExecutionMode) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": "Unknown execution mode",
			})
			return
		}
		a.ExecutionMode = *in.ExecutionMode
	}
	if in.ApprovalMode != nil {
		if !validApprovalMode(*in.ApprovalMode) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": "Unknown approval mode",
			})
			return
		}
		a.ApprovalMode = *in.ApprovalMode
	}
	if in.RequiredApprovals != nil && *in.RequiredApprovals >= 1 {
		a.RequiredApprovals = *in.RequiredApprovals
	}
	if in.Approvers != nil {
		a.Approvers = in.Approvers
	}
	if in.RiskPolicyID != nil {
		a.RiskPolicyID = *in.RiskPolicyID
	}
	if in.IsAutoEnabled != nil {
		a.IsAutoEnabled = *in.IsAutoEnabled
	}
	if in.Config != nil {
		a.Config = in.Config
	}
	a.UpdatedAt = time.Now()

	if err := h.store.Update(c.Request.Context(), a); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"agent": a})
}

// Pause handles POST /v1/agents/:id/pause
func (h *Handler) Pause(c *gin.Context) {
	h.setStatus(c, StatusPaused)
}

// Activate handles POST /v1/agents/:id/activate
func (h *Handler) Activate(c *gin.Context) {
	h.setStatus(c, StatusActive)
}

func (h *Handler) setStatus(c *gin.Context, status Status) {
	a, ok := h.ownedAgent(c)
	if !ok {
		return
	}

	a.Status = status
	a.UpdatedAt = time.Now()
	if err := h.store.Update(c.Request.Context(), a); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"agent": a})
}

// ownedAgent loads the agent and enforces owner or operator access.
func (h *Handler) ownedAgent(c *gin.Context) (*Agent, bool) {
	a, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Agent not found",
		})
		return nil, false
	}
	if a.OwnerID != c.GetString("authUserID") && !c.GetBool("authIsOperator") {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "You do not own this agent",
		})
		return nil, false
	}
	return a, true
}

func validExecutionMode(m ExecutionMode) bool {
	return m == ModePaper || m == ModeLive
}

func validApprovalMode(m ApprovalMode) bool {
	return m == ApprovalNone || m == ApprovalAlways || m == ApprovalRiskBased
}

// Slugify lowercases a name and collapses non-alphanumerics to hyphens.
func Slugify(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
