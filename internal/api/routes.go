package api

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Kweiss/Wardex/internal/db"
	"github.com/Kweiss/Wardex/internal/shield"
	"github.com/Kweiss/Wardex/pkg/models"
)

// APIHandler bundles the services the HTTP surface dispatches into.
// Grounded on the teacher's APIHandler — same "handler struct holding
// service references" shape — resized from Bitcoin-RPC/scanner
// collaborators to the shield/db trio Wardex needs. Session/delegation
// constraints (internal/session) are not enforced here, nor by
// cmd/signerd — this surface only ever evaluates a proposal, it never
// signs one.
type APIHandler struct {
	shield  *shield.Shield
	dbStore *db.PostgresStore
	wsHub   *VerdictHub
	alerts  *AlertManager
}

// SetupRouter wires the public/protected route split exactly as the
// teacher's SetupRouter does: public health/stream, everything that
// mutates state behind AuthMiddleware + a rate limiter.
func SetupRouter(shld *shield.Shield, dbStore *db.PostgresStore, wsHub *VerdictHub, alerts *AlertManager) *gin.Engine {
	r := gin.Default()

	// Enable CORS — configurable via ALLOWED_ORIGINS env var.
	// Production: ALLOWED_ORIGINS=https://your-operator-console.example
	// Development: leave empty for *.
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{
		shield:  shld,
		dbStore: dbStore,
		wsHub:   wsHub,
		alerts:  alerts,
	}

	// ── Public endpoints (no auth) ─────────────────────────────
	pub := r.Group("/api/v1")
	{
		pub.GET("/health", handler.handleHealth)
		pub.GET("/stream", wsHub.StreamVerdicts)
	}

	// ── Protected endpoints (require bearer token if API_AUTH_TOKEN set) ──
	auth := r.Group("/api/v1")
	auth.Use(AuthMiddleware())
	// Rate-limit protected endpoints to 30 req/min per IP (burst=5) —
	// /evaluate runs the full nine-stage pipeline per call.
	auth.Use(NewRateLimiter(30, 5).Middleware())
	{
		auth.POST("/evaluate", handler.handleEvaluate)
		auth.PUT("/policy", handler.handleUpdatePolicy)
		auth.POST("/freeze", handler.handleFreeze)
		auth.POST("/unfreeze", handler.handleUnfreeze)
		auth.GET("/audit", handler.handleAudit)
		auth.GET("/alerts", handler.handleAlerts)
	}

	return r
}

// handleEvaluate is the core mediator endpoint: an AI agent (or its
// runtime wrapper) submits a proposed transaction plus optional
// conversational context and receives back a SecurityVerdict.
func (h *APIHandler) handleEvaluate(c *gin.Context) {
	var req struct {
		Transaction models.TransactionRequest   `json:"transaction"`
		Context     *models.ConversationContext `json:"context,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	verdict, err := h.shield.Evaluate(req.Transaction, req.Context)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if h.alerts != nil {
		h.alerts.EmitFromVerdict(req.Transaction, *verdict)
	}
	if h.wsHub != nil {
		if payload, err := json.Marshal(gin.H{"type": "verdict", "verdict": verdict}); err == nil {
			h.wsHub.BroadcastVerdict(payload)
		}
	}

	c.JSON(http.StatusOK, verdict)
}

// handleUpdatePolicy replaces the shield's live SecurityPolicy,
// rejecting the swap if it fails guardrail validation.
func (h *APIHandler) handleUpdatePolicy(c *gin.Context) {
	var policy models.SecurityPolicy
	if err := c.ShouldBindJSON(&policy); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid policy body", "details": err.Error()})
		return
	}

	if err := h.shield.UpdatePolicy(policy); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "policy_updated", "version": policy.Version})
}

// handleFreeze manually trips the shield into a hard-frozen state.
func (h *APIHandler) handleFreeze(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "manual freeze via API"
	}

	h.shield.Freeze(req.Reason)
	if h.alerts != nil {
		h.alerts.EmitFreeze(req.Reason)
	}

	c.JSON(http.StatusOK, gin.H{"status": "frozen", "reason": req.Reason})
}

// handleUnfreeze clears a frozen shield, resuming normal evaluation.
func (h *APIHandler) handleUnfreeze(c *gin.Context) {
	h.shield.Unfreeze()
	c.JSON(http.StatusOK, gin.H{"status": "unfrozen"})
}

// handleAudit returns the shield's bounded in-memory audit log, most
// recent first, or — if a Postgres store is configured — the
// persisted, paginated history instead.
func (h *APIHandler) handleAudit(c *gin.Context) {
	if h.dbStore != nil {
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		entries, total, err := h.dbStore.AuditHistory(c.Request.Context(), page, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch audit history", "details": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": entries, "totalCount": total, "page": page, "limit": limit})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	c.JSON(http.StatusOK, gin.H{"data": h.shield.AuditHistory(limit)})
}

// handleAlerts returns the most recent operator-facing alerts.
func (h *APIHandler) handleAlerts(c *gin.Context) {
	if h.alerts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "alert manager not configured"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	c.JSON(http.StatusOK, gin.H{"data": h.alerts.GetRecentAlerts(limit)})
}

// handleHealth returns shield status and capabilities for service
// discovery.
func (h *APIHandler) handleHealth(c *gin.Context) {
	evaluations, blocks, advisories := h.shield.Counters()

	c.JSON(http.StatusOK, gin.H{
		"status":  "operational",
		"service": "Wardex",
		"frozen":  h.shield.IsFrozen(),
		"counters": gin.H{
			"evaluations": evaluations,
			"blocks":      blocks,
			"advisories":  advisories,
		},
		"dbConnected": h.dbStore != nil,
	})
}
