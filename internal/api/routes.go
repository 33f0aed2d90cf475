package api

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/warungkas/finops-engine/internal/audit"
	"github.com/warungkas/finops-engine/internal/clock"
	"github.com/warungkas/finops-engine/internal/config"
	"github.com/warungkas/finops-engine/internal/detect"
	"github.com/warungkas/finops-engine/internal/dispatch"
	"github.com/warungkas/finops-engine/internal/ledger"
	"github.com/warungkas/finops-engine/internal/recommend"
	"github.com/warungkas/finops-engine/internal/report"
	"github.com/warungkas/finops-engine/pkg/models"
)

type APIHandler struct {
	ledger       *ledger.Service
	recs         recommend.Store
	orchestrator *detect.Orchestrator
	dispatcher   *dispatch.Dispatcher
	analyzer     *report.Analyzer
	wsHub        *Hub
	clock        clock.Clock
	cfg          config.Config
	auditor      audit.Emitter
}

func SetupRouter(ledgerSvc *ledger.Service, recs recommend.Store, orchestrator *detect.Orchestrator,
	dispatcher *dispatch.Dispatcher, analyzer *report.Analyzer, wsHub *Hub, clk clock.Clock,
	cfg config.Config, auditor audit.Emitter) *gin.Engine {
	r := gin.Default()

	// Enable CORS — configurable via ALLOWED_ORIGINS env var
	// Production: ALLOWED_ORIGINS=https://ops.warungkas.id
	// Development: ALLOWED_ORIGINS=http://localhost:3000 (or leave empty for *)
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			// Check if the request origin is in the allowed list
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-User-ID, X-User-Role")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{
		ledger:       ledgerSvc,
		recs:         recs,
		orchestrator: orchestrator,
		dispatcher:   dispatcher,
		analyzer:     analyzer,
		wsHub:        wsHub,
		clock:        clk,
		cfg:          cfg,
		auditor:      auditor,
	}

	api := r.Group("/api/v1")
	api.Use(AuthMiddleware())
	api.Use(NewRateLimiter(cfg.APIRatePerMin, cfg.APIBurst).Middleware())
	{
		api.POST("/transactions", handler.handleCreateTransaction)
		api.GET("/transactions/:id", handler.handleGetTransaction)
		api.GET("/transactions", handler.handleListTransactions)
		api.PUT("/transactions/:id", handler.handleUpdateTransaction)
		api.DELETE("/transactions/:id", handler.handleDeleteTransaction)

		api.GET("/report", handler.handleReport)
		api.GET("/trend", handler.handleTrend)
		api.GET("/trend/weekly", handler.handleWeeklyTrend)
		api.GET("/compare/months", handler.handleCompareMonths)
		api.GET("/compare/targets", handler.handleCompareTargets)

		api.GET("/recommendations", handler.handleListRecommendations)
		api.GET("/recommendations/stats", handler.handleRecommendationStats)
		api.POST("/recommendations/:id/dismiss", handler.handleDismissRecommendation)
		api.POST("/recommendations/:id/dispatch", handler.handleDispatchRecommendation)

		// Engine controls
		api.POST("/cycle", handler.handleRunCycle)
		api.POST("/deliver", handler.handleDeliverPending)
	}

	r.GET("/api/v1/health", handler.handleHealth)
	r.GET("/api/v1/stream", wsHub.Subscribe)

	return r
}

// actor pulls the caller identity the bot gateway forwards on every
// request. Missing headers mean an unauthenticated automation caller.
func actor(c *gin.Context) (userID string, role models.Role) {
	return c.GetHeader("X-User-ID"), models.Role(c.GetHeader("X-User-Role"))
}

// policyFromQuery resolves the gating preset, falling back to the
// configured default policy.
func (h *APIHandler) policyFromQuery(c *gin.Context) detect.GatingPolicy {
	switch c.Query("preset") {
	case "critical-only":
		return detect.CriticalOnlyPolicy()
	case "relaxed":
		return detect.RelaxedPolicy()
	case "no-gating":
		return detect.NoGatingPolicy()
	default:
		return detect.GatingPolicy{
			MinConfidenceScore:       h.cfg.MinConfidenceScore,
			CriticalPriorityRequired: h.cfg.CriticalPriorityRequired,
			DedupWindowMinutes:       h.cfg.DedupWindowMinutes,
		}
	}
}

// handleRunCycle triggers one detection cycle. The scheduler calls the
// same path internally; this endpoint exists for operators.
func (h *APIHandler) handleRunCycle(c *gin.Context) {
	result, err := h.orchestrator.Run(c.Request.Context(), h.policyFromQuery(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Cycle failed", "details": err.Error()})
		return
	}

	for _, entry := range result.Entries {
		BroadcastRecommendationAlert(h.wsHub, entry)
	}
	c.JSON(http.StatusOK, result)
}

// handleDeliverPending pushes every unacknowledged recent
// recommendation through the dispatcher.
func (h *APIHandler) handleDeliverPending(c *gin.Context) {
	maxAge := time.Duration(h.cfg.DeliveryMaxAgeMinutes) * time.Minute
	batch, err := h.dispatcher.DeliverPending(c.Request.Context(), maxAge)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Delivery run failed", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, batch)
}

// handleHealth returns engine status for service discovery.
func (h *APIHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "operational",
		"engine":   "WarungKas Finops Engine v1.0",
		"timezone": h.clock.Location().String(),
		"currency": h.cfg.CurrencyCode,
		"capabilities": gin.H{
			"expense_spike":    true,
			"revenue_decline":  true,
			"cashflow_warning": true,
			"target_variance":  h.cfg.MonthlyRevenueTarget.IsPositive() || h.cfg.MonthlyExpenseTarget.IsPositive(),
			"trend_analysis":   true,
			"role_reports":     true,
		},
	})
}
