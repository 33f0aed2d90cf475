package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/warungkas/finops-engine/internal/report"
	"github.com/warungkas/finops-engine/pkg/models"
)

// Reporting handlers. All reads are role-scoped by the analyzer;
// handlers only parse the range and forward the caller identity.

// GET /api/v1/report?from=&to=&ownerId=
func (h *APIHandler) handleReport(c *gin.Context) {
	userID, role := actor(c)
	if userID == "" || role == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing X-User-ID or X-User-Role header"})
		return
	}

	now := h.clock.Now()
	from := now.AddDate(0, 0, -29)
	to := now
	if v := c.Query("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid from date, expected YYYY-MM-DD"})
			return
		}
		from = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid to date, expected YYYY-MM-DD"})
			return
		}
		to = t
	}

	result, err := h.analyzer.RoleScopedReport(c.Request.Context(), report.ReportRequest{
		Role:          role,
		CallerID:      userID,
		From:          from,
		To:            to,
		OwnerID:       c.Query("ownerId"),
		RevenueTarget: h.cfg.MonthlyRevenueTarget,
		ExpenseTarget: h.cfg.MonthlyExpenseTarget,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Report failed", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// GET /api/v1/trend
func (h *APIHandler) handleTrend(c *gin.Context) {
	_, role := actor(c)
	if role == models.RoleEmployee {
		c.JSON(http.StatusForbidden, gin.H{"error": "Trend analysis is not available to employees"})
		return
	}

	result, err := h.analyzer.Trend(c.Request.Context(), h.clock.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Trend analysis failed", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// GET /api/v1/trend/weekly
func (h *APIHandler) handleWeeklyTrend(c *gin.Context) {
	_, role := actor(c)
	if role == models.RoleEmployee {
		c.JSON(http.StatusForbidden, gin.H{"error": "Trend analysis is not available to employees"})
		return
	}

	groups, err := h.analyzer.WeeklyTrend(c.Request.Context(), h.clock.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Weekly trend failed", "details": err.Error()})
		return
	}
	if groups == nil {
		groups = []report.WeeklyGroup{}
	}
	c.JSON(http.StatusOK, gin.H{"weeks": groups})
}

// GET /api/v1/compare/months
func (h *APIHandler) handleCompareMonths(c *gin.Context) {
	_, role := actor(c)
	if role == models.RoleEmployee {
		c.JSON(http.StatusForbidden, gin.H{"error": "Period comparison is not available to employees"})
		return
	}

	result, err := h.analyzer.CompareMonths(c.Request.Context(), h.clock.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Comparison failed", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// GET /api/v1/compare/targets
func (h *APIHandler) handleCompareTargets(c *gin.Context) {
	_, role := actor(c)
	if role == models.RoleEmployee {
		c.JSON(http.StatusForbidden, gin.H{"error": "Target comparison is not available to employees"})
		return
	}
	if h.cfg.MonthlyRevenueTarget.IsZero() && h.cfg.MonthlyExpenseTarget.IsZero() {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "No monthly targets configured"})
		return
	}

	result, err := h.analyzer.CompareTargets(c.Request.Context(), h.cfg.MonthlyRevenueTarget, h.cfg.MonthlyExpenseTarget)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Target comparison failed", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}
