package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/warungkas/finops-engine/internal/audit"
	"github.com/warungkas/finops-engine/internal/recommend"
	"github.com/warungkas/finops-engine/pkg/models"
)

// Recommendation handlers. Listing is always dismissal-filtered for the
// caller; dismissal itself is per-user and idempotent.

// GET /api/v1/recommendations?limit=
func (h *APIHandler) handleListRecommendations(c *gin.Context) {
	userID, role := actor(c)
	if userID == "" || role == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing X-User-ID or X-User-Role header"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	recs, err := h.recs.ActiveForUser(c.Request.Context(), userID, role, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list recommendations", "details": err.Error()})
		return
	}
	if recs == nil {
		recs = []models.Recommendation{}
	}
	c.JSON(http.StatusOK, gin.H{"data": recs, "count": len(recs)})
}

// GET /api/v1/recommendations/stats?hours=
func (h *APIHandler) handleRecommendationStats(c *gin.Context) {
	hours, _ := strconv.Atoi(c.DefaultQuery("hours", "24"))
	stats, err := h.recs.Statistics(c.Request.Context(), hours)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute statistics", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// POST /api/v1/recommendations/:id/dismiss
func (h *APIHandler) handleDismissRecommendation(c *gin.Context) {
	userID, _ := actor(c)
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing X-User-ID header"})
		return
	}

	err := h.recs.DismissForUser(c.Request.Context(), c.Param("id"), userID)
	if errors.Is(err, recommend.ErrRecommendationNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Recommendation not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Dismiss failed", "details": err.Error()})
		return
	}

	audit.Emit(h.auditor, audit.Event{
		Action:     "recommendation.dismissed",
		Actor:      userID,
		Target:     c.Param("id"),
		EntityType: "recommendation",
	})
	c.JSON(http.StatusOK, gin.H{"status": "dismissed", "id": c.Param("id"), "userId": userID})
}

// POST /api/v1/recommendations/:id/dispatch
// Manual re-delivery of a single recommendation.
func (h *APIHandler) handleDispatchRecommendation(c *gin.Context) {
	result, err := h.dispatcher.Dispatch(c.Request.Context(), c.Param("id"))
	if errors.Is(err, recommend.ErrRecommendationNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Recommendation not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Dispatch failed", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}
