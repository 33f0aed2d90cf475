package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/warungkas/finops-engine/internal/ledger"
	"github.com/warungkas/finops-engine/pkg/models"
	"github.com/warungkas/finops-engine/pkg/money"
)

// Transaction handlers. Mutations go through the ledger service so
// validation, the duplicate window, edit permissions, and optimistic
// locking all apply regardless of caller.

// POST /api/v1/transactions
func (h *APIHandler) handleCreateTransaction(c *gin.Context) {
	var req struct {
		Kind        string `json:"kind" binding:"required"`
		Category    string `json:"category" binding:"required"`
		Amount      string `json:"amount" binding:"required"`
		Description string `json:"description"`
		Approved    bool   `json:"approved"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	userID, role := actor(c)
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing X-User-ID header"})
		return
	}

	amount, err := money.Parse(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid amount: " + err.Error()})
		return
	}

	in := ledger.CreateInput{
		OwnerID:        userID,
		Kind:           models.TransactionKind(req.Kind),
		Category:       req.Category,
		Amount:         amount,
		Description:    req.Description,
		ApprovalStatus: models.ApprovalPending,
	}
	// Boss and dev entries are approved on the spot.
	if req.Approved && (role == models.RoleBoss || role == models.RoleDev) {
		in.ApprovalStatus = models.ApprovalApproved
		in.ApprovedBy = userID
	}

	tx, err := h.ledger.Create(c.Request.Context(), in)
	if err != nil {
		h.ledgerError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tx)
}

// GET /api/v1/transactions/:id
func (h *APIHandler) handleGetTransaction(c *gin.Context) {
	tx, err := h.ledger.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.ledgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// GET /api/v1/transactions?from=&to=&kind=&limit=&offset=
// Employees only ever see their own rows; boss and dev may pass
// ownerId to inspect someone else's.
func (h *APIHandler) handleListTransactions(c *gin.Context) {
	userID, role := actor(c)
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing X-User-ID header"})
		return
	}

	ownerID := userID
	if requested := c.Query("ownerId"); requested != "" && (role == models.RoleBoss || role == models.RoleDev) {
		ownerID = requested
	}

	f := ledger.Filter{Kind: models.TransactionKind(c.Query("kind"))}
	if v := c.Query("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid from date, expected YYYY-MM-DD"})
			return
		}
		f.From = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid to date, expected YYYY-MM-DD"})
			return
		}
		f.To = t
	}
	f.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	f.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	txs, err := h.ledger.FindByOwner(c.Request.Context(), ownerID, f)
	if err != nil {
		h.ledgerError(c, err)
		return
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	c.JSON(http.StatusOK, gin.H{"data": txs, "count": len(txs)})
}

// PUT /api/v1/transactions/:id
// With expectedVersion the caller does its own conflict handling; without
// it the service retries on version conflicts.
func (h *APIHandler) handleUpdateTransaction(c *gin.Context) {
	var req struct {
		Amount          *string `json:"amount"`
		Category        *string `json:"category"`
		Description     *string `json:"description"`
		ExpectedVersion int     `json:"expectedVersion"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	userID, role := actor(c)
	id := c.Param("id")

	current, err := h.ledger.FindByID(c.Request.Context(), id)
	if err != nil {
		h.ledgerError(c, err)
		return
	}
	if err := h.ledger.CanEdit(userID, role, current); err != nil {
		h.ledgerError(c, err)
		return
	}

	patch := ledger.Patch{Category: req.Category, Description: req.Description}
	if req.Amount != nil {
		amount, err := money.Parse(*req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid amount: " + err.Error()})
			return
		}
		patch.Amount = &amount
	}

	var updated models.Transaction
	if req.ExpectedVersion > 0 {
		updated, err = h.ledger.UpdateWithVersion(c.Request.Context(), id, req.ExpectedVersion, patch)
	} else {
		updated, err = h.ledger.UpdateWithRetry(c.Request.Context(), id, patch, 0)
	}
	if err != nil {
		h.ledgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// DELETE /api/v1/transactions/:id
// Soft delete: the row survives with a zero amount and a deletion marker.
func (h *APIHandler) handleDeleteTransaction(c *gin.Context) {
	userID, role := actor(c)
	id := c.Param("id")

	current, err := h.ledger.FindByID(c.Request.Context(), id)
	if err != nil {
		h.ledgerError(c, err)
		return
	}
	if err := h.ledger.CanEdit(userID, role, current); err != nil {
		h.ledgerError(c, err)
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)

	deleted, err := h.ledger.SoftDelete(c.Request.Context(), id, userID, req.Reason)
	if err != nil {
		h.ledgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "transaction": deleted})
}

// ledgerError maps service errors onto HTTP statuses.
func (h *APIHandler) ledgerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrTransactionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Transaction not found"})
	case errors.Is(err, ledger.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ledger.ErrDuplicateTransaction):
		c.JSON(http.StatusConflict, gin.H{"error": "Duplicate transaction", "details": err.Error()})
	case errors.Is(err, ledger.ErrVersionConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "Version conflict; reload and retry", "details": err.Error()})
	case errors.Is(err, ledger.ErrConcurrentModification):
		c.JSON(http.StatusConflict, gin.H{"error": "Concurrent modification; try again later"})
	case errors.Is(err, ledger.ErrEditForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error", "details": err.Error()})
	}
}
