package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type topUpRequest struct {
	ProductID string `json:"product_id"`
	UserID    string `json:"user_id"`
	Reference string `json:"reference"`
	Amount    string `json:"amount,omitempty"`
}

func (s *Server) TopUp(c *gin.Context) {
	var req topUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	productID, err := snowflake.ParseString(strings.TrimSpace(req.ProductID))
	if err != nil {
		AbortWithError(c, newValidationError("product_id", "invalid_product_id", "invalid product id"))
		return
	}
	amount, err := parseOptionalDecimal(req.Amount)
	if err != nil {
		AbortWithError(c, newValidationError("amount", "invalid_amount", "invalid amount"))
		return
	}

	record, err := s.ledgerSvc.CreditTopUp(c.Request.Context(), productID, req.UserID, req.Reference, amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": record})
}

type purchaseRequest struct {
	ProductSlug string `json:"product_slug"`
	UserID      string `json:"user_id"`
	Reference   string `json:"reference"`
	Quantity    int64  `json:"quantity,omitempty"`
}

func (s *Server) Purchase(c *gin.Context) {
	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	record, err := s.ledgerSvc.PurchaseService(c.Request.Context(), req.ProductSlug, req.UserID, req.Reference, req.Quantity)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": record})
}

type revertRequest struct {
	UserID string `json:"user_id"`
}

func (s *Server) RevertTransaction(c *gin.Context) {
	transactionID, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_transaction_id", "invalid transaction id"))
		return
	}

	var req revertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	record, err := s.ledgerSvc.Revert(c.Request.Context(), req.UserID, transactionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": record})
}

type transferRequest struct {
	FromUserID string `json:"from_user_id"`
	ToUserID   string `json:"to_user_id"`
	Amount     string `json:"amount"`
	Reference  string `json:"reference"`
}

func (s *Server) Transfer(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	// Cheap in-process pre-filter; the authoritative window check runs
	// inside the transfer transaction.
	if !s.transferLimiter.Allow(strings.TrimSpace(req.FromUserID)) {
		AbortWithError(c, errRateLimited)
		return
	}

	amount, err := parseOptionalDecimal(req.Amount)
	if err != nil || amount.IsZero() {
		AbortWithError(c, newValidationError("amount", "invalid_amount", "invalid amount"))
		return
	}

	record, err := s.ledgerSvc.Transfer(c.Request.Context(), req.FromUserID, req.ToUserID, req.Reference, amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": record})
}

func (s *Server) GetBalance(c *gin.Context) {
	view, err := s.ledgerSvc.Balance(c.Request.Context(), c.Param("userId"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": view})
}

func (s *Server) ListTransactions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	rows, err := s.ledgerSvc.Transactions(c.Request.Context(), c.Param("userId"), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

func (s *Server) ListOwnerships(c *gin.Context) {
	userID, err := s.lookupUserID(c.Request.Context(), c.Param("userId"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	rows, err := s.ownershipSvc.ListForUser(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

type planDebitRequest struct {
	Amount     string `json:"amount"`
	Reason     string `json:"reason,omitempty"`
	TTLSeconds int64  `json:"ttl_seconds,omitempty"`
}

func (s *Server) PlanDebit(c *gin.Context) {
	var req planDebitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	amount, err := parseOptionalDecimal(req.Amount)
	if err != nil {
		AbortWithError(c, newValidationError("amount", "invalid_amount", "invalid amount"))
		return
	}

	planned, err := s.ledgerSvc.PlanDebit(c.Request.Context(), c.Param("userId"), req.Reason, amount, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": planned})
}

func (s *Server) ReleasePlannedDebit(c *gin.Context) {
	plannedID, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_planned_id", "invalid planned id"))
		return
	}
	if err := s.ledgerSvc.ReleasePlannedDebit(c.Request.Context(), c.Param("userId"), plannedID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "released"})
}

func (s *Server) lookupUserID(ctx context.Context, externalID string) (snowflake.ID, error) {
	var id snowflake.ID
	err := s.db.WithContext(ctx).Raw(
		`SELECT id FROM users WHERE external_id = ? LIMIT 1`,
		strings.TrimSpace(externalID),
	).Scan(&id).Error
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, ErrNotFound
	}
	return id, nil
}

func parseOptionalDecimal(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}
