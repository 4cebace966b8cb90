package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	ruledomain "github.com/smallbiznis/billfold/internal/rule/domain"
)

type upsertRuleRequest struct {
	Priority          int64  `json:"priority"`
	RequiresGroupSlug string `json:"requires_group_slug,omitempty"`
	TargetsGroupSlug  string `json:"targets_group_slug"`
	Flags             int64  `json:"flags"`
	Amount            string `json:"amount"`
}

func (s *Server) UpsertRule(c *gin.Context) {
	var req upsertRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	amount, err := parseOptionalDecimal(req.Amount)
	if err != nil {
		AbortWithError(c, newValidationError("amount", "invalid_amount", "invalid amount"))
		return
	}

	err = s.ruleSvc.Upsert(c.Request.Context(), ruledomain.UpsertRequest{
		Slug:              c.Param("slug"),
		Priority:          req.Priority,
		RequiresGroupSlug: strings.TrimSpace(req.RequiresGroupSlug),
		TargetsGroupSlug:  strings.TrimSpace(req.TargetsGroupSlug),
		Flags:             ruledomain.Flag(req.Flags),
		Amount:            amount,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetAdjustedPrice previews the rule-adjusted cost and duration for a user
// without touching the ledger.
func (s *Server) GetAdjustedPrice(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		AbortWithError(c, newValidationError("user_id", "required", "user_id is required"))
		return
	}

	adj, err := s.ruleSvc.AdjustForUser(c.Request.Context(), c.Param("slug"), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": adj})
}
