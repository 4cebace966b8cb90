package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	subscriptiondomain "github.com/smallbiznis/billfold/internal/subscription/domain"
)

type subscriptionWebhookRequest struct {
	ProviderTxnID string     `json:"provider_txn_id"`
	UserID        string     `json:"user_id"`
	ProductSlug   string     `json:"product_slug"`
	Status        string     `json:"status"`
	Amount        string     `json:"amount,omitempty"`
	TrialEndsAt   *time.Time `json:"trial_ends_at,omitempty"`
	OccurredAt    *time.Time `json:"occurred_at,omitempty"`
}

// SubscriptionWebhook ingests provider lifecycle callbacks. Providers retry
// on non-2xx, so duplicate deliveries must land on the idempotent path and
// answer 200.
func (s *Server) SubscriptionWebhook(c *gin.Context) {
	var req subscriptionWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	amount, err := parseOptionalDecimal(req.Amount)
	if err != nil {
		AbortWithError(c, newValidationError("amount", "invalid_amount", "invalid amount"))
		return
	}

	notification := subscriptiondomain.Notification{
		Provider:       c.Param("provider"),
		ProviderTxnID:  strings.TrimSpace(req.ProviderTxnID),
		UserExternalID: strings.TrimSpace(req.UserID),
		ProductSlug:    strings.TrimSpace(req.ProductSlug),
		Status:         subscriptiondomain.Status(strings.ToLower(strings.TrimSpace(req.Status))),
		Amount:         amount,
		TrialEndsAt:    req.TrialEndsAt,
	}
	if req.OccurredAt != nil {
		notification.OccurredAt = *req.OccurredAt
	}

	if err := s.subscriptionSvc.Reconcile(c.Request.Context(), notification); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
