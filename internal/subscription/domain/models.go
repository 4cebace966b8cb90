package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Status is the provider-side subscription lifecycle state.
type Status string

const (
	StatusCreated        Status = "created"
	StatusActive         Status = "active"
	StatusOnTrial        Status = "on_trial"
	StatusPaymentSuccess Status = "payment_success"
	StatusCancelled      Status = "cancelled"
)

func (s Status) Known() bool {
	switch s {
	case StatusCreated, StatusActive, StatusOnTrial, StatusPaymentSuccess, StatusCancelled:
		return true
	}
	return false
}

// Notification is one provider lifecycle event. ProviderTxnID anchors the
// idempotency references for any ledger writes the event triggers.
type Notification struct {
	Provider       string          `json:"provider"`
	ProviderTxnID  string          `json:"provider_txn_id"`
	UserExternalID string          `json:"user_external_id"`
	ProductSlug    string          `json:"product_slug"`
	Status         Status          `json:"status"`
	Amount         decimal.Decimal `json:"amount"`
	TrialEndsAt    *time.Time      `json:"trial_ends_at,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// TrialUsage marks a consumed one-per-user trial. The unique pair makes
// replayed trial events a no-op.
type TrialUsage struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	UserID     snowflake.ID `gorm:"not null;uniqueIndex:ux_trial_usages_user_product,priority:1"`
	ProductID  snowflake.ID `gorm:"not null;uniqueIndex:ux_trial_usages_user_product,priority:2"`
	ConsumedAt time.Time    `gorm:"not null"`
}

func (TrialUsage) TableName() string { return "trial_usages" }

// SubscriptionState mirrors the last known provider status per user and
// product, for support and reconciliation queries.
type SubscriptionState struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID    snowflake.ID `gorm:"not null;uniqueIndex:ux_subscription_states_key,priority:1" json:"user_id"`
	ProductID snowflake.ID `gorm:"not null;uniqueIndex:ux_subscription_states_key,priority:2" json:"product_id"`
	Provider  string       `gorm:"type:text;not null;uniqueIndex:ux_subscription_states_key,priority:3" json:"provider"`
	Status    Status       `gorm:"type:text;not null" json:"status"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null" json:"updated_at"`
}

func (SubscriptionState) TableName() string { return "subscription_states" }
