package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// User is created lazily on first reference and never deleted. Balance is
// kept in sync with the sum of the user's finite transactions; every
// mutation re-reads the row inside the active transaction.
type User struct {
	ID         snowflake.ID    `gorm:"primaryKey" json:"id"`
	ExternalID string          `gorm:"type:text;not null;uniqueIndex" json:"external_id"`
	Balance    decimal.Decimal `gorm:"type:numeric;not null" json:"balance"`
	CreatedAt  time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"not null" json:"updated_at"`
}

func (User) TableName() string { return "users" }

// FiniteTransaction is an immutable ledger entry. The (product, user,
// reference) triple is unique and serves as the idempotency key for retried
// external callbacks.
type FiniteTransaction struct {
	ID        snowflake.ID    `gorm:"primaryKey" json:"id"`
	UserID    snowflake.ID    `gorm:"not null;index;uniqueIndex:ux_finite_transactions_reference,priority:2" json:"user_id"`
	ProductID snowflake.ID    `gorm:"not null;uniqueIndex:ux_finite_transactions_reference,priority:1" json:"product_id"`
	Amount    decimal.Decimal `gorm:"type:numeric;not null" json:"amount"`
	Reference string          `gorm:"type:text;not null;uniqueIndex:ux_finite_transactions_reference,priority:3" json:"reference"`
	CreatedAt time.Time       `gorm:"not null" json:"created_at"`
}

func (FiniteTransaction) TableName() string { return "finite_transactions" }

// PlannedTransaction is a mutable pending debit, excluded from the
// immutable ledger and only used to compute available balance.
type PlannedTransaction struct {
	ID        snowflake.ID    `gorm:"primaryKey" json:"id"`
	UserID    snowflake.ID    `gorm:"not null;index" json:"user_id"`
	Amount    decimal.Decimal `gorm:"type:numeric;not null" json:"amount"`
	Reason    string          `gorm:"type:text" json:"reason,omitempty"`
	ExpiresAt time.Time       `gorm:"not null" json:"expires_at"`
	CreatedAt time.Time       `gorm:"not null" json:"created_at"`
}

func (PlannedTransaction) TableName() string { return "planned_transactions" }

// TransactionRecord is the caller-facing view of a committed ledger entry.
type TransactionRecord struct {
	TransactionID           snowflake.ID    `json:"transaction_id"`
	UserExternalID          string          `json:"user_external_id"`
	ProductSlug             string          `json:"product_slug"`
	Amount                  decimal.Decimal `json:"amount"`
	OwnershipSecondsGranted int64           `json:"ownership_seconds_granted"`
	Reference               string          `json:"reference"`
	OccurredAt              time.Time       `json:"occurred_at"`
	ProductTypeFlags        int64           `json:"product_type_flags"`
}

// BalanceView exposes a user's balance and the available portion left after
// unexpired planned debits.
type BalanceView struct {
	UserExternalID string          `json:"user_external_id"`
	Balance        decimal.Decimal `json:"balance"`
	Available      decimal.Decimal `json:"available"`
}
