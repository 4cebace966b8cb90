package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Service owns every balance mutation. All writes run under a serializable
// transaction; callers retrying on a transient conflict replay the whole
// operation.
type Service interface {
	// CreditTopUp credits the user through a top-up product. A zero
	// customAmount credits the product's cost; a non-zero customAmount must
	// be at least the product cost.
	CreditTopUp(ctx context.Context, topUpProductID snowflake.ID, userExternalID, reference string, customAmount decimal.Decimal) (*TransactionRecord, error)
	// CreditTopUpTx is the transaction-joining variant used by the
	// subscription reconciler.
	CreditTopUpTx(ctx context.Context, tx *gorm.DB, topUpProductID snowflake.ID, userExternalID, reference string, customAmount decimal.Decimal) (*TransactionRecord, error)

	// PurchaseService charges a service product after rule adjustment and
	// extends ownership of every linked group representative.
	PurchaseService(ctx context.Context, productSlug, userExternalID, reference string, quantity int64) (*TransactionRecord, error)
	PurchaseServiceTx(ctx context.Context, tx *gorm.DB, productSlug, userExternalID, reference string, quantity int64) (*TransactionRecord, error)

	// Revert compensates a prior transaction with a new entry of the
	// opposite sign and shrinks the ownership it granted.
	Revert(ctx context.Context, userExternalID string, transactionID snowflake.ID) (*TransactionRecord, error)

	// Transfer moves credit between users through the transfer sentinel
	// product, as a linked debit/credit pair.
	Transfer(ctx context.Context, fromExternalID, toExternalID, reference string, amount decimal.Decimal) (*TransactionRecord, error)

	Balance(ctx context.Context, userExternalID string) (*BalanceView, error)
	Transactions(ctx context.Context, userExternalID string, limit int) ([]FiniteTransaction, error)

	// EnsureUserTx resolves the internal user row for an external id,
	// creating it on first reference.
	EnsureUserTx(ctx context.Context, tx *gorm.DB, userExternalID string) (*User, error)

	// PlanDebit reserves part of the available balance for ttl without
	// writing a ledger entry.
	PlanDebit(ctx context.Context, userExternalID, reason string, amount decimal.Decimal, ttl time.Duration) (*PlannedTransaction, error)
	ReleasePlannedDebit(ctx context.Context, userExternalID string, plannedID snowflake.ID) error
}
