package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	catalogdomain "github.com/smallbiznis/billfold/internal/catalog/domain"
	"gorm.io/gorm"
)

// UpsertRequest creates or replaces a rule definition by slug.
type UpsertRequest struct {
	Slug              string
	Priority          int64
	RequiresGroupSlug string
	TargetsGroupSlug  string
	Flags             Flag
	Amount            decimal.Decimal
}

type Service interface {
	Upsert(ctx context.Context, req UpsertRequest) error
	// AdjustTx evaluates the rule chain for a product and user inside an
	// already-open transaction.
	AdjustTx(ctx context.Context, tx *gorm.DB, product catalogdomain.Product, userID snowflake.ID) (*Adjustment, error)
	// AdjustForUser is the read-only boundary variant keyed by slugs and
	// external user id. Unknown users adjust as owning nothing.
	AdjustForUser(ctx context.Context, productSlug, userExternalID string) (*Adjustment, error)
}
