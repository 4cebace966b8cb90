package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CreateProductRequest carries the fields for a new product row.
type CreateProductRequest struct {
	Slug            string
	Kind            Kind
	Cost            decimal.Decimal
	DurationSeconds int64
	TypeFlags       TypeFlag
	FixedPrice      *decimal.Decimal
	Currency        string
	ProviderSlug    string
	ExtraGroups     []string
}

// Service is the group directory: product rows plus the group join both the
// rule engine and bundle extension operate on.
type Service interface {
	Create(ctx context.Context, req CreateProductRequest) (*Product, error)
	// Supersede retires the product under slug (renamed, DISABLED) and
	// installs the replacement under the original slug.
	Supersede(ctx context.Context, slug string, req CreateProductRequest) (*Product, error)
	GetBySlug(ctx context.Context, slug string) (*Product, error)
	AddToGroup(ctx context.Context, productSlug, groupSlug string) error
	GroupsForProduct(ctx context.Context, productID snowflake.ID) ([]Group, error)
	ProductsForGroup(ctx context.Context, groupSlug string) ([]Product, error)
	FindTopUpByProvider(ctx context.Context, providerSlug string) (*Product, error)

	// Transaction-joining variants used by the ledger inside its ambient
	// transaction.
	FindBySlugTx(ctx context.Context, tx *gorm.DB, slug string) (*Product, error)
	FindByIDTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Product, error)
	GroupsForProductTx(ctx context.Context, tx *gorm.DB, productID snowflake.ID) ([]Group, error)
	// RepresentativeProductTx resolves the member whose own slug equals the
	// group slug; nil when the group has no representative.
	RepresentativeProductTx(ctx context.Context, tx *gorm.DB, group Group) (*Product, error)
	EnsureGroupTx(ctx context.Context, tx *gorm.DB, slug string) (*Group, error)
	FindGroupBySlug(ctx context.Context, slug string) (*Group, error)
}
