package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Kind discriminates the product variants sharing the products table.
type Kind string

const (
	KindPurchaseable Kind = "purchaseable"
	KindTopUp        Kind = "topup"
)

// TypeFlag is the product bit-flag set.
type TypeFlag int64

const (
	FlagNone          TypeFlag = 0
	FlagService       TypeFlag = 1 << 0
	FlagCollectable   TypeFlag = 1 << 1
	FlagTopUp         TypeFlag = 1 << 2
	FlagLocked        TypeFlag = 1 << 3
	FlagDisabled      TypeFlag = 1 << 4
	FlagVariablePrice TypeFlag = 1 << 5
)

func (f TypeFlag) Has(other TypeFlag) bool { return f&other == other }

// Sentinel product slugs seeded at boot.
const (
	SlugRevert   = "revert"
	SlugTransfer = "transfer"
)

// Product is a purchaseable service or a top-up offer. Rows are never
// deleted; superseded rows keep a renamed slug and the DISABLED flag so
// historical ledger references stay resolvable.
type Product struct {
	ID              snowflake.ID    `gorm:"primaryKey" json:"id"`
	Slug            string          `gorm:"type:text;not null" json:"slug"`
	Kind            Kind            `gorm:"type:text;not null" json:"kind"`
	Cost            decimal.Decimal `gorm:"type:numeric;not null" json:"cost"`
	DurationSeconds int64           `gorm:"not null;default:0" json:"duration_seconds"`
	TypeFlags       TypeFlag        `gorm:"not null;default:0" json:"type_flags"`

	// Top-up variant fields.
	FixedPrice   *decimal.Decimal `gorm:"type:numeric" json:"fixed_price,omitempty"`
	Currency     string           `gorm:"type:text" json:"currency,omitempty"`
	ProviderSlug string           `gorm:"type:text;index" json:"provider_slug,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Product) TableName() string { return "products" }

func (p Product) Disabled() bool { return p.TypeFlags.Has(FlagDisabled) }

// Group is a named set of products. Every product belongs at least to the
// auto-created group matching its own slug.
type Group struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Slug      string       `gorm:"type:text;not null;uniqueIndex" json:"slug"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
}

func (Group) TableName() string { return "groups" }

// ProductGroup is the many-to-many membership row.
type ProductGroup struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	ProductID snowflake.ID `gorm:"not null;uniqueIndex:ux_product_groups_pair,priority:1"`
	GroupID   snowflake.ID `gorm:"not null;index;uniqueIndex:ux_product_groups_pair,priority:2"`
	CreatedAt time.Time    `gorm:"not null"`
}

func (ProductGroup) TableName() string { return "product_groups" }
