package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Flag is the rule behavior bit set.
type Flag int64

const (
	FlagInvert        Flag = 1 << 0
	FlagPercent       Flag = 1 << 1
	FlagLonger        Flag = 1 << 2
	FlagDiscount      Flag = 1 << 3
	FlagEarlyBreak    Flag = 1 << 4
	FlagBlockPurchase Flag = 1 << 5
)

func (f Flag) Has(other Flag) bool { return f&other == other }

// Rule conditionally adjusts a product's cost or duration. Requires gates on
// group ownership (nil = unconditional); Targets selects which products the
// rule touches.
type Rule struct {
	ID              snowflake.ID    `gorm:"primaryKey" json:"id"`
	Slug            string          `gorm:"type:text;not null;uniqueIndex" json:"slug"`
	Priority        int64           `gorm:"not null;default:0" json:"priority"`
	RequiresGroupID *snowflake.ID   `gorm:"index" json:"requires_group_id,omitempty"`
	TargetsGroupID  snowflake.ID    `gorm:"not null;index" json:"targets_group_id"`
	Flags           Flag            `gorm:"not null;default:0" json:"flags"`
	Amount          decimal.Decimal `gorm:"type:numeric;not null" json:"amount"`
	CreatedAt       time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"not null" json:"updated_at"`
}

func (Rule) TableName() string { return "rules" }

// Adjustment is the result of evaluating the rule chain against a product.
type Adjustment struct {
	Cost            decimal.Decimal `json:"adjusted_cost"`
	DurationSeconds int64           `json:"adjusted_duration_seconds"`
	AppliedSlugs    []string        `json:"applied_rule_slugs"`
	Blocked         bool            `json:"blocked"`
}
