package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// PermanentThreshold is the horizon beyond which a grant counts as
// effectively permanent and further purchases are rejected.
const PermanentThreshold = 3000 * 24 * time.Hour

// Ownership grants a user access to a product while unexpired. One row per
// (user, product); extended in place, never duplicated.
type Ownership struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID    snowflake.ID `gorm:"not null;uniqueIndex:ux_ownerships_user_product,priority:1" json:"user_id"`
	ProductID snowflake.ID `gorm:"not null;uniqueIndex:ux_ownerships_user_product,priority:2" json:"product_id"`
	ExpiresAt time.Time    `gorm:"not null;index" json:"expires_at"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null" json:"updated_at"`
}

func (Ownership) TableName() string { return "ownerships" }

func (o Ownership) Active(now time.Time) bool { return o.ExpiresAt.After(now) }

// License is ownership additionally scoped by an arbitrary external target,
// for per-item rather than per-account grants.
type License struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID    snowflake.ID `gorm:"not null;uniqueIndex:ux_licenses_key,priority:1" json:"user_id"`
	ProductID snowflake.ID `gorm:"not null;uniqueIndex:ux_licenses_key,priority:2" json:"product_id"`
	TargetID  string       `gorm:"type:text;not null;uniqueIndex:ux_licenses_key,priority:3" json:"target_id"`
	ExpiresAt time.Time    `gorm:"not null" json:"expires_at"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null" json:"updated_at"`
}

func (License) TableName() string { return "licenses" }
