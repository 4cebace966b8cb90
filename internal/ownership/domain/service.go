package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Service interface {
	// ExtendTx shifts the (user, product) expiry by seconds inside an open
	// transaction. Positive extensions stack on top of an unexpired grant
	// and restart from now for an expired one; negative extensions shrink
	// the current expiry directly so a reversal can fully cancel a grant.
	// A missing row is created only for positive extensions.
	ExtendTx(ctx context.Context, tx *gorm.DB, userID, productID snowflake.ID, seconds int64) (*Ownership, error)
	// ExtendToTx raises the expiry to at least until, used by trial grants.
	ExtendToTx(ctx context.Context, tx *gorm.DB, userID, productID snowflake.ID, until time.Time) (*Ownership, error)
	GetTx(ctx context.Context, tx *gorm.DB, userID, productID snowflake.ID) (*Ownership, error)
	IsEffectivelyPermanentTx(ctx context.Context, tx *gorm.DB, userID, productID snowflake.ID) (bool, error)
	ListForUser(ctx context.Context, userID snowflake.ID) ([]Ownership, error)

	// GrantLicense opens its own transaction around GrantLicenseTx.
	GrantLicense(ctx context.Context, userID, productID snowflake.ID, targetID string, seconds int64) (*License, error)
	GrantLicenseTx(ctx context.Context, tx *gorm.DB, userID, productID snowflake.ID, targetID string, seconds int64) (*License, error)
	HasLicense(ctx context.Context, userID, productID snowflake.ID, targetID string) (bool, error)
}
