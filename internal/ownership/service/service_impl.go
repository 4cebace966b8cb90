package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billfold/internal/clock"
	"github.com/smallbiznis/billfold/internal/errs"
	ownershipdomain "github.com/smallbiznis/billfold/internal/ownership/domain"
	"github.com/smallbiznis/billfold/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clk   clock.Clock
}

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

func NewService(p Params) ownershipdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ownership.service"),
		genID: p.GenID,
		clk:   p.Clock,
	}
}

func (s *Service) ExtendTx(ctx context.Context, tx *gorm.DB, userID, productID snowflake.ID, seconds int64) (*ownershipdomain.Ownership, error) {
	now := s.clk.Now()
	current, err := s.lockRow(ctx, tx, userID, productID)
	if err != nil {
		return nil, err
	}

	if current == nil {
		if seconds <= 0 {
			return nil, nil
		}
		row := ownershipdomain.Ownership{
			ID:        s.genID.Generate(),
			UserID:    userID,
			ProductID: productID,
			ExpiresAt: now.Add(time.Duration(seconds) * time.Second),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
			return nil, err
		}
		return &row, nil
	}

	// Stack on top of an unexpired grant; an expired grant restarts from
	// now instead of back-filling the gap. Shrinks apply to the current
	// expiry as-is.
	base := current.ExpiresAt
	if seconds > 0 && base.Before(now) {
		base = now
	}
	current.ExpiresAt = base.Add(time.Duration(seconds) * time.Second)
	current.UpdatedAt = now

	if err := tx.WithContext(ctx).Exec(
		`UPDATE ownerships SET expires_at = ?, updated_at = ? WHERE id = ?`,
		current.ExpiresAt,
		current.UpdatedAt,
		current.ID,
	).Error; err != nil {
		return nil, err
	}
	return current, nil
}

func (s *Service) ExtendToTx(ctx context.Context, tx *gorm.DB, userID, productID snowflake.ID, until time.Time) (*ownershipdomain.Ownership, error) {
	now := s.clk.Now()
	current, err := s.lockRow(ctx, tx, userID, productID)
	if err != nil {
		return nil, err
	}

	if current == nil {
		row := ownershipdomain.Ownership{
			ID:        s.genID.Generate(),
			UserID:    userID,
			ProductID: productID,
			ExpiresAt: until,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
			return nil, err
		}
		return &row, nil
	}

	if current.ExpiresAt.Before(until) {
		current.ExpiresAt = until
		current.UpdatedAt = now
		if err := tx.WithContext(ctx).Exec(
			`UPDATE ownerships SET expires_at = ?, updated_at = ? WHERE id = ?`,
			current.ExpiresAt,
			current.UpdatedAt,
			current.ID,
		).Error; err != nil {
			return nil, err
		}
	}
	return current, nil
}

func (s *Service) GetTx(ctx context.Context, tx *gorm.DB, userID, productID snowflake.ID) (*ownershipdomain.Ownership, error) {
	var row ownershipdomain.Ownership
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM ownerships WHERE user_id = ? AND product_id = ? LIMIT 1`,
		userID,
		productID,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &row, nil
}

func (s *Service) IsEffectivelyPermanentTx(ctx context.Context, tx *gorm.DB, userID, productID snowflake.ID) (bool, error) {
	row, err := s.GetTx(ctx, tx, userID, productID)
	if err != nil {
		return false, err
	}
	if row == nil {
		return false, nil
	}
	return row.ExpiresAt.After(s.clk.Now().Add(ownershipdomain.PermanentThreshold)), nil
}

func (s *Service) ListForUser(ctx context.Context, userID snowflake.ID) ([]ownershipdomain.Ownership, error) {
	var rows []ownershipdomain.Ownership
	err := s.db.WithContext(ctx).Raw(
		`SELECT * FROM ownerships WHERE user_id = ? ORDER BY expires_at DESC`,
		userID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Service) GrantLicense(ctx context.Context, userID, productID snowflake.ID, targetID string, seconds int64) (*ownershipdomain.License, error) {
	var row *ownershipdomain.License
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		row, err = s.GrantLicenseTx(ctx, tx, userID, productID, targetID, seconds)
		return err
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (s *Service) GrantLicenseTx(ctx context.Context, tx *gorm.DB, userID, productID snowflake.ID, targetID string, seconds int64) (*ownershipdomain.License, error) {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return nil, errs.Validation("invalid_target", "license target is required")
	}

	now := s.clk.Now()
	var current ownershipdomain.License
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM licenses WHERE user_id = ? AND product_id = ? AND target_id = ? LIMIT 1`+db.LockSuffix(tx),
		userID,
		productID,
		targetID,
	).Scan(&current).Error
	if err != nil {
		return nil, err
	}

	if current.ID == 0 {
		if seconds <= 0 {
			return nil, nil
		}
		row := ownershipdomain.License{
			ID:        s.genID.Generate(),
			UserID:    userID,
			ProductID: productID,
			TargetID:  targetID,
			ExpiresAt: now.Add(time.Duration(seconds) * time.Second),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
			return nil, err
		}
		return &row, nil
	}

	base := current.ExpiresAt
	if seconds > 0 && base.Before(now) {
		base = now
	}
	current.ExpiresAt = base.Add(time.Duration(seconds) * time.Second)
	current.UpdatedAt = now
	if err := tx.WithContext(ctx).Exec(
		`UPDATE licenses SET expires_at = ?, updated_at = ? WHERE id = ?`,
		current.ExpiresAt,
		current.UpdatedAt,
		current.ID,
	).Error; err != nil {
		return nil, err
	}
	return &current, nil
}

func (s *Service) HasLicense(ctx context.Context, userID, productID snowflake.ID, targetID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM licenses
		 WHERE user_id = ? AND product_id = ? AND target_id = ? AND expires_at > ?`,
		userID,
		productID,
		strings.TrimSpace(targetID),
		s.clk.Now(),
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Service) lockRow(ctx context.Context, tx *gorm.DB, userID, productID snowflake.ID) (*ownershipdomain.Ownership, error) {
	var row ownershipdomain.Ownership
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM ownerships WHERE user_id = ? AND product_id = ? LIMIT 1`+db.LockSuffix(tx),
		userID,
		productID,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &row, nil
}
