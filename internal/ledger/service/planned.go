package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billfold/internal/errs"
	ledgerdomain "github.com/smallbiznis/billfold/internal/ledger/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultPlanTTL = 15 * time.Minute

func (s *Service) PlanDebit(ctx context.Context, userExternalID, reason string, amount decimal.Decimal, ttl time.Duration) (*ledgerdomain.PlannedTransaction, error) {
	if !amount.IsPositive() {
		return nil, errs.Validation("invalid_amount", "planned amount must be positive")
	}
	if ttl <= 0 {
		ttl = defaultPlanTTL
	}

	s.sweepExpiredPlans(ctx)

	var planned *ledgerdomain.PlannedTransaction
	err := s.serializable(ctx, func(tx *gorm.DB) error {
		user, err := s.ensureUserTx(ctx, tx, userExternalID)
		if err != nil {
			return err
		}
		if user, err = s.lockUserTx(ctx, tx, user.ID); err != nil {
			return err
		}

		available, err := s.availableTx(ctx, tx, user)
		if err != nil {
			return err
		}
		if available.LessThan(amount) {
			return errs.InsufficientFunds(amount, available)
		}

		now := s.clk.Now()
		row := ledgerdomain.PlannedTransaction{
			ID:        s.genID.Generate(),
			UserID:    user.ID,
			Amount:    amount,
			Reason:    strings.TrimSpace(reason),
			ExpiresAt: now.Add(ttl),
			CreatedAt: now,
		}
		if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
			return err
		}
		planned = &row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return planned, nil
}

func (s *Service) ReleasePlannedDebit(ctx context.Context, userExternalID string, plannedID snowflake.ID) error {
	return s.serializable(ctx, func(tx *gorm.DB) error {
		user, err := s.findUserTx(ctx, tx, userExternalID, false)
		if err != nil {
			return err
		}
		result := tx.WithContext(ctx).Exec(
			`DELETE FROM planned_transactions WHERE id = ? AND user_id = ?`,
			plannedID,
			user.ID,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errs.NotFound("planned_not_found", "no planned debit with that id")
		}
		return nil
	})
}

// sweepExpiredPlans drops expired reservations opportunistically. Failures
// only delay cleanup, so they are logged and swallowed.
func (s *Service) sweepExpiredPlans(ctx context.Context) {
	err := s.db.WithContext(ctx).Exec(
		`DELETE FROM planned_transactions WHERE expires_at <= ?`,
		s.clk.Now(),
	).Error
	if err != nil {
		s.log.Warn("planned debit sweep failed", zap.Error(err))
	}
}
