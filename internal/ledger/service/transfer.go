package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	catalogdomain "github.com/smallbiznis/billfold/internal/catalog/domain"
	"github.com/smallbiznis/billfold/internal/errs"
	ledgerdomain "github.com/smallbiznis/billfold/internal/ledger/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func (s *Service) Transfer(ctx context.Context, fromExternalID, toExternalID, reference string, amount decimal.Decimal) (*ledgerdomain.TransactionRecord, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, errs.Validation("missing_reference", "a reference is required for idempotency")
	}
	if !amount.IsPositive() {
		return nil, errs.Validation("invalid_amount", "transfer amount must be positive")
	}
	if strings.TrimSpace(fromExternalID) == strings.TrimSpace(toExternalID) {
		return nil, errs.Validation("self_transfer", "sender and receiver must differ")
	}

	var record *ledgerdomain.TransactionRecord
	err := s.serializable(ctx, func(tx *gorm.DB) error {
		product, err := s.catalog.FindBySlugTx(ctx, tx, catalogdomain.SlugTransfer)
		if err != nil {
			return err
		}

		sender, err := s.ensureUserTx(ctx, tx, fromExternalID)
		if err != nil {
			return err
		}
		receiver, err := s.ensureUserTx(ctx, tx, toExternalID)
		if err != nil {
			return err
		}

		// Both rows lock in ascending id order so two opposing transfers
		// cannot deadlock each other.
		first, second := sender, receiver
		if second.ID < first.ID {
			first, second = second, first
		}
		if first, err = s.lockUserTx(ctx, tx, first.ID); err != nil {
			return err
		}
		if second, err = s.lockUserTx(ctx, tx, second.ID); err != nil {
			return err
		}
		if sender.ID == first.ID {
			sender, receiver = first, second
		} else {
			sender, receiver = second, first
		}

		// Replays surface as duplicates before the window checks or the
		// funds check can reject them.
		if err := s.checkReferenceTx(ctx, tx, sender, product, reference); err != nil {
			return err
		}

		if err := s.checkTransferLimitsTx(ctx, tx, product, sender, receiver, amount); err != nil {
			return err
		}

		available, err := s.availableTx(ctx, tx, sender)
		if err != nil {
			return err
		}
		if available.LessThan(amount) {
			return errs.InsufficientFunds(amount, available)
		}

		debit, err := s.recordTx(ctx, tx, sender, product, amount.Neg(), reference)
		if err != nil {
			return err
		}
		credit, err := s.recordTx(ctx, tx, receiver, product, amount, reference)
		if err != nil {
			return err
		}

		record = s.buildRecord(debit, sender, product, 0)
		if err := s.emitTx(ctx, tx, record); err != nil {
			return err
		}
		return s.emitTx(ctx, tx, s.buildRecord(credit, receiver, product, 0))
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("credit transferred",
		zap.String("from", fromExternalID),
		zap.String("to", toExternalID),
		zap.String("amount", amount.String()),
	)
	return record, nil
}

// checkTransferLimitsTx enforces the rolling-window anti-abuse caps over the
// transfer sentinel product's ledger entries.
func (s *Service) checkTransferLimitsTx(ctx context.Context, tx *gorm.DB, product *catalogdomain.Product, sender, receiver *ledgerdomain.User, amount decimal.Decimal) error {
	windowStart := s.clk.Now().Add(-s.cfg.Transfer.Window)

	var sent int64
	if err := tx.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM finite_transactions
		 WHERE product_id = ? AND user_id = ? AND amount < 0 AND created_at > ?`,
		product.ID,
		sender.ID,
		windowStart,
	).Scan(&sent).Error; err != nil {
		return err
	}
	if sent >= int64(s.cfg.Transfer.SenderMaxCount) {
		return errs.RateLimited("transfer_limit", fmt.Sprintf("user %s exceeded %d outgoing transfers per window", sender.ExternalID, s.cfg.Transfer.SenderMaxCount))
	}

	var received struct {
		Count  int64
		Volume decimal.Decimal
	}
	if err := tx.WithContext(ctx).Raw(
		`SELECT COUNT(1) AS count, COALESCE(SUM(amount), 0) AS volume FROM finite_transactions
		 WHERE product_id = ? AND user_id = ? AND amount > 0 AND created_at > ?`,
		product.ID,
		receiver.ID,
		windowStart,
	).Scan(&received).Error; err != nil {
		return err
	}
	if received.Count >= int64(s.cfg.Transfer.ReceiverMaxCount) {
		return errs.RateLimited("receive_limit", fmt.Sprintf("user %s exceeded %d incoming transfers per window", receiver.ExternalID, s.cfg.Transfer.ReceiverMaxCount))
	}
	if received.Volume.Add(amount).GreaterThan(s.cfg.Transfer.ReceiverMaxVolume) {
		return errs.RateLimited("receive_limit", fmt.Sprintf("user %s exceeded the incoming volume cap of %s per window", receiver.ExternalID, s.cfg.Transfer.ReceiverMaxVolume))
	}
	return nil
}
