package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	catalogdomain "github.com/smallbiznis/billfold/internal/catalog/domain"
	"github.com/smallbiznis/billfold/internal/errs"
	ledgerdomain "github.com/smallbiznis/billfold/internal/ledger/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func (s *Service) PurchaseService(ctx context.Context, productSlug, userExternalID, reference string, quantity int64) (*ledgerdomain.TransactionRecord, error) {
	var record *ledgerdomain.TransactionRecord
	err := s.serializable(ctx, func(tx *gorm.DB) error {
		var err error
		record, err = s.PurchaseServiceTx(ctx, tx, productSlug, userExternalID, reference, quantity)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *Service) PurchaseServiceTx(ctx context.Context, tx *gorm.DB, productSlug, userExternalID, reference string, quantity int64) (*ledgerdomain.TransactionRecord, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, errs.Validation("missing_reference", "a reference is required for idempotency")
	}
	if quantity <= 0 {
		return nil, errs.Validation("invalid_quantity", "quantity must be positive")
	}

	product, err := s.catalog.FindBySlugTx(ctx, tx, productSlug)
	if err != nil {
		return nil, err
	}
	if !product.TypeFlags.Has(catalogdomain.FlagService) {
		return nil, errs.Validation("not_a_service", fmt.Sprintf("product %s cannot be purchased", product.Slug))
	}

	user, err := s.ensureUserTx(ctx, tx, userExternalID)
	if err != nil {
		return nil, err
	}
	if user, err = s.lockUserTx(ctx, tx, user.ID); err != nil {
		return nil, err
	}

	adj, err := s.rules.AdjustTx(ctx, tx, *product, user.ID)
	if err != nil {
		return nil, err
	}
	if adj.Blocked {
		return nil, errs.Validation("purchase_blocked", fmt.Sprintf("purchase of %s is blocked for this user", product.Slug))
	}

	record, err := s.purchaseTx(ctx, tx, user, product, adj.Cost, adj.DurationSeconds, quantity, reference, false)
	if err != nil {
		return nil, err
	}
	s.log.Info("service purchased",
		zap.String("user", user.ExternalID),
		zap.String("product", product.Slug),
		zap.Int64("quantity", quantity),
		zap.String("amount", record.Amount.String()),
		zap.Strings("applied_rules", adj.AppliedSlugs),
	)
	return record, nil
}

func (s *Service) Revert(ctx context.Context, userExternalID string, transactionID snowflake.ID) (*ledgerdomain.TransactionRecord, error) {
	var record *ledgerdomain.TransactionRecord
	err := s.serializable(ctx, func(tx *gorm.DB) error {
		user, err := s.findUserTx(ctx, tx, userExternalID, true)
		if err != nil {
			return err
		}

		var original ledgerdomain.FiniteTransaction
		if err := tx.WithContext(ctx).Raw(
			`SELECT * FROM finite_transactions WHERE id = ? AND user_id = ? LIMIT 1`,
			transactionID,
			user.ID,
		).Scan(&original).Error; err != nil {
			return err
		}
		if original.ID == 0 {
			return errs.NotFound("transaction_not_found", fmt.Sprintf("transaction %d does not exist for user %s", transactionID, userExternalID))
		}

		product, err := s.catalog.FindByIDTx(ctx, tx, original.ProductID)
		if err != nil {
			return err
		}
		if product.Cost.IsZero() {
			return errs.Validation("not_revertible", fmt.Sprintf("product %s has no unit cost to revert against", product.Slug))
		}

		// The original amount divided by the unit cost recovers the signed
		// quantity: a purchase of 2 units at cost 25 sits in the ledger as
		// -50 and divides to -2. Negating cost, duration and quantity and
		// replaying the purchase path produces the exact compensating entry.
		count := original.Amount.Div(product.Cost).Round(0).IntPart()
		if count == 0 {
			return errs.Validation("not_revertible", fmt.Sprintf("transaction %d is below one unit of %s", transactionID, product.Slug))
		}

		record, err = s.purchaseTx(ctx, tx, user, product,
			product.Cost.Neg(),
			-product.DurationSeconds,
			-count,
			fmt.Sprintf("revert transaction %d", transactionID),
			true,
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("transaction reverted",
		zap.String("user", userExternalID),
		zap.Int64("original", int64(transactionID)),
		zap.Int64("compensating", int64(record.TransactionID)),
	)
	return record, nil
}

// purchaseTx is the shared charge-and-extend core. The ledger amount is
// always unitCost*quantity negated and the granted seconds
// unitDuration*quantity, so the reversal path reuses it unchanged by
// flipping the signs of all three inputs.
func (s *Service) purchaseTx(ctx context.Context, tx *gorm.DB, user *ledgerdomain.User, product *catalogdomain.Product, unitCost decimal.Decimal, unitDuration, quantity int64, reference string, reversal bool) (*ledgerdomain.TransactionRecord, error) {
	qty := decimal.NewFromInt(quantity)
	total := unitCost.Mul(qty)

	// A replay must surface as a duplicate before the funds check can
	// reject it for the balance the first run already spent.
	if err := s.checkReferenceTx(ctx, tx, user, product, reference); err != nil {
		return nil, err
	}

	// The revert sentinel is exempt from the funds check so compensations
	// can run a balance negative. The seeded sentinel is LOCKED and not
	// purchasable; the exemption applies only if an operator supersedes it
	// with a SERVICE-flagged variant.
	if !reversal && product.Slug != catalogdomain.SlugRevert {
		available, err := s.availableTx(ctx, tx, user)
		if err != nil {
			return nil, err
		}
		if available.LessThan(total) {
			return nil, errs.InsufficientFunds(total, available)
		}
	}

	groups, err := s.catalog.GroupsForProductTx(ctx, tx, product.ID)
	if err != nil {
		return nil, err
	}
	representatives := make([]*catalogdomain.Product, 0, len(groups))
	for _, group := range groups {
		rep, err := s.catalog.RepresentativeProductTx(ctx, tx, group)
		if err != nil {
			return nil, err
		}
		if rep != nil {
			representatives = append(representatives, rep)
		}
	}

	if !reversal {
		for _, rep := range representatives {
			permanent, err := s.ownerships.IsEffectivelyPermanentTx(ctx, tx, user.ID, rep.ID)
			if err != nil {
				return nil, err
			}
			if permanent {
				return nil, errs.AlreadyOwned("already_owned", fmt.Sprintf("user already owns %s effectively permanently", rep.Slug))
			}
		}
	}

	txn, err := s.recordTx(ctx, tx, user, product, total.Neg(), reference)
	if err != nil {
		return nil, err
	}

	secondsGranted := unitDuration * quantity
	if secondsGranted != 0 {
		for _, rep := range representatives {
			if _, err := s.ownerships.ExtendTx(ctx, tx, user.ID, rep.ID, secondsGranted); err != nil {
				return nil, err
			}
		}
	}

	record := s.buildRecord(txn, user, product, secondsGranted)
	if err := s.emitTx(ctx, tx, record); err != nil {
		return nil, err
	}
	return record, nil
}
