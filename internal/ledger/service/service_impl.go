package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	catalogdomain "github.com/smallbiznis/billfold/internal/catalog/domain"
	"github.com/smallbiznis/billfold/internal/clock"
	"github.com/smallbiznis/billfold/internal/config"
	"github.com/smallbiznis/billfold/internal/errs"
	"github.com/smallbiznis/billfold/internal/events"
	ledgerdomain "github.com/smallbiznis/billfold/internal/ledger/domain"
	ownershipdomain "github.com/smallbiznis/billfold/internal/ownership/domain"
	ruledomain "github.com/smallbiznis/billfold/internal/rule/domain"
	"github.com/smallbiznis/billfold/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clk        clock.Clock
	cfg        config.Config
	catalog    catalogdomain.Service
	rules      ruledomain.Service
	ownerships ownershipdomain.Service
	outbox     *events.Outbox
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     config.Config
	Catalog    catalogdomain.Service
	Rules      ruledomain.Service
	Ownerships ownershipdomain.Service
	Outbox     *events.Outbox
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clk:        p.Clock,
		cfg:        p.Config,
		catalog:    p.Catalog,
		rules:      p.Rules,
		ownerships: p.Ownerships,
		outbox:     p.Outbox,
	}
}

// CreditTopUp credits a user's balance against a top-up product. A non-zero
// customAmount overrides the product cost; amounts below cost are rejected
// unless the product carries VARIABLE_PRICE, which accepts any positive
// amount.
func (s *Service) CreditTopUp(ctx context.Context, topUpProductID snowflake.ID, userExternalID, reference string, customAmount decimal.Decimal) (*ledgerdomain.TransactionRecord, error) {
	var record *ledgerdomain.TransactionRecord
	err := s.serializable(ctx, func(tx *gorm.DB) error {
		var err error
		record, err = s.CreditTopUpTx(ctx, tx, topUpProductID, userExternalID, reference, customAmount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *Service) CreditTopUpTx(ctx context.Context, tx *gorm.DB, topUpProductID snowflake.ID, userExternalID, reference string, customAmount decimal.Decimal) (*ledgerdomain.TransactionRecord, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, errs.Validation("missing_reference", "a reference is required for idempotency")
	}
	if customAmount.IsNegative() {
		return nil, errs.Validation("invalid_amount", "top-up amount cannot be negative")
	}

	product, err := s.catalog.FindByIDTx(ctx, tx, topUpProductID)
	if err != nil {
		return nil, err
	}
	if product.Kind != catalogdomain.KindTopUp && !product.TypeFlags.Has(catalogdomain.FlagTopUp) {
		return nil, errs.Validation("not_a_topup", fmt.Sprintf("product %s does not credit balance", product.Slug))
	}

	amount := product.Cost
	if !customAmount.IsZero() {
		if !product.TypeFlags.Has(catalogdomain.FlagVariablePrice) && customAmount.LessThan(product.Cost) {
			return nil, errs.Validation("amount_below_cost", fmt.Sprintf("custom amount %s is below the product cost %s", customAmount, product.Cost))
		}
		amount = customAmount
	}

	user, err := s.ensureUserTx(ctx, tx, userExternalID)
	if err != nil {
		return nil, err
	}
	if user, err = s.lockUserTx(ctx, tx, user.ID); err != nil {
		return nil, err
	}

	txn, err := s.recordTx(ctx, tx, user, product, amount, reference)
	if err != nil {
		return nil, err
	}
	record := s.buildRecord(txn, user, product, 0)
	if err := s.emitTx(ctx, tx, record); err != nil {
		return nil, err
	}
	s.log.Info("top-up credited",
		zap.String("user", user.ExternalID),
		zap.String("product", product.Slug),
		zap.String("amount", amount.String()),
	)
	return record, nil
}

func (s *Service) Balance(ctx context.Context, userExternalID string) (*ledgerdomain.BalanceView, error) {
	s.sweepExpiredPlans(ctx)

	var view *ledgerdomain.BalanceView
	err := s.serializable(ctx, func(tx *gorm.DB) error {
		user, err := s.findUserTx(ctx, tx, userExternalID, false)
		if err != nil {
			return err
		}
		available, err := s.availableTx(ctx, tx, user)
		if err != nil {
			return err
		}
		view = &ledgerdomain.BalanceView{
			UserExternalID: user.ExternalID,
			Balance:        user.Balance,
			Available:      available,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (s *Service) Transactions(ctx context.Context, userExternalID string, limit int) ([]ledgerdomain.FiniteTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	user, err := s.findUserTx(ctx, s.db, userExternalID, false)
	if err != nil {
		return nil, err
	}
	var rows []ledgerdomain.FiniteTransaction
	err = s.db.WithContext(ctx).Raw(
		`SELECT * FROM finite_transactions WHERE user_id = ? ORDER BY id DESC LIMIT ?`,
		user.ID,
		limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// serializable wraps db.Serializable with the configured retry budget for
// serialization conflicts.
func (s *Service) serializable(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = db.Serializable(ctx, s.db, fn)
		if !errs.IsKind(err, errs.KindTransient) || attempt >= s.cfg.TxRetryBudget {
			return err
		}
		s.log.Warn("serialization conflict, retrying", zap.Int("attempt", attempt+1))
	}
}

// EnsureUserTx resolves the user row for an external id, creating it when
// missing.
func (s *Service) EnsureUserTx(ctx context.Context, tx *gorm.DB, userExternalID string) (*ledgerdomain.User, error) {
	return s.ensureUserTx(ctx, tx, userExternalID)
}

// ensureUserTx creates the user row on first reference. The insert is
// idempotent so two concurrent first references both resolve to the same row.
func (s *Service) ensureUserTx(ctx context.Context, tx *gorm.DB, externalID string) (*ledgerdomain.User, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, errs.Validation("missing_user", "a user id is required")
	}

	now := s.clk.Now()
	if err := tx.WithContext(ctx).Exec(
		`INSERT INTO users (id, external_id, balance, created_at, updated_at)
		 VALUES (?, ?, 0, ?, ?)
		 ON CONFLICT (external_id) DO NOTHING`,
		s.genID.Generate(),
		externalID,
		now,
		now,
	).Error; err != nil {
		return nil, err
	}
	return s.findUserTx(ctx, tx, externalID, false)
}

func (s *Service) findUserTx(ctx context.Context, tx *gorm.DB, externalID string, lock bool) (*ledgerdomain.User, error) {
	externalID = strings.TrimSpace(externalID)
	suffix := ""
	if lock {
		suffix = db.LockSuffix(tx)
	}
	var user ledgerdomain.User
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM users WHERE external_id = ? LIMIT 1`+suffix,
		externalID,
	).Scan(&user).Error
	if err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, errs.NotFound("user_not_found", fmt.Sprintf("user %s is unknown", externalID))
	}
	return &user, nil
}

// lockUserTx re-reads the user row under a row lock so the balance seen is
// the balance updated.
func (s *Service) lockUserTx(ctx context.Context, tx *gorm.DB, userID snowflake.ID) (*ledgerdomain.User, error) {
	var user ledgerdomain.User
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM users WHERE id = ? LIMIT 1`+db.LockSuffix(tx),
		userID,
	).Scan(&user).Error
	if err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, errs.NotFound("user_not_found", fmt.Sprintf("user %d is unknown", userID))
	}
	return &user, nil
}

func (s *Service) plannedSumTx(ctx context.Context, tx *gorm.DB, userID snowflake.ID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := tx.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) FROM planned_transactions WHERE user_id = ? AND expires_at > ?`,
		userID,
		s.clk.Now(),
	).Scan(&sum).Error
	if err != nil {
		return decimal.Zero, err
	}
	return sum, nil
}

func (s *Service) availableTx(ctx context.Context, tx *gorm.DB, user *ledgerdomain.User) (decimal.Decimal, error) {
	planned, err := s.plannedSumTx(ctx, tx, user.ID)
	if err != nil {
		return decimal.Zero, err
	}
	return user.Balance.Sub(planned), nil
}

// recordTx appends one immutable ledger entry and moves the user balance in
// the same transaction. The caller must hold the user row lock.
func (s *Service) recordTx(ctx context.Context, tx *gorm.DB, user *ledgerdomain.User, product *catalogdomain.Product, amount decimal.Decimal, reference string) (*ledgerdomain.FiniteTransaction, error) {
	if err := s.checkReferenceTx(ctx, tx, user, product, reference); err != nil {
		return nil, err
	}

	txn := ledgerdomain.FiniteTransaction{
		ID:        s.genID.Generate(),
		UserID:    user.ID,
		ProductID: product.ID,
		Amount:    amount,
		Reference: reference,
		CreatedAt: s.clk.Now(),
	}
	if err := tx.WithContext(ctx).Create(&txn).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errs.Duplicate("duplicate_transaction", fmt.Sprintf("reference %q was already applied to product %s", reference, product.Slug))
		}
		return nil, err
	}

	user.Balance = user.Balance.Add(amount)
	user.UpdatedAt = s.clk.Now()
	if err := tx.WithContext(ctx).Exec(
		`UPDATE users SET balance = ?, updated_at = ? WHERE id = ?`,
		user.Balance,
		user.UpdatedAt,
		user.ID,
	).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

// checkReferenceTx detects replays by lookup, not by the failing insert: a
// constraint violation would poison the surrounding transaction on postgres
// and callers keep writing after tolerating a duplicate. The unique index
// still closes the race between two live requests.
func (s *Service) checkReferenceTx(ctx context.Context, tx *gorm.DB, user *ledgerdomain.User, product *catalogdomain.Product, reference string) error {
	var existing int64
	if err := tx.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM finite_transactions WHERE product_id = ? AND user_id = ? AND reference = ?`,
		product.ID,
		user.ID,
		reference,
	).Scan(&existing).Error; err != nil {
		return err
	}
	if existing > 0 {
		return errs.Duplicate("duplicate_transaction", fmt.Sprintf("reference %q was already applied to product %s", reference, product.Slug))
	}
	return nil
}

func (s *Service) buildRecord(txn *ledgerdomain.FiniteTransaction, user *ledgerdomain.User, product *catalogdomain.Product, secondsGranted int64) *ledgerdomain.TransactionRecord {
	return &ledgerdomain.TransactionRecord{
		TransactionID:           txn.ID,
		UserExternalID:          user.ExternalID,
		ProductSlug:             product.Slug,
		Amount:                  txn.Amount,
		OwnershipSecondsGranted: secondsGranted,
		Reference:               txn.Reference,
		OccurredAt:              txn.CreatedAt,
		ProductTypeFlags:        int64(product.TypeFlags),
	}
}

// emitTx stores the outbound event atomically with the ledger write.
func (s *Service) emitTx(ctx context.Context, tx *gorm.DB, record *ledgerdomain.TransactionRecord) error {
	payload := events.TransactionPayload{
		TransactionID:           record.TransactionID.String(),
		UserExternalID:          record.UserExternalID,
		ProductSlug:             record.ProductSlug,
		Amount:                  record.Amount.String(),
		OwnershipSecondsGranted: record.OwnershipSecondsGranted,
		OccurredAt:              record.OccurredAt,
		ProductTypeFlags:        record.ProductTypeFlags,
	}
	return s.outbox.PublishTx(ctx, tx, events.Event{
		Type:      events.EventTransactionRecorded,
		Payload:   payload.ToMap(),
		DedupeKey: "txn:" + record.TransactionID.String(),
	})
}
