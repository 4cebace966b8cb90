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
	subscriptiondomain "github.com/smallbiznis/billfold/internal/subscription/domain"
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
	ledger     ledgerdomain.Service
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
	Ledger     ledgerdomain.Service
	Ownerships ownershipdomain.Service
	Outbox     *events.Outbox
}

func NewService(p Params) subscriptiondomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("subscription.service"),
		genID:      p.GenID,
		clk:        p.Clock,
		cfg:        p.Config,
		catalog:    p.Catalog,
		ledger:     p.Ledger,
		ownerships: p.Ownerships,
		outbox:     p.Outbox,
	}
}

func (s *Service) Reconcile(ctx context.Context, n subscriptiondomain.Notification) error {
	if strings.TrimSpace(n.Provider) == "" {
		return errs.Validation("missing_provider", "a provider is required")
	}
	if strings.TrimSpace(n.ProviderTxnID) == "" {
		return errs.Validation("missing_provider_txn_id", "a provider transaction id is required")
	}
	if strings.TrimSpace(n.UserExternalID) == "" {
		return errs.Validation("missing_user", "a user id is required")
	}
	if !n.Status.Known() {
		return errs.Validation("unknown_status", fmt.Sprintf("status %q is not a subscription lifecycle state", n.Status))
	}

	// The settle paths need the provider's top-up product; resolving it
	// here keeps the lookup out of the serializable transaction.
	var topUp *catalogdomain.Product
	if s.settles(n) {
		var err error
		topUp, err = s.catalog.FindTopUpByProvider(ctx, n.Provider)
		if err != nil {
			return err
		}
	}

	err := s.serializable(ctx, func(tx *gorm.DB) error {
		product, err := s.catalog.FindBySlugTx(ctx, tx, n.ProductSlug)
		if err != nil {
			return err
		}
		user, err := s.ledger.EnsureUserTx(ctx, tx, n.UserExternalID)
		if err != nil {
			return err
		}

		switch n.Status {
		case subscriptiondomain.StatusOnTrial:
			if err := s.grantTrialTx(ctx, tx, n, user, product); err != nil {
				return err
			}
		case subscriptiondomain.StatusPaymentSuccess:
			if err := s.settleTx(ctx, tx, n, topUp, product); err != nil {
				return err
			}
		case subscriptiondomain.StatusCreated, subscriptiondomain.StatusActive:
			if s.cfg.SettlesOnActivate(n.Provider) {
				if err := s.settleTx(ctx, tx, n, topUp, product); err != nil {
					return err
				}
			}
		case subscriptiondomain.StatusCancelled:
			// Remaining ownership runs out on its own; only the mirrored
			// state changes.
		}

		return s.recordStateTx(ctx, tx, n, user.ID, product.ID)
	})
	if err != nil {
		return err
	}
	s.log.Info("subscription event reconciled",
		zap.String("provider", n.Provider),
		zap.String("user", n.UserExternalID),
		zap.String("product", n.ProductSlug),
		zap.String("status", string(n.Status)),
	)
	return nil
}

func (s *Service) settles(n subscriptiondomain.Notification) bool {
	switch n.Status {
	case subscriptiondomain.StatusPaymentSuccess:
		return true
	case subscriptiondomain.StatusCreated, subscriptiondomain.StatusActive:
		return s.cfg.SettlesOnActivate(n.Provider)
	}
	return false
}

// settleTx credits the provider's top-up product and immediately purchases
// the subscribed service. Both writes key their idempotency reference off
// the provider transaction id, so a replayed event settles nothing twice.
func (s *Service) settleTx(ctx context.Context, tx *gorm.DB, n subscriptiondomain.Notification, topUp, product *catalogdomain.Product) error {
	amount := decimal.Zero
	var err error
	if n.Amount.IsPositive() {
		amount = n.Amount
	}
	_, err = s.ledger.CreditTopUpTx(ctx, tx, topUp.ID, n.UserExternalID, n.ProviderTxnID+"-topup", amount)
	if err != nil && !errs.IsKind(err, errs.KindDuplicate) {
		return err
	}

	_, err = s.ledger.PurchaseServiceTx(ctx, tx, product.Slug, n.UserExternalID, n.ProviderTxnID+"-purchase", 1)
	if err != nil && !errs.IsKind(err, errs.KindDuplicate) {
		return err
	}
	return nil
}

// grantTrialTx extends ownership up to the trial end without a ledger entry.
// The trial_usages unique pair guarantees one trial per user and product;
// a replayed or repeated trial event changes nothing.
func (s *Service) grantTrialTx(ctx context.Context, tx *gorm.DB, n subscriptiondomain.Notification, user *ledgerdomain.User, product *catalogdomain.Product) error {
	if n.TrialEndsAt == nil || !n.TrialEndsAt.After(s.clk.Now()) {
		return errs.Validation("invalid_trial_end", "a future trial end is required")
	}

	// Consumed trials are detected by lookup so a replay never trips the
	// unique pair inside the open transaction.
	var consumed int64
	if err := tx.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM trial_usages WHERE user_id = ? AND product_id = ?`,
		user.ID,
		product.ID,
	).Scan(&consumed).Error; err != nil {
		return err
	}
	if consumed > 0 {
		s.log.Debug("trial already consumed",
			zap.String("user", user.ExternalID),
			zap.String("product", product.Slug),
		)
		return nil
	}

	usage := subscriptiondomain.TrialUsage{
		ID:         s.genID.Generate(),
		UserID:     user.ID,
		ProductID:  product.ID,
		ConsumedAt: s.clk.Now(),
	}
	if err := tx.WithContext(ctx).Create(&usage).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil
		}
		return err
	}

	groups, err := s.catalog.GroupsForProductTx(ctx, tx, product.ID)
	if err != nil {
		return err
	}
	for _, group := range groups {
		rep, err := s.catalog.RepresentativeProductTx(ctx, tx, group)
		if err != nil {
			return err
		}
		if rep == nil {
			continue
		}
		if _, err := s.ownerships.ExtendToTx(ctx, tx, user.ID, rep.ID, *n.TrialEndsAt); err != nil {
			return err
		}
	}

	return s.outbox.PublishTx(ctx, tx, events.Event{
		Type: events.EventTrialGranted,
		Payload: map[string]any{
			"user_external_id": user.ExternalID,
			"product_slug":     product.Slug,
			"provider":         n.Provider,
			"trial_ends_at":    n.TrialEndsAt.UTC(),
		},
		DedupeKey: fmt.Sprintf("trial:%d:%d", user.ID, product.ID),
	})
}

func (s *Service) recordStateTx(ctx context.Context, tx *gorm.DB, n subscriptiondomain.Notification, userID, productID snowflake.ID) error {
	now := s.clk.Now()
	return tx.WithContext(ctx).Exec(
		`INSERT INTO subscription_states (id, user_id, product_id, provider, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, product_id, provider)
		 DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
		s.genID.Generate(),
		userID,
		productID,
		strings.ToLower(strings.TrimSpace(n.Provider)),
		n.Status,
		now,
		now,
	).Error
}

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
