package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/billfold/internal/catalog/domain"
	"github.com/smallbiznis/billfold/internal/clock"
	"github.com/smallbiznis/billfold/internal/errs"
	ruledomain "github.com/smallbiznis/billfold/internal/rule/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clk   clock.Clock

	catalogSvc catalogdomain.Service
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	CatalogSvc catalogdomain.Service
}

func NewService(p Params) ruledomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("rule.service"),
		genID:      p.GenID,
		clk:        p.Clock,
		catalogSvc: p.CatalogSvc,
	}
}

func (s *Service) Upsert(ctx context.Context, req ruledomain.UpsertRequest) error {
	req.Slug = strings.TrimSpace(req.Slug)
	if req.Slug == "" {
		return errs.Validation("invalid_slug", "rule slug is required")
	}
	if err := ruledomain.ValidateDefinition(req.Flags, req.Amount); err != nil {
		return err
	}

	targets, err := s.catalogSvc.FindGroupBySlug(ctx, req.TargetsGroupSlug)
	if err != nil {
		return err
	}

	var requiresID *snowflake.ID
	if strings.TrimSpace(req.RequiresGroupSlug) != "" {
		requires, err := s.catalogSvc.FindGroupBySlug(ctx, req.RequiresGroupSlug)
		if err != nil {
			return err
		}
		requiresID = &requires.ID
	}

	now := s.clk.Now()
	return s.db.WithContext(ctx).Exec(
		`INSERT INTO rules (id, slug, priority, requires_group_id, targets_group_id, flags, amount, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (slug) DO UPDATE SET
		   priority = EXCLUDED.priority,
		   requires_group_id = EXCLUDED.requires_group_id,
		   targets_group_id = EXCLUDED.targets_group_id,
		   flags = EXCLUDED.flags,
		   amount = EXCLUDED.amount,
		   updated_at = EXCLUDED.updated_at`,
		s.genID.Generate(),
		req.Slug,
		req.Priority,
		requiresID,
		targets.ID,
		int64(req.Flags),
		req.Amount,
		now,
		now,
	).Error
}

func (s *Service) AdjustTx(ctx context.Context, tx *gorm.DB, product catalogdomain.Product, userID snowflake.ID) (*ruledomain.Adjustment, error) {
	targetGroups, err := s.targetGroupIDs(ctx, tx, product.ID)
	if err != nil {
		return nil, err
	}

	raw := ruledomain.Adjustment{
		Cost:            product.Cost,
		DurationSeconds: product.DurationSeconds,
		AppliedSlugs:    []string{},
	}
	if len(targetGroups) == 0 {
		return &raw, nil
	}

	ownedGroups, err := s.ownedGroupIDs(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	ids := make([]snowflake.ID, 0, len(targetGroups))
	for id := range targetGroups {
		ids = append(ids, id)
	}
	var rules []ruledomain.Rule
	if err := tx.WithContext(ctx).Raw(
		`SELECT * FROM rules
		 WHERE targets_group_id IN ?
		 ORDER BY priority DESC, id ASC`,
		ids,
	).Scan(&rules).Error; err != nil {
		return nil, err
	}

	adjustment := ruledomain.Evaluate(product.Cost, product.DurationSeconds, rules, ownedGroups, targetGroups)
	return &adjustment, nil
}

func (s *Service) AdjustForUser(ctx context.Context, productSlug, userExternalID string) (*ruledomain.Adjustment, error) {
	product, err := s.catalogSvc.GetBySlug(ctx, productSlug)
	if err != nil {
		return nil, err
	}

	var userID snowflake.ID
	if trimmed := strings.TrimSpace(userExternalID); trimmed != "" {
		if err := s.db.WithContext(ctx).Raw(
			`SELECT id FROM users WHERE external_id = ?`,
			trimmed,
		).Scan(&userID).Error; err != nil {
			return nil, err
		}
	}

	return s.AdjustTx(ctx, s.db, *product, userID)
}

func (s *Service) targetGroupIDs(ctx context.Context, tx *gorm.DB, productID snowflake.ID) (map[snowflake.ID]struct{}, error) {
	var ids []snowflake.ID
	if err := tx.WithContext(ctx).Raw(
		`SELECT group_id FROM product_groups WHERE product_id = ?`,
		productID,
	).Scan(&ids).Error; err != nil {
		return nil, err
	}
	return toSet(ids), nil
}

// ownedGroupIDs collects the groups of every product the user currently
// owns, the gate for Requires conditions.
func (s *Service) ownedGroupIDs(ctx context.Context, tx *gorm.DB, userID snowflake.ID) (map[snowflake.ID]struct{}, error) {
	if userID == 0 {
		return map[snowflake.ID]struct{}{}, nil
	}
	var ids []snowflake.ID
	if err := tx.WithContext(ctx).Raw(
		`SELECT DISTINCT pg.group_id
		 FROM ownerships o
		 JOIN product_groups pg ON pg.product_id = o.product_id
		 WHERE o.user_id = ? AND o.expires_at > ?`,
		userID,
		s.clk.Now(),
	).Scan(&ids).Error; err != nil {
		return nil, err
	}
	return toSet(ids), nil
}

func toSet(ids []snowflake.ID) map[snowflake.ID]struct{} {
	set := make(map[snowflake.ID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
