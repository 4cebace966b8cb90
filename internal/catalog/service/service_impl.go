package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billfold/internal/cache"
	catalogdomain "github.com/smallbiznis/billfold/internal/catalog/domain"
	"github.com/smallbiznis/billfold/internal/clock"
	"github.com/smallbiznis/billfold/internal/errs"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const productCacheTTL = time.Minute

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clk   clock.Clock

	products cache.Cache[string, catalogdomain.Product]
}

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

func NewService(p Params) catalogdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("catalog.service"),
		genID:    p.GenID,
		clk:      p.Clock,
		products: cache.NewTTLCache[string, catalogdomain.Product](),
	}
}

func (s *Service) Create(ctx context.Context, req catalogdomain.CreateProductRequest) (*catalogdomain.Product, error) {
	if err := validateCreate(&req); err != nil {
		return nil, err
	}

	var created *catalogdomain.Product
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		created, err = s.createTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.products.Delete(created.Slug)
	return created, nil
}

func (s *Service) createTx(ctx context.Context, tx *gorm.DB, req catalogdomain.CreateProductRequest) (*catalogdomain.Product, error) {
	now := s.clk.Now()
	product := catalogdomain.Product{
		ID:              s.genID.Generate(),
		Slug:            req.Slug,
		Kind:            req.Kind,
		Cost:            req.Cost,
		DurationSeconds: req.DurationSeconds,
		TypeFlags:       req.TypeFlags,
		FixedPrice:      req.FixedPrice,
		Currency:        strings.ToUpper(strings.TrimSpace(req.Currency)),
		ProviderSlug:    strings.ToLower(strings.TrimSpace(req.ProviderSlug)),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.Kind == catalogdomain.KindTopUp {
		product.TypeFlags |= catalogdomain.FlagTopUp
	}

	if err := tx.WithContext(ctx).Create(&product).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errs.Validation("slug_exists", "an active product already uses this slug")
		}
		return nil, err
	}

	// Every product joins its implicit self-named group.
	groups := append([]string{product.Slug}, req.ExtraGroups...)
	for _, slug := range groups {
		group, err := s.EnsureGroupTx(ctx, tx, slug)
		if err != nil {
			return nil, err
		}
		if err := s.addMembershipTx(ctx, tx, product.ID, group.ID); err != nil {
			return nil, err
		}
	}
	return &product, nil
}

func (s *Service) Supersede(ctx context.Context, slug string, req catalogdomain.CreateProductRequest) (*catalogdomain.Product, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, errs.Validation("invalid_slug", "slug is required")
	}
	req.Slug = slug
	if err := validateCreate(&req); err != nil {
		return nil, err
	}

	var replacement *catalogdomain.Product
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		old, err := s.FindBySlugTx(ctx, tx, slug)
		if err != nil {
			return err
		}

		now := s.clk.Now()
		retiredSlug := fmt.Sprintf("%s-retired-%d", old.Slug, old.ID)
		if err := tx.WithContext(ctx).Exec(
			`UPDATE products
			 SET slug = ?, type_flags = type_flags | ?, updated_at = ?
			 WHERE id = ?`,
			retiredSlug,
			int64(catalogdomain.FlagDisabled),
			now,
			old.ID,
		).Error; err != nil {
			return err
		}

		// The retired row leaves the self-named group so the slug's group
		// resolves to the replacement only; other memberships stay for
		// historical bundles.
		if err := tx.WithContext(ctx).Exec(
			`DELETE FROM product_groups
			 WHERE product_id = ? AND group_id IN (SELECT id FROM groups WHERE slug = ?)`,
			old.ID,
			slug,
		).Error; err != nil {
			return err
		}

		replacement, err = s.createTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.products.Delete(slug)
	return replacement, nil
}

func (s *Service) GetBySlug(ctx context.Context, slug string) (*catalogdomain.Product, error) {
	slug = strings.TrimSpace(slug)
	if cached, ok := s.products.Get(slug); ok {
		return &cached, nil
	}
	product, err := s.FindBySlugTx(ctx, s.db, slug)
	if err != nil {
		return nil, err
	}
	s.products.Set(slug, *product, productCacheTTL)
	return product, nil
}

func (s *Service) FindBySlugTx(ctx context.Context, tx *gorm.DB, slug string) (*catalogdomain.Product, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, errs.Validation("invalid_slug", "slug is required")
	}
	var product catalogdomain.Product
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM products
		 WHERE slug = ? AND (type_flags & ?) = 0
		 LIMIT 1`,
		slug,
		int64(catalogdomain.FlagDisabled),
	).Scan(&product).Error
	if err != nil {
		return nil, err
	}
	if product.ID == 0 {
		return nil, errs.NotFound("product_not_found", fmt.Sprintf("no active product with slug %q", slug))
	}
	return &product, nil
}

func (s *Service) FindByIDTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*catalogdomain.Product, error) {
	var product catalogdomain.Product
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM products WHERE id = ? LIMIT 1`,
		id,
	).Scan(&product).Error
	if err != nil {
		return nil, err
	}
	if product.ID == 0 {
		return nil, errs.NotFound("product_not_found", fmt.Sprintf("no product with id %d", id))
	}
	return &product, nil
}

func (s *Service) FindTopUpByProvider(ctx context.Context, providerSlug string) (*catalogdomain.Product, error) {
	providerSlug = strings.ToLower(strings.TrimSpace(providerSlug))
	if providerSlug == "" {
		return nil, errs.Validation("invalid_provider", "provider slug is required")
	}
	var product catalogdomain.Product
	err := s.db.WithContext(ctx).Raw(
		`SELECT * FROM products
		 WHERE provider_slug = ? AND kind = ? AND (type_flags & ?) = 0
		 LIMIT 1`,
		providerSlug,
		catalogdomain.KindTopUp,
		int64(catalogdomain.FlagDisabled),
	).Scan(&product).Error
	if err != nil {
		return nil, err
	}
	if product.ID == 0 {
		return nil, errs.NotFound("topup_not_found", fmt.Sprintf("no top-up product for provider %q", providerSlug))
	}
	return &product, nil
}

func (s *Service) AddToGroup(ctx context.Context, productSlug, groupSlug string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		product, err := s.FindBySlugTx(ctx, tx, productSlug)
		if err != nil {
			return err
		}
		group, err := s.EnsureGroupTx(ctx, tx, groupSlug)
		if err != nil {
			return err
		}
		return s.addMembershipTx(ctx, tx, product.ID, group.ID)
	})
	if err == nil {
		s.products.Delete(strings.TrimSpace(productSlug))
	}
	return err
}

func (s *Service) GroupsForProduct(ctx context.Context, productID snowflake.ID) ([]catalogdomain.Group, error) {
	return s.GroupsForProductTx(ctx, s.db, productID)
}

func (s *Service) GroupsForProductTx(ctx context.Context, tx *gorm.DB, productID snowflake.ID) ([]catalogdomain.Group, error) {
	var groups []catalogdomain.Group
	err := tx.WithContext(ctx).Raw(
		`SELECT g.* FROM groups g
		 JOIN product_groups pg ON pg.group_id = g.id
		 WHERE pg.product_id = ?
		 ORDER BY g.id`,
		productID,
	).Scan(&groups).Error
	if err != nil {
		return nil, err
	}
	return groups, nil
}

func (s *Service) ProductsForGroup(ctx context.Context, groupSlug string) ([]catalogdomain.Product, error) {
	group, err := s.FindGroupBySlug(ctx, groupSlug)
	if err != nil {
		return nil, err
	}
	var products []catalogdomain.Product
	err = s.db.WithContext(ctx).Raw(
		`SELECT p.* FROM products p
		 JOIN product_groups pg ON pg.product_id = p.id
		 WHERE pg.group_id = ?
		 ORDER BY p.id`,
		group.ID,
	).Scan(&products).Error
	if err != nil {
		return nil, err
	}
	return products, nil
}

// RepresentativeProductTx resolves the group member whose own slug equals
// the group slug. Returns nil when no member qualifies, which happens for
// purely decorative groups.
func (s *Service) RepresentativeProductTx(ctx context.Context, tx *gorm.DB, group catalogdomain.Group) (*catalogdomain.Product, error) {
	var product catalogdomain.Product
	err := tx.WithContext(ctx).Raw(
		`SELECT p.* FROM products p
		 JOIN product_groups pg ON pg.product_id = p.id
		 WHERE pg.group_id = ? AND p.slug = ?
		 LIMIT 1`,
		group.ID,
		group.Slug,
	).Scan(&product).Error
	if err != nil {
		return nil, err
	}
	if product.ID == 0 {
		return nil, nil
	}
	return &product, nil
}

func (s *Service) EnsureGroupTx(ctx context.Context, tx *gorm.DB, slug string) (*catalogdomain.Group, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, errs.Validation("invalid_group_slug", "group slug is required")
	}

	if err := tx.WithContext(ctx).Exec(
		`INSERT INTO groups (id, slug, created_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (slug) DO NOTHING`,
		s.genID.Generate(),
		slug,
		s.clk.Now(),
	).Error; err != nil {
		return nil, err
	}

	var group catalogdomain.Group
	if err := tx.WithContext(ctx).Raw(
		`SELECT * FROM groups WHERE slug = ?`,
		slug,
	).Scan(&group).Error; err != nil {
		return nil, err
	}
	if group.ID == 0 {
		return nil, errs.NotFound("group_not_found", fmt.Sprintf("no group with slug %q", slug))
	}
	return &group, nil
}

func (s *Service) FindGroupBySlug(ctx context.Context, slug string) (*catalogdomain.Group, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, errs.Validation("invalid_group_slug", "group slug is required")
	}
	var group catalogdomain.Group
	if err := s.db.WithContext(ctx).Raw(
		`SELECT * FROM groups WHERE slug = ?`,
		slug,
	).Scan(&group).Error; err != nil {
		return nil, err
	}
	if group.ID == 0 {
		return nil, errs.NotFound("group_not_found", fmt.Sprintf("no group with slug %q", slug))
	}
	return &group, nil
}

func (s *Service) addMembershipTx(ctx context.Context, tx *gorm.DB, productID, groupID snowflake.ID) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO product_groups (id, product_id, group_id, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (product_id, group_id) DO NOTHING`,
		s.genID.Generate(),
		productID,
		groupID,
		s.clk.Now(),
	).Error
}

func validateCreate(req *catalogdomain.CreateProductRequest) error {
	req.Slug = strings.TrimSpace(req.Slug)
	if req.Slug == "" {
		return errs.Validation("invalid_slug", "slug is required")
	}
	switch req.Kind {
	case catalogdomain.KindPurchaseable, catalogdomain.KindTopUp:
	default:
		return errs.Validation("invalid_kind", "kind must be purchaseable or topup")
	}
	if req.Cost.IsNegative() {
		return errs.Validation("invalid_cost", "cost must not be negative")
	}
	if req.DurationSeconds < 0 {
		return errs.Validation("invalid_duration", "duration must not be negative")
	}
	if req.Kind == catalogdomain.KindTopUp && strings.TrimSpace(req.ProviderSlug) == "" {
		return errs.Validation("invalid_provider", "top-up products require a provider slug")
	}
	return nil
}
