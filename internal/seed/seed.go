package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/billfold/internal/catalog/domain"
	"gorm.io/gorm"
)

// EnsureSentinelProducts seeds the revert and transfer products the ledger
// records compensations and transfers against. Safe to run on every boot.
func EnsureSentinelProducts(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, slug := range []string{catalogdomain.SlugRevert, catalogdomain.SlugTransfer} {
			if err := ensureSentinelTx(ctx, tx, node, slug); err != nil {
				return err
			}
		}
		return nil
	})
}

func ensureSentinelTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, slug string) error {
	now := time.Now().UTC()

	var product catalogdomain.Product
	err := tx.WithContext(ctx).
		Where("slug = ? AND (type_flags & ?) = 0", slug, int64(catalogdomain.FlagDisabled)).
		First(&product).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	product = catalogdomain.Product{
		ID:        node.Generate(),
		Slug:      slug,
		Kind:      catalogdomain.KindPurchaseable,
		TypeFlags: catalogdomain.FlagLocked,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(&product).Error; err != nil {
		return err
	}

	group := catalogdomain.Group{ID: node.Generate(), Slug: slug, CreatedAt: now}
	if err := tx.WithContext(ctx).Exec(
		`INSERT INTO groups (id, slug, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (slug) DO NOTHING`,
		group.ID,
		group.Slug,
		group.CreatedAt,
	).Error; err != nil {
		return err
	}
	if err := tx.WithContext(ctx).Raw(
		`SELECT * FROM groups WHERE slug = ? LIMIT 1`, slug,
	).Scan(&group).Error; err != nil {
		return err
	}

	return tx.WithContext(ctx).Exec(
		`INSERT INTO product_groups (id, product_id, group_id, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (product_id, group_id) DO NOTHING`,
		node.Generate(),
		product.ID,
		group.ID,
		now,
	).Error
}
