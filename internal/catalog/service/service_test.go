package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	catalogdomain "github.com/smallbiznis/billfold/internal/catalog/domain"
	"github.com/smallbiznis/billfold/internal/clock"
	"github.com/smallbiznis/billfold/internal/errs"
	"github.com/smallbiznis/billfold/internal/migration"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (catalogdomain.Service, *gorm.DB) {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("unwrap sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := migration.RunMigrations(conn); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	node, err := snowflake.NewNode(4)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	svc := NewService(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: &clock.Fixed{At: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	})
	return svc, conn
}

func createService(t *testing.T, svc catalogdomain.Service, slug string, cost int64, extraGroups ...string) *catalogdomain.Product {
	t.Helper()
	product, err := svc.Create(context.Background(), catalogdomain.CreateProductRequest{
		Slug:            slug,
		Kind:            catalogdomain.KindPurchaseable,
		Cost:            decimal.NewFromInt(cost),
		DurationSeconds: 60,
		TypeFlags:       catalogdomain.FlagService,
		ExtraGroups:     extraGroups,
	})
	if err != nil {
		t.Fatalf("create %s: %v", slug, err)
	}
	return product
}

func TestCreateAddsSelfGroup(t *testing.T) {
	svc, _ := newTestService(t)
	product := createService(t, svc, "premium", 10)

	groups, err := svc.GroupsForProduct(context.Background(), product.ID)
	if err != nil {
		t.Fatalf("groups: %v", err)
	}
	if len(groups) != 1 || groups[0].Slug != "premium" {
		t.Fatalf("groups = %+v, want the single self group", groups)
	}
}

func TestCreateRejectsActiveDuplicateSlug(t *testing.T) {
	svc, _ := newTestService(t)
	createService(t, svc, "premium", 10)

	_, err := svc.Create(context.Background(), catalogdomain.CreateProductRequest{
		Slug: "premium",
		Kind: catalogdomain.KindPurchaseable,
		Cost: decimal.NewFromInt(20),
	})
	if !errs.IsKind(err, errs.KindValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestSupersedeRetiresOldRow(t *testing.T) {
	svc, conn := newTestService(t)
	old := createService(t, svc, "premium", 10)

	replacement, err := svc.Supersede(context.Background(), "premium", catalogdomain.CreateProductRequest{
		Slug:            "premium",
		Kind:            catalogdomain.KindPurchaseable,
		Cost:            decimal.NewFromInt(20),
		DurationSeconds: 120,
		TypeFlags:       catalogdomain.FlagService,
	})
	if err != nil {
		t.Fatalf("supersede: %v", err)
	}
	if replacement.ID == old.ID {
		t.Fatal("supersede reused the old row")
	}

	current, err := svc.GetBySlug(context.Background(), "premium")
	if err != nil {
		t.Fatalf("get by slug: %v", err)
	}
	if !current.Cost.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("current cost = %s, want the replacement's 20", current.Cost)
	}

	// The retired row stays resolvable by id for historical ledger entries.
	var retired catalogdomain.Product
	if err := conn.Raw(`SELECT * FROM products WHERE id = ?`, old.ID).Scan(&retired).Error; err != nil {
		t.Fatalf("load retired: %v", err)
	}
	if !retired.Disabled() {
		t.Fatal("retired row is not disabled")
	}
	if want := fmt.Sprintf("premium-retired-%d", old.ID); retired.Slug != want {
		t.Fatalf("retired slug = %s, want %s", retired.Slug, want)
	}

	// The slug's group follows the replacement.
	members, err := svc.ProductsForGroup(context.Background(), "premium")
	if err != nil {
		t.Fatalf("group members: %v", err)
	}
	if len(members) != 1 || members[0].ID != replacement.ID {
		t.Fatalf("group members = %+v, want only the replacement", members)
	}
}

func TestRepresentativeProduct(t *testing.T) {
	svc, conn := newTestService(t)
	pro := createService(t, svc, "pro", 30)
	createService(t, svc, "addon", 10, "pro")

	group, err := svc.FindGroupBySlug(context.Background(), "pro")
	if err != nil {
		t.Fatalf("find group: %v", err)
	}
	rep, err := svc.RepresentativeProductTx(context.Background(), conn, *group)
	if err != nil {
		t.Fatalf("representative: %v", err)
	}
	if rep == nil || rep.ID != pro.ID {
		t.Fatalf("representative = %+v, want product pro", rep)
	}
}

func TestDecorativeGroupHasNoRepresentative(t *testing.T) {
	svc, conn := newTestService(t)
	createService(t, svc, "addon", 10, "season-sale")

	group, err := svc.FindGroupBySlug(context.Background(), "season-sale")
	if err != nil {
		t.Fatalf("find group: %v", err)
	}
	rep, err := svc.RepresentativeProductTx(context.Background(), conn, *group)
	if err != nil {
		t.Fatalf("representative: %v", err)
	}
	if rep != nil {
		t.Fatalf("representative = %+v, want none for a decorative group", rep)
	}
}

func TestFindTopUpByProvider(t *testing.T) {
	svc, _ := newTestService(t)
	created, err := svc.Create(context.Background(), catalogdomain.CreateProductRequest{
		Slug:         "stripe-credit",
		Kind:         catalogdomain.KindTopUp,
		Cost:         decimal.NewFromInt(10),
		ProviderSlug: "Stripe",
	})
	if err != nil {
		t.Fatalf("create top-up: %v", err)
	}

	found, err := svc.FindTopUpByProvider(context.Background(), "stripe")
	if err != nil {
		t.Fatalf("find by provider: %v", err)
	}
	if found.ID != created.ID {
		t.Fatalf("found %d, want %d", found.ID, created.ID)
	}
	if !found.TypeFlags.Has(catalogdomain.FlagTopUp) {
		t.Fatal("top-up flag not set on created top-up product")
	}
}

func TestAddToGroupIsIdempotent(t *testing.T) {
	svc, conn := newTestService(t)
	createService(t, svc, "premium", 10)

	for i := 0; i < 2; i++ {
		if err := svc.AddToGroup(context.Background(), "premium", "bundle"); err != nil {
			t.Fatalf("add to group (%d): %v", i, err)
		}
	}

	var count int64
	if err := conn.Raw(`SELECT COUNT(1) FROM product_groups`).Scan(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	// one self membership plus one bundle membership
	if count != 2 {
		t.Fatalf("memberships = %d, want 2", count)
	}
}
