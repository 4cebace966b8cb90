package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/billfold/internal/clock"
	"github.com/smallbiznis/billfold/internal/migration"
	ownershipdomain "github.com/smallbiznis/billfold/internal/ownership/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (ownershipdomain.Service, *gorm.DB, *clock.Fixed) {
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
	node, err := snowflake.NewNode(5)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	clk := &clock.Fixed{At: testNow}
	svc := NewService(Params{DB: conn, Log: zap.NewNop(), GenID: node, Clock: clk})
	return svc, conn, clk
}

func extend(t *testing.T, svc ownershipdomain.Service, conn *gorm.DB, userID, productID snowflake.ID, seconds int64) *ownershipdomain.Ownership {
	t.Helper()
	var row *ownershipdomain.Ownership
	err := conn.Transaction(func(tx *gorm.DB) error {
		var err error
		row, err = svc.ExtendTx(context.Background(), tx, userID, productID, seconds)
		return err
	})
	if err != nil {
		t.Fatalf("extend by %d: %v", seconds, err)
	}
	return row
}

func TestExtendCreatesRow(t *testing.T) {
	svc, conn, _ := newTestService(t)

	row := extend(t, svc, conn, 1, 2, 60)
	if row == nil {
		t.Fatal("expected a new ownership row")
	}
	if want := testNow.Add(60 * time.Second); !row.ExpiresAt.Equal(want) {
		t.Fatalf("expires at %s, want %s", row.ExpiresAt, want)
	}
}

func TestNegativeExtendWithoutRowIsNoop(t *testing.T) {
	svc, conn, _ := newTestService(t)

	row := extend(t, svc, conn, 1, 2, -60)
	if row != nil {
		t.Fatalf("got row %+v, want none", row)
	}
	var count int64
	if err := conn.Raw(`SELECT COUNT(1) FROM ownerships`).Scan(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("ownership rows = %d, want 0", count)
	}
}

func TestExtendStacksOnUnexpired(t *testing.T) {
	svc, conn, _ := newTestService(t)

	extend(t, svc, conn, 1, 2, 100)
	row := extend(t, svc, conn, 1, 2, 50)
	if want := testNow.Add(150 * time.Second); !row.ExpiresAt.Equal(want) {
		t.Fatalf("expires at %s, want stacked %s", row.ExpiresAt, want)
	}
}

func TestExtendRestartsFromNowWhenExpired(t *testing.T) {
	svc, conn, clk := newTestService(t)

	extend(t, svc, conn, 1, 2, 100)
	// The gap between expiry and the new grant is not back-filled.
	clk.At = testNow.Add(10 * time.Minute)
	row := extend(t, svc, conn, 1, 2, 60)
	if want := clk.At.Add(60 * time.Second); !row.ExpiresAt.Equal(want) {
		t.Fatalf("expires at %s, want restarted %s", row.ExpiresAt, want)
	}
}

func TestNegativeExtendShrinksDirectly(t *testing.T) {
	svc, conn, _ := newTestService(t)

	extend(t, svc, conn, 1, 2, 100)
	row := extend(t, svc, conn, 1, 2, -150)
	if want := testNow.Add(-50 * time.Second); !row.ExpiresAt.Equal(want) {
		t.Fatalf("expires at %s, want shrunk past %s", row.ExpiresAt, want)
	}
}

func TestExtendToOnlyRaises(t *testing.T) {
	svc, conn, _ := newTestService(t)

	extend(t, svc, conn, 1, 2, 600)
	earlier := testNow.Add(60 * time.Second)
	err := conn.Transaction(func(tx *gorm.DB) error {
		_, err := svc.ExtendToTx(context.Background(), tx, 1, 2, earlier)
		return err
	})
	if err != nil {
		t.Fatalf("extend to: %v", err)
	}

	row, err := svc.GetTx(context.Background(), conn, 1, 2)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if want := testNow.Add(600 * time.Second); !row.ExpiresAt.Equal(want) {
		t.Fatalf("expires at %s, want unchanged %s", row.ExpiresAt, want)
	}
}

func TestEffectivelyPermanent(t *testing.T) {
	svc, conn, _ := newTestService(t)

	extend(t, svc, conn, 1, 2, int64((ownershipdomain.PermanentThreshold+24*time.Hour)/time.Second))
	err := conn.Transaction(func(tx *gorm.DB) error {
		permanent, err := svc.IsEffectivelyPermanentTx(context.Background(), tx, 1, 2)
		if err != nil {
			return err
		}
		if !permanent {
			t.Fatal("grant beyond the threshold should read as permanent")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
}

func TestLicenseFollowsExtensionPolicy(t *testing.T) {
	svc, conn, _ := newTestService(t)

	grant := func(seconds int64) {
		t.Helper()
		err := conn.Transaction(func(tx *gorm.DB) error {
			_, err := svc.GrantLicenseTx(context.Background(), tx, 1, 2, "server-9", seconds)
			return err
		})
		if err != nil {
			t.Fatalf("grant license: %v", err)
		}
	}

	grant(100)
	grant(50)

	has, err := svc.HasLicense(context.Background(), 1, 2, "server-9")
	if err != nil {
		t.Fatalf("has license: %v", err)
	}
	if !has {
		t.Fatal("expected a live license")
	}

	var expires time.Time
	if err := conn.Raw(`SELECT expires_at FROM licenses WHERE target_id = ?`, "server-9").Scan(&expires).Error; err != nil {
		t.Fatalf("load license: %v", err)
	}
	if want := testNow.Add(150 * time.Second); !expires.Equal(want) {
		t.Fatalf("license expires at %s, want stacked %s", expires, want)
	}
}

func TestGrantLicenseOpensOwnTransaction(t *testing.T) {
	svc, _, _ := newTestService(t)

	row, err := svc.GrantLicense(context.Background(), 1, 2, "server-9", 120)
	if err != nil {
		t.Fatalf("grant license: %v", err)
	}
	if want := testNow.Add(120 * time.Second); !row.ExpiresAt.Equal(want) {
		t.Fatalf("license expires at %s, want %s", row.ExpiresAt, want)
	}

	has, err := svc.HasLicense(context.Background(), 1, 2, "server-9")
	if err != nil {
		t.Fatalf("has license: %v", err)
	}
	if !has {
		t.Fatal("expected a live license")
	}
	if has, _ := svc.HasLicense(context.Background(), 1, 2, "server-10"); has {
		t.Fatal("license leaked to another target")
	}
}
