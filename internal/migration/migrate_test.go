package migration

import (
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func TestRunMigrationsIsRepeatable(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("unwrap sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	for i := 0; i < 2; i++ {
		if err := RunMigrations(conn); err != nil {
			t.Fatalf("run migrations (%d): %v", i, err)
		}
	}

	var count int64
	if err := conn.Raw(`SELECT COUNT(1) FROM products`).Scan(&count).Error; err != nil {
		t.Fatalf("schema missing after migrations: %v", err)
	}
}
