// Package dbtest opens throwaway sqlite databases carrying the service schema.
package dbtest

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/bidroom-backend/pkg/db"
	"github.com/angelmondragon/bidroom-backend/pkg/db/models"
	"github.com/angelmondragon/bidroom-backend/pkg/enums"
	"github.com/angelmondragon/bidroom-backend/pkg/migrate"
)

// Open returns a client over a private in-memory database. The database lives
// until the test finishes.
func Open(t testing.TB) *db.Client {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared&_busy_timeout=5000", name, uuid.NewString()[:8])
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.New(log.New(io.Discard, "", 0), gormlogger.Config{LogLevel: gormlogger.Silent}),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migrate.ApplySQLiteSchema(context.Background(), conn); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return db.NewFromConn(conn)
}

// MustCreateProject inserts a project owned by buyerID.
func MustCreateProject(t testing.TB, conn *gorm.DB, buyerID uuid.UUID, status enums.ProjectStatus) *models.Project {
	t.Helper()
	project := &models.Project{
		ID:        uuid.New(),
		BuyerID:   buyerID,
		Title:     "Kitchen remodel",
		Status:    status,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := conn.Create(project).Error; err != nil {
		t.Fatalf("create project: %v", err)
	}
	return project
}

// MustCreateBid inserts a bid directly, bypassing the lifecycle service.
func MustCreateBid(t testing.TB, conn *gorm.DB, projectID, sellerID uuid.UUID, amount string, status enums.BidStatus) *models.Bid {
	t.Helper()
	bid := &models.Bid{
		ProjectID: projectID,
		SellerID:  sellerID,
		Amount:    decimal.RequireFromString(amount),
		Status:    status,
	}
	if err := conn.Create(bid).Error; err != nil {
		t.Fatalf("create bid: %v", err)
	}
	return bid
}
