package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/pixelmuse/pixelmuse/internal/billingrecord/domain"
	"github.com/pixelmuse/pixelmuse/internal/clock"
	"github.com/pixelmuse/pixelmuse/pkg/db/pagination"
	"github.com/pixelmuse/pixelmuse/pkg/repository"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestRecordAndList(t *testing.T) {
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	service, userID := setupBillingService(t, now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := service.Record(ctx, &domain.BillingRecord{
			UserID:      userID,
			Kind:        domain.KindGeneration,
			Credits:     -2,
			Description: fmt.Sprintf("flux-dev generation %d", i),
		})
		if err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	err := service.Record(ctx, &domain.BillingRecord{
		UserID:      userID,
		Kind:        domain.KindPurchase,
		Credits:     500,
		Description: "creator pack",
	})
	if err != nil {
		t.Fatalf("record purchase: %v", err)
	}

	resp, err := service.List(ctx, domain.ListRequest{UserID: userID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(resp.Records) != 4 {
		t.Fatalf("expected 4 records, got %d", len(resp.Records))
	}
	if resp.PageInfo.Total != 4 {
		t.Fatalf("expected total 4, got %d", resp.PageInfo.Total)
	}

	resp, err = service.List(ctx, domain.ListRequest{UserID: userID, Kind: domain.KindPurchase})
	if err != nil {
		t.Fatalf("list by kind: %v", err)
	}
	if len(resp.Records) != 1 || resp.Records[0].Credits != 500 {
		t.Fatalf("expected single purchase record, got %+v", resp.Records)
	}
}

func TestListSearchAndPagination(t *testing.T) {
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	service, userID := setupBillingService(t, now)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		model := "flux-dev"
		if i%5 == 0 {
			model = "flux-pro"
		}
		err := service.Record(ctx, &domain.BillingRecord{
			UserID:      userID,
			Kind:        domain.KindGeneration,
			Credits:     -2,
			Description: fmt.Sprintf("%s generation %d", model, i),
		})
		if err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	resp, err := service.List(ctx, domain.ListRequest{
		UserID: userID,
		Search: "flux-pro",
	})
	if err != nil {
		t.Fatalf("list search: %v", err)
	}
	if resp.PageInfo.Total != 5 {
		t.Fatalf("expected 5 matches, got %d", resp.PageInfo.Total)
	}

	resp, err = service.List(ctx, domain.ListRequest{
		UserID: userID,
		Page:   pagination.Page{Page: 2, Limit: 10},
	})
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(resp.Records) != 10 {
		t.Fatalf("expected 10 records on page 2, got %d", len(resp.Records))
	}
	if !resp.PageInfo.HasMore {
		t.Fatalf("expected more pages after page 2 of 25")
	}
}

func TestListDateRange(t *testing.T) {
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	service, userID := setupBillingService(t, now)
	ctx := context.Background()

	old := now.Add(-48 * time.Hour)
	err := service.Record(ctx, &domain.BillingRecord{
		UserID:      userID,
		Kind:        domain.KindGeneration,
		Credits:     -2,
		Description: "old generation",
		CreatedAt:   old,
	})
	if err != nil {
		t.Fatalf("record old: %v", err)
	}
	err = service.Record(ctx, &domain.BillingRecord{
		UserID:      userID,
		Kind:        domain.KindGeneration,
		Credits:     -2,
		Description: "recent generation",
	})
	if err != nil {
		t.Fatalf("record recent: %v", err)
	}

	from := now.Add(-time.Hour)
	resp, err := service.List(ctx, domain.ListRequest{UserID: userID, From: &from})
	if err != nil {
		t.Fatalf("list from: %v", err)
	}
	if len(resp.Records) != 1 || resp.Records[0].Description != "recent generation" {
		t.Fatalf("expected only the recent record, got %+v", resp.Records)
	}
}

func setupBillingService(t *testing.T, now time.Time) (domain.Service, snowflake.ID) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	err = db.Exec(`CREATE TABLE IF NOT EXISTS billing_records (
		id INTEGER PRIMARY KEY,
		user_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		credits INTEGER NOT NULL,
		description TEXT,
		created_at DATETIME NOT NULL
	)`).Error
	if err != nil {
		t.Fatalf("create schema: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	service := NewService(Params{
		Log:   zap.NewNop(),
		Clock: clock.NewFakeClock(now),
		GenID: node,
		Store: repository.ProvideStore[domain.BillingRecord](db),
	})
	return service, node.Generate()
}
