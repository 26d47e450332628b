package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/pixelmuse/pixelmuse/internal/billingrecord/domain"
	billingservice "github.com/pixelmuse/pixelmuse/internal/billingrecord/service"
	"github.com/pixelmuse/pixelmuse/internal/clock"
	"github.com/pixelmuse/pixelmuse/internal/config"
	"github.com/pixelmuse/pixelmuse/internal/generation/domain"
	grantdomain "github.com/pixelmuse/pixelmuse/internal/grant/domain"
	grantrepository "github.com/pixelmuse/pixelmuse/internal/grant/repository"
	identitydomain "github.com/pixelmuse/pixelmuse/internal/identity/domain"
	ledgerdomain "github.com/pixelmuse/pixelmuse/internal/ledger/domain"
	ledgerservice "github.com/pixelmuse/pixelmuse/internal/ledger/service"
	"github.com/pixelmuse/pixelmuse/pkg/repository"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type backendStub struct {
	calls   int
	lastReq domain.BackendRequest
	result  *domain.BackendResult
	err     error
}

func (b *backendStub) Generate(ctx context.Context, req domain.BackendRequest) (*domain.BackendResult, error) {
	b.calls++
	b.lastReq = req
	if b.err != nil {
		return nil, b.err
	}
	return b.result, nil
}

type identityStub struct {
	metadata map[string]any
}

func (s *identityStub) FindByID(ctx context.Context, id snowflake.ID) (*identitydomain.User, error) {
	return &identitydomain.User{ID: id}, nil
}

func (s *identityStub) Authenticate(ctx context.Context, token string) (*identitydomain.User, error) {
	return nil, identitydomain.ErrInvalidToken
}

func (s *identityStub) Metadata(ctx context.Context, id snowflake.ID) (map[string]any, error) {
	out := make(map[string]any, len(s.metadata))
	for k, v := range s.metadata {
		out[k] = v
	}
	return out, nil
}

func (s *identityStub) MergeMetadata(ctx context.Context, id snowflake.ID, patch map[string]any) error {
	if s.metadata == nil {
		s.metadata = map[string]any{}
	}
	for k, v := range patch {
		s.metadata[k] = v
	}
	return nil
}

func TestCreateDeductsFromSubscriptionGrant(t *testing.T) {
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	env := setupGeneration(t, now)
	env.identity.metadata = map[string]any{"credits": float64(50)}

	// Yearly pro subscription grant with the full allowance remaining.
	expires := now.AddDate(0, 0, 300)
	grantID := env.seedGrant(t, grantdomain.SourceSubscription, 9600, &expires)

	env.backend.result = &domain.BackendResult{
		ImageURLs: []string{"https://cdn.example/img1.png", "https://cdn.example/img2.png"},
	}

	resp, err := env.service.Create(context.Background(), env.userID, domain.CreateRequest{
		Prompt:     "a lighthouse at dawn",
		Model:      "flux-ultra",
		Resolution: "2048x2048",
		ImageCount: 2,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if resp.ImageURL != "https://cdn.example/img1.png" {
		t.Fatalf("unexpected first image url %q", resp.ImageURL)
	}
	if len(resp.ImageURLs) != 2 {
		t.Fatalf("expected 2 image urls, got %d", len(resp.ImageURLs))
	}

	// 10 credits per image, 2 images.
	if remaining := env.grantRemaining(t, grantID); remaining != 9580 {
		t.Fatalf("expected 9580 remaining, got %d", remaining)
	}
	if balance := env.identity.metadata["credits"]; balance != float64(50) {
		t.Fatalf("legacy balance must be untouched, got %v", balance)
	}

	if count := env.countRows(t, "generations"); count != 1 {
		t.Fatalf("expected 1 generation row, got %d", count)
	}
	if count := env.countRows(t, "billing_records"); count != 1 {
		t.Fatalf("expected 1 billing record, got %d", count)
	}
}

func TestCreateBackendFailureCostsNothing(t *testing.T) {
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	env := setupGeneration(t, now)

	expires := now.AddDate(0, 0, 300)
	grantID := env.seedGrant(t, grantdomain.SourceSubscription, 100, &expires)

	env.backend.err = errors.New("upstream timeout")

	_, err := env.service.Create(context.Background(), env.userID, domain.CreateRequest{
		Prompt:     "a lighthouse at dawn",
		Model:      "flux-ultra",
		ImageCount: 1,
	})
	if err == nil {
		t.Fatalf("expected backend error surfaced")
	}

	if remaining := env.grantRemaining(t, grantID); remaining != 100 {
		t.Fatalf("failed generation must not deduct, got %d", remaining)
	}
	if count := env.countRows(t, "generations"); count != 0 {
		t.Fatalf("failed generation must not store a row, got %d", count)
	}
	if count := env.countRows(t, "billing_records"); count != 0 {
		t.Fatalf("failed generation must not write billing records, got %d", count)
	}
}

func TestCreateBlockPolicyRefusesBeforeBackend(t *testing.T) {
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	env := setupGeneration(t, now)

	pricing := env.pricing.Get()
	pricing.SpendPolicy = config.SpendPolicyBlock
	env.pricing.Store(pricing)

	// 5 credits on hand against a 20 credit request.
	grantID := env.seedGrant(t, grantdomain.SourceCreditPack, 5, nil)

	_, err := env.service.Create(context.Background(), env.userID, domain.CreateRequest{
		Prompt:     "a lighthouse at dawn",
		Model:      "flux-ultra",
		ImageCount: 2,
	})
	if !errors.Is(err, ledgerdomain.ErrInsufficientCredits) {
		t.Fatalf("expected insufficient credits, got %v", err)
	}

	if env.backend.calls != 0 {
		t.Fatalf("underfunded request must not reach the backend, got %d calls", env.backend.calls)
	}
	if remaining := env.grantRemaining(t, grantID); remaining != 5 {
		t.Fatalf("refused request must not deduct, got %d", remaining)
	}
	if count := env.countRows(t, "generations"); count != 0 {
		t.Fatalf("refused request must not store a row, got %d", count)
	}
	if count := env.countRows(t, "billing_records"); count != 0 {
		t.Fatalf("refused request must not write billing records, got %d", count)
	}
}

func TestCreatePassesInputImagesToBackend(t *testing.T) {
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	env := setupGeneration(t, now)

	expires := now.AddDate(0, 0, 300)
	env.seedGrant(t, grantdomain.SourceSubscription, 100, &expires)

	env.backend.result = &domain.BackendResult{
		ImageURLs: []string{"https://cdn.example/out.png"},
	}

	images := []string{"https://cdn.example/in1.png", "https://cdn.example/in2.png"}
	_, err := env.service.Create(context.Background(), env.userID, domain.CreateRequest{
		Prompt:     "restyle the scene",
		Images:     images,
		Model:      "flux-ultra",
		ImageCount: 1,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if len(env.backend.lastReq.Images) != 2 {
		t.Fatalf("expected 2 input images forwarded, got %d", len(env.backend.lastReq.Images))
	}
	if env.backend.lastReq.Images[0] != images[0] || env.backend.lastReq.Images[1] != images[1] {
		t.Fatalf("input images not forwarded verbatim: %v", env.backend.lastReq.Images)
	}
}

func TestCreateValidation(t *testing.T) {
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	env := setupGeneration(t, now)
	ctx := context.Background()

	if _, err := env.service.Create(ctx, env.userID, domain.CreateRequest{Model: "flux-ultra"}); err != domain.ErrInvalidPrompt {
		t.Fatalf("expected invalid prompt, got %v", err)
	}
	if _, err := env.service.Create(ctx, env.userID, domain.CreateRequest{
		Prompt:     "too many",
		Model:      "flux-ultra",
		ImageCount: 99,
	}); err != domain.ErrInvalidImageCount {
		t.Fatalf("expected invalid image count, got %v", err)
	}
	if env.backend.calls != 0 {
		t.Fatalf("invalid requests must not reach the backend")
	}
}

type generationEnv struct {
	service  domain.Service
	db       *gorm.DB
	node     *snowflake.Node
	userID   snowflake.ID
	backend  *backendStub
	identity *identityStub
	pricing  *config.PricingHolder
}

func setupGeneration(t *testing.T, now time.Time) *generationEnv {
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
	prepareSchema(t, db)

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	holder, err := config.NewPricingHolder()
	if err != nil {
		t.Fatalf("pricing holder: %v", err)
	}
	pricing := config.DefaultPricingConfig()
	pricing.ModelCosts = append(pricing.ModelCosts, config.ModelCostConfig{
		Model:      "flux-ultra",
		Resolution: "*",
		Credits:    10,
	})
	holder.Store(pricing)

	fakeClock := clock.NewFakeClock(now)
	identity := &identityStub{}

	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB:          db,
		Log:         zap.NewNop(),
		Clock:       fakeClock,
		Pricing:     holder,
		GrantRepo:   grantrepository.Provide(),
		IdentitySvc: identity,
	})
	billing := billingservice.NewService(billingservice.Params{
		Log:   zap.NewNop(),
		Clock: fakeClock,
		GenID: node,
		Store: repository.ProvideStore[billingdomain.BillingRecord](db),
	})

	backend := &backendStub{}
	service := NewService(Params{
		Log:     zap.NewNop(),
		Clock:   fakeClock,
		GenID:   node,
		Backend: backend,
		Store:   repository.ProvideStore[domain.Generation](db),
		Ledger:  ledger,
		Billing: billing,
	})

	return &generationEnv{
		service:  service,
		db:       db,
		node:     node,
		userID:   node.Generate(),
		backend:  backend,
		identity: identity,
		pricing:  holder,
	}
}

func (e *generationEnv) seedGrant(t *testing.T, source grantdomain.GrantSource, credits int64, expiresAt *time.Time) snowflake.ID {
	t.Helper()
	id := e.node.Generate()
	err := e.db.Exec(
		`INSERT INTO credit_grants (
			id, user_id, source, plan_id, cycle,
			credits_total, credits_remaining, expires_at, source_event_id, created_at
		) VALUES (?, ?, ?, NULL, NULL, ?, ?, ?, ?, ?)`,
		id, e.userID, source, credits, credits, expiresAt, "evt_"+id.String(), time.Now().UTC(),
	).Error
	if err != nil {
		t.Fatalf("seed grant: %v", err)
	}
	return id
}

func (e *generationEnv) grantRemaining(t *testing.T, id snowflake.ID) int64 {
	t.Helper()
	var remaining int64
	if err := e.db.Raw(`SELECT credits_remaining FROM credit_grants WHERE id = ?`, id).Scan(&remaining).Error; err != nil {
		t.Fatalf("read grant: %v", err)
	}
	return remaining
}

func (e *generationEnv) countRows(t *testing.T, table string) int64 {
	t.Helper()
	var count int64
	if err := e.db.Raw(`SELECT COUNT(*) FROM ` + table).Scan(&count).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}

func prepareSchema(t *testing.T, db *gorm.DB) {
	t.Helper()
	statements := []string{
		`CREATE TABLE IF NOT EXISTS credit_grants (
			id INTEGER PRIMARY KEY,
			user_id INTEGER NOT NULL,
			source TEXT NOT NULL,
			plan_id TEXT,
			cycle TEXT,
			credits_total INTEGER NOT NULL,
			credits_remaining INTEGER NOT NULL,
			expires_at DATETIME,
			source_event_id TEXT NOT NULL UNIQUE,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS generations (
			id INTEGER PRIMARY KEY,
			user_id INTEGER NOT NULL,
			prompt TEXT NOT NULL,
			model TEXT NOT NULL,
			resolution TEXT,
			aspect_ratio TEXT,
			image_count INTEGER NOT NULL,
			output_format TEXT,
			image_urls TEXT,
			text TEXT,
			credits_cost INTEGER NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS billing_records (
			id INTEGER PRIMARY KEY,
			user_id INTEGER NOT NULL,
			kind TEXT NOT NULL,
			credits INTEGER NOT NULL,
			description TEXT,
			created_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
}
