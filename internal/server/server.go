package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pixelmuse/pixelmuse/internal/billingrecord"
	billingdomain "github.com/pixelmuse/pixelmuse/internal/billingrecord/domain"
	"github.com/pixelmuse/pixelmuse/internal/checkout"
	checkoutdomain "github.com/pixelmuse/pixelmuse/internal/checkout/domain"
	"github.com/pixelmuse/pixelmuse/internal/config"
	"github.com/pixelmuse/pixelmuse/internal/entitlement"
	entitlementdomain "github.com/pixelmuse/pixelmuse/internal/entitlement/domain"
	"github.com/pixelmuse/pixelmuse/internal/generation"
	generationdomain "github.com/pixelmuse/pixelmuse/internal/generation/domain"
	"github.com/pixelmuse/pixelmuse/internal/grant"
	"github.com/pixelmuse/pixelmuse/internal/identity"
	identitydomain "github.com/pixelmuse/pixelmuse/internal/identity/domain"
	"github.com/pixelmuse/pixelmuse/internal/ledger"
	ledgerdomain "github.com/pixelmuse/pixelmuse/internal/ledger/domain"
	"github.com/pixelmuse/pixelmuse/internal/observability"
	obsmiddleware "github.com/pixelmuse/pixelmuse/internal/observability/logger"
	obsmetrics "github.com/pixelmuse/pixelmuse/internal/observability/metrics"
	obstracing "github.com/pixelmuse/pixelmuse/internal/observability/tracing"
	"github.com/pixelmuse/pixelmuse/internal/payment"
	paymentdomain "github.com/pixelmuse/pixelmuse/internal/payment/domain"
	"github.com/pixelmuse/pixelmuse/internal/ratelimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	identity.Module,
	grant.Module,
	ledger.Module,
	entitlement.Module,
	payment.Module,
	checkout.Module,
	billingrecord.Module,
	generation.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug: obsCfg.Debug(),
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config

	identitySvc    identitydomain.Service
	ledgerSvc      ledgerdomain.Service
	entitlementSvc entitlementdomain.Service
	paymentSvc     paymentdomain.Service
	checkoutSvc    checkoutdomain.Service
	billingSvc     billingdomain.Service
	generationSvc  generationdomain.Service
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	IdentitySvc    identitydomain.Service
	LedgerSvc      ledgerdomain.Service
	EntitlementSvc entitlementdomain.Service
	PaymentSvc     paymentdomain.Service
	CheckoutSvc    checkoutdomain.Service
	BillingSvc     billingdomain.Service
	GenerationSvc  generationdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		identitySvc:    p.IdentitySvc,
		ledgerSvc:      p.LedgerSvc,
		entitlementSvc: p.EntitlementSvc,
		paymentSvc:     p.PaymentSvc,
		checkoutSvc:    p.CheckoutSvc,
		billingSvc:     p.BillingSvc,
		generationSvc:  p.GenerationSvc,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Payment Webhooks --------
	api.POST("/payments/webhooks/:provider", s.HandlePaymentWebhook)

	v1 := api.Group("/v1", s.AuthRequired())

	// -------- Checkout --------
	v1.POST("/checkout", s.CreateCheckout)

	// -------- Generations --------
	v1.POST("/generations", s.CreateGeneration)

	// -------- Billing --------
	v1.GET("/billing/records", s.ListBillingRecords)
	v1.GET("/billing/membership", s.GetMembership)
}
