package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	catalogdomain "github.com/smallbiznis/billfold/internal/catalog/domain"
	"github.com/smallbiznis/billfold/internal/config"
	ledgerdomain "github.com/smallbiznis/billfold/internal/ledger/domain"
	"github.com/smallbiznis/billfold/internal/observability/logger"
	ownershipdomain "github.com/smallbiznis/billfold/internal/ownership/domain"
	ruledomain "github.com/smallbiznis/billfold/internal/rule/domain"
	subscriptiondomain "github.com/smallbiznis/billfold/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Server holds the HTTP boundary. Handlers translate requests into service
// calls and service errors into status codes; no billing logic lives here.
type Server struct {
	cfg config.Config
	log *zap.Logger
	db  *gorm.DB

	ledgerSvc       ledgerdomain.Service
	catalogSvc      catalogdomain.Service
	ruleSvc         ruledomain.Service
	ownershipSvc    ownershipdomain.Service
	subscriptionSvc subscriptiondomain.Service

	engine          *gin.Engine
	transferLimiter *rateLimiter
}

type Params struct {
	fx.In

	Config        config.Config
	Log           *zap.Logger
	DB            *gorm.DB
	Engine        *gin.Engine
	Ledger        ledgerdomain.Service
	Catalog       catalogdomain.Service
	Rules         ruledomain.Service
	Ownerships    ownershipdomain.Service
	Subscriptions subscriptiondomain.Service
}

func NewEngine(cfg config.Config) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(
		logger.GinMiddleware(logger.MiddlewareConfig{SkipPaths: []string{"/healthz"}}),
		gin.Recovery(),
	)
	return engine
}

func NewServer(p Params) *Server {
	return &Server{
		cfg:             p.Config,
		log:             p.Log.Named("server"),
		db:              p.DB,
		ledgerSvc:       p.Ledger,
		catalogSvc:      p.Catalog,
		ruleSvc:         p.Rules,
		ownershipSvc:    p.Ownerships,
		subscriptionSvc: p.Subscriptions,
		engine:          p.Engine,
		transferLimiter: newRateLimiter(p.Config.Transfer.SenderMaxCount, p.Config.Transfer.Window),
	}
}

func (s *Server) RegisterRoutes() {
	s.engine.GET("/healthz", s.Healthz)

	api := s.engine.Group("/api/v1")

	api.POST("/products", s.CreateProduct)
	api.GET("/products/:slug", s.GetProduct)
	api.PUT("/products/:slug", s.SupersedeProduct)
	api.GET("/products/:slug/adjusted", s.GetAdjustedPrice)
	api.POST("/products/:slug/groups", s.AddProductToGroup)
	api.GET("/products/:slug/groups", s.ListProductGroups)
	api.GET("/groups/:slug/products", s.ListGroupProducts)

	api.PUT("/rules/:slug", s.UpsertRule)

	api.POST("/topup", s.TopUp)
	api.POST("/purchase", s.Purchase)
	api.POST("/transfer", s.Transfer)
	api.POST("/transactions/:id/revert", s.RevertTransaction)

	api.GET("/users/:userId/balance", s.GetBalance)
	api.GET("/users/:userId/transactions", s.ListTransactions)
	api.GET("/users/:userId/ownerships", s.ListOwnerships)
	api.POST("/users/:userId/licenses", s.GrantLicense)
	api.GET("/users/:userId/licenses/:productSlug", s.CheckLicense)
	api.POST("/users/:userId/planned", s.PlanDebit)
	api.DELETE("/users/:userId/planned/:id", s.ReleasePlannedDebit)

	api.POST("/webhooks/subscriptions/:provider", s.SubscriptionWebhook)
}

func (s *Server) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, engine *gin.Engine) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
