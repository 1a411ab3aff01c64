package api

import (
	"context"
	"net/http"
	"time"

	"ledger-core/internal/events"
	"ledger-core/internal/ledger"
	"ledger-core/internal/monitor"
	"ledger-core/internal/sweeper"
	"ledger-core/pkg/cache"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Sweeper runs one expiry pass on demand.
type Sweeper interface {
	Sweep(ctx context.Context) (sweeper.Report, error)
}

// Deps are the components the HTTP surface drives.
type Deps struct {
	Ledger  *ledger.Service
	Repo    ledger.Repository
	Sweeper Sweeper
	Prices  *cache.PriceCache
	Bus     *events.Bus
	Metrics *monitor.Metrics
	Log     zerolog.Logger
	Version string

	JWTSecret        string
	AdminJWTSecret   string
	ReplicationToken string
	// RequestTimeout bounds every /api request; 0 uses 30s.
	RequestTimeout time.Duration
}

// Server wires HTTP endpoints around the ledger service.
type Server struct {
	Router *gin.Engine
	Deps
}

func NewServer(deps Deps) *Server {
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = 30 * time.Second
	}
	deps.Log = deps.Log.With().Str("component", "api").Logger()

	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(deps.Log, deps.Metrics))
	r.Use(RateLimitMiddleware(newIPLimiter(20, 50, 5*time.Minute), deps.Log))
	r.Use(CORSMiddleware())

	s := &Server{Router: r, Deps: deps}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", AuthMiddleware(s.JWTSecret), s.websocket)

	api := s.Router.Group("/api")
	api.Use(TimeoutMiddleware(s.RequestTimeout))
	{
		api.GET("/prices", s.listPrices)

		user := api.Group("")
		user.Use(AuthMiddleware(s.JWTSecret))
		{
			user.GET("/account", s.getAccount)
			user.GET("/trades", s.listTrades)
			user.POST("/spot", s.executeSpot)
			user.POST("/features", s.placeFeatures)
			user.GET("/withdrawals", s.listWithdrawals)
			user.POST("/withdrawals", s.requestWithdrawal)
			user.GET("/pledges", s.listPledges)
			user.POST("/pledges", s.createPledge)
			user.GET("/plans", s.listPlans)
		}

		admin := api.Group("/admin")
		admin.Use(AdminMiddleware(s.AdminJWTSecret))
		{
			admin.POST("/accounts", s.adminOpenAccount)
			admin.GET("/accounts/:id", s.adminGetAccount)
			admin.POST("/accounts/:id/deposit", s.adminDeposit)
			admin.PUT("/accounts/:id/flags", s.adminSetFlags)
			admin.POST("/trades/:id/settle", s.adminSettleTrade)
			admin.POST("/sweep", s.adminSweep)
			admin.GET("/withdrawals", s.adminListWithdrawals)
			admin.POST("/withdrawals/:id/accept", s.adminAcceptWithdrawal)
			admin.POST("/withdrawals/:id/decline", s.adminDeclineWithdrawal)
			admin.POST("/pledges/:id/complete", s.adminCompletePledge)
			admin.PUT("/prices/:pair", s.adminSetPrice)
			admin.GET("/metrics", s.getMetrics)
			admin.GET("/metrics/prom", s.getPromMetrics)
		}
	}

	if s.ReplicationToken != "" && s.Repo != nil {
		s.replicationRoutes(s.Router.Group("/internal/store", ReplicationMiddleware(s.ReplicationToken)))
	}
}

func (s *Server) health(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok", "version": s.Version}
	if s.Repo != nil {
		if err := s.Repo.Ping(c.Request.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["store"] = err.Error()
		}
	}
	c.JSON(status, body)
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler { return s.Router }
