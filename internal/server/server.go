// Package server exposes the ledger engine over HTTP. Routes are grouped by
// caller role: /v1/admin for operators, /v1/middleware for the investment
// middleware, and /v1 account routes for investors.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ahmad-codex/precog/internal/core"
	"github.com/ahmad-codex/precog/internal/observability"
)

// AuthConfig holds the static API keys that map to callers. GatewayKey
// authenticates the upstream gateway that fronts end users; account-scoped
// routes trust the account id it injects. An empty key disables its routes.
type AuthConfig struct {
	AdminKey      string
	MiddlewareKey string
	GatewayKey    string
}

type Server struct {
	engine  *core.Engine
	health  *observability.HealthChecker
	auth    AuthConfig
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewServer(engine *core.Engine, health *observability.HealthChecker, auth AuthConfig, metrics *observability.Metrics) *Server {
	return &Server{
		engine:  engine,
		health:  health,
		auth:    auth,
		metrics: metrics,
		log:     observability.NewLogger("server"),
	}
}

// Router builds the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())

	r.GET("/health/live", gin.WrapF(s.health.LivenessHandler))
	r.GET("/health/ready", gin.WrapF(s.health.ReadinessHandler))

	v1 := r.Group("/v1")
	{
		v1.GET("/pools", s.handleListPools)
		v1.GET("/pools/:symbol", s.handleGetPool)
		v1.GET("/pools/:symbol/cycles/current", s.handleCurrentCycle)
		v1.GET("/pools/:symbol/profit-records/:cycle", s.handleProfitRecord)
		v1.GET("/pools/:symbol/accounts/:account/profit", s.handleCalculateProfit)
	}

	accounts := r.Group("/v1", s.authenticateAccount())
	{
		accounts.POST("/pools/:symbol/deposits", s.handleDeposit)
		accounts.POST("/pools/:symbol/force-exits", s.handleForceExit)
		accounts.POST("/pools/:symbol/withdrawal-requests", s.handleRequestWithdrawal)
		accounts.POST("/pools/:symbol/withdrawals", s.handleWithdraw)
		accounts.POST("/pools/:symbol/profit-claims", s.handleTakeProfit)
	}

	mw := r.Group("/v1/middleware", s.requireKey(s.auth.MiddlewareKey, core.RoleMiddleware))
	{
		mw.POST("/pools/:symbol/investment-takes", s.handleTakeInvestment)
		mw.POST("/pools/:symbol/profit-deposits", s.handleDepositProfit)
	}

	admin := r.Group("/v1/admin", s.requireKey(s.auth.AdminKey, core.RoleAdmin))
	{
		admin.POST("/assets", s.handleListAsset)
		admin.DELETE("/assets/:symbol", s.handleDelistAsset)
		admin.PUT("/config/cycles", s.handleConfigureCycles)
		admin.PUT("/config/fees", s.handleConfigureFees)
		admin.PUT("/config/caps", s.handleSetCaps)
		admin.PUT("/config/investment-take-rate", s.handleSetTakeRate)
	}

	return r
}

// Run serves the router until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.log.Info().Msg("http server shutting down")
	return srv.Shutdown(shutdownCtx)
}
