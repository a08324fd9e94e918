package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ahmad-codex/precog/internal/core"
	"github.com/ahmad-codex/precog/internal/cycle"
	"github.com/ahmad-codex/precog/internal/ledger"
)

// statusOf maps engine rejections to HTTP status codes. Unknown errors are
// internal; the engine's sentinel set is the public contract.
func statusOf(err error) int {
	switch {
	case errors.Is(err, core.ErrNotListed):
		return http.StatusNotFound
	case errors.Is(err, core.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, core.ErrNotFulfilledYet),
		errors.Is(err, core.ErrDuplicateProfitRecord),
		errors.Is(err, core.ErrCycleNotClosed):
		return http.StatusConflict
	case errors.Is(err, core.ErrNotActive),
		errors.Is(err, core.ErrWindowClosed),
		errors.Is(err, core.ErrCapExceeded),
		errors.Is(err, core.ErrInsufficientBalance),
		errors.Is(err, core.ErrNothingToClaim),
		errors.Is(err, core.ErrZeroAmount),
		errors.Is(err, core.ErrNegativeAmount):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func reject(c *gin.Context, err error) {
	c.JSON(statusOf(err), gin.H{"error": err.Error()})
}

// assetParam resolves the :symbol path segment to a registered asset id.
func (s *Server) assetParam(c *gin.Context) (ledger.AssetID, bool) {
	id, ok := s.engine.AssetBySymbol(c.Param("symbol"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": core.ErrNotListed.Error()})
		return 0, false
	}
	return id, true
}

func accountParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("account"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
		return uuid.Nil, false
	}
	return id, true
}

// --- Queries ---

func (s *Server) handleListPools(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pools": s.engine.Pools()})
}

func (s *Server) handleGetPool(c *gin.Context) {
	symbol := c.Param("symbol")
	for _, p := range s.engine.Pools() {
		if p.Symbol == symbol {
			c.JSON(http.StatusOK, p)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": core.ErrNotListed.Error()})
}

func (s *Server) handleCurrentCycle(c *gin.Context) {
	asset, ok := s.assetParam(c)
	if !ok {
		return
	}
	invID, err := s.engine.CurrentInvestmentCycleID(asset)
	if err != nil {
		reject(c, err)
		return
	}
	profitCycle, err := s.engine.CurrentProfitCycle(asset)
	if err != nil {
		reject(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"investment_cycle_id": invID,
		"profit_cycle":        profitCycle,
	})
}

func (s *Server) handleProfitRecord(c *gin.Context) {
	asset, ok := s.assetParam(c)
	if !ok {
		return
	}
	cycleID, err := strconv.ParseUint(c.Param("cycle"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cycle id"})
		return
	}
	rec, found, err := s.engine.ProfitRecordOf(asset, cycleID)
	if err != nil {
		reject(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no profit record for cycle"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleCalculateProfit(c *gin.Context) {
	asset, ok := s.assetParam(c)
	if !ok {
		return
	}
	account, ok := accountParam(c)
	if !ok {
		return
	}
	accrued, err := s.engine.CalculateProfit(asset, account)
	if err != nil {
		reject(c, err)
		return
	}
	claimed, err := s.engine.ClaimedProfitOf(asset, account)
	if err != nil {
		reject(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accrued": accrued, "claimed": claimed})
}

// --- Account operations ---

type depositRequest struct {
	Amount   int64     `json:"amount" binding:"required"`
	IntentID uuid.UUID `json:"intent_id"`
}

func (s *Server) handleDeposit(c *gin.Context) {
	asset, ok := s.assetParam(c)
	if !ok {
		return
	}
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.IntentID == uuid.Nil {
		req.IntentID = uuid.New()
	}
	actor := core.Actor{ID: accountOf(c), Role: roleOf(c)}
	unit, err := s.engine.Deposit(actor, asset, req.Amount, req.IntentID)
	if err != nil {
		reject(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"unit":      unit,
		"intent_id": req.IntentID,
	})
}

func (s *Server) handleForceExit(c *gin.Context) {
	asset, ok := s.assetParam(c)
	if !ok {
		return
	}
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.IntentID == uuid.Nil {
		req.IntentID = uuid.New()
	}
	actor := core.Actor{ID: accountOf(c), Role: roleOf(c)}
	returned, penalty, err := s.engine.ForceExit(actor, asset, req.Amount, req.IntentID)
	if err != nil {
		reject(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"returned":  returned,
		"penalty":   penalty,
		"intent_id": req.IntentID,
	})
}

type withdrawalRequest struct {
	Amount int64 `json:"amount" binding:"required"`
}

func (s *Server) handleRequestWithdrawal(c *gin.Context) {
	asset, ok := s.assetParam(c)
	if !ok {
		return
	}
	var req withdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actor := core.Actor{ID: accountOf(c), Role: roleOf(c)}
	intentID, err := s.engine.RequestWithdrawal(actor, asset, req.Amount)
	if err != nil {
		reject(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"intent_id": intentID})
}

func (s *Server) handleWithdraw(c *gin.Context) {
	asset, ok := s.assetParam(c)
	if !ok {
		return
	}
	actor := core.Actor{ID: accountOf(c), Role: roleOf(c)}
	amount, err := s.engine.Withdraw(actor, asset)
	if err != nil {
		reject(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawn": amount})
}

func (s *Server) handleTakeProfit(c *gin.Context) {
	asset, ok := s.assetParam(c)
	if !ok {
		return
	}
	actor := core.Actor{ID: accountOf(c), Role: roleOf(c)}
	claimed, err := s.engine.TakeProfit(actor, asset)
	if err != nil {
		reject(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"claimed": claimed})
}

// --- Middleware operations ---

func (s *Server) handleTakeInvestment(c *gin.Context) {
	asset, ok := s.assetParam(c)
	if !ok {
		return
	}
	actor := core.Actor{Role: roleOf(c)}
	moved, err := s.engine.TakeInvestment(actor, asset)
	if err != nil {
		reject(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"moved": moved})
}

type profitDepositRequest struct {
	Amount int64 `json:"amount" binding:"required"`
}

func (s *Server) handleDepositProfit(c *gin.Context) {
	asset, ok := s.assetParam(c)
	if !ok {
		return
	}
	var req profitDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actor := core.Actor{Role: roleOf(c)}
	if err := s.engine.DepositProfit(actor, asset, req.Amount); err != nil {
		reject(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

// --- Admin operations ---

type listAssetRequest struct {
	Symbol   string `json:"symbol" binding:"required"`
	Decimals uint8  `json:"decimals"`
}

func (s *Server) handleListAsset(c *gin.Context) {
	var req listAssetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actor := core.Actor{Role: roleOf(c)}
	id, err := s.engine.ListAsset(actor, req.Symbol, req.Decimals)
	if err != nil {
		reject(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"asset": id, "symbol": req.Symbol})
}

func (s *Server) handleDelistAsset(c *gin.Context) {
	asset, ok := s.assetParam(c)
	if !ok {
		return
	}
	actor := core.Actor{Role: roleOf(c)}
	if err := s.engine.DelistAsset(actor, asset); err != nil {
		reject(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "delisted"})
}

type cycleConfigRequest struct {
	TradingCycle         string `json:"trading_cycle" binding:"required"`
	FundingWindow        string `json:"funding_window"`
	DefundingWindow      string `json:"defunding_window"`
	FirstDefundingWindow string `json:"first_defunding_window"`
}

func (r cycleConfigRequest) parse() (cycle.Config, error) {
	var cfg cycle.Config
	var err error
	if cfg.TradingCycle, err = time.ParseDuration(r.TradingCycle); err != nil {
		return cfg, err
	}
	for _, f := range []struct {
		raw string
		dst *time.Duration
	}{
		{r.FundingWindow, &cfg.FundingWindow},
		{r.DefundingWindow, &cfg.DefundingWindow},
		{r.FirstDefundingWindow, &cfg.FirstDefundingWindow},
	} {
		if f.raw == "" {
			continue
		}
		if *f.dst, err = time.ParseDuration(f.raw); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func (s *Server) handleConfigureCycles(c *gin.Context) {
	var req cycleConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg, err := req.parse()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actor := core.Actor{Role: roleOf(c)}
	if err := s.engine.ConfigureCycles(actor, cfg); err != nil {
		reject(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "configured"})
}

func (s *Server) handleConfigureFees(c *gin.Context) {
	var fees core.FeeConfig
	if err := c.ShouldBindJSON(&fees); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actor := core.Actor{Role: roleOf(c)}
	if err := s.engine.ConfigureFees(actor, fees); err != nil {
		reject(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "configured"})
}

func (s *Server) handleSetCaps(c *gin.Context) {
	var caps core.CapConfig
	if err := c.ShouldBindJSON(&caps); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actor := core.Actor{Role: roleOf(c)}
	if err := s.engine.SetCaps(actor, caps); err != nil {
		reject(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "configured"})
}

type takeRateRequest struct {
	RatePPM int64 `json:"rate_ppm" binding:"required"`
}

func (s *Server) handleSetTakeRate(c *gin.Context) {
	var req takeRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actor := core.Actor{Role: roleOf(c)}
	if err := s.engine.SetInvestmentTakeRate(actor, req.RatePPM); err != nil {
		reject(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "configured"})
}
