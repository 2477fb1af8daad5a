package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"metron-core/internal/aggregator"
	"metron-core/internal/backtest"
	"metron-core/internal/engine"
	"metron-core/internal/market"
	"metron-core/internal/order"
	"metron-core/internal/strategy"
	"metron-core/internal/stream"
)

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// respondEngineError maps core sentinel errors onto HTTP statuses.
func (s *Server) respondEngineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, strategy.ErrInvalidMode):
		respondError(c, http.StatusBadRequest, "INVALID_MODE", err.Error())
	case errors.Is(err, order.ErrInvalidRisk):
		respondError(c, http.StatusBadRequest, "INVALID_RISK", err.Error())
	case errors.Is(err, engine.ErrInvalidRequest):
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, market.ErrInvalidTick):
		respondError(c, http.StatusUnprocessableEntity, "INVALID_TICK", err.Error())
	case errors.Is(err, backtest.ErrNotEnoughBars), errors.Is(err, aggregator.ErrInsufficientBars):
		respondError(c, http.StatusUnprocessableEntity, "NOT_ENOUGH_DATA", err.Error())
	case errors.Is(err, stream.ErrAnalysisBusy):
		respondError(c, http.StatusConflict, "ANALYSIS_BUSY", err.Error())
	default:
		s.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		respondError(c, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

func (s *Server) getStrategy(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.GetStrategy(c.Request.Context()))
}

func (s *Server) setStrategyMode(c *gin.Context) {
	var req struct {
		Mode string `json:"mode" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "mode is required")
		return
	}
	info, err := s.Engine.SetStrategyMode(c.Request.Context(), req.Mode)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) configureTrading(c *gin.Context) {
	var req engine.TradingConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	cfg, err := s.Engine.ConfigureTrading(c.Request.Context(), req)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) runBacktest(c *gin.Context) {
	var req engine.BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	res, err := s.Engine.RunBacktest(c.Request.Context(), req)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) injectTick(c *gin.Context) {
	var tick market.Tick
	if err := c.ShouldBindJSON(&tick); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid tick payload")
		return
	}
	if err := s.Engine.InjectTick(c.Request.Context(), tick); err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (s *Server) runAnalysis(c *gin.Context) {
	report, err := s.Engine.RunAnalysis(c.Request.Context())
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) getPositions(c *gin.Context) {
	positions, err := s.Engine.GetPositions(c.Request.Context())
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

func (s *Server) getTrades(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(c, http.StatusBadRequest, "INVALID_QUERY", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	trades, err := s.Engine.GetTrades(c.Request.Context(), limit)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

// getMarketStatus serves the resampled chart with per-bar indicators and
// market phase.
func (s *Server) getMarketStatus(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(c, http.StatusBadRequest, "INVALID_QUERY", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	status, err := s.Engine.MarketStatus(c.Request.Context(), engine.MarketStatusRequest{
		Symbol:    c.Query("symbol"),
		Timeframe: c.Query("timeframe"),
		Limit:     limit,
	})
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"engine":  s.Engine.GetSystemStatus(c.Request.Context()),
		"metrics": s.Metrics.GetSnapshot(),
	})
}
