package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"ledger-core/internal/ledger"
	"ledger-core/internal/monitor"
	"ledger-core/internal/sweeper"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type openAccountRequest struct {
	UserID string `json:"userId" binding:"required"`
}

type depositRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type flagsRequest struct {
	Locked        *bool `json:"locked"`
	BalanceFrozen *bool `json:"balanceFrozen"`
}

type settleRequest struct {
	Result string `json:"result" binding:"required,oneof=win lose draw"`
}

type priceRequest struct {
	Price decimal.Decimal `json:"price"`
}

func (s *Server) adminOpenAccount(c *gin.Context) {
	var req openAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	acct, err := s.Ledger.OpenAccount(c.Request.Context(), strings.TrimSpace(req.UserID))
	if err != nil {
		s.respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewAccount(acct))
}

func (s *Server) adminGetAccount(c *gin.Context) {
	acct, err := s.Ledger.Account(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewAccount(acct))
}

func (s *Server) adminDeposit(c *gin.Context) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	acct, err := s.Ledger.Deposit(c.Request.Context(), c.Param("id"), req.Amount)
	if err != nil {
		s.respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewAccount(acct))
}

// adminSetFlags updates the flags present in the body and keeps the others.
func (s *Server) adminSetFlags(c *gin.Context) {
	var req flagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	cur, err := s.Ledger.Account(ctx, c.Param("id"))
	if err != nil {
		s.respondLedgerError(c, err)
		return
	}
	locked, frozen := cur.Locked, cur.BalanceFrozen
	if req.Locked != nil {
		locked = *req.Locked
	}
	if req.BalanceFrozen != nil {
		frozen = *req.BalanceFrozen
	}
	acct, err := s.Ledger.SetFlags(ctx, cur.UserID, locked, frozen)
	if err != nil {
		s.respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewAccount(acct))
}

func (s *Server) adminSettleTrade(c *gin.Context) {
	var req settleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	trade, err := s.Ledger.SettleFeaturesOrder(c.Request.Context(), c.Param("id"), ledger.Result(req.Result))
	if err != nil {
		s.respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, trade)
}

// adminSweep runs one expiry pass now. Without a background sweeper the
// service sweeps directly.
func (s *Server) adminSweep(c *gin.Context) {
	ctx := c.Request.Context()
	if s.Sweeper != nil {
		rep, err := s.Sweeper.Sweep(ctx)
		if err != nil {
			s.Log.Warn().Err(err).Int("failed", rep.Failed).Msg("admin sweep had failures")
		}
		c.JSON(http.StatusOK, rep)
		return
	}

	var rep sweeper.Report
	settled, errTrades := s.Ledger.SweepExpiredFeaturesOrders(ctx)
	completed, errPledges := s.Ledger.CompleteDuePledges(ctx)
	rep.Settled, rep.Completed = settled, completed
	if err := errors.Join(errTrades, errPledges); err != nil {
		s.respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (s *Server) adminListWithdrawals(c *gin.Context) {
	list, err := s.Ledger.Withdrawals(c.Request.Context(), c.Query("user_id"))
	if err != nil {
		s.respondLedgerError(c, err)
		return
	}
	if list == nil {
		list = []ledger.WithdrawalRequest{}
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) adminAcceptWithdrawal(c *gin.Context) {
	w, err := s.Ledger.AcceptWithdrawal(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (s *Server) adminDeclineWithdrawal(c *gin.Context) {
	w, err := s.Ledger.DeclineWithdrawal(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (s *Server) adminCompletePledge(c *gin.Context) {
	p, err := s.Ledger.CompletePledge(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// adminSetPrice sets the last price of a pair. The path uses "-" in place of
// "/", e.g. PUT /api/admin/prices/BTC-USDT.
func (s *Server) adminSetPrice(c *gin.Context) {
	if s.Prices == nil {
		respondError(c, http.StatusServiceUnavailable, "PRICES_UNAVAILABLE", "price cache not configured")
		return
	}
	var req priceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	pair, err := ledger.NormalizePair(strings.NewReplacer("-", "/", "_", "/").Replace(c.Param("pair")))
	if err != nil {
		s.respondLedgerError(c, err)
		return
	}
	if !req.Price.IsPositive() {
		s.respondLedgerError(c, fmt.Errorf("%w: price must be positive", ledger.ErrInvalidAmount))
		return
	}
	s.Prices.Set(pair, req.Price)
	q, _ := s.Prices.Quote(pair)
	c.JSON(http.StatusOK, q)
}

func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		respondError(c, http.StatusServiceUnavailable, "METRICS_UNAVAILABLE", "metrics not available")
		return
	}
	c.JSON(http.StatusOK, s.Metrics.Snapshot())
}

// getPromMetrics returns a minimal Prometheus text exposition of key metrics.
func (s *Server) getPromMetrics(c *gin.Context) {
	if s.Metrics == nil {
		c.String(http.StatusServiceUnavailable, "# metrics not available\n")
		return
	}
	snapshot := s.Metrics.Snapshot()

	var b strings.Builder
	fmt.Fprintf(&b, "ledger_api_requests_total %d\n", snapshot.APIRequests)
	fmt.Fprintf(&b, "ledger_api_errors_total %d\n", snapshot.APIErrors)
	fmt.Fprintf(&b, "ledger_sweep_passes_total %d\n", snapshot.SweepPasses)
	fmt.Fprintf(&b, "ledger_sweep_trades_settled_total %d\n", snapshot.TradesAutoSettled)
	fmt.Fprintf(&b, "ledger_sweep_pledges_completed_total %d\n", snapshot.PledgesCompleted)
	for op, n := range snapshot.Operations {
		fmt.Fprintf(&b, "ledger_operations_total{op=%q,result=\"ok\"} %d\n", op, n.OK)
		fmt.Fprintf(&b, "ledger_operations_total{op=%q,result=\"error\"} %d\n", op, n.Errors)
	}

	writeLatency := func(prefix string, ls monitor.LatencyStats) {
		if ls.Count == 0 {
			return
		}
		fmt.Fprintf(&b, "ledger_%s_latency_ms_avg %f\n", prefix, ls.Avg)
		fmt.Fprintf(&b, "ledger_%s_latency_ms_p50 %f\n", prefix, ls.P50)
		fmt.Fprintf(&b, "ledger_%s_latency_ms_p95 %f\n", prefix, ls.P95)
		fmt.Fprintf(&b, "ledger_%s_latency_ms_p99 %f\n", prefix, ls.P99)
	}
	writeLatency("api", snapshot.APILatency)
	writeLatency("op", snapshot.OpLatency)
	writeLatency("sweep", snapshot.SweepLatency)

	fmt.Fprintf(&b, "ledger_goroutines %d\n", snapshot.GoroutineCount)
	fmt.Fprintf(&b, "ledger_heap_alloc_bytes %d\n", snapshot.HeapAlloc)

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.String(http.StatusOK, b.String())
}
