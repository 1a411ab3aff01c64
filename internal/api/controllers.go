package api

import (
	"net/http"
	"strings"

	"ledger-core/internal/ledger"
	"ledger-core/pkg/crypto"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type spotRequest struct {
	Pair     string           `json:"pair" binding:"required"`
	Side     string           `json:"side" binding:"required,oneof=buy sell BUY SELL"`
	Price    *decimal.Decimal `json:"price"`
	Quantity decimal.Decimal  `json:"quantity"`
}

type featuresRequest struct {
	Pair          string          `json:"pair" binding:"required"`
	Variant       string          `json:"variant" binding:"required,oneof=up fall"`
	Amount        decimal.Decimal `json:"amount"`
	Period        int64           `json:"period" binding:"gt=0"`
	PeriodPercent decimal.Decimal `json:"periodPercent"`
	Lever         string          `json:"lever"`
}

type withdrawalRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	WalletAddress string          `json:"walletAddress" binding:"required"`
	WalletNetwork string          `json:"walletNetwork" binding:"required"`
}

type pledgeRequest struct {
	PlanID string          `json:"planId" binding:"required"`
	Amount decimal.Decimal `json:"amount"`
}

// accountView is an account snapshot with its derived available balance.
type accountView struct {
	*ledger.Account
	Available decimal.Decimal `json:"available"`
}

func viewAccount(a *ledger.Account) accountView {
	return accountView{Account: a, Available: a.Available()}
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// statusForCode is the HTTP status of each ledger error code.
func statusForCode(code string) int {
	switch code {
	case ledger.CodeNotFound:
		return http.StatusNotFound
	case ledger.CodeInsufficientFunds, ledger.CodeInsufficientHoldings:
		return http.StatusUnprocessableEntity
	case ledger.CodeAccountLocked, ledger.CodeBalanceFrozen:
		return http.StatusForbidden
	case ledger.CodeInvalidState, ledger.CodeConflict:
		return http.StatusConflict
	case ledger.CodeInvalidAmount, ledger.CodeInvalidPair, ledger.CodeInvalidInput, ledger.CodeUserIDRequired:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// respondLedgerError maps a ledger error onto its status and code.
func (s *Server) respondLedgerError(c *gin.Context, err error) {
	code := ledger.ErrorCode(err)
	status := statusForCode(code)
	if status == http.StatusInternalServerError {
		s.Log.Error().Err(err).Str("path", c.FullPath()).Msg("ledger operation failed")
	}
	respondError(c, status, code, err.Error())
}

func badRequest(c *gin.Context, err error) {
	respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request payload: "+err.Error())
}

// userID returns the authenticated user or writes a 401.
func userID(c *gin.Context) (string, bool) {
	id := CurrentUserID(c)
	if id == "" {
		respondError(c, http.StatusUnauthorized, "UNAUTHENTICATED", "user not authenticated")
		return "", false
	}
	return id, true
}

func maskWithdrawal(w ledger.WithdrawalRequest) ledger.WithdrawalRequest {
	w.WalletAddress = crypto.MaskAddress(w.WalletAddress)
	return w
}

func (s *Server) getAccount(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	acct, err := s.Ledger.Account(c.Request.Context(), uid)
	if err != nil {
		s.respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewAccount(acct))
}

func (s *Server) listTrades(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	trades, err := s.Ledger.Trades(c.Request.Context(), uid)
	if err != nil {
		s.respondLedgerError(c, err)
		return
	}
	if trades == nil {
		trades = []ledger.Trade{}
	}
	c.JSON(http.StatusOK, trades)
}

// executeSpot fills a spot order at the given price, or at the last cached
// price when none is given.
func (s *Server) executeSpot(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	var req spotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	price := decimal.Zero
	if req.Price != nil {
		price = *req.Price
	}
	if req.Price == nil || price.IsZero() {
		pair, err := ledger.NormalizePair(req.Pair)
		if err != nil {
			s.respondLedgerError(c, err)
			return
		}
		cached, found := decimal.Zero, false
		if s.Prices != nil {
			cached, found = s.Prices.Get(pair)
		}
		if !found {
			respondError(c, http.StatusBadRequest, "PRICE_UNAVAILABLE", "no price available for "+pair)
			return
		}
		price = cached
	}

	trade, err := s.Ledger.ExecuteSpotTrade(c.Request.Context(), ledger.SpotOrder{
		UserID:   uid,
		Pair:     req.Pair,
		Side:     ledger.Side(strings.ToLower(req.Side)),
		Price:    price,
		Quantity: req.Quantity,
	})
	if err != nil {
		s.respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusCreated, trade)
}

func (s *Server) placeFeatures(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	var req featuresRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	trade, err := s.Ledger.PlaceFeaturesOrder(c.Request.Context(), ledger.FeaturesOrder{
		UserID:        uid,
		Pair:          req.Pair,
		Variant:       ledger.Variant(req.Variant),
		Amount:        req.Amount,
		PeriodSeconds: req.Period,
		PeriodPercent: req.PeriodPercent,
		Lever:         req.Lever,
	})
	if err != nil {
		s.respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusCreated, trade)
}

func (s *Server) listWithdrawals(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	list, err := s.Ledger.Withdrawals(c.Request.Context(), uid)
	if err != nil {
		s.respondLedgerError(c, err)
		return
	}
	out := make([]ledger.WithdrawalRequest, 0, len(list))
	for _, w := range list {
		out = append(out, maskWithdrawal(w))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) requestWithdrawal(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	var req withdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	w, err := s.Ledger.RequestWithdrawal(c.Request.Context(), ledger.WithdrawalInput{
		UserID:        uid,
		Amount:        req.Amount,
		WalletAddress: req.WalletAddress,
		WalletNetwork: req.WalletNetwork,
	})
	if err != nil {
		s.respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusCreated, maskWithdrawal(*w))
}

func (s *Server) listPledges(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	sum, err := s.Ledger.Pledges(c.Request.Context(), uid)
	if err != nil {
		s.respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (s *Server) createPledge(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	var req pledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, err := s.Ledger.CreatePledge(c.Request.Context(), uid, req.PlanID, req.Amount)
	if err != nil {
		s.respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (s *Server) listPlans(c *gin.Context) {
	c.JSON(http.StatusOK, s.Ledger.Plans())
}

func (s *Server) listPrices(c *gin.Context) {
	if s.Prices == nil {
		c.JSON(http.StatusOK, []any{})
		return
	}
	c.JSON(http.StatusOK, s.Prices.All())
}
