package api

import (
	"context"
	"net/http"

	"ledger-core/internal/ledger"
	"ledger-core/internal/store/remote"

	"github.com/gin-gonic/gin"
)

// replicationRoutes expose this node's repository so another node can run
// against it with the remote backend.
func (s *Server) replicationRoutes(g *gin.RouterGroup) {
	g.GET("/ping", s.replPing)
	g.POST("/commit", s.replCommit)

	g.GET("/accounts/:id", replGet(s.Repo.GetAccount))
	g.GET("/trades/pending", replList(func(ctx context.Context, _ *gin.Context) ([]ledger.Trade, error) {
		return s.Repo.ListPendingFeatures(ctx)
	}))
	g.GET("/trades/:id", replGet(s.Repo.GetTrade))
	g.GET("/trades", replList(func(ctx context.Context, c *gin.Context) ([]ledger.Trade, error) {
		return s.Repo.ListTrades(ctx, c.Query("user_id"))
	}))
	g.GET("/withdrawals/:id", replGet(s.Repo.GetWithdrawal))
	g.GET("/withdrawals", replList(func(ctx context.Context, c *gin.Context) ([]ledger.WithdrawalRequest, error) {
		return s.Repo.ListWithdrawals(ctx, c.Query("user_id"))
	}))
	g.GET("/pledges/active", replList(func(ctx context.Context, _ *gin.Context) ([]ledger.Pledge, error) {
		return s.Repo.ListActivePledges(ctx)
	}))
	g.GET("/pledges/:id", replGet(s.Repo.GetPledge))
	g.GET("/pledges", replList(func(ctx context.Context, c *gin.Context) ([]ledger.Pledge, error) {
		return s.Repo.ListPledges(ctx, c.Query("user_id"))
	}))
}

func replError(c *gin.Context, err error) {
	code := ledger.ErrorCode(err)
	respondError(c, statusForCode(code), code, err.Error())
}

func replGet[T any](get func(context.Context, string) (*T, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, err := get(c.Request.Context(), c.Param("id"))
		if err != nil {
			replError(c, err)
			return
		}
		c.JSON(http.StatusOK, v)
	}
}

func replList[T any](list func(context.Context, *gin.Context) ([]T, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		items, err := list(c.Request.Context(), c)
		if err != nil {
			replError(c, err)
			return
		}
		if items == nil {
			items = []T{}
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}

func (s *Server) replPing(c *gin.Context) {
	if err := s.Repo.Ping(c.Request.Context()); err != nil {
		respondError(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) replCommit(c *gin.Context) {
	var req remote.CommitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.Repo.Commit(c.Request.Context(), req.Changeset()); err != nil {
		if code := ledger.ErrorCode(err); code == ledger.CodeInternal {
			s.Log.Error().Err(err).Msg("replicated commit failed")
		}
		replError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
