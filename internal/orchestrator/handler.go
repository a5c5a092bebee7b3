package orchestrator

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/0gfoundation/oracle-settler/internal/auth"
	"github.com/0gfoundation/oracle-settler/internal/feed"
	"github.com/0gfoundation/oracle-settler/internal/store"
)

// SettleRequest is the body of a single-feed settlement request.
type SettleRequest struct {
	FeedPubkey string          `json:"feedPubkey"`
	FeedHash   string          `json:"feedHash"`
	FeedID     string          `json:"feedId,omitempty"`
	Module     feed.Module     `json:"module,omitempty"`
	Config     json.RawMessage `json:"config,omitempty"`
}

// Handler exposes the orchestrator over HTTP.
type Handler struct {
	orch *Orchestrator
	log  *zap.Logger
}

func NewHandler(orch *Orchestrator, log *zap.Logger) *Handler {
	return &Handler{orch: orch, log: log}
}

// Register mounts the routes. cronKey guards the internal endpoints;
// walletAuth authenticates owner-triggered settlement.
func (h *Handler) Register(r gin.IRouter, cronKey string, walletAuth gin.HandlerFunc) {
	// ── internal (cron / service callers) ──────────────────────────────────
	internal := r.Group("/internal", auth.APIKey(cronKey))
	internal.POST("/sweep", h.handleSweep)
	internal.POST("/settle-feed", h.handleSettleFeed)

	// ── owner-triggered ────────────────────────────────────────────────────
	r.POST("/api/feeds/:id/settle", walletAuth, h.handleOwnerSettle)
}

// ── Sweep ───────────────────────────────────────────────────────────────────

func (h *Handler) handleSweep(c *gin.Context) {
	report, err := h.orch.Sweep(c.Request.Context())
	if err != nil {
		h.log.Error("sweep", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

// ── Single feed ─────────────────────────────────────────────────────────────

func (h *Handler) handleSettleFeed(c *gin.Context) {
	var req SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}
	if req.FeedPubkey == "" || req.FeedHash == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Missing feedPubkey or feedHash"})
		return
	}

	if req.FeedID == "" {
		f := feed.Feed{
			Address: req.FeedPubkey,
			JobHash: req.FeedHash,
			Module:  req.Module,
			Config:  req.Config,
			Status:  feed.StatusPending,
		}
		res, err := h.orch.SettleAdHoc(c.Request.Context(), f)
		h.respond(c, res, err)
		return
	}
	res, err := h.orch.SettleOne(c.Request.Context(), req.FeedID)
	h.respond(c, res, err)
}

func (h *Handler) handleOwnerSettle(c *gin.Context) {
	id := c.Param("id")
	signed, ok := auth.SignedRequestFrom(c)
	if !ok || signed.Action != "settle" || signed.ResourceID != id {
		c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "signed request does not cover this action"})
		return
	}

	f, err := h.orch.Lookup(c.Request.Context(), id)
	if err != nil {
		h.respond(c, FeedResult{}, err)
		return
	}
	if !strings.EqualFold(f.Owner, c.GetString(auth.WalletKey)) {
		c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "forbidden"})
		return
	}

	res, err := h.orch.SettleOne(c.Request.Context(), id)
	h.respond(c, res, err)
}

func (h *Handler) respond(c *gin.Context, res FeedResult, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Feed not found"})
	case errors.Is(err, ErrAlreadySettled):
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": "Feed already settled"})
	case errors.Is(err, ErrInProgress):
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": "Settlement already in progress"})
	case errors.Is(err, ErrSettlerNotReady):
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": err.Error()})
	case err != nil:
		h.log.Error("settle feed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
	case !res.Success:
		msg := res.Error
		if msg == "" {
			msg = string(res.Reason)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": msg, "reason": res.Reason})
	case res.Tx != nil:
		c.JSON(http.StatusOK, gin.H{"success": true, "signature": *res.Tx, "settledValue": res.Value})
	default:
		c.JSON(http.StatusOK, gin.H{"success": true, "settled_value": res.Value, "settlement_tx": nil})
	}
}
