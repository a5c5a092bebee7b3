package settler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/0gfoundation/oracle-settler/internal/auth"
)

// Settler is what the HTTP handler needs. Implemented by *Service.
type Settler interface {
	Settle(ctx context.Context, req Request) (Result, error)
	Health() Health
}

// Handler serves the settler HTTP API.
type Handler struct {
	svc Settler
	log *zap.Logger
}

func NewHandler(svc Settler, log *zap.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// Register mounts the routes. /settle-feed requires apiKey.
func (h *Handler) Register(r gin.IRouter, apiKey string) {
	r.GET("/health", h.health)
	r.POST("/settle-feed", auth.APIKey(apiKey), h.settle)
}

func (h *Handler) health(c *gin.Context) {
	st := h.svc.Health()
	code := http.StatusOK
	if !st.Ready {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, st)
}

func (h *Handler) settle(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Error: "invalid JSON body", Code: CodeInvalidRequest})
		return
	}
	if req.FeedPubkey == "" || req.FeedHash == "" {
		c.JSON(http.StatusBadRequest, Response{Error: "Missing feedPubkey or feedHash", Code: CodeInvalidRequest})
		return
	}

	res, err := h.svc.Settle(c.Request.Context(), req)
	if err != nil {
		code, status := CodeOf(err)
		h.log.Warn("settle-feed failed",
			zap.String("feed", req.FeedID),
			zap.String("code", string(code)),
			zap.Error(err),
		)
		c.JSON(status, Response{Error: err.Error(), Code: code})
		return
	}
	c.JSON(http.StatusOK, Response{
		Success:      true,
		TxSignature:  res.TxSignature,
		Signature:    res.TxSignature,
		SettledValue: res.SettledValue,
	})
}
