package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Context keys set by WalletSignature.
const (
	WalletKey        = "wallet_address"
	SignedRequestKey = "signed_request"
)

// SignedRequest is the JSON payload inside X-Signed-Message (fields sorted).
type SignedRequest struct {
	Action     string          `json:"action"`
	ExpiresAt  int64           `json:"expires_at"`
	Nonce      string          `json:"nonce"`
	Payload    json.RawMessage `json:"payload"`
	ResourceID string          `json:"resource_id"`
}

const (
	maxFutureWindow = 5 * time.Minute
	nonceKeyPrefix  = "auth:nonce:"
)

func deny(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, gin.H{"success": false, "error": msg})
}

// WalletSignature returns a Gin handler that validates EIP-191 wallet
// signatures. Each nonce is accepted once until the request expires.
func WalletSignature(rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		walletAddr := c.GetHeader("X-Wallet-Address")
		signedMsgB64 := c.GetHeader("X-Signed-Message")
		sigHex := c.GetHeader("X-Wallet-Signature")

		if walletAddr == "" || signedMsgB64 == "" || sigHex == "" {
			deny(c, http.StatusUnauthorized, "missing auth headers")
			return
		}

		msgBytes, err := base64.StdEncoding.DecodeString(signedMsgB64)
		if err != nil {
			deny(c, http.StatusUnauthorized, "invalid X-Signed-Message encoding")
			return
		}

		var req SignedRequest
		if err := json.Unmarshal(msgBytes, &req); err != nil {
			deny(c, http.StatusUnauthorized, "invalid signed message JSON")
			return
		}

		now := time.Now().Unix()
		if req.ExpiresAt <= now {
			deny(c, http.StatusUnauthorized, "request expired")
			return
		}
		if req.ExpiresAt > now+int64(maxFutureWindow.Seconds()) {
			deny(c, http.StatusUnauthorized, "expires_at too far in future")
			return
		}
		if req.Nonce == "" {
			deny(c, http.StatusUnauthorized, "missing nonce")
			return
		}

		sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
		if err != nil {
			deny(c, http.StatusUnauthorized, "invalid signature hex")
			return
		}
		if !SignedBy(msgBytes, sig, walletAddr) {
			deny(c, http.StatusUnauthorized, "invalid signature")
			return
		}

		ttl := time.Duration(req.ExpiresAt-now) * time.Second
		set, err := rdb.SetNX(c.Request.Context(), nonceKeyPrefix+req.Nonce, 1, ttl).Result()
		if err != nil {
			deny(c, http.StatusInternalServerError, "internal error")
			return
		}
		if !set {
			deny(c, http.StatusUnauthorized, "nonce already used")
			return
		}

		c.Set(WalletKey, walletAddr)
		c.Set(SignedRequestKey, req)
		c.Next()
	}
}

// SignedRequestFrom returns the request verified by WalletSignature.
func SignedRequestFrom(c *gin.Context) (SignedRequest, bool) {
	v, ok := c.Get(SignedRequestKey)
	if !ok {
		return SignedRequest{}, false
	}
	req, ok := v.(SignedRequest)
	return req, ok
}

// APIKey accepts a shared secret in X-API-Key or as a bearer token.
func APIKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader("X-API-Key")
		if got == "" {
			got = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			deny(c, http.StatusUnauthorized, "Invalid or missing API key")
			return
		}
		c.Next()
	}
}
