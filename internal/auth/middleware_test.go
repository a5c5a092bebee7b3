package auth

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testSetup creates a miniredis instance and a Gin engine with the wallet
// middleware wired up.
func testSetup(t *testing.T) (*miniredis.Miniredis, *gin.Engine) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := gin.New()
	r.POST("/test", WalletSignature(rdb), func(c *gin.Context) {
		req, _ := SignedRequestFrom(c)
		c.JSON(http.StatusOK, gin.H{
			"wallet":      c.GetString(WalletKey),
			"action":      req.Action,
			"resource_id": req.ResourceID,
		})
	})
	return mr, r
}

// buildRequest creates a signed HTTP request.
// expiresOffset is relative to now (e.g. +2*time.Minute for valid, -1 for expired).
func buildRequest(t *testing.T, expiresOffset time.Duration, nonce string) (*http.Request, string) {
	t.Helper()
	privKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	walletAddr := crypto.PubkeyToAddress(privKey.PublicKey).Hex()

	sr := SignedRequest{
		Action:     "settle",
		ExpiresAt:  time.Now().Add(expiresOffset).Unix(),
		Nonce:      nonce,
		Payload:    json.RawMessage(`{}`),
		ResourceID: "feed-1",
	}
	msgBytes, _ := json.Marshal(sr)
	sig, err := Sign(msgBytes, privKey)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/test", nil)
	req.Header.Set("X-Wallet-Address", walletAddr)
	req.Header.Set("X-Signed-Message", base64.StdEncoding.EncodeToString(msgBytes))
	req.Header.Set("X-Wallet-Signature", "0x"+hex.EncodeToString(sig))
	return req, walletAddr
}

func serve(r http.Handler, req *http.Request) (int, map[string]any) {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var body map[string]any
	json.Unmarshal(w.Body.Bytes(), &body) //nolint:errcheck
	return w.Code, body
}

// ── wallet signature ──────────────────────────────────────────────────────────

func TestWalletSignature_ValidRequest(t *testing.T) {
	_, r := testSetup(t)

	req, wallet := buildRequest(t, 2*time.Minute, "nonce-valid-1")
	code, body := serve(r, req)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", code, body)
	}
	if body["wallet"] != wallet {
		t.Errorf("wallet: got %v want %s", body["wallet"], wallet)
	}
	if body["action"] != "settle" || body["resource_id"] != "feed-1" {
		t.Errorf("signed request not exposed: %v", body)
	}
}

func TestWalletSignature_Rejections(t *testing.T) {
	cases := []struct {
		name    string
		build   func(t *testing.T) *http.Request
		wantErr string
	}{
		{"missing headers", func(t *testing.T) *http.Request {
			return httptest.NewRequest(http.MethodPost, "/test", nil)
		}, "missing auth headers"},
		{"expired", func(t *testing.T) *http.Request {
			req, _ := buildRequest(t, -time.Second, "nonce-expired")
			return req
		}, "request expired"},
		{"too far in future", func(t *testing.T) *http.Request {
			req, _ := buildRequest(t, 10*time.Minute, "nonce-future")
			return req
		}, "expires_at too far in future"},
		{"empty nonce", func(t *testing.T) *http.Request {
			req, _ := buildRequest(t, 2*time.Minute, "")
			return req
		}, "missing nonce"},
		{"wrong wallet", func(t *testing.T) *http.Request {
			req, _ := buildRequest(t, 2*time.Minute, "nonce-badsig")
			req.Header.Set("X-Wallet-Address", "0x000000000000000000000000000000000000dEaD")
			return req
		}, "invalid signature"},
		{"bad encoding", func(t *testing.T) *http.Request {
			req, _ := buildRequest(t, 2*time.Minute, "nonce-enc")
			req.Header.Set("X-Signed-Message", "%%%")
			return req
		}, "invalid X-Signed-Message encoding"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, r := testSetup(t)
			code, body := serve(r, tc.build(t))
			if code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", code)
			}
			if body["error"] != tc.wantErr {
				t.Errorf("error: got %v want %q", body["error"], tc.wantErr)
			}
		})
	}
}

func TestWalletSignature_NonceReplay(t *testing.T) {
	_, r := testSetup(t)

	req1, _ := buildRequest(t, 2*time.Minute, "nonce-replay-1")
	req2, _ := buildRequest(t, 2*time.Minute, "nonce-replay-1") // same nonce, different key

	if code, body := serve(r, req1); code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d: %v", code, body)
	}
	code, body := serve(r, req2)
	if code != http.StatusUnauthorized || body["error"] != "nonce already used" {
		t.Fatalf("replay: got %d %v", code, body)
	}
}

func TestWalletSignature_NonceTTL(t *testing.T) {
	mr, r := testSetup(t)

	req, _ := buildRequest(t, 2*time.Minute, "nonce-ttl-1")
	if code, _ := serve(r, req); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if ttl := mr.TTL(nonceKeyPrefix + "nonce-ttl-1"); ttl <= 0 || ttl > 2*time.Minute {
		t.Errorf("nonce ttl: got %v", ttl)
	}
	mr.FastForward(3 * time.Minute)
	if mr.Exists(nonceKeyPrefix + "nonce-ttl-1") {
		t.Error("nonce should expire with the request")
	}
}

// ── api key ───────────────────────────────────────────────────────────────────

func TestAPIKey(t *testing.T) {
	r := gin.New()
	r.POST("/k", APIKey("secret"), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	cases := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"x-api-key", "X-API-Key", "secret", http.StatusNoContent},
		{"bearer", "Authorization", "Bearer secret", http.StatusNoContent},
		{"wrong key", "X-API-Key", "nope", http.StatusUnauthorized},
		{"missing", "", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/k", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			code, body := serve(r, req)
			if code != tc.want {
				t.Errorf("got %d want %d", code, tc.want)
			}
			if tc.want == http.StatusUnauthorized && body["error"] != "Invalid or missing API key" {
				t.Errorf("error: %v", body["error"])
			}
		})
	}
}

func TestAPIKey_EmptyConfiguredKeyDeniesAll(t *testing.T) {
	r := gin.New()
	r.POST("/k", APIKey(""), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	req := httptest.NewRequest(http.MethodPost, "/k", nil)
	req.Header.Set("X-API-Key", "")
	if code, _ := serve(r, req); code != http.StatusUnauthorized {
		t.Errorf("got %d want 401", code)
	}
}
