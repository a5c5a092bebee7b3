package settler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testAPIKey = "settler-key"

type stubSettler struct {
	res   Result
	err   error
	calls int
	last  Request
	ready bool
}

func (s *stubSettler) Settle(_ context.Context, req Request) (Result, error) {
	s.calls++
	s.last = req
	return s.res, s.err
}

func (s *stubSettler) Health() Health { return Health{Ready: s.ready, Signer: "0xsigner"} }

func newTestServer(t *testing.T, svc Settler) *httptest.Server {
	t.Helper()
	r := gin.New()
	NewHandler(svc, zap.NewNop()).Register(r, testAPIKey)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, key string, body any) (int, Response) {
	t.Helper()
	raw, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, url+"/settle-feed", bytes.NewReader(raw))
	req.Header.Set("X-API-Key", key)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	var out Response
	json.NewDecoder(resp.Body).Decode(&out) //nolint:errcheck
	return resp.StatusCode, out
}

// ── handler ───────────────────────────────────────────────────────────────────

func TestHandler_Success(t *testing.T) {
	svc := &stubSettler{res: Result{TxSignature: "0xtx", SettledValue: "45231.67"}}
	srv := newTestServer(t, svc)

	code, resp := post(t, srv.URL, testAPIKey, timeReq())
	if code != http.StatusOK || !resp.Success {
		t.Fatalf("got %d %+v", code, resp)
	}
	if resp.TxSignature != "0xtx" || resp.Signature != "0xtx" || resp.SettledValue != "45231.67" {
		t.Errorf("response: %+v", resp)
	}
	if svc.last.FeedID != "F1" {
		t.Errorf("request not forwarded: %+v", svc.last)
	}
}

func TestHandler_RequiresAPIKey(t *testing.T) {
	svc := &stubSettler{}
	srv := newTestServer(t, svc)

	code, resp := post(t, srv.URL, "wrong", timeReq())
	if code != http.StatusUnauthorized || resp.Error != "Invalid or missing API key" {
		t.Fatalf("got %d %+v", code, resp)
	}
	if svc.calls != 0 {
		t.Error("service must not be called")
	}
}

func TestHandler_MissingFields(t *testing.T) {
	svc := &stubSettler{}
	srv := newTestServer(t, svc)

	code, resp := post(t, srv.URL, testAPIKey, Request{FeedPubkey: testPubkey})
	if code != http.StatusBadRequest || resp.Code != CodeInvalidRequest {
		t.Fatalf("got %d %+v", code, resp)
	}
	if svc.calls != 0 {
		t.Error("service must not be called")
	}
}

func TestHandler_ErrorStatuses(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   Code
	}{
		{ErrNotReady, http.StatusServiceUnavailable, CodeNotReady},
		{ErrInProgress, http.StatusConflict, CodeInProgress},
		{fmt.Errorf("%w: bad hash", ErrInvalidRequest), http.StatusBadRequest, CodeInvalidRequest},
		{fmt.Errorf("%w: reverted", ErrLedgerRejected), http.StatusInternalServerError, CodeLedgerRejected},
		{errors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			srv := newTestServer(t, &stubSettler{err: tc.err})
			code, resp := post(t, srv.URL, testAPIKey, timeReq())
			if code != tc.status || resp.Code != tc.code || resp.Success {
				t.Errorf("got %d %+v", code, resp)
			}
		})
	}
}

func TestHandler_Health(t *testing.T) {
	for _, ready := range []bool{true, false} {
		srv := newTestServer(t, &stubSettler{ready: ready})
		resp, err := http.Get(srv.URL + "/health")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		want := http.StatusOK
		if !ready {
			want = http.StatusServiceUnavailable
		}
		if resp.StatusCode != want {
			t.Errorf("ready=%v: got %d want %d", ready, resp.StatusCode, want)
		}
	}
}

// ── client against the handler ────────────────────────────────────────────────

func TestClient_RoundTrip(t *testing.T) {
	svc := &stubSettler{res: Result{TxSignature: "0xtx", SettledValue: "1"}}
	srv := newTestServer(t, svc)

	req := timeReq()
	req.Module = "esports"
	req.WinnerID, req.Team1ID, req.Team2ID = "77", "77", "88"
	res, err := NewClient(srv.URL, testAPIKey, time.Second).Settle(context.Background(), req)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if res.TxSignature != "0xtx" || res.SettledValue != "1" {
		t.Errorf("result: %+v", res)
	}
	if svc.last.Team1ID != "77" || svc.last.WinnerID != "77" {
		t.Errorf("outcome ids not forwarded: %+v", svc.last)
	}
}

func TestClient_MapsCodesToSentinels(t *testing.T) {
	for _, want := range []error{ErrLedgerRejected, ErrNotReady, ErrInProgress, ErrSignerMisconfigured, ErrConsensusUnavailable, ErrConfirmationTimeout} {
		srv := newTestServer(t, &stubSettler{err: fmt.Errorf("%w: detail", want)})
		_, err := NewClient(srv.URL, testAPIKey, time.Second).Settle(context.Background(), timeReq())
		if !errors.Is(err, want) {
			t.Errorf("got %v want %v", err, want)
		}
	}
}

func TestClient_SuccessWithoutTxIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"settledValue":"1"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, testAPIKey, time.Second).Settle(context.Background(), timeReq())
	if err == nil {
		t.Fatal("a success without a transaction id must not be accepted")
	}
}

func TestClient_PlainServiceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`upstream not ready`)) //nolint:errcheck
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, testAPIKey, time.Second).Settle(context.Background(), timeReq())
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("got %v want ErrNotReady", err)
	}
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, testAPIKey, time.Second).Settle(context.Background(), timeReq())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got %v want ErrUnavailable", err)
	}
}
