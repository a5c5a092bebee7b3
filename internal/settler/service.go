package settler

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/0gfoundation/oracle-settler/internal/chain"
	"github.com/0gfoundation/oracle-settler/internal/consensus"
	"github.com/0gfoundation/oracle-settler/internal/feed"
	"github.com/0gfoundation/oracle-settler/internal/lease"
)

// Redis keys.
const (
	DoneKeyFmt     = "settle:done:%s:%s"
	InflightPrefix = "settle:inflight:"
	DLQKey         = "settle:dlq"
)

const (
	doneTTL     = 7 * 24 * time.Hour
	inflightTTL = 10 * time.Minute
)

// Ledger writes and reads feed contracts. Implemented by *chain.Client.
type Ledger interface {
	SubmitUpdate(ctx context.Context, feed common.Address, feedHash [32]byte, update []byte) (common.Hash, error)
	SettleOutcome(ctx context.Context, feed common.Address, feedHash [32]byte, outcome uint8) (common.Hash, error)
	LatestValue(ctx context.Context, feed common.Address, feedHash [32]byte) (string, error)
}

// Updates fetches signed consensus reports. Implemented by *consensus.Client.
type Updates interface {
	FetchUpdate(ctx context.Context, feedHash string) (consensus.Update, error)
}

// DeadLetter is what the service appends to DLQKey.
type DeadLetter struct {
	Request Request   `json:"request"`
	Code    Code      `json:"code"`
	Error   string    `json:"error"`
	Tx      string    `json:"tx,omitempty"`
	At      time.Time `json:"at"`
}

// Health is the state reported by GET /health.
type Health struct {
	Ready      bool       `json:"ready"`
	Signer     string     `json:"signer,omitempty"`
	InitError  string     `json:"init_error,omitempty"`
	LastSettle *time.Time `json:"last_settle,omitempty"`
	LastResult string     `json:"last_result,omitempty"`
}

// Service performs settlements. A nil ledger means the ledger failed to
// initialize; every Settle then returns ErrNotReady.
type Service struct {
	ledger   Ledger
	updates  Updates
	rdb      *redis.Client
	inflight *lease.Locker
	signer   string
	initErr  error
	log      *zap.Logger

	mu         sync.Mutex
	lastSettle *time.Time
	lastResult string
}

// NewService returns a Service. initErr is reported by Health when ledger is nil.
func NewService(ledger Ledger, initErr error, signer string, updates Updates, rdb *redis.Client, log *zap.Logger) *Service {
	return &Service{
		ledger:   ledger,
		updates:  updates,
		rdb:      rdb,
		inflight: lease.New(rdb, InflightPrefix, inflightTTL),
		signer:   signer,
		initErr:  initErr,
		log:      log,
	}
}

// Ready reports whether the ledger is available.
func (s *Service) Ready() bool { return s.ledger != nil }

// Health returns the current service state.
func (s *Service) Health() Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := Health{
		Ready:      s.Ready(),
		Signer:     s.signer,
		LastSettle: s.lastSettle,
		LastResult: s.lastResult,
	}
	if s.initErr != nil {
		h.InitError = s.initErr.Error()
	}
	return h
}

// Validate checks the identifiers of req and returns the parsed forms.
func Validate(req Request) (common.Address, [32]byte, error) {
	var hash [32]byte
	if req.FeedPubkey == "" || req.FeedHash == "" {
		return common.Address{}, hash, fmt.Errorf("%w: feedPubkey and feedHash are required", ErrInvalidRequest)
	}
	if !common.IsHexAddress(req.FeedPubkey) {
		return common.Address{}, hash, fmt.Errorf("%w: feedPubkey is not an address", ErrInvalidRequest)
	}
	b, err := hex.DecodeString(strings.TrimPrefix(req.FeedHash, "0x"))
	if err != nil || len(b) != 32 {
		return common.Address{}, hash, fmt.Errorf("%w: feedHash must be 32 bytes of hex", ErrInvalidRequest)
	}
	copy(hash[:], b)
	if req.IsEvent() && req.WinnerID == "" {
		return common.Address{}, hash, fmt.Errorf("%w: winnerId is required for an event outcome", ErrInvalidRequest)
	}
	return common.HexToAddress(req.FeedPubkey), hash, nil
}

// Settle writes req on-chain once. A previously confirmed settlement of the
// same feed is returned from cache without a new transaction.
func (s *Service) Settle(ctx context.Context, req Request) (Result, error) {
	addr, hash, err := Validate(req)
	if err != nil {
		return Result{}, err
	}
	if !s.Ready() {
		return Result{}, fmt.Errorf("%w: %v", ErrNotReady, s.initErr)
	}
	feedKey := strings.ToLower(addr.Hex()) + ":" + hex.EncodeToString(hash[:])
	doneKey := fmt.Sprintf(DoneKeyFmt, strings.ToLower(addr.Hex()), hex.EncodeToString(hash[:]))

	if res, ok := s.cached(ctx, doneKey); ok {
		s.log.Info("settlement already confirmed", zap.String("feed", req.FeedID), zap.String("tx", res.TxSignature))
		return res, nil
	}

	l, err := s.inflight.Acquire(ctx, feedKey)
	if errors.Is(err, lease.ErrHeld) {
		return Result{}, ErrInProgress
	}
	if err != nil {
		return Result{}, fmt.Errorf("%w: in-flight guard: %v", ErrInternal, err)
	}
	defer func() {
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn("release in-flight guard", zap.Error(err))
		}
	}()

	// Re-check under the guard: a holder that just finished has cached its result.
	if res, ok := s.cached(ctx, doneKey); ok {
		return res, nil
	}

	res, err := s.submit(ctx, req, addr, hash)
	s.record(res, err)
	if err != nil {
		s.deadLetter(ctx, req, err, res.TxSignature)
		return Result{}, err
	}

	raw, _ := json.Marshal(res)
	if err := s.rdb.Set(context.WithoutCancel(ctx), doneKey, raw, doneTTL).Err(); err != nil {
		s.log.Warn("cache settle result", zap.String("feed", req.FeedID), zap.Error(err))
	}
	s.log.Info("feed settled on-chain",
		zap.String("feed", req.FeedID),
		zap.String("module", string(req.Module)),
		zap.String("tx", res.TxSignature),
		zap.String("value", res.SettledValue),
	)
	return res, nil
}

func (s *Service) submit(ctx context.Context, req Request, addr common.Address, hash [32]byte) (Result, error) {
	if req.IsEvent() {
		outcome := feed.DeriveOutcome(req.WinnerID, req.Team1ID, req.Team2ID)
		tx, err := s.ledger.SettleOutcome(ctx, addr, hash, outcome.Uint8())
		if err != nil {
			return Result{TxSignature: txText(tx)}, classify(err)
		}
		return Result{TxSignature: tx.Hex(), SettledValue: string(outcome)}, nil
	}

	upd, err := s.updates.FetchUpdate(ctx, req.FeedHash)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrConsensusUnavailable, err)
	}
	tx, err := s.ledger.SubmitUpdate(ctx, addr, hash, upd.Payload)
	if err != nil {
		return Result{TxSignature: txText(tx)}, classify(err)
	}

	value := normalize(upd.Value)
	if value == "" {
		v, err := s.ledger.LatestValue(ctx, addr, hash)
		if err != nil {
			s.log.Warn("read back settled value", zap.String("feed", req.FeedID), zap.Error(err))
		}
		value = v
	}
	return Result{TxSignature: tx.Hex(), SettledValue: value}, nil
}

func (s *Service) cached(ctx context.Context, key string) (Result, bool) {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn("read settle cache", zap.String("key", key), zap.Error(err))
		}
		return Result{}, false
	}
	var res Result
	if err := json.Unmarshal(raw, &res); err != nil || res.TxSignature == "" {
		return Result{}, false
	}
	return res, true
}

func (s *Service) record(res Result, err error) {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSettle = &now
	if err != nil {
		s.lastResult = "error: " + err.Error()
	} else {
		s.lastResult = "ok: " + res.TxSignature
	}
}

// deadLetter keeps attempts an operator must look at. Transient consensus and
// RPC outages are not recorded; the orchestrator will ask again.
func (s *Service) deadLetter(ctx context.Context, req Request, err error, tx string) {
	code, _ := CodeOf(err)
	switch code {
	case CodeLedgerRejected, CodeSignerMisconfigured, CodeConfirmationTimeout:
	default:
		return
	}
	raw, _ := json.Marshal(DeadLetter{Request: req, Code: code, Error: err.Error(), Tx: tx, At: time.Now().UTC()})
	if err := s.rdb.RPush(context.WithoutCancel(ctx), DLQKey, string(raw)).Err(); err != nil {
		s.log.Error("push settle dlq", zap.String("feed", req.FeedID), zap.Error(err))
		return
	}
	s.log.Error("settlement dead-lettered",
		zap.String("feed", req.FeedID),
		zap.String("code", string(code)),
		zap.String("tx", tx),
		zap.Error(err),
	)
}

func classify(err error) error {
	switch {
	case errors.Is(err, chain.ErrSigner):
		return fmt.Errorf("%w: %v", ErrSignerMisconfigured, err)
	case errors.Is(err, chain.ErrReverted):
		return fmt.Errorf("%w: %v", ErrLedgerRejected, err)
	case errors.Is(err, chain.ErrConfirmTimeout):
		return fmt.Errorf("%w: %v", ErrConfirmationTimeout, err)
	default:
		return fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
}

func txText(h common.Hash) string {
	if h == (common.Hash{}) {
		return ""
	}
	return h.Hex()
}

// normalize prints numeric values without exponent or trailing zeros and
// passes anything else through.
func normalize(v string) string {
	v = strings.TrimSpace(v)
	if d, err := decimal.NewFromString(v); err == nil {
		return d.String()
	}
	return v
}
