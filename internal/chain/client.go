package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/0gfoundation/oracle-settler/internal/config"
	"github.com/0gfoundation/oracle-settler/internal/retry"
)

var (
	// ErrSigner means the signing account cannot submit (bad key, no funds).
	ErrSigner = errors.New("signer cannot submit")
	// ErrReverted means the ledger refused the transaction.
	ErrReverted = errors.New("transaction reverted")
	// ErrConfirmTimeout means the transaction was sent but no receipt arrived
	// in time. The outcome is unknown.
	ErrConfirmTimeout = errors.New("confirmation timed out")
)

// Backend is what the client needs from an RPC connection.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Client submits feed settlements to FeedOracle contracts.
type Client struct {
	backends       map[string]Backend
	policy         retry.Policy
	abi            abi.ABI
	chainID        *big.Int
	key            *ecdsa.PrivateKey
	confirmTimeout time.Duration
	log            *zap.Logger
}

// NewClient dials every configured RPC endpoint. The primary endpoint comes
// first; the rest are used when a submission fails.
func NewClient(cfg config.ChainConfig, log *zap.Logger) (*Client, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.SignerKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: parse signer key: %v", ErrSigner, err)
	}

	urls := cfg.RPCURLs()
	if len(urls) == 0 {
		return nil, fmt.Errorf("no rpc endpoint configured")
	}
	backends := make(map[string]Backend, len(urls))
	for _, u := range urls {
		eth, err := ethclient.Dial(u)
		if err != nil {
			return nil, fmt.Errorf("dial rpc %s: %w", u, err)
		}
		backends[u] = eth
	}

	policy := retry.Policy{
		MaxAttempts: cfg.MaxSubmitAttempts,
		Endpoints:   urls,
		NewBackOff:  retry.Exponential(time.Second, 8*time.Second),
	}
	return NewClientWithBackends(backends, policy, key, big.NewInt(cfg.ChainID),
		time.Duration(cfg.ConfirmTimeoutSec)*time.Second, log)
}

// NewClientWithBackends builds a Client over existing connections, keyed by
// the names used in policy.Endpoints.
func NewClientWithBackends(
	backends map[string]Backend,
	policy retry.Policy,
	key *ecdsa.PrivateKey,
	chainID *big.Int,
	confirmTimeout time.Duration,
	log *zap.Logger,
) (*Client, error) {
	parsed, err := abi.JSON(strings.NewReader(FeedOracleABI))
	if err != nil {
		return nil, fmt.Errorf("parse oracle abi: %w", err)
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}
	// Every send may broadcast, so the bound is on sends, not rounds.
	if policy.MaxCalls <= 0 {
		policy.MaxCalls = policy.MaxAttempts
	}
	if confirmTimeout <= 0 {
		confirmTimeout = 2 * time.Minute
	}
	return &Client{
		backends:       backends,
		policy:         policy,
		abi:            parsed,
		chainID:        chainID,
		key:            key,
		confirmTimeout: confirmTimeout,
		log:            log,
	}, nil
}

// Address returns the signer address.
func (c *Client) Address() common.Address { return crypto.PubkeyToAddress(c.key.PublicKey) }

// ChainID returns the configured chain ID.
func (c *Client) ChainID() *big.Int { return c.chainID }

// transactOpts builds a *bind.TransactOpts signed by the settler key.
func (c *Client) transactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return nil, err
	}
	auth.Context = ctx
	return auth, nil
}

// SubmitUpdate writes a signed consensus update for feedHash.
func (c *Client) SubmitUpdate(ctx context.Context, feed common.Address, feedHash [32]byte, update []byte) (common.Hash, error) {
	return c.transact(ctx, feed, "submitUpdate", feedHash, update)
}

// SettleOutcome writes the final outcome of an event feed.
func (c *Client) SettleOutcome(ctx context.Context, feed common.Address, feedHash [32]byte, outcome uint8) (common.Hash, error) {
	return c.transact(ctx, feed, "settleOutcome", feedHash, outcome)
}

// LatestValue reads the current on-chain value of a feed as decimal text.
func (c *Client) LatestValue(ctx context.Context, feed common.Address, feedHash [32]byte) (string, error) {
	b := c.backends[c.policy.Endpoints[0]]
	contract := bind.NewBoundContract(feed, c.abi, b, b, b)
	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, "latestResult", feedHash); err != nil {
		return "", fmt.Errorf("latestResult: %w", err)
	}
	value := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	return decimal.NewFromBigInt(value, -ValueDecimals).String(), nil
}

func (c *Client) transact(ctx context.Context, feed common.Address, method string, args ...interface{}) (common.Hash, error) {
	var (
		tx  *types.Transaction
		via Backend
	)
	err := c.policy.Do(ctx, func(ctx context.Context, endpoint string) error {
		b, ok := c.backends[endpoint]
		if !ok {
			return fmt.Errorf("unknown rpc endpoint %q", endpoint)
		}
		opts, err := c.transactOpts(ctx)
		if err != nil {
			return retry.Permanent(fmt.Errorf("%w: build tx opts: %v", ErrSigner, err))
		}
		contract := bind.NewBoundContract(feed, c.abi, b, b, b)
		sent, err := contract.Transact(opts, method, args...)
		if err != nil {
			c.log.Warn("feed tx submit failed",
				zap.String("method", method),
				zap.String("feed", feed.Hex()),
				zap.Error(err),
			)
			return classifySendError(err)
		}
		tx, via = sent, b
		return nil
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("%s tx: %w", method, err)
	}
	c.log.Info("feed tx sent",
		zap.String("method", method),
		zap.String("feed", feed.Hex()),
		zap.String("tx", tx.Hash().Hex()),
	)

	waitCtx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, via, tx)
	if err != nil {
		return tx.Hash(), fmt.Errorf("%w: %s: %v", ErrConfirmTimeout, tx.Hash().Hex(), err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return tx.Hash(), fmt.Errorf("%w: %s", ErrReverted, tx.Hash().Hex())
	}
	return tx.Hash(), nil
}

// classifySendError marks errors that no other endpoint or retry can fix.
func classifySendError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, bind.ErrNoCode), strings.Contains(msg, bind.ErrNoCode.Error()):
		return retry.Permanent(fmt.Errorf("%w: no contract at feed address", ErrReverted))
	case strings.Contains(msg, "insufficient funds"):
		return retry.Permanent(fmt.Errorf("%w: %v", ErrSigner, err))
	case strings.Contains(msg, "execution reverted"):
		return retry.Permanent(fmt.Errorf("%w: %v", ErrReverted, err))
	default:
		return err
	}
}
