// feedstat prints the latest on-chain value of a feed.
//
//	feedstat -rpc https://evmrpc-testnet.0g.ai -feed 0x... -hash 0x...
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/0gfoundation/oracle-settler/internal/chain"
	"github.com/0gfoundation/oracle-settler/internal/retry"
)

func main() {
	rpcURL := flag.String("rpc", "https://evmrpc-testnet.0g.ai", "RPC endpoint")
	feedAddr := flag.String("feed", "", "feed contract address")
	feedHash := flag.String("hash", "", "feed job hash (32-byte hex)")
	timeout := flag.Duration("timeout", 15*time.Second, "call timeout")
	flag.Parse()

	if !common.IsHexAddress(*feedAddr) || *feedHash == "" {
		flag.Usage()
		os.Exit(2)
	}
	hash, err := parseHash(*feedHash)
	if err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	eth, err := ethclient.DialContext(ctx, *rpcURL)
	if err != nil {
		fatal(fmt.Errorf("dial %s: %w", *rpcURL, err))
	}
	defer eth.Close()
	chainID, err := eth.ChainID(ctx)
	if err != nil {
		fatal(fmt.Errorf("chain id: %w", err))
	}

	// Reads are unsigned; any key will do.
	key, _ := crypto.GenerateKey()
	client, err := chain.NewClientWithBackends(
		map[string]chain.Backend{*rpcURL: eth},
		retry.Policy{Endpoints: []string{*rpcURL}},
		key, chainID, 0, zap.NewNop(),
	)
	if err != nil {
		fatal(err)
	}

	value, err := client.LatestValue(ctx, common.HexToAddress(*feedAddr), hash)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("chain:  %s\n", chainID)
	fmt.Printf("feed:   %s\n", common.HexToAddress(*feedAddr).Hex())
	fmt.Printf("value:  %s\n", value)
}

func parseHash(s string) ([32]byte, error) {
	var out [32]byte
	b := common.FromHex(strings.TrimSpace(s))
	if len(b) != 32 {
		return out, fmt.Errorf("hash must be 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "feedstat:", err)
	os.Exit(1)
}
