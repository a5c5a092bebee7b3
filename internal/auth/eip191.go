package auth

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// HashMessage is the digest a wallet signs for personal_sign: msg behind the
// "\x19Ethereum Signed Message:\n" prefix and its decimal length.
func HashMessage(msg []byte) []byte {
	return crypto.Keccak256([]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(msg))), msg)
}

// Recover returns the wallet that produced sig over msg. Both recovery id
// forms are accepted, so signatures from Sign and from browser wallets
// verify alike.
func Recover(msg, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("signature is %d bytes, want 65", len(sig))
	}
	rsv := append([]byte(nil), sig...)
	if rsv[64] >= 27 {
		rsv[64] -= 27
	}
	pub, err := crypto.SigToPub(HashMessage(msg), rsv)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Sign produces a 65-byte EIP-191 signature with V in {27,28}.
func Sign(msg []byte, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(HashMessage(msg), key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// SignedBy reports whether sig over msg recovers to wallet (hex, any case).
func SignedBy(msg, sig []byte, wallet string) bool {
	if !common.IsHexAddress(wallet) {
		return false
	}
	recovered, err := Recover(msg, sig)
	if err != nil {
		return false
	}
	return recovered == common.HexToAddress(wallet)
}
