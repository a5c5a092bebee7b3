package auth

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func TestHashMessage(t *testing.T) {
	h1 := HashMessage([]byte("settle feed-1"))
	if len(h1) != 32 {
		t.Fatalf("expected 32 bytes, got %d", len(h1))
	}
	if string(h1) != string(HashMessage([]byte("settle feed-1"))) {
		t.Fatal("HashMessage is not deterministic")
	}
	if string(h1) == string(HashMessage([]byte("settle feed-2"))) {
		t.Fatal("different messages produced the same hash")
	}
}

func TestSignRecover_RoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	want := crypto.PubkeyToAddress(key.PublicKey)
	msg := []byte(`{"action":"settle","nonce":"abc"}`)

	sig, err := Sign(msg, key)
	if err != nil {
		t.Fatal(err)
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Errorf("V: got %d want 27 or 28", sig[64])
	}
	got, err := Recover(msg, sig)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if got != want {
		t.Errorf("got %s want %s", got.Hex(), want.Hex())
	}

	// V in {0,1} is accepted too.
	sig[64] -= 27
	if got, _ := Recover(msg, sig); got != want {
		t.Errorf("raw V: got %s want %s", got.Hex(), want.Hex())
	}
}

func TestSignedBy(t *testing.T) {
	key, _ := crypto.GenerateKey()
	wallet := crypto.PubkeyToAddress(key.PublicKey).Hex()
	msg := []byte("original message")
	sig, _ := Sign(msg, key)

	cases := []struct {
		name   string
		msg    []byte
		wallet string
		want   bool
	}{
		{"match", msg, wallet, true},
		{"lowercase wallet", msg, "0x" + lower(wallet[2:]), true},
		{"tampered message", []byte("tampered message"), wallet, false},
		{"other wallet", msg, "0x000000000000000000000000000000000000dEaD", false},
		{"not an address", msg, "feed-owner", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SignedBy(tc.msg, sig, tc.wallet); got != tc.want {
				t.Errorf("got %v want %v", got, tc.want)
			}
		})
	}
}

func TestRecover_LeavesSignatureUntouched(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	msg := []byte("settle feed-1")
	sig, err := Sign(msg, key)
	if err != nil {
		t.Fatal(err)
	}
	v := sig[64]
	if _, err := Recover(msg, sig); err != nil {
		t.Fatal(err)
	}
	if sig[64] != v {
		t.Errorf("V rewritten in caller's slice: got %d want %d", sig[64], v)
	}
	if got, _ := Recover([]byte("settle feed-2"), sig); got == crypto.PubkeyToAddress(key.PublicKey) {
		t.Error("signature verified for a different message")
	}
}

func TestRecover_InvalidSigLength(t *testing.T) {
	if _, err := Recover([]byte("msg"), []byte("tooshort")); err == nil {
		t.Fatal("expected error for short signature")
	}
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 32
		}
	}
	return string(b)
}
