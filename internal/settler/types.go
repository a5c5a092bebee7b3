// Package settler is the Chain Settler: the only component holding the
// signing key. It exposes POST /settle-feed to the orchestrator and ships a
// client for that endpoint.
package settler

import (
	"errors"
	"net/http"

	"github.com/0gfoundation/oracle-settler/internal/feed"
)

// Request is the body of POST /settle-feed.
type Request struct {
	FeedPubkey string          `json:"feedPubkey"`
	FeedHash   string          `json:"feedHash"`
	FeedID     string          `json:"feedId,omitempty"`
	Module     feed.Module     `json:"module,omitempty"`
	WinnerID   feed.ProviderID `json:"winnerId,omitempty"`
	Team1ID    feed.ProviderID `json:"team1Id,omitempty"`
	Team2ID    feed.ProviderID `json:"team2Id,omitempty"`
}

// IsEvent reports whether the request settles an event outcome.
func (r Request) IsEvent() bool { return r.Team1ID != "" && r.Team2ID != "" }

// Response is the body returned by POST /settle-feed.
type Response struct {
	Success      bool   `json:"success"`
	TxSignature  string `json:"txSignature,omitempty"`
	Signature    string `json:"signature,omitempty"`
	SettledValue string `json:"settledValue,omitempty"`
	Error        string `json:"error,omitempty"`
	Code         Code   `json:"code,omitempty"`
}

// Result is a confirmed on-chain settlement.
type Result struct {
	TxSignature string `json:"txSignature"`
	// SettledValue is what the ledger now reports; empty when unknown.
	SettledValue string `json:"settledValue"`
}

// Code names a failure condition on the wire.
type Code string

const (
	CodeInvalidRequest       Code = "invalid_request"
	CodeNotReady             Code = "not_ready"
	CodeInProgress           Code = "in_progress"
	CodeSignerMisconfigured  Code = "signer_misconfigured"
	CodeConsensusUnavailable Code = "consensus_unavailable"
	CodeLedgerRejected       Code = "ledger_rejected"
	CodeConfirmationTimeout  Code = "confirmation_timeout"
	CodeLedgerUnavailable    Code = "ledger_unavailable"
	CodeInternal             Code = "internal"
)

var (
	ErrInvalidRequest       = errors.New("invalid settle request")
	ErrNotReady             = errors.New("settler not initialized")
	ErrInProgress           = errors.New("settlement already in progress")
	ErrSignerMisconfigured  = errors.New("signer misconfigured")
	ErrConsensusUnavailable = errors.New("consensus network unavailable")
	ErrLedgerRejected       = errors.New("transaction rejected by ledger")
	ErrConfirmationTimeout  = errors.New("confirmation timed out")
	ErrLedgerUnavailable    = errors.New("ledger unavailable")
	// ErrUnavailable means the settler service itself could not be reached.
	ErrUnavailable = errors.New("settler unreachable")
	ErrInternal    = errors.New("settler internal error")
)

var codeErrors = map[Code]error{
	CodeInvalidRequest:       ErrInvalidRequest,
	CodeNotReady:             ErrNotReady,
	CodeInProgress:           ErrInProgress,
	CodeSignerMisconfigured:  ErrSignerMisconfigured,
	CodeConsensusUnavailable: ErrConsensusUnavailable,
	CodeLedgerRejected:       ErrLedgerRejected,
	CodeConfirmationTimeout:  ErrConfirmationTimeout,
	CodeLedgerUnavailable:    ErrLedgerUnavailable,
	CodeInternal:             ErrInternal,
}

// CodeOf maps an error to its wire code and HTTP status.
func CodeOf(err error) (Code, int) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest, http.StatusBadRequest
	case errors.Is(err, ErrNotReady):
		return CodeNotReady, http.StatusServiceUnavailable
	case errors.Is(err, ErrInProgress):
		return CodeInProgress, http.StatusConflict
	}
	for code, sentinel := range codeErrors {
		if errors.Is(err, sentinel) {
			return code, http.StatusInternalServerError
		}
	}
	return CodeInternal, http.StatusInternalServerError
}

// ErrorOf maps a wire code back to its sentinel.
func ErrorOf(code Code) error {
	if err, ok := codeErrors[code]; ok {
		return err
	}
	return ErrInternal
}
