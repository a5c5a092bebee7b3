package orchestrator

import "github.com/0gfoundation/oracle-settler/internal/feed"

// Reason classifies why a feed did not settle.
type Reason string

const (
	ReasonNoValue             Reason = "no_value"
	ReasonResolverUnavailable Reason = "resolver_unavailable"
	ReasonInvalidConfig       Reason = "invalid_config"
	ReasonStoreUnavailable    Reason = "store_unavailable"
	ReasonConflict            Reason = "conflict"
	ReasonClaimed             Reason = "claimed"
	ReasonLeaseUnavailable    Reason = "lease_unavailable"
	ReasonDeadline            Reason = "deadline_exceeded"
	ReasonSettlerNotReady     Reason = "settler_not_ready"
)

// FeedResult is the outcome of one settlement attempt.
type FeedResult struct {
	FeedID  string  `json:"feedId"`
	Success bool    `json:"success"`
	Value   string  `json:"value,omitempty"`
	Tx      *string `json:"tx,omitempty"`
	Error   string  `json:"error,omitempty"`
	Reason  Reason  `json:"reason,omitempty"`
	// Status is the feed status after the attempt.
	Status feed.Status `json:"status,omitempty"`
	// SettlerError is set when the on-chain step failed, even if the feed
	// still settled off-chain.
	SettlerError error `json:"-"`
}

// OnChain reports whether the settlement carries a confirmed transaction.
func (r FeedResult) OnChain() bool { return r.Success && r.Tx != nil }

// Report summarizes a sweep.
type Report struct {
	Success bool         `json:"success"`
	Settled int          `json:"settled"`
	OnChain int          `json:"on_chain"`
	Failed  int          `json:"failed"`
	Results []FeedResult `json:"results"`
}

func summarize(results []FeedResult) Report {
	r := Report{Success: true, Results: results}
	if r.Results == nil {
		r.Results = []FeedResult{}
	}
	for _, res := range results {
		switch {
		case res.OnChain():
			r.Settled++
			r.OnChain++
		case res.Success:
			r.Settled++
		default:
			r.Failed++
		}
	}
	return r
}
