package feed

import (
	"encoding/json"
	"time"
)

// Status is the feed lifecycle state as persisted in the feeds table.
type Status string

const (
	StatusPending Status = "pending"
	StatusManual  Status = "manual"
	StatusSettled Status = "settled"
	StatusFailed  Status = "failed"
)

// Terminal reports whether the automatic sweep must leave the feed alone.
func (s Status) Terminal() bool {
	return s == StatusSettled || s == StatusFailed
}

// Module is the feed-creation module tag.
type Module string

const (
	ModuleCrypto   Module = "crypto"
	ModuleMemecoin Module = "memecoin"
	ModuleWeather  Module = "weather"
	ModuleSports   Module = "sports"
	ModuleEsports  Module = "esports"
)

// Category groups modules by how their settlement becomes possible.
type Category int

const (
	CategoryTimeBased Category = iota
	CategoryEventOutcome
)

func (c Category) String() string {
	switch c {
	case CategoryTimeBased:
		return "time_based"
	case CategoryEventOutcome:
		return "event_outcome"
	default:
		return "unknown"
	}
}

// Category returns the settlement category of m. Unknown modules are
// treated as time-based.
func (m Module) Category() Category {
	if m == ModuleEsports {
		return CategoryEventOutcome
	}
	return CategoryTimeBased
}

// Feed is one row of the feeds table.
type Feed struct {
	ID             string          `json:"id"`
	Owner          string          `json:"wallet_address"`
	Address        string          `json:"feed_pubkey"`
	JobHash        string          `json:"feed_hash"`
	Title          string          `json:"title"`
	Module         Module          `json:"module"`
	Config         json.RawMessage `json:"config"`
	ResolutionDate *time.Time      `json:"resolution_date"`
	Status         Status          `json:"status"`
	SettledAt      *time.Time      `json:"settled_at"`
	SettledValue   *string         `json:"settled_value"`
	SettlementTx   *string         `json:"settlement_tx"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Settled reports whether a settled value has already been recorded.
func (f Feed) Settled() bool { return f.SettledValue != nil }

// EventConfig parses the feed config as an event-outcome config.
func (f Feed) EventConfig() (EventConfig, error) {
	return parseEventConfig(f.Config)
}

// Settlement holds the fields written on the transition to settled.
// Tx is nil when the value was settled without an on-chain confirmation.
type Settlement struct {
	Value string
	Tx    *string
	At    time.Time
}
