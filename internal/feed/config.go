package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config is the module-specific configuration, one variant per category.
type Config interface {
	Category() Category
}

// TimeConfig is the config of feeds settled once their resolution date passes.
// Its fields are informational; the job hash carries the data definition.
type TimeConfig struct {
	Symbol          string   `json:"symbol,omitempty"`
	ContractAddress string   `json:"contractAddress,omitempty"`
	Metric          string   `json:"metric,omitempty"`
	Location        string   `json:"location,omitempty"`
	Latitude        *float64 `json:"latitude,omitempty"`
	Longitude       *float64 `json:"longitude,omitempty"`
}

func (TimeConfig) Category() Category { return CategoryTimeBased }

// EventStatus is the match state written by the status poller.
type EventStatus string

const (
	EventWaiting  EventStatus = "waiting"
	EventRunning  EventStatus = "running"
	EventFinished EventStatus = "finished"
	EventCanceled EventStatus = "canceled"
)

// Done reports whether the event can no longer change.
func (s EventStatus) Done() bool {
	return s == EventFinished || s == EventCanceled
}

// ProviderID identifies a match or team at the results provider. Providers
// send numbers, the UI sometimes sends strings; both decode the same way.
type ProviderID string

func (s *ProviderID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = ProviderID(strings.TrimSpace(str))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("provider id: %w", err)
	}
	*s = ProviderID(n.String())
	return nil
}

// EventConfig is the config of event-outcome feeds.
type EventConfig struct {
	MatchID     ProviderID  `json:"matchId,omitempty"`
	Game        string      `json:"game,omitempty"`
	Team1ID     ProviderID  `json:"team1Id"`
	Team2ID     ProviderID  `json:"team2Id"`
	WinnerID    ProviderID  `json:"winnerId,omitempty"`
	Status      EventStatus `json:"status,omitempty"`
	ScheduledAt string      `json:"scheduledAt,omitempty"`
}

// Scheduled returns the parsed match start, if one is set and valid.
func (c EventConfig) Scheduled() (time.Time, bool) {
	if c.ScheduledAt == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, c.ScheduledAt)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (EventConfig) Category() Category { return CategoryEventOutcome }

var ErrInvalidConfig = errors.New("invalid feed config")

// ParseConfig decodes raw into the config variant selected by m.
func ParseConfig(m Module, raw json.RawMessage) (Config, error) {
	switch m.Category() {
	case CategoryTimeBased:
		var c TimeConfig
		if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			return c, nil
		}
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		return c, nil
	case CategoryEventOutcome:
		return parseEventConfig(raw)
	default:
		return nil, fmt.Errorf("%w: unknown category for module %q", ErrInvalidConfig, m)
	}
}

func parseEventConfig(raw json.RawMessage) (EventConfig, error) {
	var c struct {
		EventConfig
		MatchStatus EventStatus `json:"matchStatus"`
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return EventConfig{}, fmt.Errorf("%w: empty event config", ErrInvalidConfig)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&c); err != nil {
		return EventConfig{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	out := c.EventConfig
	if out.Status == "" {
		out.Status = c.MatchStatus
	}
	if out.Team1ID == "" || out.Team2ID == "" {
		return out, fmt.Errorf("%w: team1Id and team2Id are required", ErrInvalidConfig)
	}
	return out, nil
}

// Outcome is the tri-state value written for event-outcome feeds.
type Outcome string

const (
	OutcomeVoid  Outcome = "0"
	OutcomeSideA Outcome = "1"
	OutcomeSideB Outcome = "2"
)

// Uint8 returns the on-chain encoding of o.
func (o Outcome) Uint8() uint8 {
	switch o {
	case OutcomeSideA:
		return 1
	case OutcomeSideB:
		return 2
	default:
		return 0
	}
}

// DeriveOutcome maps a winner to side A, side B or void.
func DeriveOutcome(winner, team1, team2 ProviderID) Outcome {
	switch {
	case winner == "":
		return OutcomeVoid
	case winner == team1:
		return OutcomeSideA
	case winner == team2:
		return OutcomeSideB
	default:
		return OutcomeVoid
	}
}

// MergeEventStatus rewrites the status and winner keys of an event config,
// keeping every other key. matchStatus is written too for existing readers.
func MergeEventStatus(raw json.RawMessage, status EventStatus, winner ProviderID) (json.RawMessage, error) {
	m := map[string]any{}
	if len(bytes.TrimSpace(raw)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		if m == nil {
			m = map[string]any{}
		}
	}
	m["status"] = string(status)
	m["matchStatus"] = string(status)
	if winner == "" {
		m["winnerId"] = nil
	} else if n, err := strconv.ParseInt(string(winner), 10, 64); err == nil {
		m["winnerId"] = n
	} else {
		m["winnerId"] = string(winner)
	}
	return json.Marshal(m)
}
