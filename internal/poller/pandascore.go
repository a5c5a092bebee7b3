package poller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/0gfoundation/oracle-settler/internal/feed"
)

var ErrProvider = errors.New("results provider error")

// Match is the part of a provider match record the poller needs.
type Match struct {
	Status   feed.EventStatus
	WinnerID feed.ProviderID
}

// PandaScore reads match results from the PandaScore REST API.
type PandaScore struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
}

// NewPandaScore returns a client. limiter may be nil.
func NewPandaScore(baseURL, token string, timeout time.Duration, limiter *rate.Limiter) *PandaScore {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &PandaScore{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
		limiter: limiter,
	}
}

// Match fetches GET /matches/<id>.
func (p *PandaScore) Match(ctx context.Context, id feed.ProviderID) (Match, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return Match{}, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/matches/"+url.PathEscape(string(id)), nil)
	if err != nil {
		return Match{}, err
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Accept", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return Match{}, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Match{}, fmt.Errorf("%w: read body: %v", ErrProvider, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Match{}, fmt.Errorf("%w: match %s: status %d", ErrProvider, id, resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return Match{}, fmt.Errorf("%w: match %s: invalid json", ErrProvider, id)
	}

	doc := gjson.ParseBytes(body)
	winner := doc.Get("winner_id")
	if !winner.Exists() || winner.Type == gjson.Null {
		winner = doc.Get("winner.id")
	}
	m := Match{Status: mapStatus(doc.Get("status").String())}
	if winner.Exists() && winner.Type != gjson.Null {
		m.WinnerID = feed.ProviderID(winner.String())
	}
	return m, nil
}

func mapStatus(s string) feed.EventStatus {
	switch s {
	case "finished":
		return feed.EventFinished
	case "running":
		return feed.EventRunning
	case "canceled", "postponed":
		return feed.EventCanceled
	default:
		return feed.EventWaiting
	}
}
