package store

import (
	"context"
	"encoding/json"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/0gfoundation/oracle-settler/internal/feed"
)

var _ Store = (*Memory)(nil)

// Memory is an in-process Store used by tests and local runs.
type Memory struct {
	mu    sync.Mutex
	feeds map[string]feed.Feed
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{feeds: make(map[string]feed.Feed), now: time.Now}
}

// Insert adds or replaces a feed.
func (m *Memory) Insert(f feed.Feed) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feeds[f.ID] = clone(f)
}

func (m *Memory) Get(_ context.Context, id string) (feed.Feed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.feeds[id]
	if !ok {
		return feed.Feed{}, ErrNotFound
	}
	return clone(f), nil
}

func (m *Memory) ListPending(_ context.Context) ([]feed.Feed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []feed.Feed
	for _, f := range m.feeds {
		if f.Status == feed.StatusPending && f.SettledValue == nil {
			out = append(out, clone(f))
		}
	}
	sortByCreated(out)
	return out, nil
}

func (m *Memory) ListByModule(_ context.Context, mod feed.Module, statuses ...feed.Status) ([]feed.Feed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []feed.Feed
	for _, f := range m.feeds {
		if f.Module != mod {
			continue
		}
		if len(statuses) > 0 && !slices.Contains(statuses, f.Status) {
			continue
		}
		out = append(out, clone(f))
	}
	sortByCreated(out)
	return out, nil
}

func (m *Memory) MarkSettled(_ context.Context, id string, from feed.Status, s feed.Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, err := m.guard(id, from)
	if err != nil {
		return err
	}
	value := s.Value
	at := s.At
	f.Status = feed.StatusSettled
	f.SettledValue = &value
	f.SettledAt = &at
	if s.Tx != nil {
		tx := *s.Tx
		f.SettlementTx = &tx
	} else {
		f.SettlementTx = nil
	}
	f.UpdatedAt = m.now()
	m.feeds[id] = f
	return nil
}

func (m *Memory) MarkFailed(_ context.Context, id string, from feed.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, err := m.guard(id, from)
	if err != nil {
		return err
	}
	f.Status = feed.StatusFailed
	f.UpdatedAt = m.now()
	m.feeds[id] = f
	return nil
}

func (m *Memory) UpdateConfig(_ context.Context, id string, cfg json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.feeds[id]
	if !ok {
		return ErrNotFound
	}
	if f.Status.Terminal() {
		return ErrConflict
	}
	f.Config = append(json.RawMessage(nil), cfg...)
	f.UpdatedAt = m.now()
	m.feeds[id] = f
	return nil
}

// guard must be called with mu held.
func (m *Memory) guard(id string, from feed.Status) (feed.Feed, error) {
	f, ok := m.feeds[id]
	if !ok {
		return feed.Feed{}, ErrNotFound
	}
	if f.Status != from || f.SettledValue != nil {
		return feed.Feed{}, ErrConflict
	}
	return f, nil
}

func clone(f feed.Feed) feed.Feed {
	f.Config = append(json.RawMessage(nil), f.Config...)
	return f
}

func sortByCreated(fs []feed.Feed) {
	sort.Slice(fs, func(i, j int) bool {
		if fs[i].CreatedAt.Equal(fs[j].CreatedAt) {
			return fs[i].ID < fs[j].ID
		}
		return fs[i].CreatedAt.Before(fs[j].CreatedAt)
	})
}
