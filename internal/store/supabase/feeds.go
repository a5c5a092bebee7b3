package supabase

import (
	"context"
	"encoding/json"
	"time"

	"github.com/0gfoundation/oracle-settler/internal/feed"
	"github.com/0gfoundation/oracle-settler/internal/store"
)

var _ store.Store = (*FeedStore)(nil)

const feedsTable = "feeds"

// FeedStore implements store.Store over the feeds table exposed by PostgREST.
// Conditional updates are expressed as PATCH filters, so each transition is
// one atomic UPDATE on the server.
type FeedStore struct {
	client *Client
	now    func() time.Time
}

func NewFeedStore(client *Client) *FeedStore {
	return &FeedStore{client: client, now: time.Now}
}

func (s *FeedStore) Get(ctx context.Context, id string) (feed.Feed, error) {
	var rows []feed.Feed
	if err := s.client.From(feedsTable).Select("*").Eq("id", id).Get(ctx, &rows); err != nil {
		return feed.Feed{}, err
	}
	if len(rows) == 0 {
		return feed.Feed{}, store.ErrNotFound
	}
	return rows[0], nil
}

func (s *FeedStore) ListPending(ctx context.Context) ([]feed.Feed, error) {
	var rows []feed.Feed
	err := s.client.From(feedsTable).Select("*").
		Eq("status", string(feed.StatusPending)).
		IsNull("settled_value").
		Order("created_at").
		Get(ctx, &rows)
	return rows, err
}

func (s *FeedStore) ListByModule(ctx context.Context, m feed.Module, statuses ...feed.Status) ([]feed.Feed, error) {
	q := s.client.From(feedsTable).Select("*").Eq("module", string(m))
	if len(statuses) > 0 {
		ss := make([]string, len(statuses))
		for i, st := range statuses {
			ss[i] = string(st)
		}
		q = q.In("status", ss)
	}
	var rows []feed.Feed
	err := q.Order("created_at").Get(ctx, &rows)
	return rows, err
}

func (s *FeedStore) MarkSettled(ctx context.Context, id string, from feed.Status, st feed.Settlement) error {
	return s.guardedUpdate(ctx, id, from, map[string]any{
		"status":        string(feed.StatusSettled),
		"settled_value": st.Value,
		"settlement_tx": st.Tx,
		"settled_at":    st.At.UTC(),
		"updated_at":    s.now().UTC(),
	})
}

func (s *FeedStore) MarkFailed(ctx context.Context, id string, from feed.Status) error {
	return s.guardedUpdate(ctx, id, from, map[string]any{
		"status":     string(feed.StatusFailed),
		"updated_at": s.now().UTC(),
	})
}

func (s *FeedStore) UpdateConfig(ctx context.Context, id string, cfg json.RawMessage) error {
	var rows []feed.Feed
	err := s.client.From(feedsTable).
		Eq("id", id).
		In("status", []string{string(feed.StatusPending), string(feed.StatusManual)}).
		Update(ctx, map[string]any{"config": cfg, "updated_at": s.now().UTC()}, &rows)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return s.missOrConflict(ctx, id)
	}
	return nil
}

func (s *FeedStore) guardedUpdate(ctx context.Context, id string, from feed.Status, values map[string]any) error {
	var rows []feed.Feed
	err := s.client.From(feedsTable).
		Eq("id", id).
		Eq("status", string(from)).
		IsNull("settled_value").
		Update(ctx, values, &rows)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return s.missOrConflict(ctx, id)
	}
	return nil
}

func (s *FeedStore) missOrConflict(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return store.ErrConflict
}
